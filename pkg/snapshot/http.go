package snapshot

import (
	"bytes"
	"context"
	"fmt"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/httpclient"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/metrics"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
)

// HTTPSource reads a snapshot published at a URL. It cannot be written;
// publishing goes through whatever hosts the file.
type HTTPSource struct {
	client *httpclient.Client
	url    string
}

// NewHTTPSource creates a read-only source for url
func NewHTTPSource(client *httpclient.Client, url string) *HTTPSource {
	return &HTTPSource{client: client, url: url}
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) Read(ctx context.Context) (records []models.Record, err error) {
	defer func() { metrics.RecordSnapshotOperation(s.Name(), "read", err) }()

	resp, err := s.client.Get(ctx, s.url, nil, map[string]string{"Accept": "text/csv"})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	if httpclient.IsGoneStatus(resp.StatusCode) {
		return nil, ErrNotFound
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, fmt.Errorf("failed to fetch snapshot: status %d", resp.StatusCode)
	}

	return Decode(bytes.NewReader(resp.Body))
}

func (s *HTTPSource) Write(_ context.Context, _ []models.Record) error {
	return ErrReadOnly
}
