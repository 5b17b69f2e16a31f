package exporters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("authorization=Bearer abc, x-team = data ,broken,=empty")
	assert.Equal(t, map[string]string{
		"authorization": "Bearer abc",
		"x-team":        "data",
	}, headers)

	assert.Empty(t, ParseHeaders(""))
}

func TestNewOTLPExporter_UnsupportedProtocol(t *testing.T) {
	_, err := NewOTLPExporter(context.Background(), OTLPConfig{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unsupported OTLP protocol")
}

func TestNewOTLPExporter_HTTPIsLazy(t *testing.T) {
	exporter, err := NewOTLPExporter(context.Background(), OTLPConfig{
		Endpoint: "localhost:4318",
		Protocol: "HTTP",
		Insecure: true,
	})
	assert.NoError(t, err)
	if exporter != nil {
		assert.NoError(t, exporter.Shutdown(context.Background()))
	}
}
