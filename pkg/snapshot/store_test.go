package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/httpclient"
)

func TestFileStore_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "event_database.csv")
	store := NewFileStore(path)

	_, err := store.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Write(context.Background(), sampleRecords()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, BOM))

	got, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

type fakeObjects struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_WriteRead(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]byte{}}
	store := NewS3Store(objects, "bucket", "snapshots/event_database.csv")

	_, err := store.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Write(context.Background(), sampleRecords()))
	assert.True(t, bytes.HasPrefix(objects.objects["bucket/snapshots/event_database.csv"], BOM))

	got, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), got)
}

func TestS3Store_WriteError(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]byte{}, putErr: errors.New("denied")}
	store := NewS3Store(objects, "bucket", "key.csv")

	err := store.Write(context.Background(), sampleRecords())
	assert.ErrorContains(t, err, "denied")
}

func TestHTTPSource(t *testing.T) {
	body, err := EncodeBytes(sampleRecords())
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/event_database.csv":
			w.Header().Set("Content-Type", ContentType)
			_, _ = w.Write(body)
		case "/broken.csv":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := httpclient.NewClient(httpclient.DefaultConfig(), ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))

	got, err := NewHTTPSource(client, srv.URL+"/event_database.csv").Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), got)

	_, err = NewHTTPSource(client, srv.URL+"/missing.csv").Read(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewHTTPSource(client, srv.URL+"/broken.csv").Read(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = NewHTTPSource(client, srv.URL+"/event_database.csv").Write(context.Background(), nil)
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(nil)

	_, err := store.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Write(context.Background(), sampleRecords()))
	assert.Equal(t, 1, store.Writes())

	got, err := store.Read(context.Background())
	require.NoError(t, err)
	got[0].Score = "mutated"

	again, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), again)

	store.FailWrites(errors.New("boom"))
	assert.Error(t, store.Write(context.Background(), nil))
	assert.Equal(t, 1, store.Writes())
}
