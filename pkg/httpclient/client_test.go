package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestClient_Get_SetsUserAgentAndQuery(t *testing.T) {
	var gotUA, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(DefaultConfig(), testLogger())
	resp, err := c.Get(context.Background(), srv.URL+"/api?x=1", url.Values{"event_id": {"40310"}, "p": {"2"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, "event_id=40310&p=2&x=1", gotQuery)

	var body struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, DecodeJSON(resp, &body))
	assert.True(t, body.OK)
}

func TestClient_Get_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := NewClient(DefaultConfig(), testLogger())
	_, err := c.Get(context.Background(), addr, nil, nil)
	require.Error(t, err)
}

func TestStatusClassification(t *testing.T) {
	for _, code := range []int{408, 429, 500, 501, 502, 503, 504, 520, 522, 524} {
		assert.True(t, IsRetryableStatus(code), "code %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 410, 600} {
		assert.False(t, IsRetryableStatus(code), "code %d", code)
	}
	assert.True(t, IsGoneStatus(404))
	assert.True(t, IsGoneStatus(410))
	assert.False(t, IsGoneStatus(500))
	assert.True(t, IsRateLimitStatus(429))
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	d, ok := RetryAfter(&Response{Headers: map[string]string{"Retry-After": "3"}}, now)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	d, ok = RetryAfter(&Response{Headers: map[string]string{"Retry-After": now.Add(5 * time.Second).Format(http.TimeFormat)}}, now)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	_, ok = RetryAfter(&Response{Headers: map[string]string{}}, now)
	assert.False(t, ok)

	_, ok = RetryAfter(&Response{Headers: map[string]string{"Retry-After": "soon"}}, now)
	assert.False(t, ok)
}
