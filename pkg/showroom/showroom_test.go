package showroom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/execution"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/httpclient"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		RosterURL:  srv.URL + "/api/event/room_list",
		DetailURL:  srv.URL + "/api/event/contribution_ranking",
		ProfileURL: srv.URL + "/api/room/profile",
		MaxPages:   DefaultMaxPages,
		Retry: execution.RetryPolicy{
			MaxRetries:     2,
			BackoffType:    execution.BackoffLinear,
			InitialDelay:   time.Millisecond,
			MaxDelay:       5 * time.Millisecond,
			RateLimitDelay: time.Millisecond,
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg, httpclient.NewClient(httpclient.DefaultConfig(), testLogger()), testLogger())
}

func pageParam(r *http.Request) int {
	p, err := strconv.Atoi(r.URL.Query().Get("p"))
	if err != nil {
		return 1
	}
	return p
}

func TestFetchRoster_PagesUntilNoNextPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "40310", r.URL.Query().Get("event_id"))
		switch pageParam(r) {
		case 1:
			_, _ = w.Write([]byte(`{"list":[
				{"room_id":111,"room_name":"Alpha","rank":1,"point":5000,"event_entry":{"quest_level":7}},
				{"room_id":"222","room_name_text":"Beta","position":2,"event_point":3000,"quest_level":3}
			],"next_page":2}`))
		case 2:
			_, _ = w.Write([]byte(`{"list":[{"room_id":333,"room_rank":3,"total_point":10,"level":1}],"next_page":null}`))
		default:
			t.Fatalf("unexpected page %d", pageParam(r))
		}
	})

	result, err := c.FetchRoster(context.Background(), "40310", nil, 0)
	require.NoError(t, err)

	assert.True(t, result.Verified)
	assert.False(t, result.Gone)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, StopNoNextPage, result.StopReason)
	require.Len(t, result.Entries, 3)

	assert.Equal(t, RawEntry{ParticipantID: "111", ParticipantName: "Alpha", Rank: "1", Score: "5000", Level: "7"}, result.Entries[0])
	assert.Equal(t, RawEntry{ParticipantID: "222", ParticipantName: "Beta", Rank: "2", Score: "3000", Level: "3"}, result.Entries[1])
	assert.Equal(t, RawEntry{ParticipantID: "333", Rank: "3", Score: "10", Level: "1"}, result.Entries[2])
}

func TestFetchRoster_QuotedRankField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"list":[{"room_id":1,"順位":"4","point":0}]}`))
	})

	result, err := c.FetchRoster(context.Background(), "1", nil, 0)
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "4", result.Entries[0].Rank)
	assert.Equal(t, "0", result.Entries[0].Score)
	assert.True(t, result.Verified)
}

func TestFetchRoster_AppliesFilter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"list":[{"room_id":1},{"room_id":2},{"room_id":3}]}`))
	})

	result, err := c.FetchRoster(context.Background(), "9", models.NewParticipantFilter("2"), 0)
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "2", result.Entries[0].ParticipantID)
	assert.True(t, result.Verified)
}

func TestFetchRoster_EmptyPageEndsVerified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"list":[],"next_page":2}`))
	})

	result, err := c.FetchRoster(context.Background(), "9", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Entries)
	assert.True(t, result.Verified)
	assert.Equal(t, StopEndOfList, result.StopReason)
	assert.Equal(t, 1, result.Pages)
}

func TestFetchRoster_EndlessPaginationStopsAtMaxPages(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		p := pageParam(r)
		fmt.Fprintf(w, `{"list":[{"room_id":%d}],"next_page":%d}`, p, p+1)
	})

	result, err := c.FetchRoster(context.Background(), "9", nil, 5)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Pages)
	assert.Equal(t, int32(5), hits.Load())
	assert.Len(t, result.Entries, 5)
	assert.False(t, result.Verified)
	assert.Equal(t, StopMaxPages, result.StopReason)
}

func TestFetchRoster_IdenticalPagesStop(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		p := pageParam(r)
		fmt.Fprintf(w, `{"list":[{"room_id":1},{"room_id":2}],"next_page":%d}`, p+1)
	})

	result, err := c.FetchRoster(context.Background(), "9", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load())
	assert.Len(t, result.Entries, 2)
	assert.Equal(t, StopRepeatedPage, result.StopReason)
	assert.False(t, result.Verified)
}

func TestFetchRoster_NextPagePointingBackStops(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		p := pageParam(r)
		fmt.Fprintf(w, `{"list":[{"room_id":%d}],"next_page":1}`, p)
	})

	result, err := c.FetchRoster(context.Background(), "9", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Pages)
	assert.Equal(t, StopRepeatedPage, result.StopReason)
	assert.False(t, result.Verified)
}

func TestFetchRoster_GoneEvent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	result, err := c.FetchRoster(context.Background(), "9", nil, 0)
	require.NoError(t, err)

	assert.True(t, result.Gone)
	assert.True(t, result.Verified)
	assert.Empty(t, result.Entries)
}

func TestFetchRoster_ServerErrorsAreRetriedThenUnverified(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	result, err := c.FetchRoster(context.Background(), "9", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, int32(3), hits.Load())
	assert.False(t, result.Verified)
	assert.True(t, result.Unreachable())
	assert.Equal(t, StopFailed, result.StopReason)
}

func TestFetchRoster_RateLimitIsRetried(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"list":[{"room_id":5}]}`))
	})

	result, err := c.FetchRoster(context.Background(), "9", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load())
	assert.True(t, result.Verified)
	require.Len(t, result.Entries, 1)
}

func TestFetchRoster_LongRetryAfterIsCapped(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := c.FetchRoster(ctx, "9", nil, 0)
	require.NoError(t, err, "exhausted rate-limit retries leave the event unverified")

	assert.Equal(t, int32(3), hits.Load())
	assert.False(t, result.Verified)
	assert.Equal(t, StopFailed, result.StopReason)
	assert.NoError(t, ctx.Err())
}

func TestFetchRoster_OtherServerErrorsAreRetried(t *testing.T) {
	for _, code := range []int{http.StatusNotImplemented, 520, 522} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			var hits atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(code)
			})

			result, err := c.FetchRoster(context.Background(), "9", nil, 0)
			require.NoError(t, err)
			assert.Equal(t, int32(3), hits.Load())
			assert.Equal(t, StopFailed, result.StopReason)
		})
	}
}

func TestFetchRoster_CircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, func(cfg *Config) {
		cfg.BreakerMinRequests = 2
		cfg.BreakerFailureRatio = 0.5
		cfg.BreakerTimeout = time.Hour
	})

	first, err := c.FetchRoster(context.Background(), "1", nil, 0)
	require.NoError(t, err)
	assert.False(t, first.Verified)

	second, err := c.FetchRoster(context.Background(), "2", nil, 0)
	require.NoError(t, err)
	assert.False(t, second.Verified)

	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchRoster_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"list":[{"room_id":1}]}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchRoster(ctx, "9", nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveEventDetail_FallsThroughCandidates(t *testing.T) {
	var asked []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room_id")
		asked = append(asked, room)
		if room == "111" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"event":{"event_name":"Summer Cup","started_at":1704132240,"ended_at":1704218640,
			"event_url":"https://www.showroom-live.com/event/summer_cup","image":"https://img.example/summer.png"}}`))
	})

	detail, ok := c.ResolveEventDetail(context.Background(), "40310", []string{"111", "222", "333"})
	require.True(t, ok)

	assert.Equal(t, []string{"111", "222"}, asked)
	assert.Equal(t, "40310", detail.EventID)
	assert.Equal(t, "Summer Cup", detail.Name)
	assert.Equal(t, "https://www.showroom-live.com/event/summer_cup", detail.URL)
	assert.Equal(t, "https://img.example/summer.png", detail.ImageURL)
	assert.Equal(t, "2024/01/02 03:04", detail.Start.Display)
	assert.Equal(t, "2024/01/03 03:04", detail.End.Display)
	require.NotNil(t, detail.End.Epoch)
	assert.Equal(t, int64(1704218640), *detail.End.Epoch)
}

func TestResolveEventDetail_AllCandidatesFail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"event":{}}`))
	})

	_, ok := c.ResolveEventDetail(context.Background(), "40310", []string{"1", "2"})
	assert.False(t, ok)

	_, ok = c.ResolveEventDetail(context.Background(), "40310", nil)
	assert.False(t, ok)
}

func TestLookupProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("room_id") == "404" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"room_name":"  Gamma  "}`))
	})

	name, err := c.LookupProfile(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Gamma", name)

	_, err = c.LookupProfile(context.Background(), "404")
	assert.Error(t, err)
}

type stubLookup struct {
	calls map[string]int
	names map[string]string
}

func (s *stubLookup) LookupProfile(_ context.Context, id string) (string, error) {
	s.calls[id]++
	name, ok := s.names[id]
	if !ok {
		return "", errors.New("no profile")
	}
	return name, nil
}

func TestNameCache_LooksUpOnce(t *testing.T) {
	stub := &stubLookup{calls: map[string]int{}, names: map[string]string{"1": "Alpha"}}
	cache := NewNameCache(stub)

	for i := 0; i < 3; i++ {
		assert.Equal(t, "Alpha", cache.Get(context.Background(), "1"))
		assert.Equal(t, "", cache.Get(context.Background(), "2"))
	}

	assert.Equal(t, 1, stub.calls["1"])
	assert.Equal(t, 1, stub.calls["2"])
	assert.Equal(t, 2, cache.Len())
}

func TestPublicURLs(t *testing.T) {
	assert.Equal(t, "https://www.showroom-live.com/room/profile?room_id=123", ProfileURL("123"))
	assert.Equal(t, "https://www.showroom-live.com/event/40310", EventPageURL("40310"))
}
