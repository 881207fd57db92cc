package a2a

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCardServer serves card at the well-known path and counts fetches.
func newCardServer(t *testing.T, card AgentCard, fetches *atomic.Int64) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != WellKnownCardPath {
			http.NotFound(w, r)
			return
		}
		if fetches != nil {
			fetches.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(card)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://example.com", "http://example.com"},
		{"http://example.com/", "http://example.com"},
		{"HTTP://Example.COM/Agent/", "http://example.com/Agent"},
		{"http://example.com/a2a?q=1#frag", "http://example.com/a2a"},
		{"  http://example.com  ", "http://example.com"},
		{"http://example.com:8080/a2a/", "http://example.com:8080/a2a"},
		{"example.com/", "example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeBaseURL(tt.in), "input %q", tt.in)
	}
}

func TestCardCache_FetchCachesResult(t *testing.T) {
	var fetches atomic.Int64
	ts := newCardServer(t, AgentCard{Name: "echo", Version: "1.0"}, &fetches)

	cache := NewCardCache()

	card, err := cache.FetchCard(context.Background(), ts.URL, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "echo", card.Name)

	again, err := cache.FetchCard(context.Background(), ts.URL, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "echo", again.Name)

	assert.EqualValues(t, 1, fetches.Load(), "second fetch should hit the cache")
}

func TestCardCache_TTLExpiry(t *testing.T) {
	var fetches atomic.Int64
	ts := newCardServer(t, AgentCard{Name: "echo"}, &fetches)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCardCache(WithTTL(time.Minute))
	cache.clock = func() time.Time { return now }

	_, err := cache.FetchCard(context.Background(), ts.URL, FetchOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, fetches.Load())

	now = now.Add(2 * time.Minute)
	_, err = cache.FetchCard(context.Background(), ts.URL, FetchOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, fetches.Load(), "expired entry should be refetched")
}

func TestCardCache_ForceRefresh(t *testing.T) {
	var fetches atomic.Int64
	ts := newCardServer(t, AgentCard{Name: "echo"}, &fetches)

	cache := NewCardCache()
	_, err := cache.FetchCard(context.Background(), ts.URL, FetchOptions{})
	require.NoError(t, err)

	_, err = cache.FetchCard(context.Background(), ts.URL, FetchOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, fetches.Load())
}

func TestCardCache_GetCached_NeverFetches(t *testing.T) {
	var fetches atomic.Int64
	ts := newCardServer(t, AgentCard{Name: "echo"}, &fetches)

	cache := NewCardCache()

	_, ok := cache.GetCached(ts.URL)
	assert.False(t, ok)
	assert.EqualValues(t, 0, fetches.Load())

	_, err := cache.FetchCard(context.Background(), ts.URL, FetchOptions{})
	require.NoError(t, err)

	card, ok := cache.GetCached(ts.URL + "/")
	require.True(t, ok, "lookup should normalize the URL")
	assert.Equal(t, "echo", card.Name)
	assert.EqualValues(t, 1, fetches.Load())
}

func TestCardCache_ListCachedEvictsExpired(t *testing.T) {
	tsA := newCardServer(t, AgentCard{Name: "a"}, nil)
	tsB := newCardServer(t, AgentCard{Name: "b"}, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCardCache(WithTTL(time.Minute))
	cache.clock = func() time.Time { return now }

	_, err := cache.FetchCard(context.Background(), tsA.URL, FetchOptions{})
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	_, err = cache.FetchCard(context.Background(), tsB.URL, FetchOptions{})
	require.NoError(t, err)

	// Expire the first entry only.
	now = now.Add(45 * time.Second)
	cards := cache.ListCached()
	require.Len(t, cards, 1)
	assert.Equal(t, "b", cards[0].Name)
}

func TestCardCache_FetchError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer ts.Close()

	cache := NewCardCache()
	_, err := cache.FetchCard(context.Background(), ts.URL, FetchOptions{})

	var fetchErr *CardFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusInternalServerError, fetchErr.Status)

	// Failed fetches are not cached.
	_, ok := cache.GetCached(ts.URL)
	assert.False(t, ok)
}

func TestCardCache_Clear(t *testing.T) {
	ts := newCardServer(t, AgentCard{Name: "echo"}, nil)

	cache := NewCardCache()
	_, err := cache.FetchCard(context.Background(), ts.URL, FetchOptions{})
	require.NoError(t, err)

	cache.Clear()
	_, ok := cache.GetCached(ts.URL)
	assert.False(t, ok)
}

func TestCardCache_CollapsesConcurrentFetches(t *testing.T) {
	var fetches atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(AgentCard{Name: "slow"})
	}))
	defer ts.Close()

	cache := NewCardCache()

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			card, err := cache.FetchCard(context.Background(), ts.URL, FetchOptions{})
			assert.NoError(t, err)
			assert.Equal(t, "slow", card.Name)
		})
	}
	wg.Wait()

	assert.EqualValues(t, 1, fetches.Load(), "concurrent fetches should collapse into one request")
}
