package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/singleflight"

	"github.com/forgelabs-ai/agentmesh/logger"
)

// Card cache defaults.
const (
	DefaultCardTTL      = 5 * time.Minute
	DefaultFetchTimeout = 10 * time.Second
)

// FetchOptions tunes a single FetchCard call.
type FetchOptions struct {
	// Timeout bounds the HTTP fetch. Defaults to DefaultFetchTimeout.
	Timeout time.Duration
	// ForceRefresh bypasses a non-expired cached entry.
	ForceRefresh bool
}

// cachedCard is a cache entry stamped with its fetch time.
type cachedCard struct {
	card      *AgentCard
	fetchedAt time.Time
}

// CacheOption configures a [CardCache].
type CacheOption func(*CardCache)

// WithTTL sets how long fetched cards stay valid. Defaults to DefaultCardTTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CardCache) { c.ttl = ttl }
}

// WithFetchClient sets the HTTP client used for card fetches.
func WithFetchClient(hc *http.Client) CacheOption {
	return func(c *CardCache) { c.client = hc }
}

// CardCache is a concurrency-safe, TTL-bounded cache of agent cards keyed
// by normalized base URL. Concurrent fetches of the same URL are collapsed
// into a single HTTP request.
type CardCache struct {
	ttl    time.Duration
	client *http.Client
	clock  func() time.Time

	mu    sync.RWMutex
	cards map[string]cachedCard

	group singleflight.Group
}

// NewCardCache creates a CardCache with the given options.
func NewCardCache(opts ...CacheOption) *CardCache {
	c := &CardCache{
		ttl:    DefaultCardTTL,
		client: http.DefaultClient,
		clock:  time.Now,
		cards:  make(map[string]cachedCard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeBaseURL canonicalizes an agent base URL: lowercase scheme and
// host, query and fragment dropped, trailing slashes trimmed.
func NormalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// FetchCard returns the agent card for baseURL, fetching it from
// <baseURL>/.well-known/agent-card.json unless a non-expired cached entry
// exists and ForceRefresh is off.
func (c *CardCache) FetchCard(ctx context.Context, baseURL string, opts FetchOptions) (*AgentCard, error) {
	key := NormalizeBaseURL(baseURL)

	if !opts.ForceRefresh {
		if card, ok := c.GetCached(key); ok {
			return card, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent caller may have refreshed the entry while this
		// flight was queued.
		if !opts.ForceRefresh {
			if card, ok := c.GetCached(key); ok {
				return card, nil
			}
		}
		return c.fetch(ctx, key, opts.Timeout)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AgentCard), nil
}

// GetCached returns a non-expired cached card. It never performs I/O.
func (c *CardCache) GetCached(baseURL string) (*AgentCard, bool) {
	key := NormalizeBaseURL(baseURL)

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cards[key]
	if !ok || c.expired(entry) {
		return nil, false
	}
	return entry.card, true
}

// ListCached returns all non-expired cards, evicting expired entries as a
// side effect.
func (c *CardCache) ListCached() []*AgentCard {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cards []*AgentCard
	for key, entry := range c.cards {
		if c.expired(entry) {
			delete(c.cards, key)
			continue
		}
		cards = append(cards, entry.card)
	}
	return cards
}

// Clear drops all cached entries.
func (c *CardCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cards = make(map[string]cachedCard)
}

// expired reports whether an entry is past its TTL. Callers hold mu.
func (c *CardCache) expired(entry cachedCard) bool {
	return c.clock().Sub(entry.fetchedAt) >= c.ttl
}

// fetch performs the HTTP card fetch and stores the result.
func (c *CardCache) fetch(ctx context.Context, key string, timeout time.Duration) (*AgentCard, error) {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key+WellKnownCardPath, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("a2a: card fetch %s: %w", key, err)
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("a2a: card fetch %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CardFetchError{URL: key, Status: resp.StatusCode}
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("a2a: decode agent card %s: %w", key, err)
	}
	if card.URL == "" {
		card.URL = key
	}

	c.mu.Lock()
	c.cards[key] = cachedCard{card: &card, fetchedAt: c.clock()}
	c.mu.Unlock()

	logger.Debug("fetched agent card", "url", key, "agent", card.Name)
	return &card, nil
}
