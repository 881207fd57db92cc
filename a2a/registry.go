package a2a

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/forgelabs-ai/agentmesh/logger"
)

// DefaultDiscoverLimit caps Discover results when no limit is given.
const DefaultDiscoverLimit = 10

// discoverParallelism bounds concurrent card fetches during discovery.
const discoverParallelism = 4

// KnownAgent is a registry entry for a remote agent. AuthToken holds a
// literal bearer token; AuthVaultRef names a secret to be resolved by the
// integrator instead.
type KnownAgent struct {
	URL          string `json:"url"`
	DisplayName  string `json:"displayName,omitempty"`
	AuthToken    string `json:"authToken,omitempty"`
	AuthVaultRef string `json:"authVaultRef,omitempty"`
}

// DiscoverOptions filters a Discover call.
type DiscoverOptions struct {
	// Query matches case-insensitively against card names, descriptions,
	// and skill names, descriptions, and tags.
	Query string
	// Tags requires an intersection with some skill's tags.
	Tags []string
	// Limit caps the result count. Defaults to DefaultDiscoverLimit.
	Limit int
}

// Registry is a concurrency-safe set of known remote agents with card
// discovery layered over a CardCache.
type Registry struct {
	cache *CardCache

	mu     sync.RWMutex
	agents map[string]KnownAgent
	order  []string
}

// NewRegistry creates a Registry backed by the given card cache.
func NewRegistry(cache *CardCache) *Registry {
	return &Registry{
		cache:  cache,
		agents: make(map[string]KnownAgent),
	}
}

// Register adds a known agent keyed by normalized URL. Registering an
// existing URL updates its metadata and keeps its position.
func (r *Registry) Register(agent KnownAgent) {
	key := NormalizeBaseURL(agent.URL)
	if key == "" {
		return
	}
	agent.URL = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[key]; !exists {
		r.order = append(r.order, key)
	}
	r.agents[key] = agent
}

// Unregister removes a known agent by URL.
func (r *Registry) Unregister(url string) {
	key := NormalizeBaseURL(url)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[key]; !exists {
		return
	}
	delete(r.agents, key)
	for i, u := range r.order {
		if u == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// List returns the known agents in registration order.
func (r *Registry) List() []KnownAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]KnownAgent, 0, len(r.order))
	for _, url := range r.order {
		agents = append(agents, r.agents[url])
	}
	return agents
}

// Discover fetches cards for all known agents in parallel (failures are
// ignored), folds in any other cached cards, filters by query and tags,
// and returns at most Limit cards in stable order.
func (r *Registry) Discover(ctx context.Context, opts DiscoverOptions) ([]*AgentCard, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultDiscoverLimit
	}

	r.mu.RLock()
	urls := make([]string, len(r.order))
	copy(urls, r.order)
	r.mu.RUnlock()

	fetched := make([]*AgentCard, len(urls))
	sem := semaphore.NewWeighted(discoverParallelism)
	var wg sync.WaitGroup
	for i, url := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			card, err := r.cache.FetchCard(ctx, url, FetchOptions{})
			if err != nil {
				logger.Debug("discover: card fetch failed", "url", url, "error", err.Error())
				return
			}
			fetched[i] = card
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, len(urls))
	var cards []*AgentCard
	for i, card := range fetched {
		if card == nil {
			continue
		}
		seen[urls[i]] = true
		cards = append(cards, card)
	}

	// Fold in cached cards from outside the registry, sorted by URL so the
	// result order is stable.
	extras := r.cache.ListCached()
	sort.Slice(extras, func(i, j int) bool { return extras[i].URL < extras[j].URL })
	for _, card := range extras {
		key := NormalizeBaseURL(card.URL)
		if !seen[key] {
			seen[key] = true
			cards = append(cards, card)
		}
	}

	var matched []*AgentCard
	for _, card := range cards {
		if opts.Query != "" && !matchesQuery(card, opts.Query) {
			continue
		}
		if len(opts.Tags) > 0 && !matchesTags(card, opts.Tags) {
			continue
		}
		matched = append(matched, card)
		if len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

// matchesQuery reports whether the query matches the card's name,
// description, or any skill's name, description, or tags.
func matchesQuery(card *AgentCard, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(card.Name), q) ||
		strings.Contains(strings.ToLower(card.Description), q) {
		return true
	}
	for _, skill := range card.Skills {
		if strings.Contains(strings.ToLower(skill.Name), q) ||
			strings.Contains(strings.ToLower(skill.Description), q) {
			return true
		}
		for _, tag := range skill.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				return true
			}
		}
	}
	return false
}

// matchesTags reports whether any skill tag intersects the requested tags.
func matchesTags(card *AgentCard, tags []string) bool {
	for _, skill := range card.Skills {
		for _, tag := range skill.Tags {
			for _, want := range tags {
				if tag == want {
					return true
				}
			}
		}
	}
	return false
}
