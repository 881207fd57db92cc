package swarm

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/forgelabs-ai/agentmesh/logger"
)

// BroadcastTo is the sentinel destination carried by broadcast messages.
const BroadcastTo = "*"

// DefaultHistoryLimit is the number of messages History and AgentMessages
// return when the caller passes a non-positive limit.
const DefaultHistoryLimit = 50

// defaultMaxHistory caps the bus history ring. On overflow the oldest ~20%
// is discarded.
const defaultMaxHistory = 1000

// BusMessage is one message exchanged over the swarm bus. Payload maps are
// shared between history and every receiver and must be treated as
// read-only.
type BusMessage struct {
	ID        int64          `json:"id"`
	SwarmID   string         `json:"swarmId"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Topic     string         `json:"topic"`
	Payload   map[string]any `json:"payload,omitempty"`
	ReplyTo   string         `json:"replyTo,omitempty"`
	Timestamp int64          `json:"timestamp"` // unix milliseconds
}

// Handler receives bus messages. Handlers run synchronously under the bus
// lock in the sender's goroutine, so they must not block or call back into
// the Bus; a panicking handler does not affect its siblings.
type Handler func(BusMessage)

// busHandler pairs a handler with a removable handle.
type busHandler struct {
	id int
	fn Handler
}

// Bus is an in-process message bus scoped to one swarm run. Messages are
// delivered to direct subscribers of the destination agent and then to
// subscribers of the message topic, in the order the bus accepted them.
type Bus struct {
	mu         sync.Mutex
	subs       map[string][]busHandler // agent ID → handlers
	topicSubs  map[string][]busHandler // topic → handlers
	history    []BusMessage
	maxHistory int
	nextSub    int
	nextID     int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[string][]busHandler),
		topicSubs:  make(map[string][]busHandler),
		maxHistory: defaultMaxHistory,
	}
}

// Subscribe attaches a handler to an agent's direct messages and returns an
// unsubscribe func.
func (b *Bus) Subscribe(agentID string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	subID := b.nextSub
	b.subs[agentID] = append(b.subs[agentID], busHandler{id: subID, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		removeHandler(b.subs, agentID, subID)
	}
}

// SubscribeTopic attaches a handler to every message carrying the topic and
// returns an unsubscribe func.
func (b *Bus) SubscribeTopic(topic string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	subID := b.nextSub
	b.topicSubs[topic] = append(b.topicSubs[topic], busHandler{id: subID, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		removeHandler(b.topicSubs, topic, subID)
	}
}

// removeHandler deletes the handler registered under key with the given
// subscription ID. Callers hold the bus lock.
func removeHandler(table map[string][]busHandler, key string, subID int) {
	subs := table[key]
	for i, s := range subs {
		if s.id == subID {
			table[key] = append(subs[:i], subs[i+1:]...)
			if len(table[key]) == 0 {
				delete(table, key)
			}
			return
		}
	}
}

// Send records a message addressed to a single agent and delivers it to the
// agent's direct subscribers, then to subscribers of the topic. It returns
// a copy of the recorded message.
func (b *Bus) Send(swarmID, from, to, topic string, payload map[string]any, replyTo string) *BusMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := b.recordLocked(swarmID, from, to, topic, payload, replyTo)
	b.dispatchLocked(b.subs[to], msg)
	b.dispatchLocked(b.topicSubs[topic], msg)

	out := msg
	return &out
}

// Broadcast records a message addressed to every agent in the swarm and
// delivers it to all direct subscribers except the sender, then to
// subscribers of the topic. It returns a copy of the recorded message.
func (b *Bus) Broadcast(swarmID, from, topic string, payload map[string]any) *BusMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := b.recordLocked(swarmID, from, BroadcastTo, topic, payload, "")
	for agentID, handlers := range b.subs {
		if agentID == from {
			continue
		}
		b.dispatchLocked(handlers, msg)
	}
	b.dispatchLocked(b.topicSubs[topic], msg)

	out := msg
	return &out
}

// recordLocked stamps and appends a message to the history ring, trimming
// the oldest ~20% on overflow. Callers hold mu.
func (b *Bus) recordLocked(swarmID, from, to, topic string, payload map[string]any, replyTo string) BusMessage {
	b.nextID++
	msg := BusMessage{
		ID:        b.nextID,
		SwarmID:   swarmID,
		From:      from,
		To:        to,
		Topic:     topic,
		Payload:   maps.Clone(payload),
		ReplyTo:   replyTo,
		Timestamp: time.Now().UnixMilli(),
	}

	b.history = append(b.history, msg)
	if len(b.history) > b.maxHistory {
		keep := b.maxHistory * 8 / 10
		b.history = slices.Clone(b.history[len(b.history)-keep:])
	}
	return msg
}

// dispatchLocked invokes each handler with the message, isolating panics.
// Callers hold mu.
func (b *Bus) dispatchLocked(handlers []busHandler, msg BusMessage) {
	for _, h := range handlers {
		safeDispatch(h.fn, msg)
	}
}

// safeDispatch invokes one handler, recovering a panic so siblings and the
// sender are unaffected.
func safeDispatch(fn Handler, msg BusMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("bus handler panicked",
				"topic", msg.Topic, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn(msg)
}

// History returns the most recent messages recorded for a swarm in
// acceptance order. A non-positive limit defaults to DefaultHistoryLimit.
func (b *Bus) History(swarmID string, limit int) []BusMessage {
	return b.filtered(limit, func(m BusMessage) bool {
		return m.SwarmID == swarmID
	})
}

// AgentMessages returns the most recent messages sent by or addressed to an
// agent in acceptance order. A non-positive limit defaults to
// DefaultHistoryLimit.
func (b *Bus) AgentMessages(agentID string, limit int) []BusMessage {
	return b.filtered(limit, func(m BusMessage) bool {
		return m.From == agentID || m.To == agentID
	})
}

// filtered returns the last limit history entries matching keep.
func (b *Bus) filtered(limit int, keep func(BusMessage) bool) []BusMessage {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []BusMessage
	for _, m := range b.history {
		if keep(m) {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ClearSwarm drops every history entry recorded for a swarm. Subscriptions
// are unaffected.
func (b *Bus) ClearSwarm(swarmID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = slices.DeleteFunc(b.history, func(m BusMessage) bool {
		return m.SwarmID == swarmID
	})
}

// Reset drops all history, subscriptions, and counters.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = make(map[string][]busHandler)
	b.topicSubs = make(map[string][]busHandler)
	b.history = nil
	b.nextSub = 0
	b.nextID = 0
}
