package a2a

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgelabs-ai/agentmesh/logger"
	metrics "github.com/forgelabs-ai/agentmesh/metrics/prometheus"
)

// Task manager defaults.
const (
	DefaultMaxTasks      = 100
	DefaultTaskExpiry    = 60 * time.Minute
	DefaultPruneInterval = 5 * time.Minute
)

// Subscriber receives task events in the order the manager accepted them.
// It runs synchronously under the manager's lock, so it must not block or
// call back into the Manager.
type Subscriber func(StreamEvent)

// taskSubscriber pairs a subscriber with a removable handle.
type taskSubscriber struct {
	id int
	fn Subscriber
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithMaxTasks sets the task capacity. Defaults to DefaultMaxTasks.
func WithMaxTasks(n int) ManagerOption {
	return func(m *Manager) { m.maxTasks = n }
}

// WithExpiry sets how long terminal tasks are retained before pruning.
func WithExpiry(d time.Duration) ManagerOption {
	return func(m *Manager) { m.expiry = d }
}

// WithClock sets the time source. Used by tests.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// Manager is a concurrency-safe, in-memory store of tasks. It enforces the
// task state machine, fans events out to per-task subscribers, and prunes
// expired terminal tasks.
type Manager struct {
	maxTasks int
	expiry   time.Duration
	clock    func() time.Time

	mu      sync.RWMutex
	tasks   map[string]*Task
	subs    map[string][]taskSubscriber
	nextSub int
}

// NewManager creates a Manager with the given options.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		maxTasks: DefaultMaxTasks,
		expiry:   DefaultTaskExpiry,
		clock:    time.Now,
		tasks:    make(map[string]*Task),
		subs:     make(map[string][]taskSubscriber),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateTask stores a new task in the submitted state with the initiating
// message as history[0]. A missing session ID is defaulted to a fresh UUID.
func (m *Manager) CreateTask(msg Message, sessionID string, metadata map[string]any) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tasks) >= m.maxTasks {
		return nil, fmt.Errorf("%w (max %d)", ErrTaskLimit, m.maxTasks)
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	task := &Task{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Status: TaskStatus{
			State:     TaskStateSubmitted,
			Timestamp: m.clock().UTC(),
		},
		History:  []Message{cloneMessage(msg)},
		Metadata: maps.Clone(metadata),
	}
	m.tasks[task.ID] = task
	metrics.SetTasksActive(len(m.tasks))

	return cloneTask(task), nil
}

// GetTask returns a copy of the task, or false if it does not exist.
func (m *Manager) GetTask(id string) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	return cloneTask(task), true
}

// MustGetTask returns a copy of the task or ErrTaskNotFound.
func (m *Manager) MustGetTask(id string) (*Task, error) {
	task, ok := m.GetTask(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, nil
}

// UpdateStatus transitions a task to a new state, appends msg to the
// history when present, and fans a TaskStatusUpdateEvent out to the task's
// subscribers. A terminal state releases the subscriber set after
// notification.
func (m *Manager) UpdateStatus(id string, state TaskState, msg *Message) error {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err := AssertTransition(task.Status.State, state); err != nil {
		m.mu.Unlock()
		return err
	}

	var statusMsg *Message
	if msg != nil {
		cloned := cloneMessage(*msg)
		statusMsg = &cloned
		task.History = append(task.History, cloned)
	}
	task.Status = TaskStatus{
		State:     state,
		Message:   statusMsg,
		Timestamp: m.stamp(task),
	}

	final := IsTerminal(state)
	m.notifyLocked(id, StreamEvent{StatusUpdate: &TaskStatusUpdateEvent{
		Type:   EventTypeStatusUpdate,
		TaskID: id,
		Status: cloneStatus(task.Status),
		Final:  final,
	}})
	if final {
		delete(m.subs, id)
	}
	m.mu.Unlock()

	metrics.RecordTaskTransition(string(state))
	if final {
		logger.Info("task reached terminal state", "task_id", id, "state", string(state))
	}
	return nil
}

// AddArtifact appends an artifact to a task and fans out a
// TaskArtifactUpdateEvent. Terminal tasks reject artifacts.
func (m *Manager) AddArtifact(id string, artifact Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if IsTerminal(task.Status.State) {
		return fmt.Errorf("%w: cannot add artifact in state %q", ErrTaskTerminal, task.Status.State)
	}

	task.Artifacts = append(task.Artifacts, cloneArtifact(artifact))
	m.notifyLocked(id, StreamEvent{ArtifactUpdate: &TaskArtifactUpdateEvent{
		Type:     EventTypeArtifactUpdate,
		TaskID:   id,
		Artifact: cloneArtifact(artifact),
	}})
	return nil
}

// CancelTask transitions a non-terminal task to canceled and returns the
// final task. Canceling an already-terminal task fails with
// ErrTaskNotCancelable and emits nothing.
func (m *Manager) CancelTask(id string) (*Task, error) {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if IsTerminal(task.Status.State) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: state %q", ErrTaskNotCancelable, task.Status.State)
	}

	task.Status = TaskStatus{
		State:     TaskStateCanceled,
		Timestamp: m.stamp(task),
	}
	m.notifyLocked(id, StreamEvent{StatusUpdate: &TaskStatusUpdateEvent{
		Type:   EventTypeStatusUpdate,
		TaskID: id,
		Status: cloneStatus(task.Status),
		Final:  true,
	}})
	delete(m.subs, id)
	canceled := cloneTask(task)
	m.mu.Unlock()

	metrics.RecordTaskTransition(string(TaskStateCanceled))
	logger.Info("task canceled", "task_id", id)
	return canceled, nil
}

// Subscribe attaches fn to a task's event stream and returns an
// unsubscribe func. Events are delivered in the order the manager accepted
// them; a panicking subscriber does not affect its siblings.
func (m *Manager) Subscribe(id string, fn Subscriber) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	m.nextSub++
	subID := m.nextSub
	m.subs[id] = append(m.subs[id], taskSubscriber{id: subID, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[id]
		for i, s := range subs {
			if s.id == subID {
				m.subs[id] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}, nil
}

// PruneExpired deletes every terminal task whose last transition is older
// than the expiry window and returns the count.
func (m *Manager) PruneExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock().UTC().Add(-m.expiry)
	pruned := 0
	for id, task := range m.tasks {
		if IsTerminal(task.Status.State) && task.Status.Timestamp.Before(cutoff) {
			delete(m.tasks, id)
			delete(m.subs, id)
			pruned++
		}
	}
	if pruned > 0 {
		metrics.SetTasksActive(len(m.tasks))
	}
	return pruned
}

// StartPruneLoop runs PruneExpired on the given cadence until ctx is done.
// A non-positive interval defaults to DefaultPruneInterval.
func (m *Manager) StartPruneLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.PruneExpired(); n > 0 {
					logger.Debug("pruned expired tasks", "count", n)
				}
			}
		}
	}()
}

// TaskCount returns the number of tasks currently held.
func (m *Manager) TaskCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// stamp returns the current UTC time, clamped so a task's status timestamp
// never decreases.
func (m *Manager) stamp(task *Task) time.Time {
	now := m.clock().UTC()
	if now.Before(task.Status.Timestamp) {
		return task.Status.Timestamp
	}
	return now
}

// notifyLocked fans an event out to a task's subscribers. Callers hold mu.
func (m *Manager) notifyLocked(id string, evt StreamEvent) {
	for _, sub := range m.subs[id] {
		safeNotify(sub.fn, evt)
	}
}

// safeNotify invokes a subscriber, isolating panics from siblings and from
// the manager itself.
func safeNotify(fn Subscriber, evt StreamEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordSubscriberPanic()
			logger.Warn("task subscriber panicked", "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn(evt)
}

// cloneTask deep-copies a task so callers cannot mutate manager state.
func cloneTask(t *Task) *Task {
	c := *t
	c.Status = cloneStatus(t.Status)
	c.History = cloneMessages(t.History)
	c.Artifacts = cloneArtifacts(t.Artifacts)
	c.Metadata = maps.Clone(t.Metadata)
	return &c
}

// cloneStatus deep-copies a task status.
func cloneStatus(s TaskStatus) TaskStatus {
	if s.Message != nil {
		msg := cloneMessage(*s.Message)
		s.Message = &msg
	}
	return s
}

// cloneMessages deep-copies a message slice.
func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		out[i] = cloneMessage(msg)
	}
	return out
}

// cloneMessage deep-copies a message.
func cloneMessage(msg Message) Message {
	msg.Parts = cloneParts(msg.Parts)
	msg.Metadata = maps.Clone(msg.Metadata)
	return msg
}

// cloneParts deep-copies a part slice.
func cloneParts(parts []Part) []Part {
	out := slices.Clone(parts)
	for i := range out {
		if out[i].File != nil {
			file := *out[i].File
			out[i].File = &file
		}
		out[i].Data = maps.Clone(out[i].Data)
	}
	return out
}

// cloneArtifacts deep-copies an artifact slice.
func cloneArtifacts(artifacts []Artifact) []Artifact {
	if artifacts == nil {
		return nil
	}
	out := make([]Artifact, len(artifacts))
	for i, a := range artifacts {
		out[i] = cloneArtifact(a)
	}
	return out
}

// cloneArtifact deep-copies an artifact.
func cloneArtifact(a Artifact) Artifact {
	a.Parts = cloneParts(a.Parts)
	return a
}
