package swarm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/forgelabs-ai/agentmesh/logger"
	"github.com/forgelabs-ai/agentmesh/tools"
)

// Inbox and preview sizing.
const (
	DefaultInboxLimit  = 10
	donePreviewChars   = 500
	resultPreviewChars = 300
)

// Bus topics emitted during a swarm run.
const (
	TopicSwarmStart      = "swarm:start"
	TopicAgentDone       = "agent:done"
	TopicAgentFailed     = "agent:failed"
	TopicResultAvailable = "result:available"
)

// Runner executes one agent's assigned sub-task and returns its output. It
// must honor ctx: the orchestrator bounds each call with the agent timeout
// and cancels it on dissolve.
type Runner func(ctx context.Context, a *Agent) (string, error)

// AgentOption configures an [Agent].
type AgentOption func(*Agent)

// WithAgentTools gives the agent's runner access to a tool registry via
// [Agent.Tools].
func WithAgentTools(reg *tools.Registry) AgentOption {
	return func(a *Agent) { a.tools = reg }
}

// Agent is a role-bound worker attached to a swarm bus. Direct messages
// addressed to its ID accumulate in its inbox from construction until
// Destroy.
type Agent struct {
	ID      string
	SwarmID string
	Role    Role

	bus   *Bus
	tools *tools.Registry

	mu          sync.Mutex
	unsub       func()
	task        *SubTask
	status      AgentStatus
	output      string
	artifacts   []string
	inbox       []BusMessage
	counters    Counters
	startedAt   time.Time
	completedAt time.Time
}

// NewAgent creates an agent subscribed to its own inbox on the bus.
func NewAgent(id, swarmID string, role Role, bus *Bus, opts ...AgentOption) *Agent {
	a := &Agent{
		ID:      id,
		SwarmID: swarmID,
		Role:    role,
		bus:     bus,
		status:  AgentIdle,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.unsub = bus.Subscribe(id, func(msg BusMessage) {
		a.mu.Lock()
		a.inbox = append(a.inbox, msg)
		a.counters.Received++
		a.mu.Unlock()
	})
	return a
}

// AssignTask sets the agent's current sub-task and resets it to idle.
func (a *Agent) AssignTask(t SubTask) {
	a.mu.Lock()
	defer a.mu.Unlock()
	task := t
	a.task = &task
	a.status = AgentIdle
}

// Task returns a copy of the assigned sub-task, or nil.
func (a *Agent) Task() *SubTask {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.task == nil {
		return nil
	}
	task := *a.task
	return &task
}

// Status returns the agent's current lifecycle state.
func (a *Agent) Status() AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Output returns the agent's output so far.
func (a *Agent) Output() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.output
}

// Tools returns the registry supplied via WithAgentTools, or nil.
func (a *Agent) Tools() *tools.Registry { return a.tools }

// Execute runs the assigned sub-task through run and returns the agent's
// result snapshot. Runner outcomes map onto the agent state: success ⇒
// done with an "agent:done" broadcast; error ⇒ failed with output
// "Error: <reason>" and an "agent:failed" broadcast; a context deadline ⇒
// failed with output "Agent timeout"; context cancellation ⇒ cancelled
// without a broadcast. Calling Execute with no assigned task returns
// ErrNoAssignedTask.
func (a *Agent) Execute(ctx context.Context, run Runner) (Result, error) {
	a.mu.Lock()
	if a.task == nil {
		a.mu.Unlock()
		return Result{}, ErrNoAssignedTask
	}
	a.status = AgentWorking
	a.startedAt = time.Now()
	a.completedAt = time.Time{}
	a.mu.Unlock()

	var output string
	err := ctx.Err()
	if err == nil {
		output, err = runProtected(ctx, run, a)
	}

	a.mu.Lock()
	switch {
	case err == nil:
		a.status = AgentDone
		a.output = output
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		a.status = AgentFailed
		a.output = "Agent timeout"
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		a.status = AgentCancelled
		a.output = "Cancelled"
	default:
		a.status = AgentFailed
		a.output = "Error: " + err.Error()
	}
	a.completedAt = time.Now()
	res := a.snapshotLocked()
	a.mu.Unlock()

	switch res.Status {
	case AgentDone:
		a.bus.Broadcast(a.SwarmID, a.ID, TopicAgentDone, map[string]any{
			"agentId":       a.ID,
			"role":          string(a.Role.ID),
			"outputPreview": preview(res.Output, donePreviewChars),
		})
	case AgentFailed:
		a.bus.Broadcast(a.SwarmID, a.ID, TopicAgentFailed, map[string]any{
			"agentId":       a.ID,
			"role":          string(a.Role.ID),
			"outputPreview": preview(res.Output, donePreviewChars),
		})
		logger.Warn("agent failed", "swarm_id", a.SwarmID, "agent_id", a.ID, "output", preview(res.Output, 120))
	}
	return res, nil
}

// runProtected invokes the runner, converting a panic into an error so one
// agent cannot take down the swarm.
func runProtected(ctx context.Context, run Runner, a *Agent) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner panicked: %v", r)
		}
	}()
	return run(ctx, a)
}

// SendMessage sends a direct message to another agent on the swarm bus.
func (a *Agent) SendMessage(to, topic string, payload map[string]any) *BusMessage {
	msg := a.bus.Send(a.SwarmID, a.ID, to, topic, payload, "")
	a.mu.Lock()
	a.counters.Sent++
	a.mu.Unlock()
	return msg
}

// BroadcastMessage broadcasts to every other agent in the swarm.
func (a *Agent) BroadcastMessage(topic string, payload map[string]any) *BusMessage {
	msg := a.bus.Broadcast(a.SwarmID, a.ID, topic, payload)
	a.mu.Lock()
	a.counters.Sent++
	a.mu.Unlock()
	return msg
}

// ReadInbox returns the most recent inbox entries in arrival order. A
// non-positive limit defaults to DefaultInboxLimit.
func (a *Agent) ReadInbox(limit int) []BusMessage {
	if limit <= 0 {
		limit = DefaultInboxLimit
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	inbox := a.inbox
	if len(inbox) > limit {
		inbox = inbox[len(inbox)-limit:]
	}
	return slices.Clone(inbox)
}

// AddArtifact records a reference to something the runner produced.
func (a *Agent) AddArtifact(ref string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.artifacts = append(a.artifacts, ref)
}

// Counters returns the agent's bus traffic counters.
func (a *Agent) Counters() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}

// Snapshot returns the agent's current result snapshot.
func (a *Agent) Snapshot() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// snapshotLocked builds a Result from current state. Callers hold mu.
func (a *Agent) snapshotLocked() Result {
	task := ""
	if a.task != nil {
		task = a.task.Description
	}
	return Result{
		AgentID:     a.ID,
		Role:        a.Role.ID,
		Task:        task,
		Status:      a.status,
		Output:      a.output,
		Artifacts:   slices.Clone(a.artifacts),
		StartedAt:   a.startedAt,
		CompletedAt: a.completedAt,
		Counters:    a.counters,
	}
}

// Destroy detaches the agent from the bus and forces it to cancelled. It is
// safe to call more than once.
func (a *Agent) Destroy() {
	a.mu.Lock()
	unsub := a.unsub
	a.unsub = nil
	a.status = AgentCancelled
	a.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
