// Package swarm implements a multi-agent execution engine: a task is
// decomposed across role-specialized agents, agents run in parallel within
// ascending priority groups, coordinate over an in-process message bus, and
// their outputs are combined by a pluggable consensus strategy.
package swarm

import (
	"time"
)

// AgentStatus is the lifecycle state of a single agent.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentWorking   AgentStatus = "working"
	AgentDone      AgentStatus = "done"
	AgentFailed    AgentStatus = "failed"
	AgentCancelled AgentStatus = "cancelled"
)

// Status is the lifecycle state of a swarm run.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusPlanning     Status = "planning"
	StatusExecuting    Status = "executing"
	StatusAggregating  Status = "aggregating"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether no further status changes can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// SubTask is the unit of work assigned to one agent. Priority defaults to
// the role priority of the agent it is planned for; lower runs earlier.
type SubTask struct {
	Description string   `json:"description"`
	Context     string   `json:"context,omitempty"`
	DependsOn   []string `json:"dependsOn,omitempty"`
	Priority    int      `json:"priority"`
}

// Counters tracks an agent's bus traffic.
type Counters struct {
	Received int `json:"received"`
	Sent     int `json:"sent"`
}

// Result is the immutable snapshot an agent produces when it stops running.
type Result struct {
	AgentID     string      `json:"agentId"`
	Role        RoleID      `json:"role"`
	Task        string      `json:"task"`
	Status      AgentStatus `json:"status"`
	Output      string      `json:"output"`
	Artifacts   []string    `json:"artifacts,omitempty"`
	StartedAt   time.Time   `json:"startedAt"`
	CompletedAt time.Time   `json:"completedAt"`
	Counters    Counters    `json:"counters"`
}

// Duration returns the agent's wall-clock execution time.
func (r Result) Duration() time.Duration {
	if r.CompletedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// AgentInfo is a point-in-time view of one agent inside a Swarm snapshot.
type AgentInfo struct {
	ID     string      `json:"id"`
	Role   RoleID      `json:"role"`
	Status AgentStatus `json:"status"`
}

// Swarm is a point-in-time snapshot of one swarm run, safe to retain.
type Swarm struct {
	ID               string      `json:"id"`
	Task             string      `json:"task"`
	Context          string      `json:"context,omitempty"`
	Status           Status      `json:"status"`
	Consensus        Strategy    `json:"consensus"`
	Agents           []AgentInfo `json:"agents"`
	Results          []Result    `json:"results,omitempty"`
	AggregatedOutput string      `json:"aggregatedOutput,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	CompletedAt      time.Time   `json:"completedAt,omitempty"`
}

// preview returns the first n characters of s, appending an ellipsis when
// truncated.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
