package swarm

import "errors"

// Orchestrator and agent errors.
var (
	// ErrMaxSwarms is returned by Spawn when the number of non-terminal
	// swarms has reached the configured maximum.
	ErrMaxSwarms = errors.New("swarm: max concurrent swarms reached")

	// ErrTooManyAgents is returned by Spawn when the resolved role set
	// exceeds the per-swarm agent limit.
	ErrTooManyAgents = errors.New("swarm: too many agents for one swarm")

	// ErrNoAssignedTask is returned by Agent.Execute when no sub-task has
	// been assigned.
	ErrNoAssignedTask = errors.New("swarm: agent has no assigned task")

	// ErrSwarmNotFound is returned by operations addressing an unknown
	// swarm ID.
	ErrSwarmNotFound = errors.New("swarm: swarm not found")

	// ErrNilRunner is returned by Spawn when no runner is supplied.
	ErrNilRunner = errors.New("swarm: nil runner")
)
