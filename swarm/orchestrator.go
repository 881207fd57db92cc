package swarm

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/forgelabs-ai/agentmesh/logger"
	metrics "github.com/forgelabs-ai/agentmesh/metrics/prometheus"
	"github.com/forgelabs-ai/agentmesh/tools"
)

// orchestratorFrom is the bus sender ID for orchestrator-originated
// messages.
const orchestratorFrom = "orchestrator"

// Config bounds orchestrator resources. Zero fields fall back to the
// DefaultConfig values when passed to New.
type Config struct {
	MaxAgentsPerSwarm   int
	MaxConcurrentSwarms int
	AgentTimeout        time.Duration
	DefaultConsensus    Strategy
}

// DefaultConfig returns the stock orchestrator limits.
func DefaultConfig() Config {
	return Config{
		MaxAgentsPerSwarm:   10,
		MaxConcurrentSwarms: 5,
		AgentTimeout:        5 * time.Minute,
		DefaultConsensus:    StrategyMerge,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAgentsPerSwarm <= 0 {
		c.MaxAgentsPerSwarm = def.MaxAgentsPerSwarm
	}
	if c.MaxConcurrentSwarms <= 0 {
		c.MaxConcurrentSwarms = def.MaxConcurrentSwarms
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = def.AgentTimeout
	}
	if c.DefaultConsensus == "" {
		c.DefaultConsensus = def.DefaultConsensus
	}
	return c
}

// SpawnOptions configure one swarm run.
type SpawnOptions struct {
	// Task is the work decomposed across the swarm.
	Task string
	// Roles selects the agent roles. Unknown IDs are dropped and
	// duplicates collapse; when nothing remains the roles are suggested
	// from the task text.
	Roles []RoleID
	// Context is carried into every sub-task.
	Context string
	// Consensus overrides the orchestrator's default strategy.
	Consensus Strategy
	// DisableAutoDecompose assigns the task text verbatim to every agent
	// instead of a role-flavored description.
	DisableAutoDecompose bool
}

// swarmState is the live record of one swarm run.
type swarmState struct {
	id        string
	seq       int
	task      string
	context   string
	consensus Strategy
	bus       *Bus
	createdAt time.Time

	mu          sync.Mutex
	status      Status
	agents      []*Agent
	results     []Result
	aggregated  string
	completedAt time.Time
	cancel      context.CancelFunc
}

// setStatus advances the swarm status unless it is already terminal.
func (s *swarmState) setStatus(st Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = st
	if st.Terminal() {
		s.completedAt = time.Now()
	}
	return true
}

// complete stores the aggregated output and marks the swarm completed.
func (s *swarmState) complete(output string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.aggregated = output
	s.status = StatusCompleted
	s.completedAt = time.Now()
	return true
}

// fail stores the failure reason and marks the swarm failed.
func (s *swarmState) fail(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.aggregated = reason
	s.status = StatusFailed
	s.completedAt = time.Now()
	return true
}

// terminal reports whether the swarm reached a terminal status.
func (s *swarmState) terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Terminal()
}

// appendResult records one agent result in completion order.
func (s *swarmState) appendResult(r Result) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
}

// resultsSnapshot copies the results collected so far.
func (s *swarmState) resultsSnapshot() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.results)
}

// snapshot builds a point-in-time Swarm view.
func (s *swarmState) snapshot() *Swarm {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents := make([]AgentInfo, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, AgentInfo{ID: a.ID, Role: a.Role.ID, Status: a.Status()})
	}
	return &Swarm{
		ID:               s.id,
		Task:             s.task,
		Context:          s.context,
		Status:           s.status,
		Consensus:        s.consensus,
		Agents:           agents,
		Results:          slices.Clone(s.results),
		AggregatedOutput: s.aggregated,
		CreatedAt:        s.createdAt,
		CompletedAt:      s.completedAt,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTools exposes a tool registry to every agent the orchestrator
// creates. Runners reach it through [Agent.Tools].
func WithTools(reg *tools.Registry) Option {
	return func(o *Orchestrator) { o.tools = reg }
}

// Orchestrator creates swarms, schedules their agents in priority groups,
// and aggregates the results. Swarms stay queryable after completion and
// dissolution.
type Orchestrator struct {
	cfg   Config
	tools *tools.Registry

	mu      sync.RWMutex
	swarms  map[string]*swarmState
	counter int
}

// New creates an Orchestrator with the given limits.
func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg.withDefaults(),
		swarms: make(map[string]*swarmState),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the orchestrator's effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Spawn runs a swarm to completion on the caller's goroutine and returns
// its final snapshot. Concurrency lives inside priority groups: all agents
// of a group run in parallel, groups run in ascending priority order, and
// each successful result is broadcast as "result:available" before the next
// group starts. Per-agent failures are recorded in the results, not
// returned; Spawn only errors on limit violations, a nil runner, or a
// canceled ctx.
func (o *Orchestrator) Spawn(ctx context.Context, opts SpawnOptions, run Runner) (*Swarm, error) {
	if run == nil {
		return nil, ErrNilRunner
	}

	roles := resolveRoles(opts.Roles, opts.Task)
	consensus := opts.Consensus
	if consensus == "" {
		consensus = o.cfg.DefaultConsensus
	}

	swarmCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := o.register(opts, roles, consensus, cancel)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithSwarmID(ctx, s.id)

	agentOpts := []AgentOption{}
	if o.tools != nil {
		agentOpts = append(agentOpts, WithAgentTools(o.tools))
	}
	agents := make([]*Agent, 0, len(roles))
	for _, role := range roles {
		agents = append(agents, NewAgent("agent-"+string(role.ID), s.id, role, s.bus, agentOpts...))
	}
	s.mu.Lock()
	s.agents = agents
	s.mu.Unlock()

	logger.InfoContext(ctx, "swarm spawned",
		"task", preview(opts.Task, 80), "agents", len(agents), "consensus", string(consensus))

	if !s.setStatus(StatusPlanning) {
		return s.snapshot(), nil
	}
	plan := Decompose(opts.Task, roles, opts.Context, !opts.DisableAutoDecompose)
	for i, a := range agents {
		a.AssignTask(plan[i])
	}

	if !s.setStatus(StatusExecuting) {
		return s.snapshot(), nil
	}
	roleIDs := make([]string, 0, len(roles))
	for _, role := range roles {
		roleIDs = append(roleIDs, string(role.ID))
	}
	s.bus.Broadcast(s.id, orchestratorFrom, TopicSwarmStart, map[string]any{
		"task":       opts.Task,
		"agentCount": len(agents),
		"roles":      roleIDs,
	})

	sem := semaphore.NewWeighted(int64(o.cfg.MaxAgentsPerSwarm))
	for _, group := range groupByPriority(agents) {
		if swarmCtx.Err() != nil {
			break
		}
		for _, r := range o.runGroup(swarmCtx, s, group, run, sem) {
			if r.Status != AgentDone {
				continue
			}
			s.bus.Broadcast(s.id, orchestratorFrom, TopicResultAvailable, map[string]any{
				"agentId": r.AgentID,
				"role":    string(r.Role),
				"preview": preview(r.Output, resultPreviewChars),
			})
		}
	}

	if err := swarmCtx.Err(); err != nil {
		// Dissolve already marked the swarm cancelled; a canceled parent
		// ctx is an orchestration failure.
		if s.fail(err.Error()) {
			metrics.RecordSwarmSpawn(string(consensus), string(StatusFailed))
			logger.WarnContext(ctx, "swarm failed", "reason", err.Error())
			return s.snapshot(), err
		}
		metrics.RecordSwarmSpawn(string(consensus), string(StatusCancelled))
		return s.snapshot(), nil
	}

	if !s.setStatus(StatusAggregating) {
		return s.snapshot(), nil
	}
	results := s.resultsSnapshot()
	output := Aggregate(consensus, opts.Task, results)
	if s.complete(output) {
		metrics.RecordSwarmSpawn(string(consensus), string(StatusCompleted))
		logger.InfoContext(ctx, "swarm completed",
			"results", len(results), "output_chars", len(output))
	}
	return s.snapshot(), nil
}

// register atomically checks both limits and inserts the new swarm record.
func (o *Orchestrator) register(opts SpawnOptions, roles []Role, consensus Strategy, cancel context.CancelFunc) (*swarmState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	active := 0
	for _, s := range o.swarms {
		if !s.terminal() {
			active++
		}
	}
	if active >= o.cfg.MaxConcurrentSwarms {
		return nil, fmt.Errorf("%w (max %d)", ErrMaxSwarms, o.cfg.MaxConcurrentSwarms)
	}
	if len(roles) > o.cfg.MaxAgentsPerSwarm {
		return nil, fmt.Errorf("%w: %d roles (max %d)", ErrTooManyAgents, len(roles), o.cfg.MaxAgentsPerSwarm)
	}

	o.counter++
	now := time.Now()
	s := &swarmState{
		id:        fmt.Sprintf("swarm-%d-%d", o.counter, now.UnixMilli()),
		seq:       o.counter,
		task:      opts.Task,
		context:   opts.Context,
		consensus: consensus,
		bus:       NewBus(),
		createdAt: now,
		status:    StatusInitializing,
		cancel:    cancel,
	}
	o.swarms[s.id] = s
	return s, nil
}

// runGroup executes one priority group in parallel, bounded by sem, and
// returns the group's results in completion order. Each agent gets its own
// timeout derived from the swarm context.
func (o *Orchestrator) runGroup(ctx context.Context, s *swarmState, group []*Agent, run Runner, sem *semaphore.Weighted) []Result {
	var (
		mu      sync.Mutex
		results []Result
		wg      sync.WaitGroup
	)
	for _, ag := range group {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if sem.Acquire(ctx, 1) == nil {
				defer sem.Release(1)
			}
			agentCtx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
			defer cancel()

			start := time.Now()
			res, err := ag.Execute(agentCtx, run)
			if err != nil {
				// Only reachable when no sub-task was assigned.
				res = ag.Snapshot()
				res.Status = AgentFailed
				res.Output = "Error: " + err.Error()
			}
			metrics.RecordSwarmAgentDuration(string(ag.Role.ID), time.Since(start).Seconds())

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			s.appendResult(res)
		}()
	}
	wg.Wait()
	return results
}

// resolveRoles maps caller-supplied IDs onto known roles, dropping unknown
// IDs and duplicates. An empty outcome falls back to SuggestRoles.
func resolveRoles(ids []RoleID, task string) []Role {
	var roles []Role
	seen := make(map[RoleID]bool, len(ids))
	for _, id := range ids {
		role, ok := RoleByID(id)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		roles = append(roles, role)
	}
	if len(roles) > 0 {
		return roles
	}

	roles = make([]Role, 0, 2)
	for _, id := range SuggestRoles(task) {
		if role, ok := RoleByID(id); ok {
			roles = append(roles, role)
		}
	}
	return roles
}

// groupByPriority buckets agents by effective priority (sub-task priority
// when assigned, else role priority) in ascending order.
func groupByPriority(agents []*Agent) [][]*Agent {
	buckets := make(map[int][]*Agent)
	for _, a := range agents {
		p := a.Role.Priority
		if t := a.Task(); t != nil {
			p = t.Priority
		}
		buckets[p] = append(buckets[p], a)
	}

	out := make([][]*Agent, 0, len(buckets))
	for _, p := range slices.Sorted(maps.Keys(buckets)) {
		out = append(out, buckets[p])
	}
	return out
}

// Dissolve cancels in-flight agent executions, destroys every agent,
// transitions a non-terminal swarm to cancelled, and clears the swarm's bus
// history. It is idempotent.
func (o *Orchestrator) Dissolve(id string) error {
	s, err := o.state(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	agents := slices.Clone(s.agents)
	cancel := s.cancel
	if !s.status.Terminal() {
		s.status = StatusCancelled
		s.completedAt = time.Now()
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, a := range agents {
		a.Destroy()
	}
	s.bus.ClearSwarm(id)

	logger.Info("swarm dissolved", "swarm_id", id)
	return nil
}

// Info returns a snapshot of one swarm.
func (o *Orchestrator) Info(id string) (*Swarm, error) {
	s, err := o.state(id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

// ListSwarms returns snapshots of all known swarms, newest first.
func (o *Orchestrator) ListSwarms() []*Swarm {
	o.mu.RLock()
	states := make([]*swarmState, 0, len(o.swarms))
	for _, s := range o.swarms {
		states = append(states, s)
	}
	o.mu.RUnlock()

	slices.SortFunc(states, func(a, b *swarmState) int {
		if c := b.createdAt.Compare(a.createdAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})

	out := make([]*Swarm, 0, len(states))
	for _, s := range states {
		out = append(out, s.snapshot())
	}
	return out
}

// SendMessage sends a direct message on a swarm's bus.
func (o *Orchestrator) SendMessage(id, from, to, topic string, payload map[string]any) (*BusMessage, error) {
	s, err := o.state(id)
	if err != nil {
		return nil, err
	}
	return s.bus.Send(id, from, to, topic, payload, ""), nil
}

// BroadcastToSwarm broadcasts a message on a swarm's bus.
func (o *Orchestrator) BroadcastToSwarm(id, from, topic string, payload map[string]any) (*BusMessage, error) {
	s, err := o.state(id)
	if err != nil {
		return nil, err
	}
	return s.bus.Broadcast(id, from, topic, payload), nil
}

// Messages returns the most recent bus messages of a swarm. A non-positive
// limit defaults to DefaultHistoryLimit.
func (o *Orchestrator) Messages(id string, limit int) ([]BusMessage, error) {
	s, err := o.state(id)
	if err != nil {
		return nil, err
	}
	return s.bus.History(id, limit), nil
}

// state looks up a swarm record by ID.
func (o *Orchestrator) state(id string) (*swarmState, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.swarms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSwarmNotFound, id)
	}
	return s, nil
}
