package swarm

import "strings"

// RoleID identifies one of the predefined agent specializations. The set is
// closed; roles cannot be added at runtime.
type RoleID string

const (
	RoleArchitect  RoleID = "architect"
	RoleCoder      RoleID = "coder"
	RoleResearcher RoleID = "researcher"
	RoleReviewer   RoleID = "reviewer"
	RoleSecurity   RoleID = "security"
	RoleTester     RoleID = "tester"
	RoleDevOps     RoleID = "devops"
	RoleAnalyst    RoleID = "analyst"
)

// Role describes an agent specialization. Priority orders execution: agents
// whose effective priority is lower run in an earlier group.
type Role struct {
	ID           RoleID   `json:"id"`
	Name         string   `json:"name"`
	Emoji        string   `json:"emoji"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"systemPrompt"`
	ToolPatterns []string `json:"toolPatterns,omitempty"`
	Priority     int      `json:"priority"`
}

// roleTable holds the closed role set in the canonical order used for
// deduplication, suggestion, and result merging.
var roleTable = []Role{
	{
		ID:           RoleArchitect,
		Name:         "Architect",
		Emoji:        "🏛️",
		Description:  "Designs system structure, interfaces, and data flow",
		SystemPrompt: "You are a software architect. Produce a clear component breakdown, interface contracts, and data-flow description for the task. Favor simple, composable designs.",
		ToolPatterns: []string{"read_*", "search_*"},
		Priority:     1,
	},
	{
		ID:           RoleResearcher,
		Name:         "Researcher",
		Emoji:        "🔬",
		Description:  "Gathers prior art, constraints, and supporting references",
		SystemPrompt: "You are a researcher. Collect relevant prior art, libraries, constraints, and trade-offs for the task. Cite what you find and state confidence.",
		ToolPatterns: []string{"read_*", "search_*", "fetch_*"},
		Priority:     1,
	},
	{
		ID:           RoleCoder,
		Name:         "Coder",
		Emoji:        "💻",
		Description:  "Implements the solution",
		SystemPrompt: "You are an implementation engineer. Write a complete, working solution for the task with brief notes on key decisions.",
		ToolPatterns: []string{"*"},
		Priority:     1,
	},
	{
		ID:           RoleSecurity,
		Name:         "Security",
		Emoji:        "🔒",
		Description:  "Audits for vulnerabilities and unsafe handling",
		SystemPrompt: "You are a security auditor. Identify vulnerabilities, unsafe input handling, secret leakage, and privilege issues in the task's scope. Rank findings by severity.",
		ToolPatterns: []string{"read_*", "search_*", "scan_*"},
		Priority:     2,
	},
	{
		ID:           RoleTester,
		Name:         "Tester",
		Emoji:        "🧪",
		Description:  "Designs and runs verification",
		SystemPrompt: "You are a test engineer. Produce a test plan and concrete test cases covering the task's happy paths, edge cases, and failure modes.",
		ToolPatterns: []string{"read_*", "exec_*"},
		Priority:     2,
	},
	{
		ID:           RoleDevOps,
		Name:         "DevOps",
		Emoji:        "🚀",
		Description:  "Covers build, deployment, and operations",
		SystemPrompt: "You are a DevOps engineer. Describe build, packaging, deployment, configuration, and operational monitoring for the task.",
		ToolPatterns: []string{"read_*", "exec_*", "deploy_*"},
		Priority:     2,
	},
	{
		ID:           RoleAnalyst,
		Name:         "Analyst",
		Emoji:        "📊",
		Description:  "Quantifies requirements, trade-offs, and performance",
		SystemPrompt: "You are an analyst. Break the task into measurable requirements, quantify trade-offs, and flag ambiguities that need a decision.",
		ToolPatterns: []string{"read_*", "search_*"},
		Priority:     2,
	},
	{
		ID:           RoleReviewer,
		Name:         "Reviewer",
		Emoji:        "🔍",
		Description:  "Reviews produced work and suggests improvements",
		SystemPrompt: "You are a code and design reviewer. Evaluate the work produced so far, point out defects and risks, and suggest concrete improvements.",
		ToolPatterns: []string{"read_*"},
		Priority:     3,
	},
}

// roleIndex maps role IDs to their position in roleTable.
var roleIndex = func() map[RoleID]int {
	idx := make(map[RoleID]int, len(roleTable))
	for i, r := range roleTable {
		idx[r.ID] = i
	}
	return idx
}()

// AllRoles returns the full role table in canonical order.
func AllRoles() []Role {
	out := make([]Role, len(roleTable))
	copy(out, roleTable)
	return out
}

// RoleByID returns the role for id, or false if the id is unknown.
func RoleByID(id RoleID) (Role, bool) {
	i, ok := roleIndex[id]
	if !ok {
		return Role{}, false
	}
	return roleTable[i], true
}

// roleRank returns the canonical position of a role, ranking unknown roles
// after all known ones.
func roleRank(id RoleID) int {
	if i, ok := roleIndex[id]; ok {
		return i
	}
	return len(roleTable)
}

// roleKeywords drives SuggestRoles. A role is suggested when any of its
// keywords appears in the lowercased task text.
var roleKeywords = map[RoleID][]string{
	RoleArchitect:  {"design", "architect", "structure", "blueprint", "interface"},
	RoleResearcher: {"research", "investigate", "explore", "compare", "find out", "survey"},
	RoleCoder:      {"implement", "code", "build", "write", "create", "develop", "fix", "refactor"},
	RoleSecurity:   {"security", "secure", "vulnerab", "exploit", "audit", "penetration"},
	RoleTester:     {"test", "verify", "validate", "qa", "coverage", "regression"},
	RoleDevOps:     {"deploy", "docker", "kubernetes", "infrastructure", "ci/cd", "pipeline", "release"},
	RoleAnalyst:    {"analyz", "analyse", "metric", "measure", "benchmark", "performance", "report"},
	RoleReviewer:   {"review", "critique", "improve", "feedback", "quality"},
}

// SuggestRoles scans a task description for role keywords and returns the
// matching role IDs in canonical order. When nothing matches it falls back
// to {coder, reviewer}.
func SuggestRoles(task string) []RoleID {
	lowered := strings.ToLower(task)

	var ids []RoleID
	for _, role := range roleTable {
		for _, kw := range roleKeywords[role.ID] {
			if strings.Contains(lowered, kw) {
				ids = append(ids, role.ID)
				break
			}
		}
	}
	if len(ids) == 0 {
		return []RoleID{RoleCoder, RoleReviewer}
	}
	return ids
}
