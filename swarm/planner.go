package swarm

import "fmt"

// roleTemplates flavor the task description per role when auto-decomposition
// is on.
var roleTemplates = map[RoleID]string{
	RoleArchitect:  "Design the architecture and component structure for: %s",
	RoleResearcher: "Research prior art, constraints, and best practices for: %s",
	RoleCoder:      "Implement a working solution for: %s",
	RoleSecurity:   "Audit the security posture and identify vulnerabilities in: %s",
	RoleTester:     "Write a test plan and concrete test cases covering: %s",
	RoleDevOps:     "Plan the build, deployment, and operational concerns for: %s",
	RoleAnalyst:    "Analyze the requirements, trade-offs, and metrics of: %s",
	RoleReviewer:   "Review the produced work and suggest improvements for: %s",
}

// Decompose produces one sub-task per role, in role order. With auto off
// every sub-task carries the task text verbatim; with auto on each
// description is derived from the role's template. Context is preserved and
// priority comes from the role.
func Decompose(task string, roles []Role, context string, auto bool) []SubTask {
	out := make([]SubTask, 0, len(roles))
	for _, role := range roles {
		description := task
		if auto {
			if tmpl, ok := roleTemplates[role.ID]; ok {
				description = fmt.Sprintf(tmpl, task)
			}
		}
		out = append(out, SubTask{
			Description: description,
			Context:     context,
			Priority:    role.Priority,
		})
	}
	return out
}
