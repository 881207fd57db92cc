package swarm

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Strategy selects how agent outputs are combined into one result.
type Strategy string

const (
	// StrategyMerge emits one markdown section per successful agent in
	// role order, with a failed-agents summary appended.
	StrategyMerge Strategy = "merge"
	// StrategyVote emits an excerpt of every agent's output and a closing
	// consensus paragraph. There are no ballot mechanics.
	StrategyVote Strategy = "vote"
	// StrategyChain emits numbered stages in role order and repeats the
	// last stage's output as the final output.
	StrategyChain Strategy = "chain"
	// StrategyBest scores every successful output and emits the winner,
	// listing the other candidates and their scores.
	StrategyBest Strategy = "best"
)

// ParseStrategy maps a configuration string onto a Strategy. The empty
// string selects merge.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategyMerge, StrategyVote, StrategyChain, StrategyBest:
		return st, nil
	case "":
		return StrategyMerge, nil
	default:
		return "", fmt.Errorf("swarm: unknown consensus strategy %q", s)
	}
}

// voteExcerptChars bounds the per-agent excerpt in vote output.
const voteExcerptChars = 500

// Aggregate combines agent results into a single document according to the
// strategy. When no agent succeeded it returns an all-failed summary
// instead, regardless of strategy. Unknown strategies fall back to merge.
func Aggregate(strategy Strategy, task string, results []Result) string {
	successes := successfulResults(results)
	if len(successes) == 0 {
		return allFailed(results)
	}

	switch strategy {
	case StrategyVote:
		return aggregateVote(task, results, successes)
	case StrategyChain:
		return aggregateChain(task, successes)
	case StrategyBest:
		return aggregateBest(task, successes)
	default:
		return aggregateMerge(task, results, successes)
	}
}

// successfulResults returns the done results sorted by role order.
func successfulResults(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Status == AgentDone {
			out = append(out, r)
		}
	}
	sortByRole(out)
	return out
}

// failedResults returns the non-done results sorted by role order.
func failedResults(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Status != AgentDone {
			out = append(out, r)
		}
	}
	sortByRole(out)
	return out
}

// sortByRole stable-sorts results into the canonical role order, keeping
// unknown roles last in input order.
func sortByRole(results []Result) {
	slices.SortStableFunc(results, func(a, b Result) int {
		return cmp.Compare(roleRank(a.Role), roleRank(b.Role))
	})
}

// allFailed summarizes a swarm in which no agent produced output.
func allFailed(results []Result) string {
	failed := failedResults(results)
	lines := make([]string, 0, len(failed)+1)
	lines = append(lines, "All agents failed.")
	for _, r := range failed {
		lines = append(lines, fmt.Sprintf("%s: %s", r.Role, r.Output))
	}
	return strings.Join(lines, "\n")
}

// sectionTitle renders an agent's markdown section header.
func sectionTitle(r Result) string {
	if role, ok := RoleByID(r.Role); ok {
		return fmt.Sprintf("%s %s", role.Emoji, role.Name)
	}
	return string(r.Role)
}

func aggregateMerge(task string, results, successes []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Swarm Result: %s\n", task)
	for _, r := range successes {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", sectionTitle(r), r.Output)
	}

	if failed := failedResults(results); len(failed) > 0 {
		b.WriteString("\n## Failed Agents\n\n")
		for _, r := range failed {
			fmt.Fprintf(&b, "- %s: %s\n", r.Role, r.Output)
		}
	}
	return b.String()
}

func aggregateVote(task string, results, successes []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Vote Result: %s\n", task)

	ordered := slices.Clone(results)
	sortByRole(ordered)
	for _, r := range ordered {
		fmt.Fprintf(&b, "\n## %s (%s)\n\n%s\n",
			sectionTitle(r), r.Status, preview(r.Output, voteExcerptChars))
	}

	fmt.Fprintf(&b, "\n## Consensus\n\n%d of %d agents produced a result. "+
		"Where the excerpts above converge, the shared recommendation is the consensus; "+
		"divergent positions are listed for the caller to weigh.\n",
		len(successes), len(results))
	return b.String()
}

func aggregateChain(task string, successes []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Chain Result: %s\n", task)
	for i, r := range successes {
		fmt.Fprintf(&b, "\n## Stage %d: %s\n\n%s\n", i+1, sectionTitle(r), r.Output)
	}
	fmt.Fprintf(&b, "\n## Final Output\n\n%s\n", successes[len(successes)-1].Output)
	return b.String()
}

func aggregateBest(task string, successes []Result) string {
	best := successes[0]
	bestScore := scoreOutput(best)
	for _, r := range successes[1:] {
		if s := scoreOutput(r); s > bestScore {
			best, bestScore = r, s
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Best Result: %s\n", task)
	fmt.Fprintf(&b, "\n## %s (score %.1f)\n\n%s\n", sectionTitle(best), bestScore, best.Output)

	if len(successes) > 1 {
		b.WriteString("\n## Other Candidates\n\n")
		for _, r := range successes {
			if r.AgentID == best.AgentID {
				continue
			}
			fmt.Fprintf(&b, "- %s: score %.1f\n", r.Role, scoreOutput(r))
		}
	}
	return b.String()
}

// scoreOutput rates one result for the best strategy. Longer, more
// structured output scores higher; a done status is worth a flat bonus.
func scoreOutput(r Result) float64 {
	out := r.Output
	score := float64(len(out)) * 0.1
	score += float64(strings.Count(out, "\n")) * 2
	score += float64(countHeadings(out)) * 10
	score += float64(strings.Count(out, "```")/2) * 5
	if r.Status == AgentDone {
		score += 50
	}
	return score
}

// countHeadings counts markdown heading lines.
func countHeadings(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "#") {
			n++
		}
	}
	return n
}
