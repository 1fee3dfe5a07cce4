package task

import "strings"

// ToolType is the coarse classification the cost table keys off of.
type ToolType int

const (
	ToolUnknown ToolType = iota
	ToolQuestion
	ToolRead
	ToolBashEditWrite
	ToolSubagentSingle
	ToolSubagentParallel
	ToolAgentTeam
)

// InferContext carries the hints InferCost and InferPriority need beyond
// the raw tool name (spec.md §4.6).
type InferContext struct {
	IsInteractive        bool
	IsBackground         bool
	IsRetry              bool
	AgentCount           int
	UnknownFrameworkFlag bool
}

// classifyTool maps a tool name to a ToolType using the same
// pattern-matching shape the teacher uses for human-readable byte sizes
// and filename sanitization (internal/utils): a short ordered list of
// substring rules, first match wins.
func classifyTool(toolName string) ToolType {
	name := strings.ToLower(toolName)
	switch {
	case strings.Contains(name, "question"):
		return ToolQuestion
	case strings.Contains(name, "agent_team"):
		return ToolAgentTeam
	case strings.Contains(name, "subagent_parallel"):
		return ToolSubagentParallel
	case strings.Contains(name, "subagent_single"), strings.Contains(name, "subagent"):
		return ToolSubagentSingle
	case strings.Contains(name, "read"):
		return ToolRead
	case strings.Contains(name, "bash"), strings.Contains(name, "edit"), strings.Contains(name, "write"):
		return ToolBashEditWrite
	default:
		return ToolUnknown
	}
}

// InferCost estimates the task cost in rounds per spec.md §4.6's table:
// reads ≈1; bash/edit/write ≈2; subagent_single ≈3; subagent_parallel
// ≈3×agentCount; agent_team ≈5×agentCount; +2 if retry; +N if the
// unknown-framework flag is set (N is the agent count, or 1 if unset).
func InferCost(toolName string, ctx InferContext) int {
	agentCount := ctx.AgentCount
	if agentCount < 1 {
		agentCount = 1
	}

	var cost int
	switch classifyTool(toolName) {
	case ToolQuestion:
		cost = 1
	case ToolRead:
		cost = 1
	case ToolBashEditWrite:
		cost = 2
	case ToolSubagentSingle:
		cost = 3
	case ToolSubagentParallel:
		cost = 3 * agentCount
	case ToolAgentTeam:
		cost = 5 * agentCount
	default:
		cost = 2
	}

	if ctx.IsRetry {
		cost += 2
	}
	if ctx.UnknownFrameworkFlag {
		cost += agentCount
	}

	if cost < 1 {
		cost = 1
	}
	if cost > 50 {
		cost = 50
	}
	return cost
}

// InferPriority returns critical for "question" tools, high when the
// caller flags the request as interactive, background when flagged
// background, low on retry, else the tool type's default (spec.md §4.6).
func InferPriority(toolName string, ctx InferContext) Priority {
	toolType := classifyTool(toolName)

	switch {
	case toolType == ToolQuestion:
		return PriorityCritical
	case ctx.IsInteractive:
		return PriorityHigh
	case ctx.IsBackground:
		return PriorityBackground
	case ctx.IsRetry:
		return PriorityLow
	}

	switch toolType {
	case ToolAgentTeam, ToolSubagentParallel, ToolSubagentSingle:
		return PriorityNormal
	case ToolBashEditWrite:
		return PriorityNormal
	case ToolRead:
		return PriorityNormal
	default:
		return PriorityNormal
	}
}
