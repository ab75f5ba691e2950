package session

import "time"

// TurnKind classifies a transcript entry.
type TurnKind string

const (
	// TurnUser is input from the supervising human.
	TurnUser TurnKind = "user"
	// TurnAssistant is a model response: reasoning text and/or tool requests.
	TurnAssistant TurnKind = "assistant"
	// TurnObservation is the outcome of a single tool request.
	TurnObservation TurnKind = "observation"
	// TurnNotice is a system-generated entry, e.g. a compaction summary.
	TurnNotice TurnKind = "notice"
)

// Turn is one immutable transcript entry.
type Turn struct {
	Kind     TurnKind
	Content  string
	Requests []ToolRequest // assistant turns only
	Result   *ToolResult   // observation turns only
	At       time.Time
}

// UserTurn builds a user message turn.
func UserTurn(content string) Turn {
	return Turn{Kind: TurnUser, Content: content}
}

// AssistantTurn builds a model turn carrying text and any tool requests.
func AssistantTurn(content string, requests []ToolRequest) Turn {
	return Turn{Kind: TurnAssistant, Content: content, Requests: requests}
}

// ObservationTurn builds the observation turn for a tool result.
func ObservationTurn(result ToolResult) Turn {
	return Turn{Kind: TurnObservation, Result: &result}
}

// NoticeTurn builds a system notice turn.
func NoticeTurn(content string) Turn {
	return Turn{Kind: TurnNotice, Content: content}
}
