package session

import "time"

// ToolRequest is a single requested tool invocation parsed from one model
// response. The ID is assigned by the model and is stable within its cycle.
type ToolRequest struct {
	ID   string
	Tool string
	Args map[string]any
}

// FailureKind is the typed failure taxonomy for tool results.
type FailureKind string

const (
	// FailureDenied means the permission policy or the user refused the call.
	FailureDenied FailureKind = "denied"
	// FailureStale means the target file changed outside the engine since it
	// was last observed, so the mutation was refused before execution.
	FailureStale FailureKind = "stale"
	// FailureContainment means the target path escapes the session root.
	FailureContainment FailureKind = "containment"
	// FailureExecution means the tool itself failed after retries.
	FailureExecution FailureKind = "execution"
	// FailureCancelled means the session was cancelled while the request was
	// pending or suspended.
	FailureCancelled FailureKind = "cancelled"
)

// Failure is a typed tool failure, visible to the model as an observation.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// ToolResult is the outcome of exactly one ToolRequest.
type ToolResult struct {
	RequestID string
	Tool      string
	Content   string
	Failure   *Failure
	Duration  time.Duration
}

// OK reports whether the request executed without a failure.
func (r ToolResult) OK() bool {
	return r.Failure == nil
}

// DeniedResult builds the result for a refused request.
func DeniedResult(req ToolRequest, msg string) ToolResult {
	return ToolResult{
		RequestID: req.ID,
		Tool:      req.Tool,
		Failure:   &Failure{Kind: FailureDenied, Message: msg},
	}
}

// FailedResult builds a result carrying the given failure kind.
func FailedResult(req ToolRequest, kind FailureKind, msg string) ToolResult {
	return ToolResult{
		RequestID: req.ID,
		Tool:      req.Tool,
		Failure:   &Failure{Kind: kind, Message: msg},
	}
}
