package tools

import "fmt"

// ErrToolUnavailable is returned when a tool call targets a tool that is
// not present in the catalog. This indicates a capability mismatch (the
// model hallucinated a name), not a transient execution failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}
