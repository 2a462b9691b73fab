package dispatch

import "fmt"

// Error codes carried by ToolError.
const (
	CodeInvalidArguments   = "invalid_arguments"
	CodeNotFound           = "not_found"
	CodePreconditionFailed = "precondition_failed"
	CodePublishFailed      = "publish_failed"
	CodeUnknownTool        = "unknown_tool"
	CodeNoMetrics          = "no_metrics"
	CodeInternal           = "internal"
)

// ToolError is the structured failure of one tool call.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Available lists the registered tools for CodeUnknownTool.
	Available []string `json:"available_tools,omitempty"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return e.Code + ": " + e.Message
}

func invalidArgs(format string, args ...any) *ToolError {
	return &ToolError{Code: CodeInvalidArguments, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *ToolError {
	return &ToolError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func precondition(format string, args ...any) *ToolError {
	return &ToolError{Code: CodePreconditionFailed, Message: fmt.Sprintf(format, args...)}
}

func publishFailed(format string, args ...any) *ToolError {
	return &ToolError{Code: CodePublishFailed, Message: fmt.Sprintf(format, args...)}
}
