package contract

import (
	"github.com/cloudwego/eino/schema"
	personax "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/persona"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

// Result is what one processing cycle hands back to the transport layer.
//
// Every successful cycle carries either non-empty Text or RequiresToolCall.
// A failed cycle still carries the channel's fallback Text and sets Err.
type Result struct {
	Text string `json:"text,omitempty"`

	// RequiresToolCall is only set on voice: the caller plays Text while the
	// FunctionCalls are resolved out of band through ResolveTools.
	RequiresToolCall bool              `json:"requires_tool_call"`
	FunctionCalls    []statex.ToolCall `json:"function_calls,omitempty"`

	TransferToOperator bool  `json:"transfer_to_operator,omitempty"`
	Err                error `json:"-"`
}

// GenerateRequest is one model call. Tools is the process-wide catalog and is
// never modified by the gateway.
type GenerateRequest struct {
	SystemInstruction string
	Tools             []*schema.ToolInfo
	Conversation      []statex.Turn
}

// GenerateResponse holds either text or tool calls. When the model returns
// both, ToolCalls takes precedence.
type GenerateResponse struct {
	Text      string
	ToolCalls []statex.ToolCall
}

func (r GenerateResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Customer is what the directory knows about a phone number.
type Customer struct {
	Phone   string           `json:"phone"`
	Name    string           `json:"name"`
	Persona personax.Persona `json:"persona,omitempty"`
}

// MessageKey names a fixed, pre-written reply.
type MessageKey string

const (
	MessageAPIError     MessageKey = "apiError"
	MessageChecking     MessageKey = "checking"
	MessageTransferring MessageKey = "transferring"
	MessageHandoff      MessageKey = "handoff"
	MessageGreeting     MessageKey = "greeting"
)
