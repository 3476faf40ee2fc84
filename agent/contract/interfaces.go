package contract

import (
	"context"

	"github.com/cloudwego/eino/schema"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

type ContextRetriever interface {
	// Retrieve returns a text block of the k most relevant passages. An empty
	// query returns general-purpose passages.
	Retrieve(ctx context.Context, query string, k int) (string, error)
}

type CustomerDirectory interface {
	// Lookup returns ErrCustomerNotFound when the phone is unknown.
	Lookup(ctx context.Context, phone string) (*Customer, error)
}

type ToolRegistry interface {
	Tools() []*schema.ToolInfo
	// Invoke returns a Go error only for infrastructure failures. Tool-level
	// problems (bad arguments, slot taken, unknown tool) come back in
	// ToolResult.Error so the model can react to them.
	Invoke(ctx context.Context, call statex.ToolCall) (statex.ToolResult, error)
}

type ModelGateway interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

type ReplyFormatter interface {
	Format(text string, channel statex.Channel) string
	FixedMessage(key MessageKey, channel statex.Channel) string
}
