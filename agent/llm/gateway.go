package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

// Gateway adapts an eino tool-calling chat model to contract.ModelGateway.
type Gateway struct {
	model model.ToolCallingChatModel
}

var _ contractx.ModelGateway = (*Gateway)(nil)

func NewGateway(m model.ToolCallingChatModel) (*Gateway, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: chat model is nil", contractx.ErrValidation)
	}
	return &Gateway{model: m}, nil
}

func (g *Gateway) Generate(ctx context.Context, req contractx.GenerateRequest) (contractx.GenerateResponse, error) {
	chat := g.model
	if len(req.Tools) > 0 {
		bound, err := g.model.WithTools(req.Tools)
		if err != nil {
			return contractx.GenerateResponse{}, fmt.Errorf("%w: bind tools: %v", contractx.ErrModelInvoke, err)
		}
		chat = bound
	}

	messages := ToMessages(req.SystemInstruction, req.Conversation)
	out, err := chat.Generate(ctx, messages)
	if err != nil {
		return contractx.GenerateResponse{}, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	if out == nil {
		return contractx.GenerateResponse{}, fmt.Errorf("%w: nil message", contractx.ErrSchemaViolation)
	}

	resp := contractx.GenerateResponse{Text: strings.TrimSpace(out.Content)}
	for _, tc := range out.ToolCalls {
		call, err := fromSchemaToolCall(tc)
		if err != nil {
			return contractx.GenerateResponse{}, err
		}
		resp.ToolCalls = append(resp.ToolCalls, call)
	}

	if !resp.HasToolCalls() && resp.Text == "" {
		return contractx.GenerateResponse{}, fmt.Errorf("%w: empty completion", contractx.ErrSchemaViolation)
	}

	log.Ctx(ctx).Debug().
		Int("messages", len(messages)).
		Int("tool_calls", len(resp.ToolCalls)).
		Int("text_len", len(resp.Text)).
		Msg("model generated")

	return resp, nil
}

// ToMessages converts history to provider messages. Tool interactions become
// an assistant tool-call message followed by the matching tool message.
func ToMessages(system string, turns []statex.Turn) []*schema.Message {
	out := make([]*schema.Message, 0, len(turns)+1)
	if s := strings.TrimSpace(system); s != "" {
		out = append(out, schema.SystemMessage(s))
	}

	for _, t := range turns {
		switch {
		case t.Role == statex.RoleUser:
			out = append(out, schema.UserMessage(t.Text))
		case t.Role == statex.RoleModel && t.Call != nil:
			out = append(out, schema.AssistantMessage(t.Text, []schema.ToolCall{{
				ID:   t.Call.ID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      t.Call.Name,
					Arguments: t.Call.ArgsJSON(),
				},
			}}))
		case t.Role == statex.RoleModel:
			out = append(out, schema.AssistantMessage(t.Text, nil))
		case t.Role == statex.RoleTool && t.Result != nil:
			out = append(out, schema.ToolMessage(t.Result.Content(), t.Result.CallID))
		}
	}
	return out
}

func fromSchemaToolCall(tc schema.ToolCall) (statex.ToolCall, error) {
	name := strings.TrimSpace(tc.Function.Name)
	if name == "" {
		return statex.ToolCall{}, fmt.Errorf("%w: tool call without name", contractx.ErrSchemaViolation)
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return statex.ToolCall{}, fmt.Errorf("%w: arguments of %s: %v", contractx.ErrSchemaViolation, name, err)
		}
	}

	id := strings.TrimSpace(tc.ID)
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	return statex.ToolCall{ID: id, Name: name, Args: args}, nil
}
