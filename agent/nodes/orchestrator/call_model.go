package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

type ModelCall struct {
	Model contractx.ModelGateway
	Tools contractx.ToolRegistry
	Store statex.Store
}

// CallModel issues the primary call with the new message appended to the
// history. The user turn is persisted only once the call has succeeded, so a
// failed cycle leaves the history untouched.
func CallModel(ctx context.Context, in *GraphState, mc ModelCall, t Timeouts) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	userTurn := statex.UserTurn(in.Message, in.Now)
	conversation := make([]statex.Turn, 0, len(in.History)+1)
	conversation = append(conversation, in.History...)
	conversation = append(conversation, userTurn)

	mctx, cancel := WithTimeout(ctx, t.Model)
	resp, err := mc.Model.Generate(mctx, contractx.GenerateRequest{
		SystemInstruction: in.SystemInstruction,
		Tools:             mc.Tools.Tools(),
		Conversation:      conversation,
	})
	cancel()
	if err != nil {
		return nil, err
	}

	sctx, cancel := WithTimeout(ctx, t.Store)
	defer cancel()
	if err := mc.Store.AppendTurns(sctx, in.SessionID, userTurn); err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}

	in.Response = resp
	log.Ctx(ctx).Debug().Int("tool_calls", len(resp.ToolCalls)).Msg("primary model call done")
	return in, nil
}

const (
	NodeFinalizeReply = "finalize_reply"
	NodeDispatchTools = "dispatch_tools"
)

// RouteResponse picks the branch after the primary call.
func RouteResponse(_ context.Context, in *GraphState) (string, error) {
	if in == nil {
		return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Response.HasToolCalls() {
		return NodeDispatchTools, nil
	}
	return NodeFinalizeReply, nil
}
