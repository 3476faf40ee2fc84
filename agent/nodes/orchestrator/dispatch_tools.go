package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

// ToolResolver runs requested tool calls to a terminal reply.
type ToolResolver func(ctx context.Context, sessionID string, channel statex.Channel, calls []statex.ToolCall) (contractx.Result, error)

// DispatchTools resolves tool calls inline on text channels. On voice it
// returns the hold phrase and hands the calls back to the caller.
func DispatchTools(
	ctx context.Context,
	in *GraphState,
	formatter contractx.ReplyFormatter,
	resolve ToolResolver,
) (contractx.Result, error) {
	if in == nil {
		return contractx.Result{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	calls := in.Response.ToolCalls
	if in.Channel == statex.ChannelVoice {
		log.Ctx(ctx).Info().Int("tool_calls", len(calls)).Msg("deferring tool calls on voice")
		return contractx.Result{
			Text:             formatter.FixedMessage(contractx.MessageChecking, statex.ChannelVoice),
			RequiresToolCall: true,
			FunctionCalls:    calls,
		}, nil
	}
	return resolve(ctx, in.SessionID, in.Channel, calls)
}
