package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	nodex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/nodes/orchestrator"
	personax "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/persona"
	promptx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/prompt"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

type loopState int

const (
	awaitingTools loopState = iota
	awaitingModel
)

// resolveTools is the bounded tool loop. Callers hold the session lock.
//
// Each round invokes the pending calls in order and records every
// request/result pair, then asks the model for a follow-up. A follow-up that
// requests more tools starts another round until maxToolRounds is reached;
// past that, its text is used if it has any.
func (o *Orchestrator) resolveTools(
	ctx context.Context,
	sessionID string,
	channel statex.Channel,
	calls []statex.ToolCall,
) (contractx.Result, error) {
	logger := log.Ctx(ctx)
	commit := nodex.Commit{Store: o.deps.Store, Formatter: o.deps.Formatter}

	state := awaitingTools
	pending := calls
	rounds := 0

	for {
		switch state {
		case awaitingTools:
			rounds++
			for _, call := range pending {
				result, err := o.invokeTool(ctx, call)
				if err != nil {
					return contractx.Result{}, err
				}
				if err := o.appendToolInteraction(ctx, sessionID, call, result); err != nil {
					return contractx.Result{}, err
				}
				if call.Name == o.handoffTool {
					logger.Info().Int("round", rounds).Msg("handoff requested")
					return o.handoff(channel), nil
				}
			}
			state = awaitingModel

		case awaitingModel:
			resp, err := o.followUp(ctx, sessionID)
			if err != nil {
				return contractx.Result{}, err
			}
			if resp.HasToolCalls() {
				if rounds < o.maxToolRounds {
					pending = resp.ToolCalls
					state = awaitingTools
					continue
				}
				if resp.Text == "" {
					return contractx.Result{}, fmt.Errorf("%w: %d round(s)", contractx.ErrToolDepthExceeded, rounds)
				}
				logger.Warn().Int("ignored_tool_calls", len(resp.ToolCalls)).Msg("tool round ceiling reached, using follow-up text")
			}
			return nodex.CommitModelText(ctx, commit, sessionID, channel, resp.Text, o.now(), o.timeouts)
		}
	}
}

func (o *Orchestrator) invokeTool(ctx context.Context, call statex.ToolCall) (statex.ToolResult, error) {
	tctx, cancel := nodex.WithTimeout(ctx, o.timeouts.Tool)
	defer cancel()

	started := o.now()
	result, err := o.deps.Tools.Invoke(tctx, call)
	log.Ctx(ctx).Info().
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Dur("elapsed", o.now().Sub(started)).
		Bool("tool_error", result.Error != "").
		Err(err).
		Msg("tool invoked")
	if err != nil {
		return statex.ToolResult{}, err
	}
	return result, nil
}

func (o *Orchestrator) appendToolInteraction(ctx context.Context, sessionID string, call statex.ToolCall, result statex.ToolResult) error {
	sctx, cancel := nodex.WithTimeout(ctx, o.timeouts.Store)
	defer cancel()
	if err := o.deps.Store.AppendTurns(sctx, sessionID, statex.ToolInteraction(call, result, o.now())...); err != nil {
		return fmt.Errorf("append tool interaction: %w", err)
	}
	return nil
}

func (o *Orchestrator) handoff(channel statex.Channel) contractx.Result {
	if channel == statex.ChannelVoice {
		return contractx.Result{
			Text:               o.deps.Formatter.FixedMessage(contractx.MessageTransferring, channel),
			TransferToOperator: true,
		}
	}
	return contractx.Result{Text: o.deps.Formatter.FixedMessage(contractx.MessageHandoff, channel)}
}

// followUp re-acquires general context with an empty query and calls the
// model on the tool-annotated history, without new user text.
func (o *Orchestrator) followUp(ctx context.Context, sessionID string) (contractx.GenerateResponse, error) {
	sctx, cancel := nodex.WithTimeout(ctx, o.timeouts.Store)
	history, err := o.deps.Store.History(sctx, sessionID)
	if err != nil {
		cancel()
		return contractx.GenerateResponse{}, fmt.Errorf("load history: %w", err)
	}
	raw, err := o.deps.Store.Attribute(sctx, sessionID, statex.AttrPersona)
	cancel()
	if err != nil {
		return contractx.GenerateResponse{}, fmt.Errorf("load persona: %w", err)
	}
	persona, _ := personax.Parse(raw)

	knowledge := nodex.Retrieve(ctx, o.deps.Retriever, "", o.retrievalK, o.timeouts.Retrieval)

	system, err := o.deps.Prompt.Build(ctx, promptx.Input{
		Context: knowledge,
		Persona: persona,
		Now:     o.now(),
	})
	if err != nil {
		return contractx.GenerateResponse{}, err
	}

	mctx, cancel := nodex.WithTimeout(ctx, o.timeouts.Model)
	defer cancel()
	return o.deps.Model.Generate(mctx, contractx.GenerateRequest{
		SystemInstruction: system,
		Tools:             o.deps.Tools.Tools(),
		Conversation:      history,
	})
}
