package orchestratornode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	personax "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/persona"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

type Commit struct {
	Store     statex.Store
	Formatter contractx.ReplyFormatter
}

func FinalizeReply(ctx context.Context, in *GraphState, c Commit, t Timeouts) (contractx.Result, error) {
	if in == nil {
		return contractx.Result{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	return CommitModelText(ctx, c, in.SessionID, in.Channel, in.Response.Text, in.Now, t)
}

// CommitModelText stores the persona marker if present, appends the cleaned
// model turn and formats it for the channel.
func CommitModelText(
	ctx context.Context,
	c Commit,
	sessionID string,
	channel statex.Channel,
	text string,
	now time.Time,
	t Timeouts,
) (contractx.Result, error) {
	cleaned, persona, found := personax.Extract(text)

	ctx, cancel := WithTimeout(ctx, t.Store)
	defer cancel()

	// The marker counts even when nothing else is left of the reply.
	if found && persona != personax.None {
		if err := c.Store.SetAttribute(ctx, sessionID, statex.AttrPersona, persona.String()); err != nil {
			return contractx.Result{}, fmt.Errorf("store persona: %w", err)
		}
		log.Ctx(ctx).Info().Str("persona", persona.String()).Msg("persona inferred from reply")
	}
	if cleaned == "" {
		return contractx.Result{}, fmt.Errorf("%w: model reply is empty", contractx.ErrSchemaViolation)
	}
	if err := c.Store.AppendTurns(ctx, sessionID, statex.ModelTurn(cleaned, now)); err != nil {
		return contractx.Result{}, fmt.Errorf("append model turn: %w", err)
	}

	reply := c.Formatter.Format(cleaned, channel)
	if reply == "" {
		reply = cleaned
	}
	return contractx.Result{Text: reply}, nil
}
