package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	personax "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/persona"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

// BootstrapSession creates the session on first contact and loads its
// history and persona.
func BootstrapSession(ctx context.Context, in *GraphState, store statex.Store, t Timeouts) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	ctx, cancel := WithTimeout(ctx, t.Store)
	defer cancel()

	if err := store.InitSession(ctx, in.SessionID, in.Channel); err != nil {
		return nil, fmt.Errorf("init session: %w", err)
	}
	history, err := store.History(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	raw, err := store.Attribute(ctx, in.SessionID, statex.AttrPersona)
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}

	in.History = history
	in.Persona, _ = personax.Parse(raw)

	log.Ctx(ctx).Debug().Int("history", len(history)).Str("persona", in.Persona.String()).Msg("session loaded")
	return in, nil
}
