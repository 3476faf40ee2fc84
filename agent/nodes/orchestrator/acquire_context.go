package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	personax "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/persona"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

type ContextSources struct {
	Retriever contractx.ContextRetriever
	Directory contractx.CustomerDirectory
	Store     statex.Store
	K         int
}

// AcquireContext runs retrieval and the directory lookup concurrently.
// Neither failure aborts the cycle: the prompt is built without that input.
func AcquireContext(ctx context.Context, in *GraphState, src ContextSources, t Timeouts) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	var (
		knowledge string
		customer  *contractx.Customer
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		knowledge = Retrieve(ctx, src.Retriever, in.Message, src.K, t.Retrieval)
	})
	if in.Persona == personax.None && in.Phone != "" && src.Directory != nil {
		wg.Go(func() {
			customer = lookup(ctx, src.Directory, in.Phone, t.Directory)
		})
	}
	wg.Wait()

	in.Context = knowledge
	if customer == nil {
		return in, nil
	}
	in.Customer = customer

	if customer.Persona != personax.None {
		sctx, cancel := WithTimeout(ctx, t.Store)
		defer cancel()
		if err := src.Store.SetAttribute(sctx, in.SessionID, statex.AttrPersona, customer.Persona.String()); err != nil {
			return nil, fmt.Errorf("store directory persona: %w", err)
		}
		in.Persona = customer.Persona
	}
	return in, nil
}

// Retrieve returns an empty context on any failure.
func Retrieve(ctx context.Context, r contractx.ContextRetriever, query string, k int, timeout time.Duration) string {
	if r == nil {
		return ""
	}
	ctx, cancel := WithTimeout(ctx, timeout)
	defer cancel()

	text, err := r.Retrieve(ctx, query, k)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Bool("empty_query", query == "").Msg("retrieval failed, continuing without context")
		return ""
	}
	return text
}

func lookup(ctx context.Context, d contractx.CustomerDirectory, phone string, timeout time.Duration) *contractx.Customer {
	ctx, cancel := WithTimeout(ctx, timeout)
	defer cancel()

	c, err := d.Lookup(ctx, phone)
	switch {
	case errors.Is(err, contractx.ErrCustomerNotFound):
		log.Ctx(ctx).Debug().Msg("caller not in directory")
		return nil
	case err != nil:
		log.Ctx(ctx).Warn().Err(err).Msg("directory lookup failed, continuing without customer data")
		return nil
	}
	return c
}
