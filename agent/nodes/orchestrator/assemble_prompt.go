package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	promptx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/prompt"
)

func AssemblePrompt(ctx context.Context, in *GraphState, builder *promptx.Builder) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	name := ""
	if in.Customer != nil {
		name = in.Customer.Name
	}
	system, err := builder.Build(ctx, promptx.Input{
		Context:      in.Context,
		Persona:      in.Persona,
		CustomerName: name,
		Now:          in.Now,
	})
	if err != nil {
		return nil, err
	}
	in.SystemInstruction = system
	return in, nil
}
