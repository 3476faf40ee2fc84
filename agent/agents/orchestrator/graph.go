package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	nodex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/nodes/orchestrator"
)

func (o *Orchestrator) compileProcessGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, contractx.Result], error) {
	graph := compose.NewGraph[nodex.GraphInput, contractx.Result]()

	commit := nodex.Commit{Store: o.deps.Store, Formatter: o.deps.Formatter}

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("bootstrap_session",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.BootstrapSession(ctx, in, o.deps.Store, o.timeouts)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node bootstrap_session: %w", err)
	}

	if err := graph.AddLambdaNode("acquire_context",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.AcquireContext(ctx, in, nodex.ContextSources{
				Retriever: o.deps.Retriever,
				Directory: o.deps.Directory,
				Store:     o.deps.Store,
				K:         o.retrievalK,
			}, o.timeouts)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node acquire_context: %w", err)
	}

	if err := graph.AddLambdaNode("assemble_prompt",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.AssemblePrompt(ctx, in, o.deps.Prompt)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node assemble_prompt: %w", err)
	}

	if err := graph.AddLambdaNode("call_model",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.CallModel(ctx, in, nodex.ModelCall{
				Model: o.deps.Model,
				Tools: o.deps.Tools,
				Store: o.deps.Store,
			}, o.timeouts)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node call_model: %w", err)
	}

	if err := graph.AddLambdaNode(nodex.NodeFinalizeReply,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (contractx.Result, error) {
			return nodex.FinalizeReply(ctx, in, commit, o.timeouts)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeFinalizeReply, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeDispatchTools,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (contractx.Result, error) {
			return nodex.DispatchTools(ctx, in, o.deps.Formatter, o.resolveTools)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeDispatchTools, err)
	}

	branch := compose.NewGraphBranch(
		nodex.RouteResponse,
		map[string]bool{
			nodex.NodeFinalizeReply: true,
			nodex.NodeDispatchTools: true,
		},
	)
	if err := graph.AddBranch("call_model", branch); err != nil {
		return nil, fmt.Errorf("add branch call_model: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "bootstrap_session"},
		{"bootstrap_session", "acquire_context"},
		{"acquire_context", "assemble_prompt"},
		{"assemble_prompt", "call_model"},
		{nodex.NodeFinalizeReply, compose.END},
		{nodex.NodeDispatchTools, compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.process"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
