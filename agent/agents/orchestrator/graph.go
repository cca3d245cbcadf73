package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	nodex "github.com/tanpawarit/Chative-Learning-Coordinator/agent/nodes"
)

func (c *Coordinator) compileRouteGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, c.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("classify_if_missing",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ClassifyIfMissing(ctx, in, nodex.Labelers{
				Analyzer:   c.analyzer,
				Classifier: c.classifier,
				Tagger:     c.tagger,
			})
		}),
	); err != nil {
		return nil, fmt.Errorf("add node classify_if_missing: %w", err)
	}

	if err := graph.AddLambdaNode("load_profile",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadProfile(in, c.memory)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_profile: %w", err)
	}

	if err := graph.AddLambdaNode("route_and_decide",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RouteAndDecide(ctx, in, c.router)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node route_and_decide: %w", err)
	}

	if err := graph.AddLambdaNode("record_decision",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RecordDecision(ctx, in, c, c.metrics, c.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node record_decision: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_decision",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeDecision(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_decision: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "classify_if_missing"},
		{"classify_if_missing", "load_profile"},
		{"load_profile", "route_and_decide"},
		{"route_and_decide", "record_decision"},
		{"record_decision", "finalize_decision"},
		{"finalize_decision", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("coordinator.route"))
	if err != nil {
		return nil, fmt.Errorf("compile coordinator graph: %w", err)
	}
	return runner, nil
}
