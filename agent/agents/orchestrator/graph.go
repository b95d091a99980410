package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	nodex "github.com/tanpawarit/Chative-Policy-Harness/agent/nodes"
)

// compileStepGraph builds the graph for one order-agent step:
// validate_step -> invoke_agent -> parse_output -> {execute_tool | finalize_step}.
func (o *Orchestrator) compileStepGraph(
	ctx context.Context,
) (compose.Runnable[nodex.StepInput, nodex.StepOutput], error) {
	graph := compose.NewGraph[nodex.StepInput, nodex.StepOutput]()

	if err := graph.AddLambdaNode("validate_step",
		compose.InvokableLambda(func(ctx context.Context, in nodex.StepInput) (*nodex.StepState, error) {
			return nodex.ValidateStep(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_step: %w", err)
	}

	if err := graph.AddLambdaNode("invoke_agent",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.StepState) (*nodex.StepState, error) {
			return nodex.InvokeAgent(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node invoke_agent: %w", err)
	}

	if err := graph.AddLambdaNode("parse_output",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.StepState) (*nodex.StepState, error) {
			return nodex.ParseOutput(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node parse_output: %w", err)
	}

	if err := graph.AddLambdaNode(nodex.RouteExecuteTool,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.StepState) (nodex.StepOutput, error) {
			return nodex.ExecuteTool(ctx, in, o.tools, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node execute_tool: %w", err)
	}

	if err := graph.AddLambdaNode(nodex.RouteFinalize,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.StepState) (nodex.StepOutput, error) {
			return nodex.FinalizeStep(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_step: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_step"},
		{"validate_step", "invoke_agent"},
		{"invoke_agent", "parse_output"},
		{nodex.RouteExecuteTool, compose.END},
		{nodex.RouteFinalize, compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.StepState) (string, error) {
			return nodex.Route(in)
		},
		map[string]bool{
			nodex.RouteExecuteTool: true,
			nodex.RouteFinalize:    true,
		},
	)
	if err := graph.AddBranch("parse_output", branch); err != nil {
		return nil, fmt.Errorf("add branch parse_output: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.agent_step"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator step graph: %w", err)
	}
	return runner, nil
}
