package planner_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/planner"
)

func ExampleExecutor() {
	reg := action.NewRegistry()
	_ = reg.RegisterFunc("lookup", "Looks up a city.", func(_ context.Context, arg action.Argument) (any, error) {
		return "madrid", nil
	}, nil)
	_ = reg.RegisterFunc("upper", "Uppercases text.", func(_ context.Context, arg action.Argument) (any, error) {
		return strings.ToUpper(arg.Text()), nil
	}, nil)

	plan := &planner.Plan{Nodes: []planner.Node{
		{ID: "E1", Action: "lookup", Argument: action.Text("capital of Spain")},
		{ID: "E2", Action: "upper", Argument: action.Text("#E1")},
	}}

	out, err := planner.NewExecutor(reg).Execute(context.Background(), plan)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, r := range out.Ordered() {
		fmt.Println(r.NodeID, r.Status, r.Observation)
	}
	// Output:
	// E1 completed madrid
	// E2 completed MADRID
}
