package oracle

import (
	"fmt"
	"strings"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/core"
	"github.com/jllopis/reactloop/pkg/planner"
	"github.com/jllopis/reactloop/pkg/transcript"
)

const decisionInstructions = `You solve tasks step by step. At each step you think, then choose exactly one action.

Reply with one step in this format:
Thought: <your reasoning>
Action: <one action name>
Action Input: <the argument for the action>

When you know the answer, use the action "finish" with the answer as its input.
Do not write the Observation yourself.`

const strictInstructions = `Your previous reply could not be parsed.
Reply with ONLY a JSON object and nothing else:
{"thought": "<reasoning>", "action": "<action name>", "action_input": "<argument>"}`

const planInstructions = `Break the task into a plan of actions before running any of them.
Each step has an id (E1, E2, ...), the action to run and its argument.
An argument may use the result of an earlier step by writing its id with a "#" prefix, for example "#E1".

Reply with ONLY a JSON object:
{"plan": [{"id": "E1", "reasoning": "...", "action": "<action>", "argument": "...", "depends_on": []}]}`

const synthesisInstructions = `You are given a task and the results of the actions run for it.
Write the final answer to the task using those results. Reply with the answer only.`

func describeActions(b *strings.Builder, actions []action.Description, withFinish bool) {
	b.WriteString("Available actions:\n")
	for _, a := range actions {
		if a.Description == "" {
			fmt.Fprintf(b, "- %s\n", a.Name)
			continue
		}
		fmt.Fprintf(b, "- %s: %s\n", a.Name, a.Description)
	}
	if withFinish {
		fmt.Fprintf(b, "- %s: return the final answer\n", action.Finish)
	}
}

func decisionSystemPrompt(actions []action.Description, strict bool) string {
	var b strings.Builder
	b.WriteString(decisionInstructions)
	b.WriteString("\n\n")
	describeActions(&b, actions, true)
	if strict {
		b.WriteString("\n")
		b.WriteString(strictInstructions)
	}
	return b.String()
}

func decisionUserPrompt(task core.Task, view transcript.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Objective)
	if view.Len() == 0 {
		b.WriteString("\nNo steps taken yet. What is the first step?")
		return b.String()
	}
	b.WriteString("\nSteps so far:\n")
	if n := view.Omitted(); n > 0 {
		fmt.Fprintf(&b, "(%d earlier steps omitted)\n\n", n)
	}
	b.WriteString(view.String())
	b.WriteString("\n\nWhat is the next step?")
	return b.String()
}

func planSystemPrompt(actions []action.Description) string {
	var b strings.Builder
	b.WriteString(planInstructions)
	b.WriteString("\n\n")
	describeActions(&b, actions, false)
	return b.String()
}

func synthesisUserPrompt(task core.Task, results []planner.NodeResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nResults:\n", task.Objective)
	for _, r := range results {
		fmt.Fprintf(&b, "#%s %s(%s) [%s]: %s\n", r.NodeID, r.Action, r.Argument.Text(), r.Status, r.Observation)
	}
	return b.String()
}
