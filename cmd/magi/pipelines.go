package main

import (
	"strings"

	"github.com/haasonsaas/magi/internal/pipeline"
	"github.com/haasonsaas/magi/pkg/models"
)

// pipelineCatalog returns the built-in named pipelines, keyed the same way
// as config.Config.Pipelines so a name on the command line resolves to
// both its stage graph (here) and its retry budget (in config).
//
// plan-exec-validate is the three-stage loop used throughout this repo's
// fixtures and docs: a planner drafts an approach, an executor carries it
// out, and a validator either accepts the result or sends the run back to
// the executor with feedback appended to its input.
func pipelineCatalog() map[string]pipeline.Pipeline {
	return map[string]pipeline.Pipeline{
		"plan-exec-validate": {
			Name:  "plan-exec-validate",
			Start: "plan",
			Stages: map[string]pipeline.Stage{
				"plan": {
					AgentFactory: agentFactory("planner", models.ClassReasoning),
					NextFn: func(output string) (string, bool) {
						return "execute", true
					},
				},
				"execute": {
					AgentFactory: agentFactory("executor", models.ClassStandard),
					NextFn: func(output string) (string, bool) {
						return "validate", true
					},
				},
				"validate": {
					InputFn:      feedbackInput,
					AgentFactory: agentFactory("validator", models.ClassStandard),
					NextFn:       validateNext,
				},
			},
		},
	}
}

// pipelineCatalogNames lists the built-in pipelines in a stable order.
func pipelineCatalogNames() []string {
	return []string{"plan-exec-validate"}
}

// agentFactory returns an AgentFactory producing a fresh AgentDefinition
// for the given name/class on every call, so concurrent pipeline runs
// never share one definition's mutable state.
func agentFactory(name string, class models.ModelClass) pipeline.AgentFactory {
	return func() *models.AgentDefinition {
		return &models.AgentDefinition{
			Name:       name,
			ModelClass: class,
		}
	}
}

// feedbackInput appends the prior stage's recorded output, if any, as a
// trailing user message so the validator sees what the executor produced.
func feedbackInput(history []models.Message, lastOutput map[string]string) []models.Message {
	out, ok := lastOutput["execute"]
	if !ok {
		return history
	}
	return append(history, models.NewTextMessage(models.RoleUser, out))
}

// validateNext accepts the run on any output that doesn't start with
// "REJECT", otherwise loops back to "execute" carrying the validator's
// feedback as the next execute invocation's lastOutput.
func validateNext(output string) (string, bool) {
	if strings.HasPrefix(strings.TrimSpace(output), "REJECT") {
		return "execute", true
	}
	return "", false
}
