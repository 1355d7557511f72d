package approval

import (
	"context"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/corvid-labs/foreman/internal/llmdriver"
)

// AIDecision is the LLM-assisted verdict on a task's output against
// free-text criteria, used for compliance gates and any review phase a
// project opts into AI assistance for.
type AIDecision struct {
	Decision  string   `json:"decision"` // APPROVED | REJECTED | NEEDS_CLARIFICATION
	Reason    string   `json:"reason"`
	Questions []string `json:"questions"`
}

var aiDecisionSchema string

func init() {
	schema := jsonschema.Reflect(&AIDecision{})
	raw, err := schema.MarshalJSON()
	if err != nil {
		panic(fmt.Sprintf("approval: generate gate decision schema: %v", err))
	}
	aiDecisionSchema = string(raw)
}

const aiEvaluationPromptTemplate = `You are reviewing the output of an automated task against the following criteria:

%s

Task output:
%s

Decide whether the output satisfies the criteria. Respond with APPROVED, REJECTED, or NEEDS_CLARIFICATION.`

// EvaluateWithAI asks driver to judge output against criteria and
// returns the decision. A NEEDS_CLARIFICATION verdict should be treated
// by the caller as a refusal with Reasons populated from Questions; it
// never overrides Assess's deterministic score — it only augments it.
func EvaluateWithAI(ctx context.Context, driver llmdriver.Driver, sessionID string, criteria []string, output string) (*AIDecision, error) {
	prompt := fmt.Sprintf(aiEvaluationPromptTemplate, formatCriteria(criteria), truncate(output, 4000))

	var decision AIDecision
	if err := driver.CompleteWithSchema(ctx, llmdriver.Request{SessionID: sessionID, Prompt: prompt}, aiDecisionSchema, &decision); err != nil {
		return nil, fmt.Errorf("AI gate evaluation failed: %w", err)
	}
	return &decision, nil
}

func formatCriteria(criteria []string) string {
	if len(criteria) == 0 {
		return "- general quality and completeness"
	}
	var b strings.Builder
	for _, c := range criteria {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}
