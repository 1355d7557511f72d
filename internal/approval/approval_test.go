package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/foreman/internal/llmdriver"
	"github.com/corvid-labs/foreman/internal/task"
)

func TestAssessNoOutput(t *testing.T) {
	a := Assess(task.TypeCodeGeneration, "")
	assert.Equal(t, 0, a.Score)
	assert.False(t, a.CanAutoApprove)
}

func TestAssessGoodCodeGeneration(t *testing.T) {
	output := "Here is the implementation:\n\n```go\nfunc Add(a, b int) int { return a + b }\n```\n\nNo open issues remain."
	a := Assess(task.TypeCodeGeneration, output)
	assert.True(t, a.Score > 0)
	assert.Equal(t, RiskMedium, a.Risk)
}

func TestAssessHardcodedSecretBlocksApproval(t *testing.T) {
	output := "```go\napiKey := \"sk-1234567890abcdef\"\n```\nDone, no todos left, this passes fine."
	a := Assess(task.TypeCodeGeneration, output)
	assert.False(t, a.CanAutoApprove)
}

func TestAssessDeploymentIsHighRisk(t *testing.T) {
	output := "Deployment completed successfully with all health checks passing and rollback plan documented clearly here."
	a := Assess(task.TypeDeployment, output)
	assert.Equal(t, RiskHigh, a.Risk)
}

func TestAssessDangerousOutputIsCritical(t *testing.T) {
	output := "Executed rm -rf / on the production host as requested by the operator during cleanup task."
	a := Assess(task.TypeCodeGeneration, output)
	assert.Equal(t, RiskCritical, a.Risk)
	assert.False(t, a.CanAutoApprove)
}

func TestAssessTestingChecks(t *testing.T) {
	output := "describe('adds', () => { it('adds numbers', () => { expect(add(1,2)).toBe(3) }) })"
	a := Assess(task.TypeTesting, output)
	assert.True(t, a.Score >= 80)
}

func TestEvaluateWithAI(t *testing.T) {
	d := llmdriver.NewFakeDriver("")
	d.SchemaRespond = func(req llmdriver.Request, schema string) (any, error) {
		return map[string]any{"decision": "NEEDS_CLARIFICATION", "reason": "ambiguous", "questions": []string{"which file?"}}, nil
	}

	decision, err := EvaluateWithAI(context.Background(), d, "task_1", []string{"must compile"}, "some output")
	require.NoError(t, err)
	assert.Equal(t, "NEEDS_CLARIFICATION", decision.Decision)
	assert.Equal(t, []string{"which file?"}, decision.Questions)
}
