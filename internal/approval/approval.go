// Package approval implements the deterministic quality/risk scoring
// pipeline that decides whether a task's output can be auto-approved,
// plus an optional LLM-assisted gate evaluation layered on top of it.
package approval

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/corvid-labs/foreman/internal/task"
)

// Risk is the assessed blast radius of a task's output.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// Check is one named quality check and its outcome.
type Check struct {
	Name    string
	Passed  bool
	Score   int
	Details string
}

// Assessment is the Approval Resolver's verdict on a task's output.
type Assessment struct {
	Score           int
	Risk            Risk
	CanAutoApprove  bool
	Reasons         []string
	Checks          []Check
}

// autoApproveThreshold is the minimum score required for each risk tier;
// critical risk can never auto-approve regardless of score.
var autoApproveThreshold = map[Risk]int{
	RiskLow:    70,
	RiskMedium: 80,
	RiskHigh:   90,
}

var (
	errorLikeRe   = regexp.MustCompile(`(?i)error|failed|exception|cannot|unable`)
	codeFenceRe   = regexp.MustCompile("```")
	todoRe        = regexp.MustCompile(`(?i)\bTODO\b|\bFIXME\b|\bHACK\b|\bXXX\b`)
	secretRe      = regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token)\s*(?::=|[:=])\s*['"][A-Za-z0-9_\-]{8,}['"]`)
	testKeywordRe = regexp.MustCompile(`(?i)describe\(|it\(|test\(|expect\(|assert`)
	assertionRe   = regexp.MustCompile(`(?i)expect\(|assert\.|assertEqual|assertTrue`)
	securityRe    = regexp.MustCompile(`(?i)vulnerability|cve-\d{4}-\d+|risk|severity`)
	recommendRe   = regexp.MustCompile(`(?i)recommend|should fix|mitigat|remediat`)
	markdownHdrRe = regexp.MustCompile(`(?m)^#{1,6}\s`)
	exampleRe     = regexp.MustCompile("(?i)example|```")
	dangerousRe   = regexp.MustCompile(`(?i)delete production|drop database|rm -rf\s|truncate table`)
	secretMutRe   = regexp.MustCompile(`(?i)rotate.*secret|revoke.*credential|delete.*key pair`)
)

// Assess runs the deterministic scoring pipeline against a task's
// rendered output text.
func Assess(taskType task.Type, output string) *Assessment {
	var checks []Check
	var reasons []string

	completeness := completenessCheck(output)
	checks = append(checks, completeness)
	if !completeness.Passed {
		reasons = append(reasons, completeness.Details)
	}
	if strings.TrimSpace(output) == "" {
		// Nothing to score: the type checks are skipped and the empty
		// output is treated as critical risk.
		reasons = append(reasons, "risk level is critical; auto-approval is never permitted")
		return &Assessment{Score: 0, Risk: RiskCritical, CanAutoApprove: false, Reasons: reasons, Checks: checks}
	}

	checks = append(checks, typeChecks(taskType, output)...)
	for _, c := range checks[1:] {
		if !c.Passed {
			reasons = append(reasons, c.Details)
		}
	}

	score := meanScore(checks)
	risk := assessRisk(taskType, output)

	canApprove := true
	if risk == RiskCritical {
		canApprove = false
		reasons = append(reasons, "risk level is critical; auto-approval is never permitted")
	} else if threshold, ok := autoApproveThreshold[risk]; ok && score < threshold {
		canApprove = false
		reasons = append(reasons, fmt.Sprintf("score %d below %d required for %s risk", score, threshold, risk))
	}

	return &Assessment{Score: score, Risk: risk, CanAutoApprove: canApprove, Reasons: reasons, Checks: checks}
}

func completenessCheck(output string) Check {
	trimmed := strings.TrimSpace(output)
	switch {
	case trimmed == "":
		return Check{Name: "completeness", Passed: false, Score: 0, Details: "no output produced"}
	case len(trimmed) < 50:
		return Check{Name: "completeness", Passed: false, Score: 20, Details: "output is too short to be a complete result"}
	case errorLikeRe.MatchString(trimmed):
		return Check{Name: "completeness", Passed: false, Score: 40, Details: "output contains error-like language"}
	default:
		return Check{Name: "completeness", Passed: true, Score: 100}
	}
}

func typeChecks(t task.Type, output string) []Check {
	switch t {
	case task.TypeCodeGeneration, task.TypeRefactoring, task.TypeBugFix:
		return []Check{
			boolCheck("has-code-block", codeFenceRe.MatchString(output), 100, 30, "no fenced code block found in output"),
			boolCheck("no-open-todos", !todoRe.MatchString(output), 100, 60, "output still contains TODO/FIXME markers"),
			boolCheck("no-hardcoded-secrets", !secretRe.MatchString(output), 100, 0, "output appears to contain a hard-coded secret"),
		}
	case task.TypeTesting:
		return []Check{
			boolCheck("has-test-structure", testKeywordRe.MatchString(output), 100, 40, "output does not look like test code"),
			boolCheck("has-assertions", assertionRe.MatchString(output), 100, 30, "output has no assertions"),
		}
	case task.TypeSecurityAudit:
		return []Check{
			boolCheck("mentions-risk", securityRe.MatchString(output), 100, 50, "output does not mention vulnerability/risk/severity"),
			boolCheck("has-recommendation", recommendRe.MatchString(output), 100, 60, "output has no remediation recommendation"),
		}
	case task.TypeDocumentation:
		return []Check{
			boolCheck("has-headers", markdownHdrRe.MatchString(output), 100, 50, "output has no markdown headers"),
			boolCheck("has-examples", exampleRe.MatchString(output), 100, 70, "output has no examples or code fences"),
		}
	default:
		return []Check{{Name: "generic", Passed: true, Score: 80}}
	}
}

func boolCheck(name string, ok bool, passScore, failScore int, failDetail string) Check {
	if ok {
		return Check{Name: name, Passed: true, Score: passScore}
	}
	return Check{Name: name, Passed: false, Score: failScore, Details: failDetail}
}

func meanScore(checks []Check) int {
	if len(checks) == 0 {
		return 50
	}
	total := 0
	for _, c := range checks {
		total += c.Score
	}
	return total / len(checks)
}

func assessRisk(t task.Type, output string) Risk {
	switch {
	case dangerousRe.MatchString(output):
		return RiskCritical
	case t == task.TypeDeployment || t == task.TypeSecurityAudit:
		return RiskHigh
	case secretMutRe.MatchString(output):
		return RiskHigh
	case t == task.TypeCodeGeneration || t == task.TypeRefactoring:
		return RiskMedium
	default:
		return RiskLow
	}
}
