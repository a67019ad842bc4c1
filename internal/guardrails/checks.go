// Package guardrails validates outbound replies before delivery. Checks
// are deterministic first, LLM-judged second, all fail-open: a guardrail
// bug must never eat a good reply.
package guardrails

import (
	"regexp"
	"strings"
)

// CheckName identifies one guardrail check. Closed enumeration.
type CheckName string

const (
	CheckNotEmpty        CheckName = "not_empty"
	CheckExcessiveLength CheckName = "excessive_length"
	CheckNoRawToolJSON   CheckName = "no_raw_tool_json"
	CheckLanguageMatch   CheckName = "language_match"
	CheckNoPII           CheckName = "no_pii"
	CheckToolCoherence   CheckName = "tool_coherence"
	CheckHallucination   CheckName = "hallucination_check"
)

// maxReplyLength is the excessive_length cutoff; chunk-splitting for the
// channel happens downstream of the core.
const maxReplyLength = 8000

// Input is what one evaluation sees.
type Input struct {
	UserText  string
	Reply     string
	ToolsUsed bool
}

// Result is the outcome of one check.
type Result struct {
	Check  CheckName
	Passed bool
	Detail string
	// LangCode is the detected user language when language_match fails.
	LangCode string
	// Redacted is the PII-scrubbed reply when no_pii fails.
	Redacted string
}

var (
	rawToolJSONRe = regexp.MustCompile(`\{\s*"(?:tool_calls|tool_call_id|function|arguments|tool_name)"\s*:`)

	piiPatterns = []struct {
		name string
		re   *regexp.Regexp
	}{
		{"national_id", regexp.MustCompile(`\b\d{8}[A-HJ-NP-TV-Z]\b`)},
		{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`)},
		{"secret_key", regexp.MustCompile(`\b(?:sk|ghp|gho|xoxb|xoxp|AKIA)[A-Za-z0-9_-]{16,}\b`)},
		{"phone", regexp.MustCompile(`(?:\+|00)\d{1,3}[\s.-]?\d{2,3}(?:[\s.-]?\d{2,4}){2,3}`)},
		{"email", regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.]+\b`)},
	}
)

func checkNotEmpty(in Input) Result {
	passed := len(strings.TrimSpace(in.Reply)) > 0
	return Result{Check: CheckNotEmpty, Passed: passed}
}

func checkExcessiveLength(in Input) Result {
	if len(in.Reply) > maxReplyLength {
		return Result{Check: CheckExcessiveLength, Passed: false,
			Detail: "reply exceeds 8000 characters"}
	}
	return Result{Check: CheckExcessiveLength, Passed: true}
}

func checkNoRawToolJSON(in Input) Result {
	if rawToolJSONRe.MatchString(in.Reply) {
		return Result{Check: CheckNoRawToolJSON, Passed: false,
			Detail: "raw tool payload leaked into reply"}
	}
	return Result{Check: CheckNoRawToolJSON, Passed: true}
}

// checkLanguageMatch only applies when both sides carry at least 30
// characters; under that the detector has no signal (invariant: the check
// never fails on short text).
func checkLanguageMatch(in Input) Result {
	if len(in.UserText) < langMinLength || len(in.Reply) < langMinLength {
		return Result{Check: CheckLanguageMatch, Passed: true}
	}
	userLang, userConf := DetectLanguage(in.UserText)
	replyLang, replyConf := DetectLanguage(in.Reply)
	if userLang == "" || replyLang == "" || userConf == 0 || replyConf == 0 {
		return Result{Check: CheckLanguageMatch, Passed: true}
	}
	if userLang != replyLang {
		return Result{Check: CheckLanguageMatch, Passed: false,
			Detail:   "reply language " + replyLang + " differs from user language " + userLang,
			LangCode: userLang}
	}
	return Result{Check: CheckLanguageMatch, Passed: true}
}

// checkNoPII fails when the reply introduces PII that the user did not
// themselves write. Matches present in the user text are fair echo.
func checkNoPII(in Input) Result {
	redacted := in.Reply
	var hits []string
	for _, p := range piiPatterns {
		for _, match := range p.re.FindAllString(in.Reply, -1) {
			if strings.Contains(in.UserText, match) {
				continue
			}
			hits = append(hits, p.name)
			redacted = strings.ReplaceAll(redacted, match, "[redacted]")
		}
	}
	if len(hits) > 0 {
		return Result{Check: CheckNoPII, Passed: false,
			Detail:   "reply introduces " + strings.Join(hits, ", "),
			Redacted: redacted}
	}
	return Result{Check: CheckNoPII, Passed: true}
}
