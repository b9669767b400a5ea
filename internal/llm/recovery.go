package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/kakaiking/anita/internal/logger"
)

// ParseError reports that model output could not be recovered into a
// structured plan. It carries the raw text so the caller can re-prompt
// with a stricter instruction instead of guessing.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to parse model output as plan: %v", e.Err)
	}
	return "failed to parse model output as plan"
}

func (e *ParseError) Unwrap() error { return e.Err }

// PlanProposal is the structured object recovered from model text.
type PlanProposal struct {
	Plan     string
	Thoughts string
	Tasks    []ProposedTask
}

// ProposedTask is a single step of a recovered plan before it is adopted
// into a session.
type ProposedTask struct {
	Description string
	Type        string
	Path        string
	Content     string
	Command     string
}

// ParsePlanProposal extracts a plan object from free-form model text.
// Models wrap the object in prose, leave literal newlines inside string
// values, drop quotes around keys, or emit the task list as a keyed
// mapping; each stage below tolerates one of those failure modes and
// only runs when the previous ones were not enough.
func ParsePlanProposal(text string) (*PlanProposal, error) {
	candidate, ok := extractObjectCandidate(text)
	if !ok {
		return nil, &ParseError{Raw: text, Err: fmt.Errorf("no object candidate found")}
	}

	candidate = escapeMultilineStrings(candidate)
	candidate = coerceTasksMapping(candidate)

	proposal, err := decodeProposal(candidate)
	if err == nil {
		return proposal, nil
	}

	logger.Debug("recovery: direct parse failed (%v), applying syntactic repairs", err)

	repaired := coerceTasksMapping(repairSloppyJSON(candidate))
	proposal, repairErr := decodeProposal(repaired)
	if repairErr != nil {
		logger.Debug("recovery: repaired parse failed: %v", repairErr)
		return nil, &ParseError{Raw: text, Err: err}
	}
	return proposal, nil
}

// extractObjectCandidate locates the first brace-balanced object in text,
// skipping braces inside quoted strings. Trailing prose after the object
// is ignored. When balancing fails (truncated output), a loose pattern
// search for an object mentioning plan or tasks is the last resort.
func extractObjectCandidate(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start != -1 {
		balance := 0
		inString := false
		escaped := false

		for i := start; i < len(text); i++ {
			ch := text[i]

			if escaped {
				escaped = false
				continue
			}
			if ch == '\\' {
				escaped = true
				continue
			}
			if ch == '"' {
				inString = !inString
				continue
			}
			if inString {
				continue
			}

			switch ch {
			case '{':
				balance++
			case '}':
				balance--
				if balance == 0 {
					return text[start : i+1], true
				}
			}
		}
	}

	if match := loosePlanPattern.FindString(text); match != "" {
		return match, true
	}
	return "", false
}

var (
	loosePlanPattern = regexp.MustCompile(`(?is)\{.*?(plan|tasks).*\}`)

	// String values of these keys routinely contain literal newlines where
	// an escaped sequence is required.
	multilineFieldPattern = regexp.MustCompile(`(?s)"(content|thoughts|reasoning|description)":\s*"((?:[^"\\]|\\.)*)"`)

	multilineKeyPattern = regexp.MustCompile(`(?s)^"(content|thoughts|reasoning|description)":\s*"`)

	commentPattern       = regexp.MustCompile(`(?m)(^|\s)//[^\n]*$`)
	planKeyPattern       = regexp.MustCompile(`(?i)([{,]\s*)"?plan"?\s*[:\s]\s*`)
	tasksKeyPattern      = regexp.MustCompile(`(?i)([{,]\s*)"?tasks"?\s*[:\s]\s*`)
	thoughtsKeyPattern   = regexp.MustCompile(`(?i)([{,]\s*)"?thoughts"?\s*[:\s]\s*`)
	bareKeyValuePattern  = regexp.MustCompile(`(?i)([{,]\s*)"?(id|description|task|type|path|content|command|thoughts)"?[ \t]+([^,{}]+?)\s*([,}])`)
	unquotedValuePattern = regexp.MustCompile(`("plan"|"description"|"path"|"content"|"command"|"thoughts")\s*:\s*([^"{}\[\]\s\d][^,{}\[\]\n]*?)\s*([,\]}])`)
	unquotedKeyPattern   = regexp.MustCompile(`([{,]\s*)([a-zA-Z0-9_]+)\s*:`)
	singleQuotePattern   = regexp.MustCompile(`:\s*'([^']*)'`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// escapeMultilineStrings converts literal line breaks inside the values of
// newline-prone fields into \n escapes so the candidate can parse.
func escapeMultilineStrings(candidate string) string {
	return multilineFieldPattern.ReplaceAllStringFunc(candidate, func(match string) string {
		sub := multilineKeyPattern.FindStringSubmatch(match)
		if sub == nil {
			return match
		}
		key := sub[1]
		value := match[len(sub[0]) : len(match)-1]
		value = strings.ReplaceAll(value, "\r\n", `\n`)
		value = strings.ReplaceAll(value, "\n", `\n`)
		value = strings.ReplaceAll(value, "\r", `\n`)
		return fmt.Sprintf(`"%s": "%s"`, key, value)
	})
}

// repairSloppyJSON applies the staged syntactic repairs in order: comment
// stripping, known-key normalization, bare key/value pairs, unquoted
// values, unquoted keys, single quotes, trailing commas.
func repairSloppyJSON(candidate string) string {
	cleaned := commentPattern.ReplaceAllString(candidate, "$1")

	cleaned = planKeyPattern.ReplaceAllString(cleaned, `$1"plan": `)
	cleaned = tasksKeyPattern.ReplaceAllString(cleaned, `$1"tasks": `)
	cleaned = thoughtsKeyPattern.ReplaceAllString(cleaned, `$1"thoughts": `)

	cleaned = repairBareKeyValues(cleaned)

	cleaned = singleQuotePattern.ReplaceAllString(cleaned, `: "$1"`)
	cleaned = unquotedValuePattern.ReplaceAllString(cleaned, `$1: "$2"$3`)
	cleaned = unquotedKeyPattern.ReplaceAllString(cleaned, `$1"$2":`)
	cleaned = trailingCommaPattern.ReplaceAllString(cleaned, "$1")

	return cleaned
}

// repairBareKeyValues fixes the `key value,` pattern where both the quotes
// and the colon are missing, e.g. `id 1,` or `description Create a page,`.
// The trailing delimiter is part of the match, so adjacent pairs need
// repeated passes until the text is stable.
func repairBareKeyValues(candidate string) string {
	for range [8]struct{}{} {
		repaired := bareKeyValuePattern.ReplaceAllStringFunc(candidate, func(match string) string {
			sub := bareKeyValuePattern.FindStringSubmatch(match)
			if sub == nil {
				return match
			}
			prefix, key, value, delim := sub[1], strings.ToLower(sub[2]), strings.TrimSpace(sub[3]), sub[4]
			if isDigits(value) {
				return fmt.Sprintf(`%s"%s": %s%s`, prefix, key, value, delim)
			}
			if !strings.HasPrefix(value, `"`) {
				value = `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
			}
			return fmt.Sprintf(`%s"%s": %s%s`, prefix, key, value, delim)
		})
		if repaired == candidate {
			break
		}
		candidate = repaired
	}
	return candidate
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// coerceTasksMapping rewrites a tasks value emitted as a keyed mapping
// ({"0": {...}, "1": {...}}) into a sequence, preserving document order.
// The mapping form is valid JSON, so this runs before decoding rather
// than as an error-path repair.
func coerceTasksMapping(candidate string) string {
	if !gjson.Valid(candidate) {
		return candidate
	}

	tasks := gjson.Get(candidate, "tasks")
	if !tasks.Exists() || !tasks.IsObject() {
		return candidate
	}

	var items []string
	tasks.ForEach(func(_, value gjson.Result) bool {
		items = append(items, value.Raw)
		return true
	})

	coerced, err := sjson.SetRaw(candidate, "tasks", "["+strings.Join(items, ",")+"]")
	if err != nil {
		return candidate
	}
	logger.Debug("recovery: coerced tasks mapping into a sequence of %d", len(items))
	return coerced
}

type rawProposal struct {
	Plan     string                   `json:"plan"`
	Thoughts string                   `json:"thoughts"`
	Tasks    []map[string]interface{} `json:"tasks"`
}

func decodeProposal(candidate string) (*PlanProposal, error) {
	var raw rawProposal
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil, err
	}
	if raw.Plan == "" && raw.Tasks == nil {
		return nil, fmt.Errorf("object has neither plan nor tasks")
	}

	proposal := &PlanProposal{
		Plan:     raw.Plan,
		Thoughts: raw.Thoughts,
	}
	for i, item := range raw.Tasks {
		task := normalizeProposedTask(item, i)
		if task.Description == "" {
			continue
		}
		proposal.Tasks = append(proposal.Tasks, task)
	}
	return proposal, nil
}

// normalizeProposedTask tolerates the alternate field names models use for
// a task's description and fills defaults for the rest.
func normalizeProposedTask(item map[string]interface{}, index int) ProposedTask {
	task := ProposedTask{
		Description: stringField(item, "description", "task", "name", "label"),
		Type:        stringField(item, "type"),
		Path:        stringField(item, "path"),
		Content:     stringField(item, "content"),
		Command:     stringField(item, "command"),
	}
	if task.Description == "" && len(item) > 0 {
		task.Description = fmt.Sprintf("Task %d", index+1)
	}
	if task.Type == "" {
		task.Type = "unknown"
	}
	return task
}

func stringField(item map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := item[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
