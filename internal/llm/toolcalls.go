package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// NormalizeToolCallIDs guarantees a stable id on every tool call. Providers
// sometimes omit ids, which breaks follow-up requests that must echo
// tool_call_id on tool result messages.
func NormalizeToolCallIDs(toolCalls []map[string]interface{}) []map[string]interface{} {
	for i, tc := range toolCalls {
		if tc == nil {
			continue
		}

		id := firstNonEmptyString(tc["id"], tc["call_id"])
		if strings.TrimSpace(id) == "" {
			if fn, ok := tc["function"].(map[string]interface{}); ok {
				if name := sanitizeToolName(fn["name"]); name != "" {
					id = fmt.Sprintf("call_%s_%d", name, i+1)
				}
			}
		}
		if strings.TrimSpace(id) == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}

		tc["id"] = id
		tc["call_id"] = id
	}
	return toolCalls
}

// ToolCallName extracts the function name from a provider tool call map.
func ToolCallName(tc map[string]interface{}) string {
	if tc == nil {
		return ""
	}
	if fn, ok := tc["function"].(map[string]interface{}); ok {
		if name, ok := fn["name"].(string); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

// ToolCallArguments extracts the raw JSON argument string from a tool call.
func ToolCallArguments(tc map[string]interface{}) string {
	if tc == nil {
		return ""
	}
	if fn, ok := tc["function"].(map[string]interface{}); ok {
		switch args := fn["arguments"].(type) {
		case string:
			return args
		case map[string]interface{}:
			// Some providers inline the arguments as an object.
			return encodeArguments(args)
		}
	}
	return ""
}

// ToolCallID returns the normalized id of a tool call, if present.
func ToolCallID(tc map[string]interface{}) string {
	if tc == nil {
		return ""
	}
	return firstNonEmptyString(tc["id"], tc["call_id"])
}

func encodeArguments(args map[string]interface{}) string {
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(data)
}

func firstNonEmptyString(values ...interface{}) string {
	for _, v := range values {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func sanitizeToolName(raw interface{}) string {
	name, _ := raw.(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
