package llm

// EstimateTokenCount returns a rough token estimate for the given text.
// The heuristic is four characters per token, which tracks close enough
// for budget accounting when the provider omits usage data.
func EstimateTokenCount(content string) int {
	if len(content) == 0 {
		return 0
	}
	tokens := len(content) / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// EstimateTokenCountForMessage estimates the tokens of one message's content.
func EstimateTokenCountForMessage(msg *Message) int {
	if msg == nil {
		return 0
	}
	return EstimateTokenCount(msg.Content)
}

// EstimateTokenCountForRequest sums the estimates over a request's system
// prompt and messages. Used as the usage fallback for providers that omit
// token counts.
func EstimateTokenCountForRequest(req *CompletionRequest) int {
	if req == nil {
		return 0
	}
	total := EstimateTokenCount(req.SystemPrompt)
	for _, msg := range req.Messages {
		total += EstimateTokenCountForMessage(msg)
	}
	return total
}
