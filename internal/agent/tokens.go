// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// toolResultTokenBudget caps how many tokens a single tool result may
// contribute to the conversation. Without a cap, a wide survey-comment
// query could return enough text to exhaust maxTokens in one turn, leaving
// no room for the model's own reasoning or the eventual submit_report call.
const toolResultTokenBudget = 4000

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func tokenEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// truncateToBudget shortens content to at most budget tokens, appending a
// marker so the model knows the result was cut rather than naturally short.
// A missing encoding (offline build cache miss) degrades to a byte-length
// heuristic instead of failing the tool call outright.
func truncateToBudget(content string, budget int) string {
	enc := tokenEncoding()
	if enc == nil {
		maxBytes := budget * 4
		if len(content) <= maxBytes {
			return content
		}
		return content[:maxBytes] + `...(truncated)`
	}

	tokens := enc.Encode(content, nil, nil)
	if len(tokens) <= budget {
		return content
	}
	return enc.Decode(tokens[:budget]) + `...(truncated)`
}
