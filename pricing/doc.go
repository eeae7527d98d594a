// Package pricing translates model token counts and tool call I/O sizes
// into monetary cost (component C1 of the control plane).
//
// # Overview
//
// A Table resolves a model name to a ModelPricing via exact match, then
// longest known-model-name prefix match, then a configured fallback rate;
// it never fails. Tool pricing defaults to zero for unknown tools. Prefix
// matching is a deliberate accommodation for dated/versioned model names
// (e.g. "gpt-4o-2024-08-06" falling back to the "gpt-4o" rate), grounded on
// the teacher's llm/tokenizer prefix-scan fallback in tiktoken.go. Ambiguous
// prefixes (one configured model name is itself a strict prefix of another
// with a different rate) are rejected at load time.
package pricing
