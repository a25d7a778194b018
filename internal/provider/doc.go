// Package provider manages the upstream LLM providers a gateway forwards to.
//
// A Provider speaks exactly one dialect (Kind): OpenAI chat completions or Anthropic
// messages. It owns the authenticated HTTP client for its base URL and exposes two
// calls, Complete for buffered responses and Stream for SSE responses delivered line by
// line. A Registry maps client model strings to providers:
//
//	openai:gpt-4o        -> provider "openai", model "gpt-4o"
//	anthropic:fast       -> provider "anthropic", alias "fast" expanded
//	gpt-4o-mini          -> default provider, model unchanged
package provider
