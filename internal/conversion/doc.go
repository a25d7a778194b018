// Package conversion translates between the Anthropic Messages wire protocol and the
// OpenAI Chat Completions wire protocol, for complete payloads and for live SSE streams.
//
// The package is pure: it performs no I/O and holds no global state. Callers own every
// piece of mutable state (SSEReassembler, AnthropicToOpenAIStream, StreamState) and feed
// it one upstream fragment at a time, forwarding whatever comes back before asking the
// upstream for the next fragment.
//
// # Directions
//
//   - ToMessagesRequest: OpenAI chat request → Anthropic messages request.
//   - ToChatCompletion: Anthropic message response → OpenAI chat.completion.
//   - AnthropicToOpenAIStream: Anthropic SSE events → OpenAI chat.completion.chunk lines.
//   - StreamState: OpenAI chat.completion.chunk payloads → Anthropic SSE events.
//   - ToChatCompletionRequest / ToMessagesResponse: the reverse pair used when an
//     Anthropic client talks to an OpenAI-only provider.
//
// # Content blocks and indices
//
// Anthropic numbers every content block of a response (text and tool_use share one index
// space) while OpenAI numbers tool calls on their own. When translating OpenAI chunks the
// text answer keeps a reserved block index and each tool call receives the next free index
// at the moment both its id and name are known. Upstream tool-call indices are treated as
// opaque keys.
//
// # Deliberate subsets
//
// Non-text content parts (images, audio, files) are dropped when building Anthropic
// requests, and only text deltas are carried from Anthropic streams into OpenAI chunks.
package conversion
