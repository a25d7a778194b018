package conversion

import "github.com/anthropics/anthropic-sdk-go"

// finishReasonFromStopReason maps an Anthropic stop reason to an OpenAI finish reason.
// Anything other than tool_use and max_tokens, including an absent reason, is a stop.
func finishReasonFromStopReason(reason anthropic.StopReason) FinishReason {
	switch reason {
	case anthropic.StopReasonToolUse:
		return FinishReasonToolCalls
	case anthropic.StopReasonMaxTokens:
		return FinishReasonLength
	default:
		return FinishReasonStop
	}
}

// stopReasonFromFinishReason maps an OpenAI finish reason to an Anthropic stop reason.
func stopReasonFromFinishReason(reason FinishReason) anthropic.StopReason {
	switch reason {
	case FinishReasonLength:
		return anthropic.StopReasonMaxTokens
	case FinishReasonToolCalls:
		return anthropic.StopReasonToolUse
	default:
		return anthropic.StopReasonEndTurn
	}
}
