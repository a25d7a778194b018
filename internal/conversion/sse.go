package conversion

import "strings"

// DoneSentinel terminates an OpenAI-style stream.
const DoneSentinel = "[DONE]"

// SSEEvent is one reassembled event/data pair.
type SSEEvent struct {
	Event string
	Data  string
}

// SSEStatus is the outcome of feeding one fragment to an SSEReassembler.
type SSEStatus int

const (
	// SSEIncomplete means no pair is available yet. It is not an error: the fragment
	// was either half of a split pair, blank, or something that carries no event.
	SSEIncomplete SSEStatus = iota
	// SSEPaired means the returned SSEEvent is complete.
	SSEPaired
	// SSEDone means the termination sentinel was seen.
	SSEDone
)

// SSEReassembler turns raw upstream fragments into event/data pairs. Fragments may be
// whole SSE blocks ("event: x\ndata: {...}"), single lines delivered one per call, or
// either of those wrapped once more in a "data: " prefix by an intermediate transport.
// A split "event:" line is held until the next "data:" line arrives.
//
// The zero value is ready to use. A reassembler belongs to exactly one stream.
type SSEReassembler struct {
	pendingEvent string
	hasPending   bool
}

// Feed parses one raw fragment.
func (r *SSEReassembler) Feed(raw string) (SSEEvent, SSEStatus) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return SSEEvent{}, SSEIncomplete
	}

	if inner, ok := strings.CutPrefix(line, "data: "); ok && isWrappedSSE(inner) {
		line = inner
	}
	if line == DoneSentinel {
		return SSEEvent{}, SSEDone
	}

	var (
		event, data       string
		hasEvent, hasData bool
		dataLines         []string
	)
	for _, l := range strings.Split(line, "\n") {
		l = strings.TrimRight(l, "\r")
		if v, ok := fieldValue(l, "event"); ok {
			event, hasEvent = v, true
		} else if v, ok := fieldValue(l, "data"); ok {
			dataLines = append(dataLines, v)
			hasData = true
		}
	}
	if hasData {
		data = strings.Join(dataLines, "\n")
		if data == DoneSentinel {
			return SSEEvent{}, SSEDone
		}
	}

	switch {
	case hasEvent && hasData:
		r.clear()
		return SSEEvent{Event: event, Data: data}, SSEPaired
	case hasEvent:
		r.pendingEvent, r.hasPending = event, true
		return SSEEvent{}, SSEIncomplete
	case hasData && r.hasPending:
		event = r.pendingEvent
		r.clear()
		return SSEEvent{Event: event, Data: data}, SSEPaired
	default:
		// Data without any known event name carries nothing we can dispatch on.
		return SSEEvent{}, SSEIncomplete
	}
}

func (r *SSEReassembler) clear() {
	r.pendingEvent, r.hasPending = "", false
}

// isWrappedSSE reports whether the payload after a "data: " prefix is itself SSE
// framing rather than an ordinary JSON data value.
func isWrappedSSE(s string) bool {
	return s == DoneSentinel || strings.HasPrefix(s, "event:") || strings.HasPrefix(s, "data:")
}

// fieldValue extracts the value of an SSE field line such as "event: ping".
func fieldValue(line, field string) (string, bool) {
	rest, ok := strings.CutPrefix(line, field+":")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
