package browser

import (
	"encoding/json"
	"fmt"

	"github.com/hoptrail/hoptrail/internal/chain"
)

// EventType identifies a browser navigation event posted by the extension
type EventType string

// Event types, mirroring the webRequest/webNavigation lifecycle
const (
	RequestStarted      EventType = "requestStarted"
	NavigationPending   EventType = "navigationPending"
	HeadersReceived     EventType = "headersReceived"
	IPResolved          EventType = "ipResolved"
	NavigationCompleted EventType = "navigationCompleted"
	TabRemoved          EventType = "tabRemoved"
)

// Envelope is the minimal shape used to pick an event type before the
// payload is decoded into its concrete struct.
type Envelope struct {
	Event EventType `json:"event"`
}

// CommonEvent contains fields common to all navigation events. FrameID 0
// is the top-level frame; everything else is ignored downstream.
type CommonEvent struct {
	TabID     int    `json:"tabId"`
	FrameID   int    `json:"frameId"`
	URL       string `json:"url"`
	TimeStamp int64  `json:"timeStamp,omitempty"`
}

// RequestStartedEvent fires when a main-document request is about to be sent
type RequestStartedEvent struct {
	CommonEvent
}

// NavigationPendingEvent fires when the browser is about to navigate a frame
type NavigationPendingEvent struct {
	CommonEvent
	Title string `json:"title,omitempty"`
}

// HeadersReceivedEvent fires when response headers are available
type HeadersReceivedEvent struct {
	CommonEvent
	StatusCode      int            `json:"statusCode"`
	StatusLine      string         `json:"statusLine,omitempty"`
	ResponseHeaders []chain.Header `json:"responseHeaders,omitempty"`
}

// IPResolvedEvent carries the resolved server address for a request. It
// may arrive before or after the matching headersReceived event.
type IPResolvedEvent struct {
	CommonEvent
	IP string `json:"ip"`
}

// NavigationCompletedEvent fires when a top-level navigation has finished
type NavigationCompletedEvent struct {
	CommonEvent
}

// TabRemovedEvent fires when a tab is closed
type TabRemovedEvent struct {
	TabID int `json:"tabId"`
}

// Dispatch decodes an event payload and routes it to the assembler. An
// unknown event type is an error; a malformed payload for a known type is
// too. Everything the assembler does with the event is best-effort and
// cannot fail.
func Dispatch(asm *chain.Assembler, eventType EventType, payload []byte) error {
	switch eventType {
	case RequestStarted:
		var ev RequestStartedEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("failed to parse %s event: %w", eventType, err)
		}
		asm.RequestStarted(ev.TabID, ev.FrameID, ev.URL)

	case NavigationPending:
		var ev NavigationPendingEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("failed to parse %s event: %w", eventType, err)
		}
		asm.NavigationPending(ev.TabID, ev.FrameID, ev.URL, ev.Title)

	case HeadersReceived:
		var ev HeadersReceivedEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("failed to parse %s event: %w", eventType, err)
		}
		asm.HeadersReceived(ev.TabID, ev.FrameID, ev.URL, ev.StatusCode, ev.StatusLine, ev.ResponseHeaders)

	case IPResolved:
		var ev IPResolvedEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("failed to parse %s event: %w", eventType, err)
		}
		asm.IPResolved(ev.TabID, ev.FrameID, ev.URL, ev.IP)

	case NavigationCompleted:
		var ev NavigationCompletedEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("failed to parse %s event: %w", eventType, err)
		}
		asm.NavigationCompleted(ev.TabID, ev.FrameID, ev.URL)

	case TabRemoved:
		var ev TabRemovedEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("failed to parse %s event: %w", eventType, err)
		}
		asm.TabClosed(ev.TabID)

	default:
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	return nil
}
