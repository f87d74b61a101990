package app

import (
	"encoding/json"
	"time"

	"github.com/MrWong99/quacktosql/internal/inference"
	"github.com/MrWong99/quacktosql/internal/reveal"
)

// EventType discriminates session events.
type EventType string

const (
	// EventWorker carries an inference actor message. It is encoded as the
	// message itself, so clients see the actor protocol unchanged.
	EventWorker EventType = "worker"

	EventTranscript EventType = "transcript"
	EventReveal     EventType = "reveal"
	EventCountdown  EventType = "countdown"
	EventTimeout    EventType = "timeout"
	EventMastery    EventType = "mastery"
	EventLevel      EventType = "level"
	EventRecording  EventType = "recording"

	// EventNotice reports a recoverable failure; the session retries.
	EventNotice EventType = "notice"

	// EventError reports a failure that needs user action, such as a denied
	// microphone or a model that failed to load.
	EventError EventType = "error"

	// EventFatal reports that the session gave up.
	EventFatal EventType = "fatal"
)

// fatalMessage is sent with [EventFatal].
const fatalMessage = "Too many errors occurred. Please reload the page and try again."

// Event is one observable change of a [Session]. Only the fields relevant to
// Type are set.
type Event struct {
	Type EventType

	// Worker is set for EventWorker.
	Worker *inference.Message

	// Text, TPS and NumTokens are set for EventTranscript.
	Text      string
	TPS       float64
	NumTokens int

	// Reveal is set for EventReveal.
	Reveal reveal.Snapshot

	// Remaining is set for EventCountdown.
	Remaining time.Duration

	// Level is set for EventLevel, on a 0-100 scale.
	Level float64

	// Recording is set for EventRecording.
	Recording bool

	// Message is the user-facing text of EventNotice, EventError and
	// EventFatal.
	Message string
}

// Sink receives session events. It is called from several goroutines, at
// times with internal locks held, and must neither block indefinitely nor
// call back into the session.
type Sink func(Event)

// MarshalJSON encodes the event in the shape the browser client consumes.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventWorker:
		if e.Worker == nil {
			return []byte("null"), nil
		}
		return json.Marshal(e.Worker)
	case EventTranscript:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			Text      string    `json:"text"`
			TPS       float64   `json:"tps,omitempty"`
			NumTokens int       `json:"numTokens,omitempty"`
		}{e.Type, e.Text, e.TPS, e.NumTokens})
	case EventReveal:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			reveal.Snapshot
		}{e.Type, e.Reveal})
	case EventCountdown:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			Remaining float64   `json:"remaining"`
		}{e.Type, e.Remaining.Seconds()})
	case EventLevel:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Level float64   `json:"level"`
		}{e.Type, e.Level})
	case EventRecording:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			Recording bool      `json:"recording"`
		}{e.Type, e.Recording})
	case EventNotice, EventError, EventFatal:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
		}{e.Type, e.Message})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}
