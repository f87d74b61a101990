package inference

import (
	"encoding/json"
	"fmt"
)

// RequestType identifies an inbound actor request.
type RequestType string

const (
	RequestLoad     RequestType = "load"
	RequestGenerate RequestType = "generate"
	RequestReset    RequestType = "reset"
)

// GenerateData is the payload of a generate request.
type GenerateData struct {
	Audio    []float32 `json:"audio"`
	Language string    `json:"language"`
}

// Request is an inbound message. Data is set for generate requests only.
type Request struct {
	Type RequestType   `json:"type"`
	Data *GenerateData `json:"data,omitempty"`
}

// Load returns a load request.
func Load() Request { return Request{Type: RequestLoad} }

// Reset returns a reset request.
func Reset() Request { return Request{Type: RequestReset} }

// Generate returns a generate request for samples.
func Generate(samples []float32, language string) Request {
	return Request{Type: RequestGenerate, Data: &GenerateData{Audio: samples, Language: language}}
}

// Validate reports whether r is well formed.
func (r Request) Validate() error {
	switch r.Type {
	case RequestLoad, RequestReset:
		return nil
	case RequestGenerate:
		if r.Data == nil {
			return fmt.Errorf("inference: generate request without data")
		}
		return nil
	default:
		return fmt.Errorf("inference: unknown request type %q", r.Type)
	}
}

// Status identifies an outbound actor message.
type Status string

const (
	StatusLoading  Status = "loading"
	StatusInitiate Status = "initiate"
	StatusProgress Status = "progress"
	StatusDone     Status = "done"
	StatusReady    Status = "ready"
	StatusStart    Status = "start"
	StatusTokens   Status = "tokens"
	StatusUpdate   Status = "update"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Message is an outbound event. Which fields are meaningful depends on
// Status; MarshalJSON emits only those.
type Message struct {
	Status Status

	// Data is the human-readable text of a loading message.
	Data string

	// File, Progress and Total describe an asset fetch. Progress is the byte
	// count loaded so far and never exceeds Total.
	File     string
	Progress int64
	Total    int64

	// Output is the cumulative text of update and complete messages.
	Output string

	// TPS is the tokens-per-second estimate. HasTPS is false until the second
	// token of a generation.
	TPS    float64
	HasTPS bool

	// NumTokens counts tokens generated so far.
	NumTokens int

	// Error is the cause of an error message.
	Error string

	// Op is the request an error message answers. It is not serialised.
	Op RequestType
}

// Terminal reports whether m ends a load or generate response stream.
func (m Message) Terminal() bool {
	switch m.Status {
	case StatusReady, StatusComplete, StatusError:
		return true
	}
	return false
}

// wireMessage is the JSON shape of a Message.
type wireMessage struct {
	Status    Status   `json:"status"`
	Data      string   `json:"data,omitempty"`
	File      string   `json:"file,omitempty"`
	Progress  *int64   `json:"progress,omitempty"`
	Total     *int64   `json:"total,omitempty"`
	Output    *string  `json:"output,omitempty"`
	TPS       *float64 `json:"tps,omitempty"`
	NumTokens *int     `json:"numTokens,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{Status: m.Status, Data: m.Data, File: m.File, Error: m.Error}
	switch m.Status {
	case StatusInitiate, StatusProgress:
		w.Progress, w.Total = &m.Progress, &m.Total
	case StatusUpdate, StatusComplete:
		w.Output, w.NumTokens = &m.Output, &m.NumTokens
	case StatusTokens:
		w.NumTokens = &m.NumTokens
	}
	if m.HasTPS {
		w.TPS = &m.TPS
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*m = Message{Status: w.Status, Data: w.Data, File: w.File, Error: w.Error}
	if w.Progress != nil {
		m.Progress = *w.Progress
	}
	if w.Total != nil {
		m.Total = *w.Total
	}
	if w.Output != nil {
		m.Output = *w.Output
	}
	if w.TPS != nil {
		m.TPS, m.HasTPS = *w.TPS, true
	}
	if w.NumTokens != nil {
		m.NumTokens = *w.NumTokens
	}
	return nil
}
