// Package web is the browser transport: a websocket endpoint carrying one
// recording session per connection, the stateless transcription endpoint,
// and the page that drives both.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/quacktosql/internal/capture"
	"github.com/MrWong99/quacktosql/internal/observe"
	"github.com/MrWong99/quacktosql/pkg/audio"
)

// Control message types sent by the browser as text frames.
const (
	ControlLoad     = "load"
	ControlStart    = "start"
	ControlStop     = "stop"
	ControlReset    = "reset"
	ControlLanguage = "language"
	ControlLevel    = "level"
)

// defaultReadLimit bounds one binary frame. MediaRecorder chunks of 500 ms
// are a few KiB; uncompressed WAV uploads are far larger.
const defaultReadLimit = 4 << 20

// Control is a text frame from the browser.
type Control struct {
	Type     string   `json:"type"`
	MIMEType string   `json:"mimeType,omitempty"`
	Language string   `json:"language,omitempty"`
	Level    *float64 `json:"level,omitempty"`
}

// Session is the recording pipeline behind one connection.
type Session interface {
	ID() string
	Load(ctx context.Context) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	Reset(ctx context.Context) error
	SetLanguage(lang string)
	Close() error
}

// Emitter queues one JSON-encodable event for the client.
type Emitter func(v any)

// SessionFactory creates the session of a new connection. src is the
// connection's browser microphone; emit delivers events to the client.
type SessionFactory func(ctx context.Context, src audio.Source, emit Emitter) (Session, error)

// errorEvent is sent when a control message cannot be applied.
type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WSOption configures a [WSHandler].
type WSOption func(*WSHandler)

// WithOriginPatterns allows cross-origin connections from hosts matching
// the patterns.
func WithOriginPatterns(patterns ...string) WSOption {
	return func(h *WSHandler) { h.origins = append(h.origins, patterns...) }
}

// WithSendBuffer sets how many events may queue per connection. Default: 256.
func WithSendBuffer(n int) WSOption {
	return func(h *WSHandler) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithWSMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithWSMetrics(m *observe.Metrics) WSOption {
	return func(h *WSHandler) { h.metrics = m }
}

// WSHandler serves the session websocket.
type WSHandler struct {
	newSession SessionFactory
	origins    []string
	sendBuffer int
	metrics    *observe.Metrics
}

// NewWSHandler returns a handler that runs one session per connection.
func NewWSHandler(f SessionFactory, opts ...WSOption) *WSHandler {
	h := &WSHandler{
		newSession: f,
		sendBuffer: 256,
		metrics:    observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until either
// side closes it.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(defaultReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan any, h.sendBuffer)
	emit := func(v any) {
		select {
		case out <- v:
		case <-ctx.Done():
		}
	}

	rec := NewRecorder()
	sess, err := h.newSession(ctx, rec, emit)
	if err != nil {
		log.Error("create session", "err", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	log = log.With(observe.SessionIDKey, sess.ID())
	h.metrics.ActiveSessions.Add(ctx, 1)
	defer h.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, conn, out, log)
	}()

	readErr := h.readLoop(ctx, conn, sess, rec, emit, log)

	cancel()
	if err := sess.Close(); err != nil {
		log.Warn("close session", "err", err)
	}
	_ = rec.Close()
	wg.Wait()

	switch status := websocket.CloseStatus(readErr); {
	case status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway:
		log.Debug("websocket closed by client")
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(readErr, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		log.Debug("websocket read ended", "err", readErr)
		conn.Close(websocket.StatusInternalError, "read failed")
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan any, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-out:
			data, err := json.Marshal(v)
			if err != nil {
				log.Error("encode event", "err", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				if ctx.Err() == nil {
					log.Debug("websocket write failed", "err", err)
				}
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess Session, rec *Recorder, emit Emitter, log *slog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			rec.Push(data)
			continue
		}

		var c Control
		if err := json.Unmarshal(data, &c); err != nil {
			emit(errorEvent{Type: "error", Message: "invalid control message"})
			continue
		}
		if err := h.apply(ctx, sess, rec, c); err != nil {
			log.Debug("control message failed", "type", c.Type, "err", err)
			// The session reports microphone failures itself.
			if !errors.Is(err, capture.ErrMicrophoneUnavailable) {
				emit(errorEvent{Type: "error", Message: err.Error()})
			}
		}
	}
}

func (h *WSHandler) apply(ctx context.Context, sess Session, rec *Recorder, c Control) error {
	switch c.Type {
	case ControlLoad:
		return sess.Load(ctx)
	case ControlStart:
		rec.SetMIMEType(c.MIMEType)
		if c.Language != "" {
			sess.SetLanguage(c.Language)
		}
		return sess.StartRecording(ctx)
	case ControlStop:
		return sess.StopRecording(ctx)
	case ControlReset:
		return sess.Reset(ctx)
	case ControlLanguage:
		sess.SetLanguage(c.Language)
		return nil
	case ControlLevel:
		if c.Level != nil {
			rec.SetLevel(*c.Level)
		}
		return nil
	default:
		return fmt.Errorf("web: unknown control message %q", c.Type)
	}
}
