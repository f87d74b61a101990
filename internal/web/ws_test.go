package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/quacktosql/internal/web"
	"github.com/MrWong99/quacktosql/pkg/audio"
)

// fakeSession records the calls made by the handler.
type fakeSession struct {
	mu       sync.Mutex
	calls    []string
	language string
	startErr error
	closed   bool
}

func (s *fakeSession) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *fakeSession) ID() string { return "fake" }

func (s *fakeSession) Load(context.Context) error {
	s.record("load")
	return nil
}

func (s *fakeSession) StartRecording(context.Context) error {
	s.record("start")
	return s.startErr
}

func (s *fakeSession) StopRecording(context.Context) error {
	s.record("stop")
	return nil
}

func (s *fakeSession) Reset(context.Context) error {
	s.record("reset")
	return nil
}

func (s *fakeSession) SetLanguage(lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = lang
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) snapshot() ([]string, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...), s.language, s.closed
}

type harness struct {
	conn *websocket.Conn
	sess *fakeSession
	rec  func() *web.Recorder
	emit func() web.Emitter
}

func dial(t *testing.T, sess *fakeSession) *harness {
	t.Helper()
	var (
		mu   sync.Mutex
		rec  *web.Recorder
		emit web.Emitter
	)
	h := web.NewWSHandler(func(_ context.Context, src audio.Source, e web.Emitter) (web.Session, error) {
		mu.Lock()
		defer mu.Unlock()
		rec, emit = src.(*web.Recorder), e
		return sess, nil
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return &harness{
		conn: conn,
		sess: sess,
		rec: func() *web.Recorder {
			mu.Lock()
			defer mu.Unlock()
			return rec
		},
		emit: func() web.Emitter {
			mu.Lock()
			defer mu.Unlock()
			return emit
		},
	}
}

func (h *harness) send(t *testing.T, v any) {
	t.Helper()
	data, _ := json.Marshal(v)
	if err := h.conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (h *harness) read(t *testing.T) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := h.conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWSHandler_ControlMessages(t *testing.T) {
	t.Parallel()
	h := dial(t, &fakeSession{})

	h.send(t, web.Control{Type: web.ControlLoad})
	h.send(t, web.Control{Type: web.ControlStart, MIMEType: audio.MIMEOggOpus, Language: "de"})
	h.send(t, web.Control{Type: web.ControlStop})
	h.send(t, web.Control{Type: web.ControlReset})

	waitFor(t, "four calls", func() bool {
		calls, _, _ := h.sess.snapshot()
		return len(calls) == 4
	})
	calls, lang, _ := h.sess.snapshot()
	if want := []string{"load", "start", "stop", "reset"}; strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if lang != "de" {
		t.Errorf("language = %q, want de", lang)
	}

	rec := h.rec()
	_ = rec.Start()
	rec.Push([]byte{1})
	if c, _ := rec.Flush(); c.MIMEType != audio.MIMEOggOpus {
		t.Errorf("recorder MIME type = %q", c.MIMEType)
	}
}

func TestWSHandler_BinaryFramesReachRecorder(t *testing.T) {
	t.Parallel()
	h := dial(t, &fakeSession{})
	h.send(t, web.Control{Type: web.ControlLevel, Level: new(float64)})
	waitFor(t, "session created", func() bool { return h.rec() != nil })

	rec := h.rec()
	_ = rec.Start()
	if err := h.conn.Write(context.Background(), websocket.MessageBinary, []byte{7, 8, 9}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got []byte
	waitFor(t, "frame buffered", func() bool {
		c, _ := rec.Flush()
		got = append(got, c.Data...)
		return len(got) == 3
	})
	if string(got) != "\x07\x08\x09" {
		t.Errorf("buffered = %v", got)
	}
}

func TestWSHandler_EventsAndErrors(t *testing.T) {
	t.Parallel()
	h := dial(t, &fakeSession{startErr: errors.New("app: session failed")})
	h.send(t, web.Control{Type: "bogus"})
	if ev := h.read(t); ev["type"] != "error" || !strings.Contains(ev["message"].(string), "bogus") {
		t.Errorf("unknown control reply = %v", ev)
	}

	h.send(t, web.Control{Type: web.ControlStart})
	if ev := h.read(t); ev["message"] != "app: session failed" {
		t.Errorf("start failure reply = %v", ev)
	}

	h.emit()(map[string]string{"type": "mastery"})
	if ev := h.read(t); ev["type"] != "mastery" {
		t.Errorf("emitted event = %v", ev)
	}

	if err := h.conn.Write(context.Background(), websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if ev := h.read(t); ev["message"] != "invalid control message" {
		t.Errorf("malformed reply = %v", ev)
	}
}

func TestWSHandler_ClientCloseEndsSession(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	h := dial(t, sess)
	h.send(t, web.Control{Type: web.ControlLoad})
	waitFor(t, "load", func() bool {
		calls, _, _ := sess.snapshot()
		return len(calls) == 1
	})

	_ = h.conn.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, "session closed", func() bool {
		_, _, closed := sess.snapshot()
		return closed
	})
	if _, err := h.rec().Open(context.Background(), audio.DefaultConstraints()); !errors.Is(err, web.ErrDisconnected) {
		t.Errorf("recorder still open after disconnect: %v", err)
	}
}
