package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/quacktosql/pkg/provider/asr"
	"github.com/MrWong99/quacktosql/pkg/provider/asr/whisper"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer answers GET / with 200 and POST /inference with a JSON body
// containing responseText. The multipart fields of the last inference request
// are stored in *fields.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, fields *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/inference":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if _, _, err := r.FormFile("file"); err != nil {
				http.Error(w, "missing file", http.StatusBadRequest)
				return
			}
			if calls != nil {
				calls.Add(1)
			}
			if fields != nil {
				fields.Store(map[string]string{
					"language": r.FormValue("language"),
					"model":    r.FormValue("model"),
				})
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mustLoad(t *testing.T, m asr.Model) {
	t.Helper()
	if err := m.Load(context.Background(), nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

// ---- construction -----------------------------------------------------------

func TestNewServer_EmptyURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.NewServer(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- transcription ----------------------------------------------------------

func TestServer_Transcribe_BeforeLoad(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "quack", nil, nil)
	m, err := whisper.NewServer(srv.URL)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	_, err = m.Transcribe(context.Background(), asr.Request{Samples: make([]float32, 160)}, asr.Streamer{})
	if !errors.Is(err, asr.ErrNotLoaded) {
		t.Fatalf("err = %v, want ErrNotLoaded", err)
	}
}

func TestServer_Transcribe_StreamsResult(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var fields atomic.Value
	srv := newMockServer(t, "  quack quack SELECT  ", &calls, &fields)
	m, err := whisper.NewServer(srv.URL, whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	mustLoad(t, m)

	var tokens int
	var texts []string
	res, err := m.Transcribe(context.Background(),
		asr.Request{Samples: make([]float32, 16000), Language: "de"},
		asr.Streamer{
			OnToken: func() { tokens++ },
			OnText:  func(s string) { texts = append(texts, s) },
		})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "quack quack SELECT" {
		t.Errorf("text = %q, want trimmed transcript", res.Text)
	}
	if res.Tokens != 3 || tokens != 3 {
		t.Errorf("tokens = %d (callbacks %d), want 3", res.Tokens, tokens)
	}
	if len(texts) != 1 || texts[0] != res.Text {
		t.Errorf("OnText calls = %q, want one with the final text", texts)
	}
	if calls.Load() != 1 {
		t.Errorf("inference calls = %d, want 1", calls.Load())
	}
	got := fields.Load().(map[string]string)
	if got["language"] != "de" || got["model"] != "base.en" {
		t.Errorf("form fields = %v, want language=de model=base.en", got)
	}
}

func TestServer_Transcribe_DefaultLanguage(t *testing.T) {
	t.Parallel()
	var fields atomic.Value
	srv := newMockServer(t, "hi", nil, &fields)
	m, _ := whisper.NewServer(srv.URL)
	mustLoad(t, m)

	if _, err := m.Transcribe(context.Background(), asr.Request{Samples: make([]float32, 160)}, asr.Streamer{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := fields.Load().(map[string]string)["language"]; got != "en" {
		t.Errorf("language = %q, want en", got)
	}
}

func TestServer_Transcribe_HTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/inference" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	m, _ := whisper.NewServer(srv.URL)
	mustLoad(t, m)

	_, err := m.Transcribe(context.Background(), asr.Request{Samples: make([]float32, 160)}, asr.Streamer{})
	if err == nil {
		t.Fatal("expected error for HTTP 500, got nil")
	}
}

func TestServer_Load_Unreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m, _ := whisper.NewServer(url)
	if err := m.Load(context.Background(), nil); err == nil {
		t.Fatal("expected error for unreachable server, got nil")
	}
}

func TestServer_Load_ReportsProgress(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "", nil, nil)
	m, _ := whisper.NewServer(srv.URL)

	var statuses []asr.Status
	err := m.Load(context.Background(), func(p asr.Progress) { statuses = append(statuses, p.Status) })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(statuses) != 2 || statuses[0] != asr.StatusInitiate || statuses[1] != asr.StatusDone {
		t.Errorf("statuses = %v, want [initiate done]", statuses)
	}
}
