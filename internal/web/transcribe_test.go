package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/quacktosql/internal/web"
)

type stubTranscriber struct {
	text string
	err  error
}

func (s stubTranscriber) TranscribeFile(_ context.Context, r io.Reader, _, _, _ string) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return s.text, s.err
}

func upload(t *testing.T, size int) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("audio", "a.webm")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(bytes.Repeat([]byte{0x1A}, size))
	_ = w.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestTranscribeHandler_Success(t *testing.T) {
	t.Parallel()
	h := web.NewTranscribeHandler(func() (web.FileTranscriber, error) {
		return stubTranscriber{text: "quack"}, nil
	}, 0, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, upload(t, 16))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body struct{ Transcription string }
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Transcription != "quack" {
		t.Errorf("transcription = %q", body.Transcription)
	}
}

func TestTranscribeHandler_KeyCheckedBeforeUpload(t *testing.T) {
	t.Parallel()
	h := web.NewTranscribeHandler(func() (web.FileTranscriber, error) {
		return nil, web.ErrAPIKeyMissing
	}, 0, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader("not multipart")))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "OpenAI API key not configured") {
		t.Errorf("body = %s", rr.Body)
	}
}

func TestTranscribeHandler_NotMultipart(t *testing.T) {
	t.Parallel()
	h := web.NewTranscribeHandler(func() (web.FileTranscriber, error) {
		return stubTranscriber{}, nil
	}, 0, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader("{}")))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestTranscribeHandler_UploadTooLarge(t *testing.T) {
	t.Parallel()
	called := false
	h := web.NewTranscribeHandler(func() (web.FileTranscriber, error) {
		called = true
		return stubTranscriber{err: errors.New("should not be reached")}, nil
	}, 1024, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, upload(t, 4096))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Error processing transcription") {
		t.Errorf("body = %s", rr.Body)
	}
	if !called {
		t.Error("transcriber factory not consulted")
	}
}
