package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrWong99/quacktosql/internal/observe"
)

// ErrAPIKeyMissing is returned by a TranscriberFunc when no credential for
// the transcription API is configured.
var ErrAPIKeyMissing = errors.New("web: transcription API key not configured")

// DefaultMaxUpload bounds the request body of the transcription endpoint.
const DefaultMaxUpload = 25 << 20

// FileTranscriber transcribes one uploaded audio file.
type FileTranscriber interface {
	TranscribeFile(ctx context.Context, r io.Reader, filename, contentType, language string) (string, error)
}

// TranscriberFunc returns the transcriber for one request, or
// [ErrAPIKeyMissing]. It is called per request so configuration changes
// apply without a restart.
type TranscriberFunc func() (FileTranscriber, error)

type transcription struct {
	Transcription string `json:"transcription"`
}

type failure struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// TranscribeHandler serves POST /api/transcribe: a multipart upload with an
// "audio" file field, answered with {"transcription": "..."}.
type TranscribeHandler struct {
	transcriber TranscriberFunc
	maxUpload   int64
	metrics     *observe.Metrics
}

// NewTranscribeHandler returns the handler. maxUpload <= 0 selects
// [DefaultMaxUpload]; m may be nil for observe.DefaultMetrics().
func NewTranscribeHandler(t TranscriberFunc, maxUpload int64, m *observe.Metrics) *TranscribeHandler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &TranscribeHandler{transcriber: t, maxUpload: maxUpload, metrics: m}
}

// ServeHTTP checks the credential first, then the upload.
func (h *TranscribeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	t, err := h.transcriber()
	if err != nil {
		if errors.Is(err, ErrAPIKeyMissing) {
			log.Error("transcription requested without API key")
			writeJSON(w, http.StatusInternalServerError, failure{Error: "OpenAI API key not configured"})
			return
		}
		h.fail(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, hdr, err := r.FormFile("audio")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		writeJSON(w, http.StatusBadRequest, failure{Error: "No audio file provided"})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer file.Close()

	ctx, span := observe.StartSpan(r.Context(), "transcribe")
	defer span.End()

	text, err := t.TranscribeFile(ctx, file, hdr.Filename, hdr.Header.Get("Content-Type"), r.FormValue("language"))
	if err != nil {
		span.RecordError(err)
		h.metrics.RecordProviderRequest(ctx, "openai", "transcribe", "error")
		h.metrics.RecordProviderError(ctx, "openai", "transcribe")
		h.fail(w, r, err)
		return
	}
	h.metrics.RecordProviderRequest(ctx, "openai", "transcribe", "ok")
	log.Debug("transcription complete", "bytes", hdr.Size, "chars", len(text))
	writeJSON(w, http.StatusOK, transcription{Transcription: text})
}

func (h *TranscribeHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	observe.Logger(r.Context()).Error("transcription failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, failure{
		Error:   "Error processing transcription",
		Details: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
