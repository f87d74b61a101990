package app_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/MrWong99/quacktosql/internal/app"
	"github.com/MrWong99/quacktosql/internal/inference"
	"github.com/MrWong99/quacktosql/internal/reveal"
)

func TestEvent_MarshalJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		event app.Event
		want  string
	}{
		{
			name:  "worker message is passed through",
			event: app.Event{Type: app.EventWorker, Worker: &inference.Message{Status: inference.StatusReady}},
			want:  `{"status":"ready"}`,
		},
		{
			name:  "transcript",
			event: app.Event{Type: app.EventTranscript, Text: "quack", TPS: 12.5, NumTokens: 3},
			want:  `{"type":"transcript","text":"quack","tps":12.5,"numTokens":3}`,
		},
		{
			name: "reveal",
			event: app.Event{Type: app.EventReveal, Reveal: reveal.Snapshot{
				Count: 2, Revealed: 4, Target: 9, Text: "SELE",
			}},
			want: `{"type":"reveal","level":2,"revealed":4,"target":9,"text":"SELE","mastered":false}`,
		},
		{
			name:  "countdown in seconds",
			event: app.Event{Type: app.EventCountdown, Remaining: 1500 * time.Millisecond},
			want:  `{"type":"countdown","remaining":1.5}`,
		},
		{
			name:  "recording",
			event: app.Event{Type: app.EventRecording, Recording: true},
			want:  `{"type":"recording","recording":true}`,
		},
		{
			name:  "notice",
			event: app.Event{Type: app.EventNotice, Message: "Decoding error: no data. Retrying..."},
			want:  `{"type":"notice","message":"Decoding error: no data. Retrying..."}`,
		},
		{
			name:  "bare",
			event: app.Event{Type: app.EventMastery},
			want:  `{"type":"mastery"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}
