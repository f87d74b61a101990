package web_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/quacktosql/internal/web"
	"github.com/MrWong99/quacktosql/pkg/audio"
)

func TestRecorder_BuffersOnlyWhileRecording(t *testing.T) {
	t.Parallel()
	r := web.NewRecorder()

	r.Push([]byte{1})
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Push([]byte{2, 3})
	r.Push([]byte{4})

	c, err := r.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if string(c.Data) != "\x02\x03\x04" {
		t.Errorf("data = %v, want [2 3 4]", c.Data)
	}
	if c.MIMEType != audio.MIMEWebM {
		t.Errorf("MIMEType = %q, want the WebM default", c.MIMEType)
	}
	if c, _ := r.Flush(); len(c.Data) != 0 {
		t.Errorf("second Flush returned %d bytes", len(c.Data))
	}

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	r.Push([]byte{5})
	if c, _ := r.Flush(); len(c.Data) != 0 {
		t.Errorf("frame after Stop was buffered")
	}
}

func TestRecorder_MIMETypeAndLevel(t *testing.T) {
	t.Parallel()
	r := web.NewRecorder()
	r.SetMIMEType(audio.MIMEOggOpus)
	r.SetMIMEType("")
	_ = r.Start()
	r.Push([]byte{1})
	if c, _ := r.Flush(); c.MIMEType != audio.MIMEOggOpus {
		t.Errorf("MIMEType = %q, want %q", c.MIMEType, audio.MIMEOggOpus)
	}

	for _, tt := range []struct{ in, want float64 }{{42, 42}, {-3, 0}, {250, 100}} {
		r.SetLevel(tt.in)
		if got := r.Level(); got != tt.want {
			t.Errorf("SetLevel(%v): Level() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRecorder_Close(t *testing.T) {
	t.Parallel()
	r := web.NewRecorder()
	rec, err := r.Open(context.Background(), audio.DefaultConstraints())
	if err != nil || rec != r {
		t.Fatalf("Open = %v, %v; want the recorder itself", rec, err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Open(context.Background(), audio.DefaultConstraints()); !errors.Is(err, web.ErrDisconnected) {
		t.Errorf("Open after Close error = %v, want ErrDisconnected", err)
	}
	if err := r.Start(); !errors.Is(err, web.ErrDisconnected) {
		t.Errorf("Start after Close error = %v, want ErrDisconnected", err)
	}
}
