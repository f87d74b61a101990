// Command quackmic runs one recording session against the local microphone
// and shows the transcript and the reveal in the terminal. Press Enter to
// start or stop recording, r then Enter to reset, q then Enter to quit.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/MrWong99/quacktosql/internal/app"
	"github.com/MrWong99/quacktosql/internal/config"
	"github.com/MrWong99/quacktosql/internal/inference"
	"github.com/MrWong99/quacktosql/pkg/audio/portaudio"
	"github.com/MrWong99/quacktosql/pkg/provider/asr"
	"github.com/MrWong99/quacktosql/pkg/provider/asr/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "optional YAML configuration file")
	modelFile := flag.String("model", "ggml-tiny.en.bin", "whisper.cpp model file, downloaded on first use")
	serverURL := flag.String("server", "", "use a whisper.cpp server instead of the embedded model")
	verbose := flag.Bool("v", false, "log debug output to stderr")
	flag.Parse()

	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "quackmic: %v\n", err)
			return 1
		}
	}
	cfg.ApplyDefaults()

	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	var (
		model asr.Model
		err   error
	)
	if *serverURL != "" {
		model, err = whisper.NewServer(*serverURL, whisper.WithLanguage(cfg.Pipeline.Language))
	} else {
		model, err = whisper.NewNative(*modelFile, whisper.WithNativeLanguage(cfg.Pipeline.Language))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "quackmic: %v\n", err)
		return 1
	}
	defer model.Close()

	sc, err := app.NewSessionConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quackmic: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	term := &terminal{quit: stop}
	sess := app.NewSession(model, portaudio.Source{}, sc, term.handle)
	defer sess.Close()

	fmt.Println("Loading model...")
	if err := sess.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "quackmic: %v\n", err)
		return 1
	}

	lines := make(chan string)
	go func() {
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			lines <- strings.TrimSpace(in.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return 0
		case line, ok := <-lines:
			if !ok || line == "q" {
				return 0
			}
			if err := command(ctx, sess, line); err != nil {
				fmt.Fprintf(os.Stderr, "quackmic: %v\n", err)
			}
		}
	}
}

func command(ctx context.Context, sess *app.Session, line string) error {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	switch {
	case line == "r":
		return sess.Reset(cctx)
	case sess.Recording():
		return sess.StopRecording(cctx)
	default:
		err := sess.StartRecording(cctx)
		if errors.Is(err, app.ErrMicrophoneUnavailable) {
			// Already reported through the session events.
			return nil
		}
		return err
	}
}

// terminal renders session events.
type terminal struct {
	mu   sync.Mutex
	quit context.CancelFunc
}

func (t *terminal) handle(e app.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Type {
	case app.EventWorker:
		switch m := e.Worker; m.Status {
		case inference.StatusLoading:
			fmt.Println(m.Data)
		case inference.StatusProgress:
			if m.Total > 0 {
				fmt.Printf("\rDownloading %s: %3d%%", m.File, 100*m.Progress/m.Total)
			}
		case inference.StatusDone:
			fmt.Println()
		case inference.StatusReady:
			fmt.Println("Ready. Press Enter and say quack.")
		}
	case app.EventRecording:
		if e.Recording {
			fmt.Println("● recording, press Enter to stop")
		} else {
			fmt.Println("■ stopped")
		}
	case app.EventTranscript:
		if e.Text != "" {
			fmt.Printf("  heard: %s\n", e.Text)
		}
	case app.EventReveal:
		if e.Reveal.Revealed == e.Reveal.Target && e.Reveal.Count > 0 {
			fmt.Printf("  [%d] %s\n", e.Reveal.Count, e.Reveal.Text)
		}
	case app.EventCountdown:
		if s := int(e.Remaining.Seconds()); s <= 5 {
			fmt.Printf("  %ds left\n", s)
		}
	case app.EventTimeout:
		fmt.Println("Time is up.")
	case app.EventMastery:
		fmt.Println("You have mastered the quack. Enjoy your query.")
	case app.EventNotice, app.EventError:
		fmt.Fprintln(os.Stderr, e.Message)
	case app.EventFatal:
		fmt.Fprintln(os.Stderr, e.Message)
		t.quit()
	}
}
