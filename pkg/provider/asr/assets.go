package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// progressInterval limits how often a single download reports progress.
const progressInterval = 200 * time.Millisecond

// Fetcher downloads model assets into a local cache directory. Assets that
// already exist are reported as done without touching the network.
type Fetcher struct {
	BaseURL string
	Dir     string
	Client  *http.Client
}

// Fetch downloads every missing file in parallel. Progress callbacks are
// serialised, so progress need not be safe for concurrent use. On failure
// partially written files are removed.
func (f *Fetcher) Fetch(ctx context.Context, files []string, progress ProgressFunc) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("asr: create cache dir: %w", err)
	}

	var mu sync.Mutex
	report := func(p Progress) {
		if progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		progress(p)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range files {
		g.Go(func() error {
			return f.fetchOne(gctx, name, report)
		})
	}
	return g.Wait()
}

// Path returns the cache location of file.
func (f *Fetcher) Path(file string) string {
	return filepath.Join(f.Dir, filepath.FromSlash(file))
}

func (f *Fetcher) fetchOne(ctx context.Context, name string, report ProgressFunc) error {
	dest := f.Path(name)
	report(Progress{Status: StatusInitiate, File: name})

	if st, err := os.Stat(dest); err == nil {
		report(Progress{Status: StatusDone, File: name, Loaded: st.Size(), Total: st.Size()})
		return nil
	}
	if f.BaseURL == "" {
		return fmt.Errorf("asr: asset %q missing and no base url configured", name)
	}

	src, err := url.JoinPath(f.BaseURL, name)
	if err != nil {
		return fmt.Errorf("asr: asset url %q: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("asr: create request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("asr: fetch %q: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("asr: fetch %q: HTTP %d", name, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("asr: create asset dir: %w", err)
	}
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("asr: create %q: %w", tmp, err)
	}

	total := max(resp.ContentLength, 0)
	pr := &progressReader{r: resp.Body, file: name, total: total, report: report}
	_, err = io.Copy(out, pr)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("asr: download %q: %w", name, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("asr: store %q: %w", name, err)
	}
	report(Progress{Status: StatusDone, File: name, Loaded: pr.loaded, Total: max(total, pr.loaded)})
	return nil
}

// progressReader reports monotonic byte counts while a body is copied.
type progressReader struct {
	r      io.Reader
	file   string
	total  int64
	loaded int64
	last   time.Time
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		if p.total > 0 && p.loaded > p.total {
			// The server sent more than it announced; stop claiming a total.
			p.total = 0
		}
		now := time.Now()
		if now.Sub(p.last) >= progressInterval || errors.Is(err, io.EOF) {
			p.last = now
			p.report(Progress{Status: StatusProgress, File: p.file, Loaded: p.loaded, Total: p.total})
		}
	}
	return n, err
}
