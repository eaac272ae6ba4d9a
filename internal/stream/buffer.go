package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sonroyaalmerol/jellyradio/internal/utils"
)

// DefaultPrefillBytes is how much of a stream is read before it is handed to
// the decoder.
const DefaultPrefillBytes = 4 * 1024 * 1024

const chunkSize = 64 * 1024

var ErrStreamFetch = errors.New("stream fetch failed")

// FetchError reports a stream that could not be opened: a non-2xx response
// or a response without a body. URL has its credentials masked.
type FetchError struct {
	URL    string
	Status int
	Reason string
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: http %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
}

func (e *FetchError) Is(target error) bool { return target == ErrStreamFetch }

type Opener struct {
	Client       *http.Client
	PrefillBytes int
	Logger       *slog.Logger
}

func NewOpener(client *http.Client, prefill int) *Opener {
	if client == nil {
		client = http.DefaultClient
	}
	return &Opener{Client: client, PrefillBytes: prefill, Logger: slog.Default()}
}

// Buffered is a remote byte stream whose head has already been read into
// memory. Reads drain the queued chunks first and then go straight to the
// network body.
type Buffered struct {
	body    io.ReadCloser
	queue   [][]byte
	head    int
	fetched int64
	srcDone bool
}

// Open issues a GET for url and blocks until PrefillBytes have been buffered
// or the source ends. There is no timeout besides ctx.
func (o *Opener) Open(ctx context.Context, url string) (*Buffered, error) {
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	target := o.PrefillBytes
	if target <= 0 {
		target = DefaultPrefillBytes
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: utils.RedactURL(url), Reason: "invalid request"}
	}
	req.Header.Set("User-Agent", utils.UserAgent())
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamFetch, utils.RedactError(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, &FetchError{URL: utils.RedactURL(url), Status: resp.StatusCode}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &FetchError{URL: utils.RedactURL(url), Reason: "no body"}
	}

	b := &Buffered{body: resp.Body}
	start := time.Now()
	lastPct := -1
	for b.fetched < int64(target) {
		chunk := make([]byte, chunkSize)
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			b.queue = append(b.queue, chunk[:n])
			b.fetched += int64(n)

			pct := int(b.fetched * 100 / int64(target))
			if pct > 100 {
				pct = 100
			}
			if pct/10 != lastPct/10 {
				lastPct = pct
				log.Debug("buffering stream",
					"buffered", humanize.IBytes(uint64(b.fetched)),
					"target", humanize.IBytes(uint64(target)),
					"percent", pct)
			}
		}
		if errors.Is(err, io.EOF) {
			b.srcDone = true
			break
		}
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("prefill %s: %w", utils.RedactURL(url), utils.RedactError(err))
		}
	}

	log.Info("stream buffered",
		"bytes", humanize.IBytes(uint64(b.fetched)),
		"complete", b.srcDone,
		"took", time.Since(start).Round(time.Millisecond))
	return b, nil
}

// OpenReader is Open for callers that only need an io.ReadCloser.
func (o *Opener) OpenReader(ctx context.Context, url string) (io.ReadCloser, error) {
	b, err := o.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Buffered reports how many bytes were read during pre-fill.
func (b *Buffered) Buffered() int64 { return b.fetched }

func (b *Buffered) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for b.head < len(b.queue) {
		chunk := b.queue[b.head]
		if len(chunk) == 0 {
			b.queue[b.head] = nil
			b.head++
			continue
		}
		n := copy(p, chunk)
		b.queue[b.head] = chunk[n:]
		return n, nil
	}
	if b.srcDone {
		return 0, io.EOF
	}
	n, err := b.body.Read(p)
	if errors.Is(err, io.EOF) {
		b.srcDone = true
	}
	return n, err
}

// Close may be called while another goroutine is blocked in Read.
func (b *Buffered) Close() error {
	return b.body.Close()
}
