// Package httpsource implements a fetch.Fetcher reading media over plain
// HTTP(S) from the locator URL
package httpsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatterlay/mediacache/pkg/fetch"
)

// ChunkSize is the payload size of a single chunk event
const ChunkSize = 8192

// Fetcher implements the fetch.Fetcher interface against plain HTTP(S)
// media locators
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// Option modifies the Fetcher configuration
type Option func(*Fetcher)

// WithClient replaces the default HTTP client
func WithClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithUserAgent sets the User-Agent header sent to the origin
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// New returns a new HTTP media fetcher
func New(opts ...Option) *Fetcher {
	f := &Fetcher{client: http.DefaultClient}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements the fetch.Fetcher Fetch method
func (f *Fetcher) Fetch(ctx context.Context, req fetch.Request) (<-chan fetch.Event, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL(req), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}

	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}

	events := make(chan fetch.Event)
	go f.run(httpReq, events)

	return events, nil
}

func (f *Fetcher) run(req *http.Request, events chan<- fetch.Event) {
	defer close(events)

	// The consumer shares the request context: when it stops listening
	// the emit aborts instead of blocking forever
	emit := func(ev fetch.Event) bool {
		select {
		case events <- ev:
			return true
		case <-req.Context().Done():
			return false
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		emit(fetch.Error{Message: errors.Wrap(err, "fetch source file").Error()})
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.WithError(err).Error("closing response body (leaked fd)")
		}
	}()

	if resp.StatusCode > 299 {
		emit(fetch.Error{Message: fmt.Sprintf("HTTP status signaled failure: %d", resp.StatusCode)})
		return
	}

	if !emit(fetch.Started{}) {
		return
	}

	var (
		buf      = make([]byte, ChunkSize)
		received int64
	)

	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			received += int64(n)
			if !emit(fetch.Chunk{Data: data, ChunkSize: n, BytesReceived: received}) {
				return
			}
		}

		switch {
		case err == nil:
			// This is fine

		case errors.Is(err, io.EOF):
			emit(fetch.Finished{TotalBytes: received})
			return

		default:
			emit(fetch.Error{Message: errors.Wrap(err, "read source body").Error()})
			return
		}
	}
}

// requestURL folds a thumbnail request into the locator's query so the
// origin may serve a downscaled variant. Origins ignoring the parameters
// simply answer with the full content.
func requestURL(req fetch.Request) string {
	if req.Thumbnail == nil {
		return req.Locator
	}

	u, err := url.Parse(req.Locator)
	if err != nil {
		return req.Locator
	}

	q := u.Query()
	q.Set("width", strconv.FormatUint(uint64(req.Thumbnail.Width), 10))
	q.Set("height", strconv.FormatUint(uint64(req.Thumbnail.Height), 10))
	q.Set("method", req.Thumbnail.Method)
	if req.Thumbnail.Animated {
		q.Set("animated", "true")
	}
	u.RawQuery = q.Encode()

	return u.String()
}
