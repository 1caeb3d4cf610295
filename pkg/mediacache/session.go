package mediacache

import (
	"context"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"github.com/chatterlay/mediacache/pkg/fetch"
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateReceiving
	stateFinished
	stateErrored
)

// session drives one chunked transfer to a single outcome, reassembling
// the chunks in arrival order. Sessions are transient, one per started
// fetch, never reused.
type session struct {
	descriptor Descriptor
	key        string
	store      *ContentStore
	fetcher    fetch.Fetcher
	progress   ProgressSink
	expected   int64
	timeout    time.Duration
	generation uint64
	logger     *logrus.Entry

	state    sessionState
	chunks   [][]byte
	received int64
	result   *Content
	failure  error
}

func newSession(fetcher fetch.Fetcher, store *ContentStore, d Descriptor, key string, o getOptions, timeout time.Duration) *session {
	return &session{
		descriptor: d,
		key:        key,
		store:      store,
		fetcher:    fetcher,
		progress:   o.progress,
		expected:   o.expectedSize,
		timeout:    timeout,
		generation: store.Generation(),
		logger:     logrus.WithField("key", key),
		state:      stateIdle,
	}
}

// run consumes the transport's event stream until it closes and returns
// the assembled content or the typed failure
func (s *session) run(ctx context.Context) (*Content, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	events, err := s.fetcher.Fetch(ctx, fetchRequest(s.descriptor))
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return s.settle()
			}
			s.handle(ctx, ev)

		case <-ctx.Done():
			s.logger.WithError(ctx.Err()).Warn("Media fetch aborted")
			metricFetchErrors.Inc()
			return nil, &TransportError{Message: ctx.Err().Error()}
		}
	}
}

// handle applies one event to the session state machine. Events arriving
// after a terminal state are logged and dropped, never re-processed.
func (s *session) handle(ctx context.Context, ev fetch.Event) {
	if s.terminal() {
		s.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("Ignoring stream event after terminal state")
		return
	}

	switch ev := ev.(type) {
	case fetch.Started:
		s.state = stateReceiving

	case fetch.Chunk:
		s.state = stateReceiving
		s.chunks = append(s.chunks, ev.Data)
		s.received = ev.BytesReceived
		s.report(false)
		s.logger.WithField("bytes", ev.ChunkSize).Debug("Received chunk")

	case fetch.Finished:
		s.finish(ctx, ev)

	case fetch.Error:
		s.chunks = nil
		s.state = stateErrored
		s.failure = &TransportError{Message: ev.Message}
		metricFetchErrors.Inc()
	}
}

func (s *session) finish(ctx context.Context, ev fetch.Finished) {
	var total int64
	for _, chunk := range s.chunks {
		total += int64(len(chunk))
	}

	if total != ev.TotalBytes {
		s.logger.WithFields(logrus.Fields{
			"assembled": total,
			"declared":  ev.TotalBytes,
		}).Warn("Assembled size does not match declared total")

		s.chunks = nil
		s.state = stateErrored
		s.failure = &ProtocolError{Reason: fmt.Sprintf("assembled %d bytes, transport declared %d", total, ev.TotalBytes)}
		metricFetchErrors.Inc()
		return
	}

	assembled := make([]byte, 0, total)
	for _, chunk := range s.chunks {
		assembled = append(assembled, chunk...)
	}
	s.chunks = nil

	contentType := mimetype.Detect(assembled).String()

	if err := s.store.PutIfGeneration(ctx, s.generation, s.key, assembled, contentType); err != nil {
		// Caching is an optimization, the caller already holds a valid
		// in-memory result
		s.logger.WithError(err).Warn("Unable to write cache entry")
	}

	s.state = stateFinished
	s.result = &Content{Bytes: assembled, ContentType: contentType}
	s.logger.WithField("bytes", total).Debug("Media fetch completed")
	s.report(true)
}

func (s *session) settle() (*Content, error) {
	switch s.state {
	case stateFinished:
		return s.result, nil

	case stateErrored:
		return nil, s.failure

	default:
		s.logger.Warn("Media stream ended without terminal event")
		metricFetchErrors.Inc()
		return nil, &ProtocolError{Reason: "stream ended without terminal event"}
	}
}

func (s *session) terminal() bool {
	return s.state == stateFinished || s.state == stateErrored
}

func (s *session) report(done bool) {
	if s.progress == nil {
		return
	}

	s.progress.Update(Progress{
		BytesReceived: s.received,
		ExpectedSize:  s.expected,
		Ratio:         float64(s.received) / float64(max(s.expected, 1)),
		Done:          done,
	})
}

func fetchRequest(d Descriptor) fetch.Request {
	req := fetch.Request{
		Locator:   d.locator(),
		Encrypted: d.encrypted(),
	}

	if t := d.Format.Thumbnail; t != nil {
		req.Thumbnail = &fetch.Thumbnail{
			Method:   string(t.Method),
			Width:    t.Width,
			Height:   t.Height,
			Animated: t.Animated,
		}
	}

	return req
}
