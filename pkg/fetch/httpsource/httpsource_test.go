package httpsource

import (
	"bytes"
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatterlay/mediacache/pkg/fetch"
)

func collectEvents(t *testing.T, events <-chan fetch.Event) []fetch.Event {
	t.Helper()
	var out []fetch.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestFetchStreamsBodyInChunks(t *testing.T) {
	payload := make([]byte, 3*ChunkSize+100)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := New()
	events, err := f.Fetch(context.Background(), fetch.Request{Locator: srv.URL + "/file.bin"})
	require.NoError(t, err)

	collected := collectEvents(t, events)
	require.NotEmpty(t, collected)

	assert.IsType(t, fetch.Started{}, collected[0])

	var (
		assembled bytes.Buffer
		received  int64
	)
	for _, ev := range collected[1 : len(collected)-1] {
		chunk, ok := ev.(fetch.Chunk)
		require.True(t, ok, "expected only chunk events between started and finished")
		assert.Len(t, chunk.Data, chunk.ChunkSize)

		received += int64(chunk.ChunkSize)
		assert.Equal(t, received, chunk.BytesReceived, "byte counter must be cumulative")

		assembled.Write(chunk.Data)
	}

	finished, ok := collected[len(collected)-1].(fetch.Finished)
	require.True(t, ok, "stream must end with a finished event")
	assert.Equal(t, int64(len(payload)), finished.TotalBytes)
	assert.Equal(t, payload, assembled.Bytes())
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New()
	events, err := f.Fetch(context.Background(), fetch.Request{Locator: srv.URL + "/file.bin"})
	require.NoError(t, err)

	collected := collectEvents(t, events)
	require.Len(t, collected, 1)

	evErr, ok := collected[0].(fetch.Error)
	require.True(t, ok)
	assert.Contains(t, evErr.Message, "404")
}

func TestFetchForwardsThumbnailParameters(t *testing.T) {
	var query url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_, _ = w.Write([]byte("thumb"))
	}))
	defer srv.Close()

	f := New()
	events, err := f.Fetch(context.Background(), fetch.Request{
		Locator: srv.URL + "/file.bin",
		Thumbnail: &fetch.Thumbnail{
			Method:   "scale",
			Width:    64,
			Height:   48,
			Animated: true,
		},
	})
	require.NoError(t, err)
	collectEvents(t, events)

	assert.Equal(t, "64", query.Get("width"))
	assert.Equal(t, "48", query.Get("height"))
	assert.Equal(t, "scale", query.Get("method"))
	assert.Equal(t, "true", query.Get("animated"))
}

func TestFetchSendsUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(WithUserAgent("mediacache-test/1.0"))
	events, err := f.Fetch(context.Background(), fetch.Request{Locator: srv.URL + "/file.bin"})
	require.NoError(t, err)
	collectEvents(t, events)

	assert.Equal(t, "mediacache-test/1.0", ua)
}
