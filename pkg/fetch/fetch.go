// Package fetch defines the streaming transport contract used to retrieve
// media from the backend fetch service
package fetch

import "context"

type (
	// Thumbnail describes the thumbnail variant to request instead of the
	// full content
	Thumbnail struct {
		Method   string
		Width    uint32
		Height   uint32
		Animated bool
	}

	// Request identifies one media transfer to start
	Request struct {
		Locator   string
		Encrypted bool
		Thumbnail *Thumbnail
	}

	// Event is one message of the ordered media stream. The types below
	// are the only implementations, consumers match them exhaustively.
	Event interface {
		streamEvent()
	}

	// Started marks the beginning of a transfer, it carries no payload
	Started struct{}

	// Chunk carries one slice of the media payload. BytesReceived is the
	// cumulative byte count including this chunk.
	Chunk struct {
		Data          []byte
		ChunkSize     int
		BytesReceived int64
	}

	// Finished terminates a successful transfer
	Finished struct {
		TotalBytes int64
	}

	// Error terminates a failed transfer
	Error struct {
		Message string
	}

	// Fetcher submits one media request and answers with an ordered event
	// stream. Exactly one terminal event (Finished or Error) ends each
	// stream, after which the channel is closed. The channel preserves
	// emission order, no reordering happens on the consumer side.
	Fetcher interface {
		Fetch(ctx context.Context, req Request) (<-chan Event, error)
	}
)

func (Started) streamEvent()  {}
func (Chunk) streamEvent()    {}
func (Finished) streamEvent() {}
func (Error) streamEvent()    {}
