package mediacache

type (
	// Progress is one progress report of a running fetch
	Progress struct {
		BytesReceived int64
		ExpectedSize  int64
		Ratio         float64
		Done          bool
	}

	// ProgressSink receives progress updates from a fetch session. The
	// caller owns the sink's lifetime and rendering.
	ProgressSink interface {
		Update(Progress)
	}

	// ProgressFunc adapts a plain function to a ProgressSink
	ProgressFunc func(Progress)
)

// Update implements the ProgressSink Update method
func (f ProgressFunc) Update(p Progress) { f(p) }
