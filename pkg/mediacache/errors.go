package mediacache

import "fmt"

type (
	// TransportError is a failure reported by the media fetch transport.
	// It is delivered to every caller attached to the failed fetch and
	// nothing is cached for the key.
	TransportError struct {
		Message string
	}

	// ProtocolError is a malformed event sequence on the transport, e.g.
	// a byte-length mismatch between the assembled chunks and the
	// declared total, or a stream ending without a terminal event. It
	// propagates to the waiters like a transport failure but is logged
	// distinctly.
	ProtocolError struct {
		Reason string
	}
)

func (e *TransportError) Error() string {
	return fmt.Sprintf("media transport failure: %s", e.Message)
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("media stream protocol violation: %s", e.Reason)
}
