package mediacache

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// KeyFor derives the canonical cache key for a descriptor: stable for
// equal descriptors, distinct for distinct (locator, format) pairs. The
// format is folded into the hashed input so a thumbnail and the full
// content of the same locator never collide.
func KeyFor(d Descriptor) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(
		strings.Join([]string{d.locator(), formatString(d.Format)}, "\n"),
	)))
}

func formatString(f Format) string {
	if f.Thumbnail == nil {
		return "full"
	}

	return fmt.Sprintf(
		"thumb:%s:%dx%d:%t",
		f.Thumbnail.Method, f.Thumbnail.Width, f.Thumbnail.Height, f.Thumbnail.Animated,
	)
}
