// Package mediacache implements the client-side media cache sitting
// between the chat UI and the streaming media-fetch service: cache
// lookups, deduplication of concurrent fetches, chunk reassembly and
// bounded local storage.
package mediacache

// ThumbnailMethod selects how a thumbnail is derived from the content
type ThumbnailMethod string

// Thumbnail methods understood by the fetch service
const (
	ThumbnailCrop  ThumbnailMethod = "crop"
	ThumbnailScale ThumbnailMethod = "scale"
)

type (
	// Thumbnail describes a thumbnail variant of the content
	Thumbnail struct {
		Method   ThumbnailMethod
		Width    uint32
		Height   uint32
		Animated bool
	}

	// Format selects which artifact of the content to fetch: the full
	// content (zero value) or a thumbnail variant. Two descriptors
	// differing only in their Format are different artifacts.
	Format struct {
		Thumbnail *Thumbnail
	}

	// Descriptor identifies one piece of media to retrieve. Exactly one
	// of Locator / EncryptedLocator is set. Descriptors are immutable
	// values created per call.
	Descriptor struct {
		Locator          string
		EncryptedLocator string
		Format           Format
	}
)

// FullContent is the Format requesting the unmodified content
var FullContent = Format{}

// ThumbnailOf returns a Format requesting a thumbnail variant
func ThumbnailOf(method ThumbnailMethod, width, height uint32, animated bool) Format {
	return Format{Thumbnail: &Thumbnail{
		Method:   method,
		Width:    width,
		Height:   height,
		Animated: animated,
	}}
}

func (d Descriptor) locator() string {
	if d.Locator != "" {
		return d.Locator
	}
	return d.EncryptedLocator
}

func (d Descriptor) encrypted() bool { return d.Locator == "" }
