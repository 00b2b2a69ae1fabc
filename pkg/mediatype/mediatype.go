package mediatype

import "strings"

// Category buckets a MIME type for preview rendering decisions.
type Category string

const (
	CategoryImage Category = "image"
	CategoryVideo Category = "video"
	CategoryAudio Category = "audio"
	CategoryOther Category = "other"
)

var mimeToExtension = map[string]string{
	"image/jpeg":       "jpg",
	"image/png":        "png",
	"image/gif":        "gif",
	"image/webp":       "webp",
	"video/mp4":        "mp4",
	"video/webm":       "webm",
	"video/quicktime":  "mov",
	"audio/mpeg":       "mp3",
	"audio/mp3":        "mp3",
	"audio/wav":        "wav",
	"audio/wave":       "wav",
	"audio/ogg":        "ogg",
	"audio/aac":        "aac",
	"audio/flac":       "flac",
	"audio/m4a":        "m4a",
	"audio/webm":       "weba",
	"application/pdf":  "pdf",
	"text/plain":       "txt",
	"application/json": "json",
}

var extensionToMime = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mov":  "video/quicktime",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"aac":  "audio/aac",
	"flac": "audio/flac",
	"m4a":  "audio/m4a",
	"pdf":  "application/pdf",
	"txt":  "text/plain",
	"json": "application/json",
}

// ExtensionFor returns the canonical file extension for a MIME type, without
// a leading dot. The second return reports whether the type is known.
func ExtensionFor(mime string) (string, bool) {
	ext, ok := mimeToExtension[normalize(mime)]
	return ext, ok
}

// MimeForExtension infers a MIME type from a file extension (with or without
// a leading dot).
func MimeForExtension(ext string) (string, bool) {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	mime, ok := extensionToMime[ext]
	return mime, ok
}

// CategoryOf buckets a MIME type by its top-level media class.
func CategoryOf(mime string) Category {
	mime = normalize(mime)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return CategoryImage
	case strings.HasPrefix(mime, "video/"):
		return CategoryVideo
	case strings.HasPrefix(mime, "audio/"):
		return CategoryAudio
	default:
		return CategoryOther
	}
}

func normalize(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	// Strip parameters such as "; charset=utf-8".
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}
