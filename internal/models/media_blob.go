package models

import (
	"errors"
	"strings"

	"gorm.io/datatypes"

	"github.com/blobworks/mediavault/pkg/mediatype"
)

// MediaBlob represents one stored content object. Exactly one of Data or
// LocalPath is set: small payloads live inline in the database, large
// payloads live on disk and are referenced by a path relative to the
// configured upload root.
type MediaBlob struct {
	BaseModel

	Data           []byte         `gorm:"type:blob" json:"data,omitempty"`
	SHA256         string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"sha256"`
	Size           int64          `gorm:"not null" json:"size"`
	Mime           string         `gorm:"type:varchar(255);index" json:"mime"`
	SourceClientID string         `gorm:"type:varchar(255)" json:"source_client_id,omitempty"`
	LocalPath      *string        `gorm:"type:text;index" json:"local_path,omitempty"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`
}

// IsInline reports whether the blob bytes are stored in the database column.
func (b *MediaBlob) IsInline() bool {
	return len(b.Data) > 0 && b.LocalPath == nil
}

// IsDisk reports whether the blob bytes live on disk.
func (b *MediaBlob) IsDisk() bool {
	return b.LocalPath != nil && len(b.Data) == 0
}

// WithoutData returns a copy of the blob with the binary payload stripped,
// suitable for listings and metadata responses.
func (b *MediaBlob) WithoutData() MediaBlob {
	cpy := *b
	cpy.Data = nil
	return cpy
}

// ResolveURL joins a disk-tier blob's relative path onto the supplied base
// URL. It returns an empty string for inline-tier blobs.
func (b *MediaBlob) ResolveURL(baseURL string) string {
	if b.LocalPath == nil || *b.LocalPath == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(*b.LocalPath, "/")
}

// FileExtension derives a file extension from the blob's MIME type.
func (b *MediaBlob) FileExtension() string {
	ext, _ := mediatype.ExtensionFor(b.Mime)
	return ext
}

// Validate checks the structural invariants of a blob row before it is
// persisted.
func (b *MediaBlob) Validate() error {
	if len(b.SHA256) != 64 {
		return errors.New("sha256 must be 64 hex characters")
	}
	hasData := len(b.Data) > 0
	hasPath := b.LocalPath != nil && *b.LocalPath != ""
	if hasData == hasPath {
		return errors.New("exactly one of data and local_path must be set")
	}
	if b.Size <= 0 {
		return errors.New("size must be positive")
	}
	return nil
}
