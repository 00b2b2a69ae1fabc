package channel

import (
	"encoding/json"
	"fmt"

	"github.com/blobworks/mediavault/internal/models"
)

// Kind discriminates channel envelopes. Every payload struct below belongs to
// exactly one kind.
type Kind string

// Client-to-server kinds.
const (
	KindPing        Kind = "ping"
	KindListBlobs   Kind = "list_blobs"
	KindGetBlob     Kind = "get_blob"
	KindGetBlobData Kind = "get_blob_data"
	KindUploadBlob  Kind = "upload_blob"
)

// Server-to-client kinds.
const (
	KindWelcome          Kind = "welcome"
	KindPong             Kind = "pong"
	KindBlobList         Kind = "blob_list"
	KindBlob             Kind = "blob"
	KindBlobData         Kind = "blob_data"
	KindConnectionStatus Kind = "connection_status"
	KindError            Kind = "error"
)

// Envelope is the wire frame for every channel message. Responses echo the
// correlation id of the request that triggered them; broadcasts carry none.
type Envelope struct {
	Kind          Kind            `json:"kind"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload under the given kind.
func NewEnvelope(kind Kind, correlationID string, payload any) (Envelope, error) {
	env := Envelope{Kind: kind, CorrelationID: correlationID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("channel: encode %s payload: %w", kind, err)
		}
		env.Data = raw
	}
	return env, nil
}

// DecodePayload unmarshals the envelope data into the payload struct matching
// its kind.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("channel: %s message has no payload", e.Kind)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("channel: decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// ListBlobsRequest asks for a page of blob metadata.
type ListBlobsRequest struct {
	Limit  int `json:"limit,omitempty" validate:"gte=0,lte=1000"`
	Offset int `json:"offset,omitempty" validate:"gte=0"`
}

// GetBlobRequest asks for one blob's metadata.
type GetBlobRequest struct {
	ID string `json:"id" validate:"required"`
}

// GetBlobDataRequest asks for the bytes of an inline-tier blob.
type GetBlobDataRequest struct {
	ID string `json:"id" validate:"required"`
}

// UploadBlobRequest carries an inline-tier upload. Data is base64 on the wire
// (encoding/json handles []byte transparently).
type UploadBlobRequest struct {
	Data     []byte         `json:"data" validate:"required"`
	Mime     string         `json:"mime,omitempty"`
	SHA256   string         `json:"sha256,omitempty" validate:"omitempty,len=64"`
	Filename string         `json:"filename,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WelcomePayload greets a freshly registered connection.
type WelcomePayload struct {
	ConnectionID string `json:"connection_id"`
	UserCount    int    `json:"user_count"`
	Message      string `json:"message,omitempty"`
}

// BlobListPayload answers a listing request.
type BlobListPayload struct {
	Items      []models.MediaBlob `json:"items"`
	TotalCount int64              `json:"total_count"`
}

// BlobDataPayload carries inline-tier bytes back to the caller.
type BlobDataPayload struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
}

// ConnectionStatusPayload is broadcast whenever a peer connects or
// disconnects.
type ConnectionStatusPayload struct {
	Connected bool `json:"connected"`
	UserCount int  `json:"user_count"`
}

// ErrorPayload reports a message-level failure. The connection stays open.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
