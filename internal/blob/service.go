package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/blobworks/mediavault/internal/identity"
	"github.com/blobworks/mediavault/internal/models"
	"github.com/blobworks/mediavault/internal/storage"
	apperrors "github.com/blobworks/mediavault/pkg/errors"
	"github.com/blobworks/mediavault/pkg/logger"
	"github.com/blobworks/mediavault/pkg/mediatype"
	"github.com/blobworks/mediavault/pkg/metrics"
)

const (
	// DefaultInlineMaxBytes is the tier threshold: payloads at or above it
	// must go to disk.
	DefaultInlineMaxBytes = 10 << 20 // 10 MiB
	// DefaultDiskMaxBytes caps disk-tier payloads.
	DefaultDiskMaxBytes = 1 << 30 // 1 GiB

	defaultListLimit = 50
	maxListLimit     = 1000
)

// Config bounds the two storage tiers.
type Config struct {
	InlineMaxBytes int64
	DiskMaxBytes   int64
}

func (c Config) withDefaults() Config {
	if c.InlineMaxBytes <= 0 {
		c.InlineMaxBytes = DefaultInlineMaxBytes
	}
	if c.DiskMaxBytes <= 0 {
		c.DiskMaxBytes = DefaultDiskMaxBytes
	}
	return c
}

// Service routes uploads to a storage tier, deduplicates by content hash and
// answers retrieval and listing requests.
type Service struct {
	db   *gorm.DB
	disk *storage.DiskStore
	cfg  Config
	log  *zap.Logger
}

// NewService constructs a blob service.
func NewService(db *gorm.DB, disk *storage.DiskStore, cfg Config) (*Service, error) {
	if db == nil {
		return nil, errors.New("blob service: db is required")
	}
	if disk == nil {
		return nil, errors.New("blob service: disk store is required")
	}
	return &Service{
		db:   db,
		disk: disk,
		cfg:  cfg.withDefaults(),
		log:  logger.WithModule("blob"),
	}, nil
}

// Digest computes the lowercase hex SHA-256 of the given content.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IngestInput carries one upload through the router.
type IngestInput struct {
	Data           []byte
	DeclaredMime   string
	DeclaredSHA256 string
	Filename       string
	Metadata       map[string]any
	SourceClientID string
	Caller         identity.Identity
}

// Ingest validates the payload, routes it to a tier by size, deduplicates by
// content hash and persists a new row when none exists. The returned bool is
// true when a new blob was created, false when an existing one was resolved.
// Permission and validation failures happen before any byte is written.
func (s *Service) Ingest(ctx context.Context, input IngestInput) (*models.MediaBlob, bool, error) {
	if len(input.Data) == 0 {
		return nil, false, apperrors.NewValidation("payload must not be empty")
	}

	size := int64(len(input.Data))
	toDisk := size >= s.cfg.InlineMaxBytes

	tier := "inline"
	if toDisk {
		tier = "disk"
	}

	if toDisk && !input.Caller.Role.Privileged() {
		metrics.BlobIngests.WithLabelValues(tier, "rejected").Inc()
		return nil, false, apperrors.ErrForbidden.WithMessage("disk-tier uploads require the admin role")
	}

	if size > s.cfg.DiskMaxBytes {
		metrics.BlobIngests.WithLabelValues(tier, "rejected").Inc()
		return nil, false, apperrors.ErrPayloadTooLarge.WithMessage(
			fmt.Sprintf("payload of %d bytes exceeds the %d byte limit", size, s.cfg.DiskMaxBytes))
	}

	digest := Digest(input.Data)
	if declared := strings.ToLower(strings.TrimSpace(input.DeclaredSHA256)); declared != "" && declared != digest {
		metrics.BlobIngests.WithLabelValues(tier, "rejected").Inc()
		return nil, false, apperrors.NewValidation("declared sha256 does not match content")
	}

	// Fast path: identical content already stored.
	if existing, err := s.findBySHA256(ctx, digest); err == nil {
		metrics.BlobIngests.WithLabelValues(tier, "deduplicated").Inc()
		return existing, false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apperrors.ErrStorage.WithInternal(err)
	}

	mime := resolveMime(input.DeclaredMime, input.Filename)

	metadata, err := encodeMetadata(input.Metadata)
	if err != nil {
		return nil, false, apperrors.NewValidation("metadata is not JSON-encodable")
	}

	row := &models.MediaBlob{
		SHA256:         digest,
		Size:           size,
		Mime:           mime,
		SourceClientID: input.SourceClientID,
		Metadata:       metadata,
	}

	var relPath string
	if toDisk {
		name := storageFilename(digest, mime, input.Filename)
		relPath, err = s.disk.Write(name, input.Data)
		if err != nil {
			metrics.BlobIngests.WithLabelValues(tier, "error").Inc()
			return nil, false, apperrors.ErrStorage.WithInternal(err)
		}
		row.LocalPath = &relPath
	} else {
		row.Data = input.Data
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		// A concurrent upload of the same content can win the insert race;
		// the unique index on sha256 turns that into a fetch of the winner.
		if isUniqueConstraintError(err) {
			if relPath != "" {
				if rmErr := s.disk.Remove(relPath); rmErr != nil {
					s.log.Warn("orphaned disk file after dedup race",
						zap.String("path", relPath), zap.Error(rmErr))
				}
			}
			existing, findErr := s.findBySHA256(ctx, digest)
			if findErr != nil {
				return nil, false, apperrors.ErrStorage.WithInternal(findErr)
			}
			metrics.BlobIngests.WithLabelValues(tier, "deduplicated").Inc()
			return existing, false, nil
		}

		if relPath != "" {
			if rmErr := s.disk.Remove(relPath); rmErr != nil {
				s.log.Error("failed to remove disk file after insert failure",
					zap.String("path", relPath), zap.Error(rmErr))
			}
		}
		metrics.BlobIngests.WithLabelValues(tier, "error").Inc()
		return nil, false, apperrors.ErrStorage.WithInternal(err)
	}

	metrics.BlobIngests.WithLabelValues(tier, "created").Inc()
	metrics.BlobBytesStored.WithLabelValues(tier).Add(float64(size))

	s.log.Info("blob stored",
		zap.String("id", row.ID),
		zap.String("tier", tier),
		zap.Int64("size", size),
		zap.String("mime", mime),
	)

	return row, true, nil
}

// Get returns blob metadata without the inline payload.
func (s *Service) Get(ctx context.Context, id string) (*models.MediaBlob, error) {
	var row models.MediaBlob
	err := s.db.WithContext(ctx).
		Select("id", "sha256", "size", "mime", "source_client_id", "local_path", "metadata", "created_at", "updated_at").
		First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.ErrStorage.WithInternal(err)
	}
	return &row, nil
}

// GetData returns the full row including bytes for an inline-tier blob.
// Disk-tier content is fetched through the static file surface instead.
func (s *Service) GetData(ctx context.Context, id string) (*models.MediaBlob, error) {
	var row models.MediaBlob
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.ErrStorage.WithInternal(err)
	}
	if !row.IsInline() {
		return nil, apperrors.NewValidation("blob content is not stored inline")
	}
	return &row, nil
}

// List returns a page of blob metadata (most recent first) plus the total
// row count. Payload bytes are never included.
func (s *Service) List(ctx context.Context, limit, offset int) ([]models.MediaBlob, int64, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.MediaBlob{}).Count(&total).Error; err != nil {
		return nil, 0, apperrors.ErrStorage.WithInternal(err)
	}

	var rows []models.MediaBlob
	err := s.db.WithContext(ctx).
		Select("id", "sha256", "size", "mime", "source_client_id", "local_path", "metadata", "created_at", "updated_at").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, apperrors.ErrStorage.WithInternal(err)
	}

	return rows, total, nil
}

// Delete removes a blob row and, for disk-tier blobs, its file. Partial
// failure is surfaced, never swallowed. Privileged callers only.
func (s *Service) Delete(ctx context.Context, id string, caller identity.Identity) error {
	if !caller.Role.Privileged() {
		return apperrors.ErrForbidden.WithMessage("deleting blobs requires the admin role")
	}

	var row models.MediaBlob
	err := s.db.WithContext(ctx).
		Select("id", "local_path").
		First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		return apperrors.ErrStorage.WithInternal(err)
	}

	var combined error
	if err := s.db.WithContext(ctx).Delete(&models.MediaBlob{}, "id = ?", id).Error; err != nil {
		combined = multierr.Append(combined, fmt.Errorf("delete row: %w", err))
	}
	if row.LocalPath != nil && *row.LocalPath != "" {
		if err := s.disk.Remove(*row.LocalPath); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("delete file: %w", err))
		}
	}
	if combined != nil {
		return apperrors.ErrStorage.WithInternal(combined)
	}

	s.log.Info("blob deleted", zap.String("id", id))
	return nil
}

// MimeCount is one entry of the per-type distribution in Stats.
type MimeCount struct {
	Mime  string `json:"mime"`
	Count int64  `json:"count"`
}

// Stats summarises the stored corpus.
type Stats struct {
	TotalCount   int64       `json:"total_count"`
	TotalSize    int64       `json:"total_size"`
	UniqueHashes int64       `json:"unique_hashes"`
	MimeCounts   []MimeCount `json:"mime_counts"`
}

// Stats aggregates blob counts, byte totals and the MIME distribution.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{}
	db := s.db.WithContext(ctx).Model(&models.MediaBlob{})

	type totals struct {
		TotalCount   int64
		TotalSize    int64
		UniqueHashes int64
	}
	var agg totals
	err := db.Session(&gorm.Session{}).
		Select("COUNT(*) AS total_count, COALESCE(SUM(size), 0) AS total_size, COUNT(DISTINCT sha256) AS unique_hashes").
		Scan(&agg).Error
	if err != nil {
		return nil, apperrors.ErrStorage.WithInternal(err)
	}
	out.TotalCount = agg.TotalCount
	out.TotalSize = agg.TotalSize
	out.UniqueHashes = agg.UniqueHashes

	err = s.db.WithContext(ctx).Model(&models.MediaBlob{}).
		Select("mime, COUNT(*) AS count").
		Group("mime").
		Order("count DESC").
		Scan(&out.MimeCounts).Error
	if err != nil {
		return nil, apperrors.ErrStorage.WithInternal(err)
	}

	return out, nil
}

// PruneOlderThan removes every blob created before the cutoff, including any
// disk-tier files. It returns the number of rows removed and accumulates
// rather than aborts on per-file failures so one bad file cannot wedge the
// retention sweep.
func (s *Service) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var rows []models.MediaBlob
	err := s.db.WithContext(ctx).
		Select("id", "local_path").
		Where("created_at < ?", cutoff).
		Find(&rows).Error
	if err != nil {
		return 0, apperrors.ErrStorage.WithInternal(err)
	}

	pruned := 0
	var combined error
	for _, row := range rows {
		if err := s.db.WithContext(ctx).Delete(&models.MediaBlob{}, "id = ?", row.ID).Error; err != nil {
			combined = multierr.Append(combined, fmt.Errorf("prune row %s: %w", row.ID, err))
			continue
		}
		if row.LocalPath != nil && *row.LocalPath != "" {
			if err := s.disk.Remove(*row.LocalPath); err != nil {
				combined = multierr.Append(combined, fmt.Errorf("prune file %s: %w", *row.LocalPath, err))
			}
		}
		pruned++
	}

	if combined != nil {
		return pruned, apperrors.ErrStorage.WithInternal(combined)
	}
	return pruned, nil
}

// InlineMaxBytes exposes the configured tier threshold.
func (s *Service) InlineMaxBytes() int64 {
	return s.cfg.InlineMaxBytes
}

func (s *Service) findBySHA256(ctx context.Context, digest string) (*models.MediaBlob, error) {
	var row models.MediaBlob
	err := s.db.WithContext(ctx).
		Select("id", "sha256", "size", "mime", "source_client_id", "local_path", "metadata", "created_at", "updated_at").
		First(&row, "sha256 = ?", digest).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func resolveMime(declared, filename string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" {
		return declared
	}
	if idx := strings.LastIndexByte(filename, '.'); idx >= 0 {
		if mime, ok := mediatype.MimeForExtension(filename[idx+1:]); ok {
			return mime
		}
	}
	return "application/octet-stream"
}

// storageFilename derives a content-addressed filename: the hash plus an
// extension taken from the MIME type, falling back to the original filename's
// extension. Caller-supplied names never reach the filesystem as-is.
func storageFilename(digest, mime, filename string) string {
	if ext, ok := mediatype.ExtensionFor(mime); ok {
		return digest + "." + ext
	}
	if idx := strings.LastIndexByte(filename, '.'); idx >= 0 {
		ext := strings.ToLower(filename[idx+1:])
		if ext != "" && !strings.ContainsAny(ext, `/\.`) && len(ext) <= 8 {
			return digest + "." + ext
		}
	}
	return digest
}

func encodeMetadata(metadata map[string]any) (datatypes.JSON, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
