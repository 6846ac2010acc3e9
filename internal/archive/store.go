package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

var tracer = otel.Tracer("clinicai.internal.archive")

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// MediaFetcher downloads inbound media from the channel.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaID string) (messaging.Media, error)
}

// Store copies inbound WhatsApp attachments to S3. Channel media URLs expire,
// the archived copy does not.
type Store struct {
	bucket  string
	s3      S3API
	fetcher MediaFetcher
	logger  *logging.Logger
	now     func() time.Time
}

// NewStore creates a Store. With an empty bucket every call is a no-op.
func NewStore(s3Client S3API, fetcher MediaFetcher, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3: s3Client, fetcher: fetcher, logger: logger, now: time.Now}
}

// Enabled reports whether archival is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3 != nil && s.fetcher != nil
}

// ArchiveAttachment downloads one attachment, stores it and returns its
// s3:// reference.
func (s *Store) ArchiveAttachment(ctx context.Context, msg messaging.InboundMessage, att messaging.Attachment) (string, error) {
	if !s.Enabled() {
		return "", errors.New("archive: not configured")
	}
	ctx, span := tracer.Start(ctx, "archive.attachment")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicai.number_id", msg.NumberID),
		attribute.String("clinicai.media_type", msg.Type),
	)

	media, err := s.fetcher.FetchMedia(ctx, att.MediaID)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("archive: fetch media %s: %w", att.MediaID, err)
	}
	mimeType := media.MimeType
	if mimeType == "" {
		mimeType = att.MimeType
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	now := s.now().UTC()
	key := mediaKey(msg, att, mimeType, now)
	_, err = s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(media.Data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("archived inbound media", "message_id", msg.MessageID, "s3_key", key, "size", len(media.Data))

	entry := ManifestEntry{
		MessageID:  msg.MessageID,
		MediaID:    att.MediaID,
		NumberID:   msg.NumberID,
		PhoneHash:  HashPhone(msg.From),
		Type:       msg.Type,
		MimeType:   mimeType,
		Size:       len(media.Data),
		S3Key:      key,
		ArchivedAt: now.Format(time.RFC3339),
	}
	if err := s.AppendManifest(ctx, entry, now); err != nil {
		s.logger.Warn("failed to append manifest", "error", err, "message_id", msg.MessageID)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// mediaKey lays objects out by inbound number and day.
func mediaKey(msg messaging.InboundMessage, att messaging.Attachment, mimeType string, now time.Time) string {
	name := sanitize(att.MediaID)
	if att.Filename != "" {
		name += "-" + sanitize(path.Base(att.Filename))
	} else if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		name += exts[0]
	}
	return fmt.Sprintf("media/v1/%s/%d/%02d/%02d/%s",
		sanitize(msg.NumberID), now.Year(), now.Month(), now.Day(), name)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// AppendManifest appends a JSONL line to the monthly manifest. S3 has no
// append, so the object is rewritten.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry, now time.Time) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}
	manifestKey := fmt.Sprintf("media/v1/manifests/%d-%02d.jsonl", now.Year(), now.Month())

	var existing []byte
	getResp, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(getResp.Body)
		getResp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case !isNotFound(err):
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}
