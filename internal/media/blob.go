// Package media stores and fetches the audio and image files that flow
// through the relay.
package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var blobTracer = otel.Tracer("chatbot-relay.internal.media.blob")

// BlobStore uploads a file and returns its public URL.
type BlobStore interface {
	Store(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes objects to an S3-compatible bucket.
type S3Store struct {
	client     S3API
	bucket     string
	publicBase string
	logger     *logging.Logger
}

var _ BlobStore = (*S3Store)(nil)

// NewS3Store builds a store. publicBase is the URL prefix objects are served
// from; when empty the virtual-hosted S3 URL is used.
func NewS3Store(client S3API, bucket, publicBase string, logger *logging.Logger) *S3Store {
	if client == nil {
		panic("media: s3 client cannot be nil")
	}
	if bucket == "" {
		panic("media: bucket cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if publicBase == "" {
		publicBase = fmt.Sprintf("https://%s.s3.amazonaws.com", bucket)
	}
	return &S3Store{
		client:     client,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
		logger:     logger,
	}
}

func (s *S3Store) Store(ctx context.Context, key, contentType string, data []byte) (string, error) {
	ctx, span := blobTracer.Start(ctx, "media.s3.put")
	defer span.End()
	span.SetAttributes(attribute.String("relay.object_key", key), attribute.Int("relay.object_bytes", len(data)))

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("media: s3 put %s: %w", key, err)
	}
	s.logger.Debug("media: stored object", "key", key, "bytes", len(data))
	return s.publicBase + "/" + key, nil
}

// Stamp formats t the way object keys embed it: day-month-year, then time
// with microseconds, always UTC.
func Stamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s:%06d_UTC", t.Format("02-01-2006_15:04:05"), t.Nanosecond()/1000)
}

// InboundAudioKey names a voice note received from a user.
func InboundAudioKey(userToken string, t time.Time) string {
	return fmt.Sprintf("%s_%s.ogg", userToken, Stamp(t))
}

// UserMediaKey names an unsupported media file received from a user.
func UserMediaKey(userToken string, t time.Time, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s_%s_user.%s", userToken, Stamp(t), ext)
}

// SynthesizedKey names speech generated for an assistant answer.
func SynthesizedKey(userToken string, t time.Time) string {
	return fmt.Sprintf("%s_%s_chatbot.mp3", userToken, Stamp(t))
}
