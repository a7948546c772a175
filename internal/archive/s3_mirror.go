package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	scoutconfig "github.com/scttfrdmn/scout/internal/config"
)

// S3Mirror wraps a Writer and, after every successful Append, uploads
// the whole archive file to S3 under a key derived from S3Prefix and
// the archive's base name. Re-uploading the full file on every trial
// is acceptable because SCOuT studies run in the hundreds of trials,
// not millions — adapted from
// pkg/storage/s3.go's S3Storage.StoreResult, simplified from its
// per-result-object layout to a single mirrored object per archive.
type S3Mirror struct {
	next   Appender
	path   string // archive file mirrored in full after each Append
	client *s3.Client
	bucket string
	key    string
}

// NewS3Mirror wraps next (typically the base Writer, but any Appender
// composes) with an S3 mirror, bootstrapping an AWS session from the
// ambient credential chain and the Study Definition's declared
// region. Callers gate construction on StudyDefinition.AWS != nil.
func NewS3Mirror(ctx context.Context, next Appender, archivePath string, cfg *scoutconfig.AWSExportConfig) (*S3Mirror, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("archive_error: loading AWS configuration: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	key := cfg.S3Prefix + baseName(archivePath)
	return &S3Mirror{next: next, path: archivePath, client: client, bucket: cfg.S3Bucket, key: key}, nil
}

// Append delegates to the wrapped Appender and then mirrors the full
// archive file to S3.
func (m *S3Mirror) Append(r Row) error {
	if err := m.next.Append(r); err != nil {
		return err
	}
	return m.upload(context.Background())
}

// Close delegates to the wrapped Appender.
func (m *S3Mirror) Close() error { return m.next.Close() }

func (m *S3Mirror) upload(ctx context.Context) error {
	uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("archive_error: reading %s for S3 mirror: %w", m.path, err)
	}

	_, err = m.client.PutObject(uploadCtx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(m.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("archive_error: uploading %s to s3://%s/%s: %w", m.path, m.bucket, m.key, err)
	}
	return nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
