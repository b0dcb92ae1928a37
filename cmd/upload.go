package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// s3Uploader copies completed artifacts to S3-compatible object storage.
// Upload is optional: it runs only when an endpoint and bucket are
// configured, after a unit has been exported and checkpointed.
type s3Uploader struct {
	uploader   *s3manager.Uploader
	bucket     string
	keys       *KeyTemplate
	source     string
	collection string
	logger     *slog.Logger
}

func newS3Uploader(cfg S3Config, source, collection string, logger *slog.Logger) (*s3Uploader, error) {
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return &s3Uploader{
		uploader:   s3manager.NewUploader(sess),
		bucket:     cfg.Bucket,
		keys:       NewKeyTemplate(cfg.Prefix),
		source:     source,
		collection: collection,
		logger:     logger,
	}, nil
}

// UploadFile streams the file at localPath to the bucket under the expanded
// key prefix. The multipart uploader reads the file in parts, so upload
// memory stays bounded for arbitrarily large artifacts.
func (u *s3Uploader) UploadFile(ctx context.Context, localPath, unitKey string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open artifact for upload: %w", err)
	}
	defer file.Close()

	key := path.Join(u.keys.Expand(u.source, u.collection, unitKey), filepath.Base(localPath))
	u.logger.Debug(fmt.Sprintf("  ☁️  Uploading to s3://%s/%s", u.bucket, key))

	_, err = u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("upload failed for %s: %w", key, err)
	}

	return nil
}
