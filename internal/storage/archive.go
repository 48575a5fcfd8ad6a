package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/agoracyber/dimsp-go/internal/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver uploads a lease-expired blob's fragments to cold storage before
// the façade deletes its local copy. A nil Archiver disables this
// behavior entirely and GC falls back to a hard delete.
type Archiver interface {
	Archive(ctx context.Context, blobID types.Hash32, fragments [][]byte) error
}

// S3Archiver implements Archiver against an S3-compatible bucket.
// Grounded on the teacher's S3 storage backend dependency
// (aws-sdk-go-v2/service/s3, listed in the pack though its n-backup
// uploader file wasn't retrieved): fragments are concatenated and stored
// as one object per blob, keyed by its blob id so re-archiving the same
// blob id is naturally idempotent.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver builds an S3Archiver writing objects under prefix in
// bucket using client.
func NewS3Archiver(client *s3.Client, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

func (a *S3Archiver) key(blobID types.Hash32) string {
	if a.prefix == "" {
		return blobID.String()
	}
	return a.prefix + "/" + blobID.String()
}

// Archive concatenates fragments in order and puts them as one object.
func (a *S3Archiver) Archive(ctx context.Context, blobID types.Hash32, fragments [][]byte) error {
	var body bytes.Buffer
	for _, f := range fragments {
		body.Write(f)
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(blobID)),
		Body:   bytes.NewReader(body.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("storage: archiving blob %s to s3: %w", blobID, err)
	}
	return nil
}
