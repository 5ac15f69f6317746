package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/DavidPeltz/pinvault"
	"github.com/DavidPeltz/pinvault/internal/debug"
)

const (
	ctxTimeout = 10 * time.Second

	// shareExpiry bounds how long a presigned backup link stays valid.
	shareExpiry = 24 * time.Hour
)

// S3Sink stores backup files in an S3-compatible object store.
//
// Object layout in the bucket:
//
//	bucketName/
//	└── [keyPrefix/]backups/
//	    ├── backup_20240101_120000.pvb
//	    └── backup_20240102_130000.pvb
//
// Share returns a presigned download URL instead of a local copy, so a
// backup can be handed to another device without exposing credentials.
type S3Sink struct {
	client     *minio.Client
	bucketName string
	keyPrefix  string
}

var _ pinvault.FileSink = (*S3Sink)(nil)

// NewS3Sink connects to the object store and ensures the bucket exists.
func NewS3Sink(config S3Config) (*S3Sink, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	sink := &S3Sink{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  strings.Trim(config.KeyPrefix, "/"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err = sink.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return sink, nil
}

func (s *S3Sink) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	if err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{}); err != nil {
		// A concurrent creation is fine.
		if minioErr := minio.ToErrorResponse(err); minioErr.Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// objectName builds the object key for a backup file name.
func (s *S3Sink) objectName(name string) string {
	if s.keyPrefix != "" {
		return path.Join(s.keyPrefix, "backups", name)
	}
	return path.Join("backups", name)
}

// Write uploads data as a new timestamped backup object and returns its key.
func (s *S3Sink) Write(data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	name := fmt.Sprintf("backup_%s%s", time.Now().UTC().Format("20060102_150405"), backupExt)
	objectName := s.objectName(name)

	putOptions := minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		UserMetadata: map[string]string{
			"Created-At": time.Now().UTC().Format(time.RFC3339),
		},
	}

	uploadInfo, err := s.client.PutObject(ctx, s.bucketName, objectName,
		bytes.NewReader(data), int64(len(data)), putOptions)
	if err != nil {
		return "", fmt.Errorf("failed to upload backup: %w", err)
	}

	debug.Print("uploaded backup %s etag=%s size=%d", objectName, uploadInfo.ETag, uploadInfo.Size)
	return objectName, nil
}

// Read downloads the backup object at path.
func (s *S3Sink) Read(path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	object, err := s.client.GetObject(ctx, s.bucketName, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get backup object: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minioErr := minio.ToErrorResponse(err); minioErr.Code == "NoSuchKey" {
			return nil, fmt.Errorf("backup not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read backup object: %w", err)
	}
	return data, nil
}

// Share returns a presigned download URL for the backup at path. The
// link expires after shareExpiry.
func (s *S3Sink) Share(path string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	// Confirm the object exists before signing a link to it.
	if _, err := s.client.StatObject(ctx, s.bucketName, path, minio.StatObjectOptions{}); err != nil {
		if minioErr := minio.ToErrorResponse(err); minioErr.Code == "NoSuchKey" {
			return "", fmt.Errorf("backup not found: %s", path)
		}
		return "", fmt.Errorf("failed to stat backup object: %w", err)
	}

	reqParams := make(url.Values)
	reqParams.Set("response-content-disposition",
		fmt.Sprintf(`attachment; filename="%s"`, path[strings.LastIndex(path, "/")+1:]))

	u, err := s.client.PresignedGetObject(ctx, s.bucketName, path, shareExpiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("failed to presign backup url: %w", err)
	}
	return u.String(), nil
}

// Pick returns the key of the newest backup object, or ErrCancelled
// when the bucket holds none.
func (s *S3Sink) Pick() (string, error) {
	backups, err := s.List()
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", pinvault.ErrCancelled
	}
	return backups[0], nil
}

// List returns the keys of all stored backups, newest first.
func (s *S3Sink) List() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	prefix := s.objectName("")
	objectCh := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var keys []string
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list backups: %w", object.Err)
		}
		if strings.HasSuffix(object.Key, "/") || !strings.HasSuffix(object.Key, backupExt) {
			continue
		}
		keys = append(keys, object.Key)
	}

	// Timestamped names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}

// Delete removes the backup object at path.
func (s *S3Sink) Delete(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	err := s.client.RemoveObject(ctx, s.bucketName, path, minio.RemoveObjectOptions{})
	if err != nil {
		if minioErr := minio.ToErrorResponse(err); minioErr.Code != "NoSuchKey" {
			return fmt.Errorf("failed to delete backup object: %w", err)
		}
	}
	return nil
}
