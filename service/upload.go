package service

import (
	"context"
	"fmt"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"net/url"
	"os"
	"path/filepath"
	"stream-recorder/entities"
	"strings"
	"time"
)

// UploadResult never escapes as a panic or error chain; the recorder decides
// the recording's terminal state from it.
type UploadResult struct {
	Key  string
	Size int64
	Err  error
}

type Uploader interface {
	Upload(ctx context.Context, recording *entities.Recording, localPath string) UploadResult
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// objectStore is the slice of *minio.Client the pipeline uses.
type objectStore interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
}

type uploadPipeline struct {
	store  objectStore
	bucket string
}

func NewUploader(store objectStore, bucket string) Uploader {
	return &uploadPipeline{
		store:  store,
		bucket: bucket,
	}
}

// Upload pushes the finished file under a key derived from the recording id
// and deletes the local copy on success. On failure the local file stays in
// place so the recording can be recovered by hand.
func (u *uploadPipeline) Upload(ctx context.Context, recording *entities.Recording, localPath string) UploadResult {
	key := fmt.Sprintf("recordings/%s/%s", recording.ID, filepath.Base(localPath))

	info, err := u.store.FPutObject(ctx, u.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("recording_id", recording.ID.String()).
			Str("key", key).
			Msg("failed to upload recording")
		return UploadResult{Key: key, Err: err}
	}

	if err := os.Remove(localPath); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("local_path", localPath).
			Msg("failed to remove local file after upload")
	}

	zerolog.Ctx(ctx).Info().
		Str("recording_id", recording.ID.String()).
		Str("key", key).
		Int64("size_bytes", info.Size).
		Msg("recording uploaded")

	return UploadResult{Key: key, Size: info.Size}
}

func contentType(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "mp4", "m4v":
		return "video/mp4"
	case "mkv":
		return "video/x-matroska"
	case "ts":
		return "video/mp2t"
	case "flv":
		return "video/x-flv"
	case "webm":
		return "video/webm"
	}
	return "application/octet-stream"
}

func (u *uploadPipeline) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presigned, err := u.store.PresignedGetObject(ctx, u.bucket, key, ttl, nil)
	if err != nil {
		return "", err
	}
	return presigned.String(), nil
}
