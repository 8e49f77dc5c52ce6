package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/clipfetch/clipfetch/config"
	"github.com/google/uuid"
)

// S3 uploads into a bucket and returns the public object URL. Used by deploys
// that would rather self-host oversize artifacts than lean on catbox.
type S3 struct {
	uploader *s3manager.Uploader
	bucket   string
	region   string
}

var _ Uploader = (*S3)(nil)

func NewS3(bucket, region string) (*S3, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("error creating aws session: %w", err)
	}
	return &S3{
		uploader: s3manager.NewUploader(sess),
		bucket:   bucket,
		region:   region,
	}, nil
}

// progressFile wraps the source file so reads drive the progress callback on
// a one second tick.
type progressFile struct {
	*os.File
	sent     int64
	progress ProgressFunc
	lastTick time.Time
}

func (f *progressFile) Read(p []byte) (int, error) {
	n, err := f.File.Read(p)
	if n > 0 && f.progress != nil {
		atomic.AddInt64(&f.sent, int64(n))
		if time.Since(f.lastTick) >= time.Second {
			f.lastTick = time.Now()
			f.progress(atomic.LoadInt64(&f.sent))
		}
	}
	return n, err
}

func (s *S3) Upload(ctx context.Context, localPath string, progress ProgressFunc) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("error opening %s for upload: %w", localPath, err)
	}
	defer f.Close()

	// A uuid segment keeps repeat uploads of the same file from clobbering
	// each other.
	key := fmt.Sprintf("uploads/%d_%s_%s", config.Clock.GetTimestampUTC(), uuid.New().String(), filepath.Base(localPath))
	body := &progressFile{File: f, progress: progress, lastTick: time.Now()}
	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return "", fmt.Errorf("error uploading to s3: %w", err)
	}
	if progress != nil {
		progress(atomic.LoadInt64(&body.sent))
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}
