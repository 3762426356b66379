package msstore

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/radiotel/ingestd/internal/ccalog"
	"github.com/radiotel/ingestd/pkg/ingesterr"
)

// Archiver spills a completed scan's measurement-set file out to an S3
// bucket once MSSinkTask closes it, so the local SQLite file can be
// rotated away without losing the observation.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewArchiver builds an Archiver from the process's ambient AWS
// credential chain (environment, shared config, IMDS), the same
// resolution path aws-sdk-go-v2 uses for any other service client.
func NewArchiver(ctx context.Context, bucket, prefix string) (*Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.ConfigInvalid, "msstore-archive", err)
	}
	return &Archiver{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

// Spill uploads the file at localPath under <prefix>/<scanID>/<basename>
// and, on success, removes the local copy.
func (a *Archiver) Spill(ctx context.Context, localPath string, scanID int) error {
	f, err := os.Open(localPath)
	if err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "msstore-archive", err)
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%d/%s", a.prefix, scanID, basename(localPath))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "msstore-archive", err)
	}

	ccalog.Infof("msstore: archived %s to s3://%s/%s", localPath, a.bucket, key)
	f.Close()
	return os.Remove(localPath)
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
