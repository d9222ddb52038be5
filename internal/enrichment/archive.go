package enrichment

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"callbilling/internal/config"
	"callbilling/pkg/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver stores downloaded recordings under <prefix>/<call id>/<recording>.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

func NewS3Archiver(ctx context.Context, cfg config.RecordingsConfig) (*S3Archiver, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.S3Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.S3Bucket,
		prefix: cfg.S3Prefix,
	}, nil
}

func (a *S3Archiver) key(callID, recordingID, filename string) string {
	name := recordingID
	if name == "" {
		name = strings.TrimSuffix(filename, path.Ext(filename))
	}
	if ext := path.Ext(filename); ext != "" {
		name += ext
	}
	return path.Join(a.prefix, callID, name)
}

func (a *S3Archiver) Archive(ctx context.Context, callID, recordingID string, rec Recording) (string, error) {
	key := a.key(callID, recordingID, rec.Filename)

	start := time.Now()
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(rec.Data),
		ContentType: aws.String(rec.ContentType),
	})
	metrics.ObserveUpstream("s3", "put_recording", start)
	if err != nil {
		return "", fmt.Errorf("put recording %s: %w", key, err)
	}
	return "s3://" + a.bucket + "/" + key, nil
}
