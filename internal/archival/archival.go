// Package archival optionally ships storage-node checkpoint bytes to an
// S3-compatible bucket alongside their local-disk copy. It is strictly
// additive: the storage node's checkpoint create/revert/view/list semantics
// never depend on archival succeeding. Failures are returned to the caller
// as plain errors, which the caller logs rather than treating as a
// checkpoint-operation failure.
package archival

import (
	"bytes"
	"context"
	stderr "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	cargoshipconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/textfs/textfs/pkg/obslog"
)

// multipartThreshold is the checkpoint size at or above which uploads are routed
// through cargoship's optimized transporter instead of a single PutObject.
const multipartThreshold = 32 * 1024 * 1024

// Config configures the archival backend. It carries the same connection
// fields as internal/config's ArchivalConfig (everything except Enabled);
// the two are distinct types, so callers copy the fields across.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// Archiver uploads and fetches checkpoint bytes to/from an S3-compatible
// bucket. The zero value is not usable; construct with New.
type Archiver struct {
	client      *s3.Client
	transporter *cargoships3.Transporter
	bucket      string
	prefix      string
	logger      *obslog.Logger
}

// New creates an Archiver for the given config. It loads AWS credentials
// from the standard SDK chain (environment, shared config, IAM role).
func New(ctx context.Context, cfg Config, logger *obslog.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archival: bucket is required")
	}
	if logger == nil {
		logger = obslog.New(obslog.Info, nil)
	}
	logger = logger.WithComponent("archival")

	awsCfg, err := awssdkconfig.LoadDefaultConfig(ctx, awssdkconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("archival: failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	transporter := cargoships3.NewTransporter(client, cargoshipconfig.S3Config{
		Bucket:             cfg.Bucket,
		StorageClass:       cargoshipconfig.StorageClassStandard,
		MultipartThreshold: multipartThreshold,
		MultipartChunkSize: 16 * 1024 * 1024,
		Concurrency:        4,
	})

	return &Archiver{
		client:      client,
		transporter: transporter,
		bucket:      cfg.Bucket,
		prefix:      strings.TrimSuffix(cfg.Prefix, "/"),
		logger:      logger,
	}, nil
}

// checkpointKey builds the canonical object key for a checkpoint, matching
// internal/sn/fsops's local filename convention so the two stay correlated.
func (a *Archiver) checkpointKey(owner, filename, tag string) string {
	key := fmt.Sprintf("%s__%s__%s", owner, filename, tag)
	if a.prefix != "" {
		return a.prefix + "/" + key
	}
	return key
}

// PutCheckpoint uploads a checkpoint's content. Callers treat a non-nil
// error as a logged, non-fatal event; the local checkpoint already
// succeeded by the time this is called.
func (a *Archiver) PutCheckpoint(ctx context.Context, owner, filename, tag string, data []byte) error {
	key := a.checkpointKey(owner, filename, tag)
	start := time.Now()

	if len(data) >= multipartThreshold {
		archive := cargoships3.Archive{
			Key:          key,
			Reader:       bytes.NewReader(data),
			Size:         int64(len(data)),
			StorageClass: cargoshipconfig.StorageClassStandard,
			Metadata: map[string]string{
				"owner":    owner,
				"filename": filename,
				"tag":      tag,
			},
		}
		result, err := a.transporter.Upload(ctx, archive)
		if err != nil {
			return fmt.Errorf("archival: multipart upload of checkpoint %s failed: %w", key, err)
		}
		a.logger.Debug("archived checkpoint via multipart upload: key=%s size=%d duration=%s throughput=%.1f",
			key, len(data), time.Since(start), result.Throughput)
		return nil
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("archival: upload of checkpoint %s failed: %w", key, err)
	}
	a.logger.Debug("archived checkpoint: key=%s size=%d duration=%s", key, len(data), time.Since(start))
	return nil
}

// GetCheckpoint fetches a previously archived checkpoint's content.
func (a *Archiver) GetCheckpoint(ctx context.Context, owner, filename, tag string) ([]byte, error) {
	key := a.checkpointKey(owner, filename, tag)
	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if stderr.As(err, &noSuchKey) {
			return nil, fmt.Errorf("archival: checkpoint %s not found in bucket %s", key, a.bucket)
		}
		return nil, fmt.Errorf("archival: fetch of checkpoint %s failed: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("archival: failed to read checkpoint %s body: %w", key, err)
	}
	return data, nil
}
