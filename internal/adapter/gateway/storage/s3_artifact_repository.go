package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/YoshitsuguKoike/odoogen/internal/domain/repository"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

const (
	versionKeyFormat  = "%08d"
	metaCreatedAt     = "created-at"
	maxAppendAttempts = 5
)

// S3ArtifactRepository stores every artifact version as its own object.
// Key layout: <prefix>/artifacts/<sessionID>/<step>/<00000001>
// Objects are created with If-None-Match so a version is never overwritten.
type S3ArtifactRepository struct {
	client     S3API
	bucketName string
	prefix     string
}

var (
	_ repository.ArtifactRepository = (*S3ArtifactRepository)(nil)
	_ repository.ArtifactReverter   = (*S3ArtifactRepository)(nil)
)

// S3Config holds S3 artifact store configuration
type S3Config struct {
	BucketName string // S3 bucket name
	Prefix     string // Optional key prefix
	Region     string // AWS region (optional, uses default if empty)
	Endpoint   string // Custom endpoint for S3-compatible stores (optional)
}

// NewS3ArtifactRepository creates an artifact store using the default AWS
// credential chain
func NewS3ArtifactRepository(ctx context.Context, cfg S3Config) (*S3ArtifactRepository, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3ArtifactRepositoryWithClient(client, cfg.BucketName, cfg.Prefix), nil
}

// NewS3ArtifactRepositoryWithClient creates an artifact store with a custom S3 client
func NewS3ArtifactRepositoryWithClient(client S3API, bucketName, prefix string) *S3ArtifactRepository {
	return &S3ArtifactRepository{
		client:     client,
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
	}
}

// Append stores content under the next free version
func (r *S3ArtifactRepository) Append(ctx context.Context, key workflow.ArtifactKey, content string) (int, error) {
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		latest, err := r.LatestVersion(ctx, key)
		if err != nil {
			return 0, err
		}
		version := latest + 1

		_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(r.bucketName),
			Key:         aws.String(r.versionKey(key, version)),
			Body:        bytes.NewReader([]byte(content)),
			ContentType: aws.String("text/markdown; charset=utf-8"),
			IfNoneMatch: aws.String("*"),
			Metadata: map[string]string{
				metaCreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
			},
		})
		if err == nil {
			return version, nil
		}
		if !isPreconditionFailed(err) {
			return 0, fmt.Errorf("upload artifact to S3: %w", err)
		}
		// Another writer took this version
	}
	return 0, fmt.Errorf("upload artifact to S3: version conflict on %s after %d attempts", key, maxAppendAttempts)
}

// Get downloads one version; version 0 means latest
func (r *S3ArtifactRepository) Get(ctx context.Context, key workflow.ArtifactKey, version int) (*workflow.Artifact, error) {
	if version == 0 {
		latest, err := r.LatestVersion(ctx, key)
		if err != nil {
			return nil, err
		}
		if latest == 0 {
			return nil, versionNotFound(key, version)
		}
		version = latest
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(r.versionKey(key, version)),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, versionNotFound(key, version)
	}
	if err != nil {
		return nil, fmt.Errorf("download artifact from S3: %w", err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	a := &workflow.Artifact{Key: key, Version: version, Content: string(content)}
	if ts, ok := out.Metadata[metaCreatedAt]; ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			a.CreatedAt = parsed
		}
	}
	return a, nil
}

// History downloads all versions in ascending order
func (r *S3ArtifactRepository) History(ctx context.Context, key workflow.ArtifactKey) ([]workflow.Artifact, error) {
	versions, err := r.listVersions(ctx, key)
	if err != nil {
		return nil, err
	}

	history := make([]workflow.Artifact, 0, len(versions))
	for _, v := range versions {
		a, err := r.Get(ctx, key, v)
		if err != nil {
			return nil, err
		}
		history = append(history, *a)
	}
	return history, nil
}

// LatestVersion returns the highest stored version, 0 if none
func (r *S3ArtifactRepository) LatestVersion(ctx context.Context, key workflow.ArtifactKey) (int, error) {
	versions, err := r.listVersions(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[len(versions)-1], nil
}

// Revert deletes a version whose session commit failed
func (r *S3ArtifactRepository) Revert(ctx context.Context, key workflow.ArtifactKey, version int) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(r.versionKey(key, version)),
	})
	if err != nil {
		return fmt.Errorf("delete artifact from S3: %w", err)
	}
	return nil
}

// listVersions pages through the step prefix. Zero-padded keys come back
// in version order.
func (r *S3ArtifactRepository) listVersions(ctx context.Context, key workflow.ArtifactKey) ([]int, error) {
	prefix := r.stepPrefix(key) + "/"
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucketName),
		Prefix: aws.String(prefix),
	})

	var versions []int
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			v, err := strconv.Atoi(name)
			if err != nil || v <= 0 {
				continue
			}
			versions = append(versions, v)
		}
	}
	return versions, nil
}

func (r *S3ArtifactRepository) stepPrefix(key workflow.ArtifactKey) string {
	return path.Join(r.prefix, "artifacts", key.SessionID.String(), key.Step.String())
}

func (r *S3ArtifactRepository) versionKey(key workflow.ArtifactKey, version int) string {
	return r.stepPrefix(key) + "/" + fmt.Sprintf(versionKeyFormat, version)
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}

func versionNotFound(key workflow.ArtifactKey, version int) error {
	return workflow.ErrVersionNotFound.WithStep(key.Step).WithDetails(map[string]interface{}{
		"session_id": key.SessionID,
		"version":    version,
	})
}
