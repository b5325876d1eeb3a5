package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dataflowguard/dto/internal/store"
)

// DefaultPresignTTL bounds how long artifact URLs stay valid.
const DefaultPresignTTL = 7 * 24 * time.Hour

// Settings configures the S3 artifact backend. Endpoint is set for
// MinIO-compatible deployments and left empty for AWS proper.
type Settings struct {
	Endpoint   string        `yaml:"endpoint"`
	Region     string        `yaml:"region"`
	Bucket     string        `yaml:"bucket"`
	AccessKey  string        `yaml:"access_key"`
	SecretKey  string        `yaml:"secret_key"`
	PathStyle  bool          `yaml:"path_style"`
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

// S3Writer stores artifacts in an S3-compatible bucket. A writer whose
// backend failed to initialize stays usable: every write degrades to
// (nil, nil).
type S3Writer struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewS3 builds the writer and verifies the bucket, creating it when
// missing. Initialization failures are logged and produce a degraded
// writer rather than an error: artifact storage is advisory.
func NewS3(ctx context.Context, settings Settings, logger *slog.Logger) *S3Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &S3Writer{
		bucket: settings.Bucket,
		ttl:    settings.PresignTTL,
		logger: logger,
	}
	if w.ttl <= 0 {
		w.ttl = DefaultPresignTTL
	}

	region := settings.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if settings.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(settings.AccessKey, settings.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Warn("artifact backend disabled", "error", err)
		return w
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
		}
		o.UsePathStyle = settings.PathStyle
	})

	if err := ensureBucket(ctx, client, settings.Bucket); err != nil {
		logger.Warn("artifact backend disabled", "bucket", settings.Bucket, "error", err)
		return w
	}

	w.client = client
	w.presigner = s3.NewPresignClient(client)
	return w
}

func ensureBucket(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	return err
}

func (w *S3Writer) WriteReport(ctx context.Context, run store.Run, report *Report) (*store.Artifact, error) {
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, err
	}
	return w.put(ctx, run, store.ArtifactReport, objectKey(run, "report.json"), payload, "application/json")
}

func (w *S3Writer) WriteLogs(ctx context.Context, run store.Run, lines []string) (*store.Artifact, error) {
	payload := []byte(strings.Join(lines, "\n"))
	return w.put(ctx, run, store.ArtifactLogs, objectKey(run, "logs.txt"), payload, "text/plain")
}

func (w *S3Writer) WriteSamples(ctx context.Context, run store.Run, testName string, rows []map[string]any) (*store.Artifact, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	payload, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, err
	}
	return w.put(ctx, run, store.ArtifactSamples, sampleKey(run, testName), payload, "application/json")
}

// Health reports backend reachability via a bucket probe.
func (w *S3Writer) Health(ctx context.Context) bool {
	if w.client == nil {
		return false
	}
	_, err := w.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(w.bucket)})
	return err == nil
}

// put uploads the payload and returns its artifact record with a
// time-limited URL. Backend failures degrade to (nil, nil).
func (w *S3Writer) put(ctx context.Context, run store.Run, kind store.ArtifactKind, key string, payload []byte, contentType string) (*store.Artifact, error) {
	if w.client == nil {
		return nil, nil
	}

	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		w.logger.Warn("artifact upload failed", "run_id", run.ID, "key", key, "error", err)
		return nil, nil
	}

	var url string
	presigned, err := w.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = w.ttl
	})
	if err != nil {
		w.logger.Warn("artifact presign failed", "run_id", run.ID, "key", key, "error", err)
	} else {
		url = presigned.URL
	}

	now := time.Now().UTC()
	expires := now.Add(w.ttl)
	artifact := &store.Artifact{
		ID:          uuid.NewString(),
		RunID:       run.ID,
		Kind:        kind,
		Path:        key,
		URL:         url,
		SizeBytes:   int64(len(payload)),
		ContentType: contentType,
		CreatedAt:   now,
		ExpiresAt:   &expires,
	}

	w.logger.Info("artifact stored",
		"run_id", run.ID,
		"kind", kind,
		"path", key,
		"size_bytes", artifact.SizeBytes)
	return artifact, nil
}
