// Package archive writes fetched day data to S3 under the hive-partitioned
// path scheme the downstream warehouse ingestion depends on:
//
//	raw/fitbit/year=<Y>/month=<MM>/day=<DD>/<category>_<YYYYMMDD>.json
//	raw/fitbit/year=<Y>/month=<MM>/day=<DD>/_summary.json
//
// The summary object is written last; its existence is the sole signal that
// a date's fetch cycle completed its write phase.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sethvargo/go-retry"
)

// source names the vendor in object keys and artifact metadata.
const source = "fitbit"

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Writer persists per-category artifacts plus the per-date summary object.
type Writer struct {
	client s3Client
	bucket string
	logger *slog.Logger
	now    func() time.Time
}

// NewWriter creates a Writer over an existing S3 client.
func NewWriter(client *s3.Client, bucket string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{client: client, bucket: bucket, logger: logger, now: time.Now}
}

// NewS3Client builds an S3 client from static configuration. An empty
// endpoint uses AWS proper; a non-empty one targets S3-compatible storage.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region: cfg.Region,
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// CategoryKey returns the object key for one (date, category) artifact.
func CategoryKey(date time.Time, category string) string {
	return fmt.Sprintf("raw/%s/year=%d/month=%02d/day=%02d/%s_%s.json",
		source, date.Year(), int(date.Month()), date.Day(), category, date.Format("20060102"))
}

// SummaryKey returns the object key for the per-date summary artifact.
func SummaryKey(date time.Time) string {
	return fmt.Sprintf("raw/%s/year=%d/month=%02d/day=%02d/_summary.json",
		source, date.Year(), int(date.Month()), date.Day())
}

// envelope wraps a category payload with extraction metadata.
type envelope struct {
	Metadata envelopeMeta    `json:"metadata"`
	Data     json.RawMessage `json:"data"`
}

type envelopeMeta struct {
	ExtractionTimestamp string `json:"extraction_timestamp"`
	DataDate            string `json:"data_date"`
	DataType            string `json:"data_type"`
	Source              string `json:"source"`
	RunID               string `json:"run_id"`
}

// summary is the per-date completion marker.
type summary struct {
	ExtractionDate string   `json:"extraction_date"`
	DataDate       string   `json:"data_date"`
	FilesCreated   int      `json:"files_created"`
	DataTypes      []string `json:"data_types"`
	Status         string   `json:"status"`
	Files          []string `json:"files"`
}

// Exists reports whether the summary object for date is present, which is
// the driver's sole "already fetched" predicate.
func (w *Writer) Exists(ctx context.Context, date time.Time) (bool, error) {
	_, err := w.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(SummaryKey(date)),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head summary object: %w", err)
	}
	return true, nil
}

// Persist writes one artifact per category with a payload, then the summary
// object last so a crash mid-write never yields a false completion marker.
// Re-running the same date overwrites prior artifacts at the same keys.
// Returns the s3:// locations of the category artifacts written.
func (w *Writer) Persist(ctx context.Context, date time.Time, payloads map[string]json.RawMessage, categories []string, runID string) ([]string, error) {
	dateStr := date.Format("2006-01-02")
	extracted := w.now().UTC().Format(time.RFC3339)

	var files []string
	var written []string
	for _, category := range categories {
		payload, ok := payloads[category]
		if !ok {
			continue
		}

		body, err := json.Marshal(envelope{
			Metadata: envelopeMeta{
				ExtractionTimestamp: extracted,
				DataDate:            dateStr,
				DataType:            category,
				Source:              "fitbit_api",
				RunID:               runID,
			},
			Data: payload,
		})
		if err != nil {
			return files, fmt.Errorf("marshal %s artifact: %w", category, err)
		}

		key := CategoryKey(date, category)
		if err := w.put(ctx, key, body, map[string]string{
			"data-date": dateStr,
			"data-type": category,
		}); err != nil {
			return files, fmt.Errorf("upload %s artifact: %w", category, err)
		}
		files = append(files, fmt.Sprintf("s3://%s/%s", w.bucket, key))
		written = append(written, category)
		w.logger.Info("artifact written", "category", category, "key", key)
	}

	status := "partial"
	if len(files) > 0 {
		status = "success"
	}
	body, err := json.Marshal(summary{
		ExtractionDate: extracted,
		DataDate:       dateStr,
		FilesCreated:   len(files),
		DataTypes:      written,
		Status:         status,
		Files:          files,
	})
	if err != nil {
		return files, fmt.Errorf("marshal summary: %w", err)
	}
	if err := w.put(ctx, SummaryKey(date), body, nil); err != nil {
		return files, fmt.Errorf("upload summary: %w", err)
	}
	w.logger.Info("summary written", "date", dateStr, "files", len(files), "status", status)

	return files, nil
}

// put uploads one object, retrying transient faults with fibonacci backoff.
// Writes are idempotent per key, so a retried partial upload is safe.
func (w *Writer) put(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(w.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
			Metadata:    metadata,
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
