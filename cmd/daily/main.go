package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dukerupert/fitsync/internal/archive"
	"github.com/dukerupert/fitsync/internal/backfill"
	"github.com/dukerupert/fitsync/internal/config"
	"github.com/dukerupert/fitsync/internal/fitbit"
	"github.com/dukerupert/fitsync/internal/handler"
	"github.com/dukerupert/fitsync/internal/logging"
	"github.com/dukerupert/fitsync/internal/token"
	"github.com/dukerupert/fitsync/internal/tokenstore"
)

// The daily export runs on a schedule and always fetches yesterday's data,
// overwriting whatever a prior partial run may have left behind.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("failed to load AWS config: %v", err)
	}

	store := tokenstore.New(dynamodb.NewFromConfig(awsCfg), cfg.TokenTable)

	var s3Client *s3.Client
	if cfg.S3Endpoint != "" {
		s3Client = archive.NewS3Client(archive.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	} else {
		s3Client = s3.NewFromConfig(awsCfg)
	}
	writer := archive.NewWriter(s3Client, cfg.Bucket, logger)

	tokens := token.NewManager(token.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		UserID:       cfg.UserID,
	}, store, nil, logger)

	fetcher := fitbit.NewClient(nil, logger)

	driver := backfill.New(tokens, fetcher, writer, logger)

	h := handler.New(driver, store, cfg.UserID, backfill.Defaults{
		StartDate: cfg.DefaultStartDate,
		EndDate:   cfg.DefaultEndDate,
		MaxDays:   cfg.MaxDays,
	}, logger)

	lambda.Start(func(ctx context.Context) (handler.Response, error) {
		return h.Daily(ctx, runID(ctx))
	})
}

func runID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}
