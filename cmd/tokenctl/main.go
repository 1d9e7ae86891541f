// tokenctl seeds and inspects the stored Fitbit token record. The initial
// authorization happens out of band (browser OAuth flow); this tool writes
// the resulting token triple into DynamoDB so the Lambdas can take over.
//
//	tokenctl put -access-token ... -refresh-token ... -expires-in 28800 -scope "sleep activity heartrate"
//	tokenctl get
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/dukerupert/fitsync/internal/model"
	"github.com/dukerupert/fitsync/internal/tokenstore"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	table := envOr("DYNAMODB_TABLE", "fitbit_tokens")
	userID := os.Getenv("FITBIT_USER_ID")
	if userID == "" {
		log.Fatal("FITBIT_USER_ID must be set")
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("failed to load AWS config: %v", err)
	}
	store := tokenstore.New(dynamodb.NewFromConfig(awsCfg), table)

	switch os.Args[1] {
	case "put":
		put(ctx, store, userID, os.Args[2:])
	case "get":
		get(ctx, store, userID)
	default:
		usage()
	}
}

func put(ctx context.Context, store *tokenstore.Store, userID string, args []string) {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	accessToken := fs.String("access-token", "", "OAuth access token")
	refreshToken := fs.String("refresh-token", "", "OAuth refresh token")
	expiresIn := fs.Int64("expires-in", 28800, "token lifetime in seconds")
	scope := fs.String("scope", "", "granted OAuth scopes")
	fs.Parse(args)

	if *accessToken == "" || *refreshToken == "" {
		log.Fatal("-access-token and -refresh-token are required")
	}

	now := time.Now()
	record := &model.TokenRecord{
		UserID:       userID,
		AccessToken:  *accessToken,
		RefreshToken: *refreshToken,
		ExpiresAt:    now.Unix() + *expiresIn,
		Scope:        *scope,
		UpdatedAt:    now.UTC().Format(time.RFC3339),
	}
	if err := store.Put(ctx, record); err != nil {
		log.Fatalf("failed to store token: %v", err)
	}
	fmt.Printf("token stored for %s, expires at %d\n", userID, record.ExpiresAt)
}

func get(ctx context.Context, store *tokenstore.Store, userID string) {
	record, err := store.Get(ctx, userID)
	if err != nil {
		log.Fatalf("failed to read token: %v", err)
	}
	// Never print the raw tokens; show enough to verify the record.
	out := map[string]any{
		"user_id":    record.UserID,
		"expires_at": record.ExpiresAt,
		"expired":    record.Expired(time.Now()),
		"scope":      record.Scope,
		"updated_at": record.UpdatedAt,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tokenctl <put|get> [flags]")
	os.Exit(2)
}
