// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var r2Client *s3.Client
var r2Bucket string
var cdnBaseURL string

func InitR2() error {
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")
	r2Bucket = os.Getenv("R2_BUCKET_NAME")
	cdnBaseURL = os.Getenv("CDN_BASE_URL")
	if cdnBaseURL == "" {
		cdnBaseURL = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
		config.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
				}, nil
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to load R2 config: %w", err)
	}

	r2Client = s3.NewFromConfig(cfg)
	return nil
}

// SnapshotWinner is one row of the archived winner table.
type SnapshotWinner struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type settlementSnapshot struct {
	GameID      string           `json:"game_id"`
	ChainGameID uint64           `json:"chain_game_id"`
	Title       string           `json:"title"`
	Root        string           `json:"root"`
	TxHash      string           `json:"tx_hash"`
	ArchivedAt  time.Time        `json:"archived_at"`
	Winners     []SnapshotWinner `json:"winners"`
}

// UploadSettlementSnapshot archives the committed winner table to R2 as a
// JSON audit artifact. Callers treat failures as non-fatal: the commitment
// itself lives on-chain and in the DB.
func UploadSettlementSnapshot(key, gameID string, chainGameID uint64, title string, winners []SnapshotWinner, root, txHash string) error {
	if r2Client == nil {
		return fmt.Errorf("R2 client not initialized")
	}

	payload, err := json.MarshalIndent(settlementSnapshot{
		GameID:      gameID,
		ChainGameID: chainGameID,
		Title:       title,
		Root:        root,
		TxHash:      txHash,
		ArchivedAt:  time.Now().UTC(),
		Winners:     winners,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = r2Client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket:      aws.String(r2Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot to R2: %w", err)
	}
	return nil
}

// SnapshotURL returns the public URL of an archived object.
func SnapshotURL(key string) string {
	return fmt.Sprintf("%s/%s", cdnBaseURL, key)
}
