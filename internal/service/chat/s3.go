package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mleone/profile-chatbot/backend/internal/model/chat"
)

// S3HistoryStore keeps transcripts as JSON objects under
// conversations/<session>.json in one bucket.
type S3HistoryStore struct {
	client *s3.Client
	bucket string
}

// NewS3HistoryStore builds a store over the default AWS credential
// chain for the given bucket and region.
func NewS3HistoryStore(ctx context.Context, bucket, region string) (*S3HistoryStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3HistoryStore{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func memoryKey(sessionID string) string {
	return "conversations/" + sessionID + ".json"
}

// Load fetches and decodes the transcript object; a missing key is an
// empty transcript.
func (s *S3HistoryStore) Load(ctx context.Context, sessionID string) ([]chat.Message, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(memoryKey(sessionID)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transcript object: %w", err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read transcript object: %w", err)
	}

	var messages []chat.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("decode transcript object: %w", err)
	}
	return messages, nil
}

// Save encodes and uploads the transcript object.
func (s *S3HistoryStore) Save(ctx context.Context, sessionID string, messages []chat.Message) error {
	raw, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(memoryKey(sessionID)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put transcript object: %w", err)
	}
	return nil
}
