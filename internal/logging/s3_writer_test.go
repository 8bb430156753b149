package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio_gateway/internal/models"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	b, _ := io.ReadAll(params.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Writer_WriteBatch(t *testing.T) {
	putter := &fakePutter{}
	w := newS3Writer(putter, "archive", "usage/", "gateway-0")
	w.now = func() time.Time { return time.Date(2025, 11, 30, 14, 30, 22, 123, time.UTC) }

	key, err := w.WriteBatch(context.Background(), []*models.UsageRecord{
		{ID: 1, Username: "alice", ModelID: "gpt-x", TokensInput: 5, TokensOutput: 3, Success: true},
		{ID: 2, Username: "bob", ModelID: "gpt-x", Success: false},
	})
	require.NoError(t, err)

	assert.Equal(t, "usage/2025/11/30/gateway-0-20251130-143022-123.jsonl", key)
	assert.Equal(t, "archive", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "application/x-ndjson", aws.ToString(putter.input.ContentType))

	var lines []models.UsageRecord
	scanner := bufio.NewScanner(strings.NewReader(putter.body))
	for scanner.Scan() {
		var rec models.UsageRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "alice", lines[0].Username)
	assert.Equal(t, 5, lines[0].TokensInput)
}

func TestS3Writer_EmptyAndError(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	w := newS3Writer(putter, "archive", "usage/", "gateway-0")

	key, err := w.WriteBatch(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, key)
	assert.Nil(t, putter.input)

	_, err = w.WriteBatch(context.Background(), []*models.UsageRecord{{ModelID: "m"}})
	assert.ErrorContains(t, err, "access denied")
}
