package usage

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio_gateway/internal/models"
	"studio_gateway/internal/utils"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(id int64, user, model string, in, out int, ok bool, at time.Time) *models.UsageRecord {
	return &models.UsageRecord{
		ID: id, Username: user, ModelID: model,
		TokensInput: in, TokensOutput: out, Success: ok, CreatedAt: at,
	}
}

func TestAggregateEmpty(t *testing.T) {
	stats := Aggregate(nil, nil, 1000)

	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.TotalTokensInput)

	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"total_requests": 0, "successful": 0, "failed": 0,
		"total_tokens_input": 0, "total_tokens_output": 0,
		"by_model": [], "by_user": [], "recent_logs": []
	}`, string(raw))
}

func TestAggregateGroups(t *testing.T) {
	records := []*models.UsageRecord{
		rec(1, "alice", "gpt-x", 5, 3, true, base),
		rec(2, "alice", "gpt-x", 10, 2, true, base.Add(time.Minute)),
		rec(3, "bob", "claude", 7, 1, false, base.Add(2*time.Minute)),
		rec(4, "bob", "aaa", 1, 1, true, base.Add(3*time.Minute)),
	}
	records[0].ModelName = utils.StringPtr("GPT X (old)")
	records[1].ModelName = utils.StringPtr("GPT X")

	stats := Aggregate(records, nil, 10)

	assert.Equal(t, 4, stats.TotalRequests)
	assert.Equal(t, 3, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, int64(23), stats.TotalTokensInput)
	assert.Equal(t, int64(7), stats.TotalTokensOutput)

	require.Len(t, stats.ByModel, 3)
	assert.Equal(t, "gpt-x", stats.ByModel[0].ModelID)
	assert.Equal(t, "GPT X", stats.ByModel[0].ModelName)
	assert.Equal(t, 2, stats.ByModel[0].Count)
	assert.Equal(t, int64(15), stats.ByModel[0].TokensInput)
	// ties break on model id
	assert.Equal(t, "aaa", stats.ByModel[1].ModelID)
	assert.Equal(t, "aaa", stats.ByModel[1].ModelName)
	assert.Equal(t, "claude", stats.ByModel[2].ModelID)

	require.Len(t, stats.ByUser, 2)
	assert.Equal(t, "alice", stats.ByUser[0].Username)
	assert.Equal(t, "bob", stats.ByUser[1].Username)
	assert.Equal(t, int64(8), stats.ByUser[1].TokensInput)
}

func TestAggregateRecentLimit(t *testing.T) {
	var recent []*models.UsageRecord
	for i := 150; i > 0; i-- {
		recent = append(recent, rec(int64(i), "u", "m", 0, 0, true, base.Add(time.Duration(i)*time.Second)))
	}

	tests := []struct {
		limit int
		want  int
	}{
		{0, 0},
		{5, 5},
		{100, 100},
		{1000, 100},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit=%d", tt.limit), func(t *testing.T) {
			stats := Aggregate(nil, recent, tt.limit)
			assert.Len(t, stats.RecentLogs, tt.want)
			if tt.want > 0 {
				assert.Equal(t, int64(150), stats.RecentLogs[0].ID)
			}
		})
	}
}

func TestAggregateTotalsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	users := []string{"alice", "bob", "carol"}
	modelIDs := []string{"gpt-x", "claude", "gemini", "deepseek"}

	for round := 0; round < 50; round++ {
		n := rng.Intn(200)
		records := make([]*models.UsageRecord, 0, n)
		for i := 0; i < n; i++ {
			records = append(records, rec(
				int64(i+1),
				users[rng.Intn(len(users))],
				modelIDs[rng.Intn(len(modelIDs))],
				rng.Intn(1000)-10,
				rng.Intn(1000),
				rng.Intn(4) != 0,
				base.Add(time.Duration(rng.Intn(86400))*time.Second),
			))
		}
		limit := rng.Intn(300)

		// recent is fed in arbitrary order; the result must still be newest first
		stats := Aggregate(records, records, limit)

		assert.Equal(t, stats.TotalRequests, stats.Successful+stats.Failed)
		assert.Equal(t, n, stats.TotalRequests)

		var modelCount, userCount int
		for _, m := range stats.ByModel {
			modelCount += m.Count
		}
		for _, u := range stats.ByUser {
			userCount += u.Count
		}
		assert.Equal(t, stats.TotalRequests, modelCount)
		assert.Equal(t, stats.TotalRequests, userCount)

		assert.LessOrEqual(t, len(stats.RecentLogs), min(limit, MaxRecentLogs))
		for i := 1; i < len(stats.RecentLogs); i++ {
			prev, cur := stats.RecentLogs[i-1], stats.RecentLogs[i]
			assert.False(t, cur.CreatedAt.After(prev.CreatedAt), "recent logs out of order at %d", i)
		}
		assert.GreaterOrEqual(t, stats.TotalTokensInput, int64(0))
	}
}

func TestQueryNormalize(t *testing.T) {
	days, limit, err := Query{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, DefaultDays, days)
	assert.Equal(t, DefaultLimit, limit)

	days, limit, err = Query{Days: utils.IntPtr(0), Limit: utils.IntPtr(0)}.Normalize()
	require.NoError(t, err)
	assert.Zero(t, days)
	assert.Zero(t, limit)

	_, _, err = Query{Days: utils.IntPtr(-1)}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, _, err = Query{Limit: utils.IntPtr(-5)}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidQuery)
}
