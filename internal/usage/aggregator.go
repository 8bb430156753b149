package usage

import (
	"errors"
	"sort"

	"studio_gateway/internal/models"
)

const (
	// DefaultDays is the reporting window used when Query.Days is unset.
	DefaultDays = 30

	// DefaultLimit bounds the recent-record read when Query.Limit is unset.
	DefaultLimit = 1000

	// MaxRecentLogs caps the recent_logs section of Stats.
	MaxRecentLogs = 100
)

// ErrInvalidQuery is returned for negative window or limit values.
var ErrInvalidQuery = errors.New("invalid usage query")

// Query selects the records a Stats call reports on. Nil Days or Limit
// select the defaults; zero is a valid explicit value.
type Query struct {
	Username string
	ModelID  string
	Days     *int
	Limit    *int
}

// Normalize returns the effective window and limit.
func (q Query) Normalize() (days, limit int, err error) {
	days, limit = DefaultDays, DefaultLimit
	if q.Days != nil {
		days = *q.Days
	}
	if q.Limit != nil {
		limit = *q.Limit
	}
	if days < 0 || limit < 0 {
		return 0, 0, ErrInvalidQuery
	}
	return days, limit, nil
}

// Stats is the aggregated usage report.
type Stats struct {
	TotalRequests     int                   `json:"total_requests"`
	Successful        int                   `json:"successful"`
	Failed            int                   `json:"failed"`
	TotalTokensInput  int64                 `json:"total_tokens_input"`
	TotalTokensOutput int64                 `json:"total_tokens_output"`
	ByModel           []ModelUsage          `json:"by_model"`
	ByUser            []UserUsage           `json:"by_user"`
	RecentLogs        []*models.UsageRecord `json:"recent_logs"`
}

// ModelUsage groups records by model id.
type ModelUsage struct {
	ModelID      string `json:"model_id"`
	ModelName    string `json:"model_name"`
	Count        int    `json:"count"`
	TokensInput  int64  `json:"tokens_input"`
	TokensOutput int64  `json:"tokens_output"`
}

// UserUsage groups records by username.
type UserUsage struct {
	Username     string `json:"username"`
	Count        int    `json:"count"`
	TokensInput  int64  `json:"tokens_input"`
	TokensOutput int64  `json:"tokens_output"`
}

// Aggregate folds records into Stats. recent is expected newest first and is
// truncated to min(limit, MaxRecentLogs).
func Aggregate(records, recent []*models.UsageRecord, limit int) Stats {
	stats := Stats{
		ByModel:    []ModelUsage{},
		ByUser:     []UserUsage{},
		RecentLogs: []*models.UsageRecord{},
	}

	byModel := make(map[string]*ModelUsage)
	byUser := make(map[string]*UserUsage)
	nameAt := make(map[string]int64)

	for _, r := range records {
		if r == nil {
			continue
		}
		in, out := int64(max(r.TokensInput, 0)), int64(max(r.TokensOutput, 0))

		stats.TotalRequests++
		if r.Success {
			stats.Successful++
		} else {
			stats.Failed++
		}
		stats.TotalTokensInput += in
		stats.TotalTokensOutput += out

		m, ok := byModel[r.ModelID]
		if !ok {
			m = &ModelUsage{ModelID: r.ModelID}
			byModel[r.ModelID] = m
		}
		m.Count++
		m.TokensInput += in
		m.TokensOutput += out
		if r.ModelName != nil && *r.ModelName != "" {
			at := r.CreatedAt.UnixNano()
			if seen, ok := nameAt[r.ModelID]; !ok || at >= seen {
				m.ModelName = *r.ModelName
				nameAt[r.ModelID] = at
			}
		}

		u, ok := byUser[r.Username]
		if !ok {
			u = &UserUsage{Username: r.Username}
			byUser[r.Username] = u
		}
		u.Count++
		u.TokensInput += in
		u.TokensOutput += out
	}

	for _, m := range byModel {
		if m.ModelName == "" {
			m.ModelName = m.ModelID
		}
		stats.ByModel = append(stats.ByModel, *m)
	}
	sort.Slice(stats.ByModel, func(i, j int) bool {
		a, b := stats.ByModel[i], stats.ByModel[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.ModelID < b.ModelID
	})

	for _, u := range byUser {
		stats.ByUser = append(stats.ByUser, *u)
	}
	sort.Slice(stats.ByUser, func(i, j int) bool {
		a, b := stats.ByUser[i], stats.ByUser[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Username < b.Username
	})

	n := min(len(recent), max(min(limit, MaxRecentLogs), 0))
	for _, r := range recent[:n] {
		stats.RecentLogs = append(stats.RecentLogs, r)
	}
	sortRecent(stats.RecentLogs)

	return stats
}

func sortRecent(records []*models.UsageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
