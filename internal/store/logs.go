package store

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertLogAsync queues one request log row plus, when prompt or response
// bytes are provided, its compressed payload row. The payload row is
// skipped (log row still written) when compression yields nothing.
func (s *Store) InsertLogAsync(rec *RequestLog, prompt, response []byte) {
	cPrompt := compress(prompt)
	cResponse := compress(response)
	s.queue.enqueue("insert-log", func(db *gorm.DB) error {
		if err := db.Create(rec).Error; err != nil {
			return err
		}
		if cPrompt == nil && cResponse == nil {
			return nil
		}
		return db.Create(&RequestPayload{
			LogID:    rec.ID,
			Prompt:   cPrompt,
			Response: cResponse,
		}).Error
	})
}

// InsertLog writes a log row synchronously. Tests and the retention sweep
// setup use this; the request path uses InsertLogAsync.
func (s *Store) InsertLog(rec *RequestLog, prompt, response []byte) error {
	if err := s.db.Create(rec).Error; err != nil {
		return err
	}
	cPrompt := compress(prompt)
	cResponse := compress(response)
	if cPrompt == nil && cResponse == nil {
		return nil
	}
	return s.db.Create(&RequestPayload{
		LogID:    rec.ID,
		Prompt:   cPrompt,
		Response: cResponse,
	}).Error
}

// DailyDelta is one request's contribution to the daily rollup.
type DailyDelta struct {
	Requests     int64
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	LatencyMs    int64
}

// UpsertDailyAsync queues an additive upsert into daily_metrics.
func (s *Store) UpsertDailyAsync(date, endpoint string, d DailyDelta) {
	s.queue.enqueue("upsert-daily", func(db *gorm.DB) error {
		return upsertDaily(db, date, endpoint, d)
	})
}

// UpsertDaily applies the delta synchronously.
func (s *Store) UpsertDaily(date, endpoint string, d DailyDelta) error {
	return upsertDaily(s.db, date, endpoint, d)
}

func upsertDaily(db *gorm.DB, date, endpoint string, d DailyDelta) error {
	row := &DailyMetric{
		Date:         date,
		Endpoint:     endpoint,
		RequestCount: d.Requests,
		InputTokens:  d.InputTokens,
		OutputTokens: d.OutputTokens,
		CachedTokens: d.CachedTokens,
		LatencySumMs: d.LatencyMs,
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "endpoint"}},
		DoUpdates: clause.Assignments(map[string]any{
			"request_count":  gorm.Expr("request_count + ?", d.Requests),
			"input_tokens":   gorm.Expr("input_tokens + ?", d.InputTokens),
			"output_tokens":  gorm.Expr("output_tokens + ?", d.OutputTokens),
			"cached_tokens":  gorm.Expr("cached_tokens + ?", d.CachedTokens),
			"latency_sum_ms": gorm.Expr("latency_sum_ms + ?", d.LatencyMs),
		}),
	}).Create(row).Error
}

// LogFilter selects request logs. Zero fields are ignored.
type LogFilter struct {
	SinceMs  int64
	UntilMs  int64
	Provider string
	Model    string
	Endpoint string
	APIKeyID string
	Status   int
	Limit    int
	// Cursor is the last seen id from the previous page; rows with a
	// smaller id are returned (newest first).
	Cursor int64
}

const (
	defaultLogLimit = 100
	maxLogLimit     = 500
)

// QueryLogs returns matching rows newest first, plus the cursor for the
// next page (zero when exhausted).
func (s *Store) QueryLogs(f LogFilter) ([]RequestLog, int64, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	q := s.db.Model(&RequestLog{})
	if f.SinceMs > 0 {
		q = q.Where("timestamp >= ?", f.SinceMs)
	}
	if f.UntilMs > 0 {
		q = q.Where("timestamp <= ?", f.UntilMs)
	}
	if f.Provider != "" {
		q = q.Where("provider_id = ?", f.Provider)
	}
	if f.Model != "" {
		q = q.Where("model = ?", f.Model)
	}
	if f.Endpoint != "" {
		q = q.Where("endpoint = ?", f.Endpoint)
	}
	if f.APIKeyID != "" {
		q = q.Where("api_key_id = ?", f.APIKeyID)
	}
	if f.Status != 0 {
		q = q.Where("status = ?", f.Status)
	}
	if f.Cursor > 0 {
		q = q.Where("id < ?", f.Cursor)
	}

	var rows []RequestLog
	if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	var next int64
	if len(rows) == limit {
		next = rows[len(rows)-1].ID
	}
	return rows, next, nil
}

// LogDetail is one log row with its decompressed payloads.
type LogDetail struct {
	RequestLog
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`
}

// GetLog returns one row with payloads, or nil when absent.
func (s *Store) GetLog(id int64) (*LogDetail, error) {
	var rec RequestLog
	err := s.db.First(&rec, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	detail := &LogDetail{RequestLog: rec}
	var payload RequestPayload
	err = s.db.First(&payload, "log_id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return detail, nil
	}
	if err != nil {
		return nil, err
	}
	detail.Prompt = string(decompress(payload.Prompt))
	detail.Response = string(decompress(payload.Response))
	return detail, nil
}

// DeleteLogsBefore removes logs older than cutoffMs in one transaction;
// payload rows go with them via the foreign-key cascade. Returns the
// number of log rows deleted.
func (s *Store) DeleteLogsBefore(cutoffMs int64) (int64, error) {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()

	var deleted int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("timestamp < ?", cutoffMs).Delete(&RequestLog{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("retention sweep",
			zap.Int64("cutoffMs", cutoffMs),
			zap.Int64("deleted", deleted),
		)
	}
	return deleted, nil
}

// Sweep deletes logs older than retentionDays and records a maintenance
// event when rows were removed.
func (s *Store) Sweep(retentionDays int) (int64, error) {
	if retentionDays < 1 {
		retentionDays = 1
	}
	cutoff := time.Now().UnixMilli() - int64(retentionDays)*86400000
	deleted, err := s.DeleteLogsBefore(cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.InsertEventAsync(&GatewayEvent{
			Level:   EventLevelInfo,
			Type:    EventTypeMaintenance,
			Source:  "retention",
			Title:   "request logs pruned",
			Message: "removed logs past the retention window",
		})
	}
	return deleted, nil
}
