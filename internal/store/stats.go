package store

import "time"

// Overview is the headline stats block for the dashboard.
type Overview struct {
	TotalRequests  int64   `json:"totalRequests"`
	TotalInput     int64   `json:"totalInputTokens"`
	TotalOutput    int64   `json:"totalOutputTokens"`
	TotalCached    int64   `json:"totalCachedTokens"`
	AvgLatencyMs   float64 `json:"avgLatencyMs"`
	RequestsToday  int64   `json:"requestsToday"`
	ErrorsToday    int64   `json:"errorsToday"`
	ActiveKeyCount int64   `json:"activeKeyCount"`
}

// StatsOverview aggregates the daily rollups plus today's error count.
func (s *Store) StatsOverview() (*Overview, error) {
	var o Overview
	type sums struct {
		Requests int64
		Input    int64
		Output   int64
		Cached   int64
		Latency  int64
	}
	var total sums
	err := s.db.Model(&DailyMetric{}).
		Select("COALESCE(SUM(request_count),0) AS requests, COALESCE(SUM(input_tokens),0) AS input, COALESCE(SUM(output_tokens),0) AS output, COALESCE(SUM(cached_tokens),0) AS cached, COALESCE(SUM(latency_sum_ms),0) AS latency").
		Scan(&total).Error
	if err != nil {
		return nil, err
	}
	o.TotalRequests = total.Requests
	o.TotalInput = total.Input
	o.TotalOutput = total.Output
	o.TotalCached = total.Cached
	if total.Requests > 0 {
		o.AvgLatencyMs = float64(total.Latency) / float64(total.Requests)
	}

	today := time.Now().Format("2006-01-02")
	var todaySum sums
	err = s.db.Model(&DailyMetric{}).Where("date = ?", today).
		Select("COALESCE(SUM(request_count),0) AS requests").
		Scan(&todaySum).Error
	if err != nil {
		return nil, err
	}
	o.RequestsToday = todaySum.Requests

	dayStart := time.Now().Truncate(24 * time.Hour).UnixMilli()
	if err := s.db.Model(&RequestLog{}).
		Where("timestamp >= ? AND status >= 400", dayStart).
		Count(&o.ErrorsToday).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&APIKey{}).
		Where("enabled = ? AND wildcard = ?", true, false).
		Count(&o.ActiveKeyCount).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// StatsDaily returns the per-day per-endpoint rollups for the last n days,
// oldest first.
func (s *Store) StatsDaily(days int) ([]DailyMetric, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days).Format("2006-01-02")
	var rows []DailyMetric
	err := s.db.Where("date >= ?", since).
		Order("date ASC, endpoint ASC").
		Find(&rows).Error
	return rows, err
}

// ModelStat aggregates request logs by provider and upstream model.
type ModelStat struct {
	ProviderID   string  `json:"providerId"`
	Model        string  `json:"model"`
	Requests     int64   `json:"requests"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	AvgTTFTMs    float64 `json:"avgTtftMs"`
}

// StatsByModel aggregates the last n days of request logs per model.
func (s *Store) StatsByModel(days int) ([]ModelStat, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days).UnixMilli()
	var rows []ModelStat
	err := s.db.Model(&RequestLog{}).
		Select(`provider_id, model,
			COUNT(*) AS requests,
			COALESCE(SUM(input_tokens),0) AS input_tokens,
			COALESCE(SUM(output_tokens),0) AS output_tokens,
			COALESCE(AVG(latency_ms),0) AS avg_latency_ms,
			COALESCE(AVG(CASE WHEN ttft_ms > 0 THEN ttft_ms END),0) AS avg_ttft_ms`).
		Where("timestamp >= ?", since).
		Group("provider_id, model").
		Order("requests DESC").
		Scan(&rows).Error
	return rows, err
}
