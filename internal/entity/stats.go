package entity

import "time"

// DailyCallStats is the pre-aggregated rollup row, unique per (company, date).
type DailyCallStats struct {
	CompanyID     string         `json:"company_id"`
	Date          string         `json:"date"`
	TotalCalls    int            `json:"total_calls"`
	ByOutcome     map[string]int `json:"by_outcome"`
	ByTier        map[string]int `json:"by_tier"`
	ByIntent      map[string]int `json:"by_intent"`
	HourlyVolume  [24]int        `json:"hourly_volume"`
	BookedCount   int            `json:"booked_count"`
	EscalatedRate float64        `json:"escalated_rate"`
	ComputedAt    time.Time      `json:"computed_at"`
}
