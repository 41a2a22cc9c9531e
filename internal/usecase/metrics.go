package usecase

import (
	"context"
	"math"
)

// SessionSummary aggregates the readings of the current session.
type SessionSummary struct {
	TotalReadings  int64            `json:"total_readings"`
	ByStatus       map[string]int64 `json:"by_status"`
	MinTemperature *float64         `json:"min_temperature"`
	MaxTemperature *float64         `json:"max_temperature"`
	AvgTemperature *float64         `json:"avg_temperature"`
}

// Summary aggregates session readings per status into overall figures.
// Temperature fields are nil for an empty session.
func (s *HistoryService) Summary(ctx context.Context) (*SessionSummary, error) {
	aggregates, err := s.local.AggregateByStatus(ctx)
	if err != nil {
		return nil, err
	}

	summary := &SessionSummary{ByStatus: map[string]int64{}}
	if len(aggregates) == 0 {
		return summary, nil
	}

	minTemp, maxTemp := math.Inf(1), math.Inf(-1)
	var weightedSum float64
	for _, a := range aggregates {
		summary.TotalReadings += a.Count
		summary.ByStatus[a.Status] = a.Count
		minTemp = math.Min(minTemp, a.MinTemp)
		maxTemp = math.Max(maxTemp, a.MaxTemp)
		weightedSum += a.AvgTemp * float64(a.Count)
	}

	summary.MinTemperature = &minTemp
	summary.MaxTemperature = &maxTemp
	if summary.TotalReadings > 0 {
		avg := math.Round(weightedSum/float64(summary.TotalReadings)*100) / 100
		summary.AvgTemperature = &avg
	}
	return summary, nil
}
