package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"waveScope/internal/model"
	"waveScope/internal/numeric"
	"waveScope/internal/storage"
)

const (
	MinDays     = 1
	MaxDays     = 90
	DefaultDays = 7

	growthMonths = 6
	dayLayout    = "2006-01-02"
	monthLayout  = "2006-01"
)

// ClampDays bounds a requested window to [MinDays, MaxDays].
func ClampDays(days int) int {
	switch {
	case days < MinDays:
		return MinDays
	case days > MaxDays:
		return MaxDays
	default:
		return days
	}
}

// Compute builds a snapshot for the days-long window ending today in loc.
// Days start at local midnight; the first bucket is days-1 days before today.
func Compute(ctx context.Context, src storage.HistorySource, days int, now time.Time, loc *time.Location) (model.AnalyticsSnapshot, error) {
	if loc == nil {
		loc = time.UTC
	}
	days = ClampDays(days)
	now = now.In(loc)

	today := startOfDay(now)
	windowStart := today.AddDate(0, 0, -(days - 1))
	growthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, -(growthMonths - 1), 0)

	since := windowStart
	if growthStart.Before(since) {
		since = growthStart
	}
	history, err := src.HistorySince(ctx, since.UnixMilli())
	if err != nil {
		return model.AnalyticsSnapshot{}, fmt.Errorf("load win history: %w", err)
	}
	betTimes, err := src.BetTimesSince(ctx, windowStart)
	if err != nil {
		return model.AnalyticsSnapshot{}, fmt.Errorf("load bet times: %w", err)
	}

	daily := make([]model.DailyStat, days)
	dayIndex := make(map[string]int, days)
	for i := range daily {
		key := windowStart.AddDate(0, 0, i).Format(dayLayout)
		daily[i] = model.DailyStat{Date: key}
		dayIndex[key] = i
	}

	monthKeys := make([]string, growthMonths)
	growth := make([]model.GrowthPoint, growthMonths)
	monthUsers := make(map[string]map[string]struct{}, growthMonths)
	for i := range growth {
		month := growthStart.AddDate(0, i, 0)
		monthKeys[i] = month.Format(monthLayout)
		growth[i] = model.GrowthPoint{Month: month.Format("Jan")}
		monthUsers[monthKeys[i]] = make(map[string]struct{})
	}

	kindCounts := make(map[model.GameKind]int)
	var live model.LiveStats

	for _, row := range history {
		if row.EventTimeMs <= 0 {
			continue
		}
		at := time.UnixMilli(row.EventTimeMs).In(loc)

		if users, ok := monthUsers[at.Format(monthLayout)]; ok && !at.Before(growthStart) {
			users[row.Address] = struct{}{}
		}
		if at.Before(windowStart) {
			continue
		}
		if i, ok := dayIndex[at.Format(dayLayout)]; ok {
			daily[i].Wins++
			daily[i].Volume += numeric.ToSafeNumber(row.Stake)
		}
		kindCounts[row.GameKind]++
		if !at.Before(today) {
			live.WinsToday++
		}
	}

	for _, t := range betTimes {
		at := t.In(loc)
		if at.Before(windowStart) {
			continue
		}
		if i, ok := dayIndex[at.Format(dayLayout)]; ok {
			daily[i].Bets++
		}
		if !at.Before(today) {
			live.BetsToday++
		}
	}
	if live.BetsToday > 0 {
		live.WinRate = math.Round(float64(live.WinsToday)/float64(live.BetsToday)*1000) / 10
	}

	for i, key := range monthKeys {
		growth[i].Users = len(monthUsers[key])
	}

	return model.AnalyticsSnapshot{
		DailyStats: daily,
		GameTypes:  gameTypes(kindCounts),
		UserGrowth: growth,
		Live:       live,
		WindowDays: days,
		ComputedAt: now.UTC(),
	}, nil
}

func gameTypes(counts map[model.GameKind]int) []model.GameTypeStat {
	out := make([]model.GameTypeStat, 0, len(counts))
	for kind, n := range counts {
		out = append(out, model.GameTypeStat{Kind: kind, Name: kind.Label(), Value: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
