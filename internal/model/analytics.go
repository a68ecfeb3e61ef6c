package model

import "time"

type DailyStat struct {
	Date   string  `json:"date"`
	Bets   int     `json:"bets"`
	Wins   int     `json:"wins"`
	Volume float64 `json:"volume"`
}

type GameTypeStat struct {
	Kind  GameKind `json:"kind"`
	Name  string   `json:"name"`
	Value int      `json:"value"`
}

type GrowthPoint struct {
	Month string `json:"month"`
	Users int    `json:"users"`
}

type LiveStats struct {
	BetsToday int     `json:"bets_today"`
	WinsToday int     `json:"wins_today"`
	WinRate   float64 `json:"win_rate"`
}

// AnalyticsSnapshot is replaced wholesale on every recompute.
type AnalyticsSnapshot struct {
	DailyStats []DailyStat    `json:"daily_stats"`
	GameTypes  []GameTypeStat `json:"game_types"`
	UserGrowth []GrowthPoint  `json:"user_growth"`
	Live       LiveStats      `json:"live"`
	WindowDays int            `json:"window_days"`
	ComputedAt time.Time      `json:"computed_at"`
}
