package domain

import "time"

// LeaderboardEntry is one participant's standing, derived from the ledger
type LeaderboardEntry struct {
	Rank        int64            `json:"rank"`
	AccountID   int64            `json:"id"`
	DisplayName string           `json:"display_name"`
	Pledge      int64            `json:"pledge"`
	TotalMeters int64            `json:"total_meters"`
	Daily       map[string]int64 `json:"daily"`
	Activities  []Activity       `json:"activities"`
}

// Leaderboard is the computed campaign view
type Leaderboard struct {
	Start           string             `json:"start"`
	End             string             `json:"end"`
	Entries         []LeaderboardEntry `json:"leaderboard"`
	ClubTotalMeters int64              `json:"club_total_meters"`
	ClubTotalPledge int64              `json:"club_total_pledge"`
	ClubDailyTotals map[string]int64   `json:"club_daily_totals"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// Entry returns the entry for an account, if present
func (l *Leaderboard) Entry(accountID int64) (*LeaderboardEntry, bool) {
	for i := range l.Entries {
		if l.Entries[i].AccountID == accountID {
			return &l.Entries[i], true
		}
	}
	return nil, false
}
