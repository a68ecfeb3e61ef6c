package reconcile

import (
	"waveScope/internal/model"
)

// selectPoolWinner picks which of the winner's entries in a pool round won.
// With a settlement stake, entries of that stake are preferred and the one
// created closest to the settlement time wins. Otherwise the most recent
// entry wins.
func selectPoolWinner(bets []model.Bet, s model.Settlement) (model.Bet, bool) {
	var candidates []model.Bet
	for _, bet := range bets {
		if bet.Address == s.Winner {
			candidates = append(candidates, bet)
		}
	}
	if len(candidates) == 0 {
		return model.Bet{}, false
	}

	if s.Stake != "" && s.Stake != "0" {
		var best model.Bet
		var bestGap int64 = -1
		for _, bet := range candidates {
			if bet.Stake != s.Stake {
				continue
			}
			gap := bet.CreatedAt.UnixMilli() - s.TimeMs
			if gap < 0 {
				gap = -gap
			}
			if bestGap < 0 || gap < bestGap {
				best, bestGap = bet, gap
			}
		}
		if bestGap >= 0 {
			return best, true
		}
	}

	latest := candidates[0]
	for _, bet := range candidates[1:] {
		if bet.CreatedAt.After(latest.CreatedAt) ||
			(bet.CreatedAt.Equal(latest.CreatedAt) && bet.LogIndex > latest.LogIndex) {
			latest = bet
		}
	}
	return latest, true
}
