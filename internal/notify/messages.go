package notify

import (
	"fmt"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// Message is a rendered notification.
type Message struct {
	Event string
	Title string
	Body  string
}

// Eliminated reports the viewer losing a round.
func Eliminated(pool domain.Pool, res domain.RoundResult) Message {
	return Message{
		Event: EventEliminated,
		Title: fmt.Sprintf("Eliminated in pool #%d", pool.ID),
		Body: fmt.Sprintf("%s round %d went %s; the majority picked %s.",
			pool.AssetSymbol, res.Round, res.WinningChoice, res.MajorityChoice),
	}
}

// Survived reports the viewer winning a round.
func Survived(pool domain.Pool, res domain.RoundResult) Message {
	return Message{
		Event: EventSurvived,
		Title: fmt.Sprintf("Survived round %d in pool #%d", res.Round, pool.ID),
		Body: fmt.Sprintf("%s: %s was the minority. %d of %d players remain.",
			pool.AssetSymbol, res.WinningChoice, len(res.Winners), len(res.Winners)+len(res.Losers)),
	}
}

// Won reports a finished pool the viewer won.
func Won(pool domain.Pool) Message {
	return Message{
		Event: EventWon,
		Title: fmt.Sprintf("Pool #%d won", pool.ID),
		Body:  fmt.Sprintf("%s pool finished. Prize pool %s is claimable.", pool.AssetSymbol, domain.FormatToken(pool.PrizePool)),
	}
}

// PoolActive reports a pool that filled up and started.
func PoolActive(pool domain.Pool) Message {
	return Message{
		Event: EventPoolActive,
		Title: fmt.Sprintf("Pool #%d is active", pool.ID),
		Body: fmt.Sprintf("%s pool filled with %d/%d players. Prize pool %s.",
			pool.AssetSymbol, pool.CurrentPlayers, pool.MaxPlayers, domain.FormatToken(pool.PrizePool)),
	}
}

// WriteFailed reports a selection write that was rolled back.
func WriteFailed(poolID uint64, choice domain.Choice, round uint64, err error) Message {
	return Message{
		Event: EventWriteFailed,
		Title: fmt.Sprintf("Selection failed in pool #%d", poolID),
		Body:  fmt.Sprintf("Choosing %s for round %d failed: %v", choice, round, err),
	}
}
