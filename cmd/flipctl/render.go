package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

var timeNow = time.Now

func poolRows(list []domain.PoolSummary) [][]string {
	rows := [][]string{{"ID", "Asset", "Status", "Players", "Entry fee", "Prize pool", "Round"}}
	for _, p := range list {
		rows = append(rows, []string{
			strconv.FormatUint(p.ID, 10),
			p.AssetSymbol,
			statusLabel(p.DisplayStatus),
			fmt.Sprintf("%d/%d", p.CurrentPlayers, p.MaxPlayers),
			domain.FormatToken(p.EntryFee),
			domain.FormatToken(p.PrizePool),
			strconv.FormatUint(p.CurrentRound, 10),
		})
	}
	return rows
}

func statusLabel(s domain.DisplayStatus) string {
	switch s {
	case domain.DisplayOpen:
		return pterm.LightGreen(string(s))
	case domain.DisplayFilling:
		return pterm.LightYellow(string(s))
	case domain.DisplayActive:
		return pterm.LightCyan(string(s))
	default:
		return pterm.Gray(string(s))
	}
}

func gameTitle(v domain.GameView) string {
	if v.GameInfo == nil {
		return fmt.Sprintf("Pool #%d", v.PoolID)
	}
	return fmt.Sprintf("Pool #%d · %s", v.PoolID, v.GameInfo.AssetSymbol)
}

func gameSummary(v domain.GameView) [][]string {
	rows := [][]string{
		{"Status", string(v.GameStatus)},
		{"Round", strconv.FormatUint(v.CurrentRound, 10)},
		{"Surviving players", strconv.FormatUint(v.SurvivingPlayers, 10)},
		{"Viewer", v.Viewer.Hex()},
		{"Selection", v.SelectedOption.String()},
		{"Outcome", string(v.Outcome)},
	}
	if v.GameInfo != nil {
		rows = append(rows, []string{"Prize pool", domain.FormatToken(v.GameInfo.PrizePool)})
	}
	if v.Eliminated {
		rows = append(rows, []string{"Eliminated", pterm.LightRed("yes")})
	}
	if v.Error != "" {
		rows = append(rows, []string{"Error", pterm.LightRed(v.Error)})
	}
	return rows
}

func roundRows(v domain.GameView) [][]string {
	rows := [][]string{{"Round", "Winning side", "Majority", "Winners", "Losers", "You"}}
	for _, r := range v.RoundResults {
		you := "-"
		switch {
		case r.Survived:
			you = pterm.LightGreen("survived")
		case r.IsLoser(v.Viewer):
			you = pterm.LightRed("eliminated")
		}
		rows = append(rows, []string{
			strconv.FormatUint(r.Round, 10),
			r.WinningChoice.String(),
			r.MajorityChoice.String(),
			strconv.Itoa(len(r.Winners)),
			strconv.Itoa(len(r.Losers)),
			you,
		})
	}
	return rows
}

func stakerRows(st domain.Staker, created []uint64, now time.Time) [][]string {
	unlock := "now"
	if !st.CanUnstake(now) {
		unlock = st.UnlocksAt().Local().Format(time.RFC1123)
		if st.ActivePoolsCount > 0 {
			unlock = fmt.Sprintf("after %d active pools finish", st.ActivePoolsCount)
		}
	}
	ids := make([]string, 0, len(created))
	for _, id := range created {
		ids = append(ids, "#"+strconv.FormatUint(id, 10))
	}
	pools := "none"
	if len(ids) > 0 {
		pools = fmt.Sprint(ids)
	}
	return [][]string{
		{"Staked", domain.FormatToken(st.StakedAmount)},
		{"Rewards", domain.FormatToken(st.TotalRewards)},
		{"Can create pools", strconv.FormatBool(st.CanCreatePools())},
		{"Unstake", unlock},
		{"Created pools", pools},
	}
}
