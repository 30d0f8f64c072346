// Package scoresheet builds the running score table of a mahjong table from
// its seated members, round results and bonus overrides. Everything here is
// pure: the sheet is recomputed in full on every change.
package scoresheet

import (
	"fmt"
	"sort"

	"jantaku-lite/mahjong"
)

const (
	LabelLatest         = "Latest score"
	LabelTotal          = "Total score"
	LabelBonus          = "Bonus"
	LabelTotalWithBonus = "Total + bonus"
)

type Values map[mahjong.OccupantID]int64

// RoundRow is one round's score per member.
type RoundRow struct {
	Number int    `json:"number"`
	Scores Values `json:"scores"`
}

type Sheet struct {
	Members        []mahjong.Member           `json:"members"`
	LatestScore    Values                     `json:"latest_score"`
	LatestRank     map[mahjong.OccupantID]int `json:"latest_rank"`
	TotalScore     Values                     `json:"total_score"`
	Bonus          Values                     `json:"bonus"`
	TotalWithBonus Values                     `json:"total_with_bonus"`
	Rounds         []RoundRow                 `json:"rounds"`
}

// Row is a labeled line of the rendered sheet.
type Row struct {
	Label  string `json:"label"`
	Values Values `json:"values"`
}

// Compute builds the sheet. Inputs are not modified. Rounds may arrive in any
// order; rounds sharing a number are merged.
func Compute(members []mahjong.Member, rounds []mahjong.RoundWithStats, bonuses map[mahjong.OccupantID]int64) Sheet {
	merged := mergeRounds(rounds)

	sheet := Sheet{
		Members:        append([]mahjong.Member(nil), members...),
		LatestScore:    make(Values, len(members)),
		LatestRank:     make(map[mahjong.OccupantID]int, len(members)),
		TotalScore:     make(Values, len(members)),
		Bonus:          make(Values, len(members)),
		TotalWithBonus: make(Values, len(members)),
		Rounds:         make([]RoundRow, 0, len(merged)),
	}

	for _, m := range members {
		// newest round first, first hit wins
		for i := len(merged) - 1; i >= 0; i-- {
			if s, ok := merged[i].stats[m.ID]; ok {
				sheet.LatestScore[m.ID] = s.Score
				sheet.LatestRank[m.ID] = s.Rank
				break
			}
		}
		if _, ok := sheet.LatestScore[m.ID]; !ok {
			sheet.LatestScore[m.ID] = 0
			sheet.LatestRank[m.ID] = 0
		}

		var total int64
		for _, r := range merged {
			if s, ok := r.stats[m.ID]; ok {
				total += s.Score
			}
		}
		sheet.TotalScore[m.ID] = total

		bonus := bonuses[m.ID]
		sheet.Bonus[m.ID] = bonus
		sheet.TotalWithBonus[m.ID] = total + bonus
	}

	for _, r := range merged {
		row := RoundRow{Number: r.number, Scores: make(Values, len(members))}
		for _, m := range members {
			row.Scores[m.ID] = r.stats[m.ID].Score
		}
		sheet.Rounds = append(sheet.Rounds, row)
	}
	return sheet
}

// Rows renders the sheet in display order: latest, total, bonus,
// total with bonus, then one line per round.
func (s Sheet) Rows() []Row {
	rows := []Row{
		{Label: LabelLatest, Values: s.LatestScore},
		{Label: LabelTotal, Values: s.TotalScore},
		{Label: LabelBonus, Values: s.Bonus},
		{Label: LabelTotalWithBonus, Values: s.TotalWithBonus},
	}
	for _, r := range s.Rounds {
		rows = append(rows, Row{Label: RoundLabel(r.Number), Values: r.Scores})
	}
	return rows
}

func RoundLabel(number int) string {
	return fmt.Sprintf("Round %d", number)
}

type mergedRound struct {
	number int
	stats  map[mahjong.OccupantID]mahjong.RoundStat
}

func mergeRounds(rounds []mahjong.RoundWithStats) []mergedRound {
	byNumber := make(map[int]*mergedRound, len(rounds))
	order := make([]int, 0, len(rounds))
	for _, r := range rounds {
		mr, ok := byNumber[r.Number]
		if !ok {
			mr = &mergedRound{number: r.Number, stats: make(map[mahjong.OccupantID]mahjong.RoundStat, len(r.Stats))}
			byNumber[r.Number] = mr
			order = append(order, r.Number)
		}
		for _, s := range r.Stats {
			if _, seen := mr.stats[s.Occupant]; !seen {
				mr.stats[s.Occupant] = s
			}
		}
	}
	sort.Ints(order)

	out := make([]mergedRound, 0, len(order))
	for _, n := range order {
		out = append(out, *byNumber[n])
	}
	return out
}
