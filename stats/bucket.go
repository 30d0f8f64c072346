// Package stats summarizes a player's round history into per mode and length
// buckets. It has no state; callers pass the full history on every call.
package stats

import (
	"math"
	"time"

	"jantaku-lite/mahjong"
)

// Key identifies one bucket.
type Key struct {
	Mode   mahjong.Mode   `json:"mode"`
	Length mahjong.Length `json:"length"`
}

// Keys is the fixed bucket order used for display.
var Keys = []Key{
	{Mode: mahjong.ModeYonma, Length: mahjong.LengthHanchan},
	{Mode: mahjong.ModeYonma, Length: mahjong.LengthTonpu},
	{Mode: mahjong.ModeSanma, Length: mahjong.LengthHanchan},
	{Mode: mahjong.ModeSanma, Length: mahjong.LengthTonpu},
}

type Bucket struct {
	Key
	// Empty is set when the bucket has no games; every metric is then zero.
	Empty              bool      `json:"empty"`
	TotalGames         int       `json:"total_games"`
	AvgRank            float64   `json:"avg_rank"`
	RankRates          []float64 `json:"rank_rates"`
	AvgScore           float64   `json:"avg_score"`
	TotalScore         int64     `json:"total_score"`
	HandsTotal         int64     `json:"hands_total"`
	AgariRate          float64   `json:"agari_rate"`
	AvgAgari           float64   `json:"avg_agari"`
	DealInRate         float64   `json:"deal_in_rate"`
	AvgDealIn          float64   `json:"avg_deal_in"`
	RiichiRate         float64   `json:"riichi_rate"`
	FuroRate           float64   `json:"furo_rate"`
	YakumanCount       int64     `json:"yakuman_count"`
	DoubleYakumanCount int64     `json:"double_yakuman_count"`
	Deviation          float64   `json:"deviation"`
	LastPlayed         time.Time `json:"last_played,omitempty"`
}

// RankRate returns the share of games finished at rank k, 0 for ranks the
// mode does not have.
func (b Bucket) RankRate(k int) float64 {
	if k < 1 || k > len(b.RankRates) {
		return 0
	}
	return b.RankRates[k-1]
}

// Summary holds the four buckets in Keys order.
type Summary struct {
	Buckets []Bucket `json:"buckets"`
}

func (s Summary) Bucket(k Key) Bucket {
	for _, b := range s.Buckets {
		if b.Key == k {
			return b
		}
	}
	return emptyBucket(k)
}

// Compute aggregates history into the four buckets. Rows with a mode or
// length outside the fixed set, or without a final rank, are ignored.
func Compute(history []mahjong.RoundStat, cals mahjong.Calibrations) Summary {
	grouped := make(map[Key][]mahjong.RoundStat, len(Keys))
	for _, row := range history {
		if row.Rank < 1 || row.Rank > row.Mode.SeatCount() {
			continue
		}
		k := Key{Mode: row.Mode, Length: row.Length}
		if !k.Length.Valid() {
			continue
		}
		grouped[k] = append(grouped[k], row)
	}

	out := Summary{Buckets: make([]Bucket, 0, len(Keys))}
	for _, k := range Keys {
		out.Buckets = append(out.Buckets, compute(k, grouped[k], cals.For(k.Mode)))
	}
	return out
}

func emptyBucket(k Key) Bucket {
	return Bucket{Key: k, Empty: true, RankRates: make([]float64, k.Mode.SeatCount())}
}

func compute(k Key, rows []mahjong.RoundStat, cal mahjong.Calibration) Bucket {
	if len(rows) == 0 {
		return emptyBucket(k)
	}

	seats := k.Mode.SeatCount()
	rankCounts := make([]int, seats)
	var (
		rankSum     int
		agari       int64
		agariPoints int64
		dealIn      int64
		dealInPts   int64
		riichi      int64
		furo        int64
	)
	b := Bucket{Key: k, TotalGames: len(rows), RankRates: make([]float64, seats)}
	for _, r := range rows {
		rankSum += r.Rank
		rankCounts[r.Rank-1]++
		b.TotalScore += r.Score
		b.HandsTotal += r.HandsPlayed
		agari += r.AgariCount
		agariPoints += r.AgariPointTotal
		dealIn += r.DealInCount
		dealInPts += r.DealInPointTotal
		riichi += r.RiichiCount
		furo += r.FuroCount
		b.YakumanCount += r.YakumanCount
		b.DoubleYakumanCount += r.DoubleYakumanCount
		if r.UpdatedAt.After(b.LastPlayed) {
			b.LastPlayed = r.UpdatedAt
		}
	}

	n := float64(len(rows))
	b.AvgRank = float64(rankSum) / n
	for i, c := range rankCounts {
		b.RankRates[i] = float64(c) / n
	}
	b.AvgScore = float64(b.TotalScore) / n
	b.AgariRate = ratio(agari, b.HandsTotal)
	b.AvgAgari = ratio(agariPoints, agari)
	b.DealInRate = ratio(dealIn, b.HandsTotal)
	b.AvgDealIn = ratio(dealInPts, dealIn)
	b.RiichiRate = ratio(riichi, b.HandsTotal)
	b.FuroRate = ratio(furo, b.HandsTotal)
	b.Deviation = Deviation(b.AvgRank, cal)
	return b
}

// Deviation maps an average rank onto a 50-centered index, one decimal.
func Deviation(avgRank float64, cal mahjong.Calibration) float64 {
	if cal.AvgRankSpread == 0 {
		return 0
	}
	v := 50 + 10*(cal.BaselineAvgRank-avgRank)/cal.AvgRankSpread
	return math.Round(v*10) / 10
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
