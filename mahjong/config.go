package mahjong

import (
	"fmt"
	"strings"
)

// TableConfig is what a creator chooses when opening a table.
type TableConfig struct {
	RoomID string
	Name   string
	Mode   Mode
	Length Length
	// Uma is the rank-point payout, one entry per final rank.
	Uma []int64
}

func (c TableConfig) Validate() error {
	if strings.TrimSpace(c.RoomID) == "" {
		return NewValidationError("room_id", "must not be empty")
	}
	if name := strings.TrimSpace(c.Name); name == "" || len([]rune(name)) > 64 {
		return NewValidationError("name", "must be 1-64 characters")
	}
	if !c.Mode.Valid() {
		return NewValidationError("mode", fmt.Sprintf("unknown mode %q", c.Mode))
	}
	if !c.Length.Valid() {
		return NewValidationError("length", fmt.Sprintf("unknown length %q", c.Length))
	}
	if len(c.Uma) != c.Mode.SeatCount() {
		return NewValidationError("uma", fmt.Sprintf("need %d entries for %s, got %d", c.Mode.SeatCount(), c.Mode, len(c.Uma)))
	}
	var sum int64
	for _, v := range c.Uma {
		sum += v
	}
	if sum != 0 {
		return NewValidationError("uma", fmt.Sprintf("entries must sum to zero, got %d", sum))
	}
	return nil
}

// Calibration holds the reference average rank and its spread used by the
// deviation index. Defaults are the empirical values for a 4-player round.
type Calibration struct {
	BaselineAvgRank float64 `yaml:"baseline_avg_rank" json:"baseline_avg_rank"`
	AvgRankSpread   float64 `yaml:"avg_rank_spread" json:"avg_rank_spread"`
}

const (
	DefaultBaselineAvgRank = 2.491
	DefaultAvgRankSpread   = 0.0705
)

func DefaultCalibration() Calibration {
	return Calibration{BaselineAvgRank: DefaultBaselineAvgRank, AvgRankSpread: DefaultAvgRankSpread}
}

func (c Calibration) Validate() error {
	if c.BaselineAvgRank <= 0 {
		return NewValidationError("baseline_avg_rank", "must be > 0")
	}
	if c.AvgRankSpread <= 0 {
		return NewValidationError("avg_rank_spread", "must be > 0")
	}
	return nil
}

// Calibrations maps a mode to its deviation constants.
type Calibrations map[Mode]Calibration

func DefaultCalibrations() Calibrations {
	return Calibrations{
		ModeYonma: DefaultCalibration(),
		ModeSanma: DefaultCalibration(),
	}
}

// For falls back to the default constants for modes without an entry.
func (c Calibrations) For(mode Mode) Calibration {
	if cal, ok := c[mode]; ok {
		return cal
	}
	return DefaultCalibration()
}

// StatPatch carries the fields a player submits for their own row. Nil
// fields are left untouched.
type StatPatch struct {
	Rank               *int   `json:"rank,omitempty"`
	Point              *int64 `json:"point,omitempty"`
	Score              *int64 `json:"score,omitempty"`
	Chip               *int64 `json:"chip,omitempty"`
	AgariCount         *int64 `json:"agari_count,omitempty"`
	AgariPointTotal    *int64 `json:"agari_point_total,omitempty"`
	DealInCount        *int64 `json:"deal_in_count,omitempty"`
	DealInPointTotal   *int64 `json:"deal_in_point_total,omitempty"`
	RiichiCount        *int64 `json:"riichi_count,omitempty"`
	FuroCount          *int64 `json:"furo_count,omitempty"`
	HandsPlayed        *int64 `json:"hands_played,omitempty"`
	YakumanCount       *int64 `json:"yakuman_count,omitempty"`
	DoubleYakumanCount *int64 `json:"double_yakuman_count,omitempty"`
}

func (p StatPatch) IsEmpty() bool {
	return p.Rank == nil && p.Point == nil && p.Score == nil && p.Chip == nil &&
		p.AgariCount == nil && p.AgariPointTotal == nil && p.DealInCount == nil &&
		p.DealInPointTotal == nil && p.RiichiCount == nil && p.FuroCount == nil &&
		p.HandsPlayed == nil && p.YakumanCount == nil && p.DoubleYakumanCount == nil
}

// Validate checks the patch against the seat count of the table it targets.
func (p StatPatch) Validate(seatCount int) error {
	if err := p.CheckFields(); err != nil {
		return err
	}
	if p.Rank != nil && *p.Rank > seatCount {
		return NewValidationError("rank", fmt.Sprintf("must be between 1 and %d", seatCount))
	}
	return nil
}

// CheckFields runs every check that does not depend on the row's mode:
// an empty patch, a rank below 1 and negative counters.
func (p StatPatch) CheckFields() error {
	if p.IsEmpty() {
		return NewValidationError("", "no fields supplied")
	}
	if p.Rank != nil && *p.Rank < 1 {
		return NewValidationError("rank", "must be at least 1")
	}
	counters := []struct {
		name string
		v    *int64
	}{
		{"agari_count", p.AgariCount},
		{"agari_point_total", p.AgariPointTotal},
		{"deal_in_count", p.DealInCount},
		{"deal_in_point_total", p.DealInPointTotal},
		{"riichi_count", p.RiichiCount},
		{"furo_count", p.FuroCount},
		{"hands_played", p.HandsPlayed},
		{"yakuman_count", p.YakumanCount},
		{"double_yakuman_count", p.DoubleYakumanCount},
	}
	for _, c := range counters {
		if c.v != nil && *c.v < 0 {
			return NewValidationError(c.name, "must be >= 0")
		}
	}
	return nil
}

// Apply merges the supplied fields into s. A rank marks the row submitted.
func (p StatPatch) Apply(s *RoundStat) {
	if p.Rank != nil {
		s.Rank = *p.Rank
		s.Submitted = true
	}
	setInt64(&s.Point, p.Point)
	setInt64(&s.Score, p.Score)
	setInt64(&s.Chip, p.Chip)
	setInt64(&s.AgariCount, p.AgariCount)
	setInt64(&s.AgariPointTotal, p.AgariPointTotal)
	setInt64(&s.DealInCount, p.DealInCount)
	setInt64(&s.DealInPointTotal, p.DealInPointTotal)
	setInt64(&s.RiichiCount, p.RiichiCount)
	setInt64(&s.FuroCount, p.FuroCount)
	setInt64(&s.HandsPlayed, p.HandsPlayed)
	setInt64(&s.YakumanCount, p.YakumanCount)
	setInt64(&s.DoubleYakumanCount, p.DoubleYakumanCount)
}

func setInt64(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}
