package mahjong

import "time"

// Mode is the table seat count class.
type Mode string

const (
	ModeSanma Mode = "sanma" // 3 players
	ModeYonma Mode = "yonma" // 4 players
)

// Length is the round length class.
type Length string

const (
	LengthTonpu   Length = "tonpu"   // east only
	LengthHanchan Length = "hanchan" // east + south
)

// Position is a seat on the table, one of the compass winds.
type Position string

const (
	PositionEast  Position = "east"
	PositionSouth Position = "south"
	PositionWest  Position = "west"
	PositionNorth Position = "north"
)

var allPositions = []Position{PositionEast, PositionSouth, PositionWest, PositionNorth}

// TableStatus moves waiting -> playing on start and back when the table empties.
type TableStatus string

const (
	TableStatusWaiting TableStatus = "waiting"
	TableStatusPlaying TableStatus = "playing"
)

// RoundStatus is explicit; a round is complete once every seeded stat row was submitted.
type RoundStatus string

const (
	RoundStatusOpen     RoundStatus = "open"
	RoundStatusComplete RoundStatus = "complete"
)

func (m Mode) Valid() bool { return m == ModeSanma || m == ModeYonma }

func (l Length) Valid() bool { return l == LengthTonpu || l == LengthHanchan }

// SeatCount returns 3 for sanma and 4 for yonma, 0 for an unknown mode.
func (m Mode) SeatCount() int {
	switch m {
	case ModeSanma:
		return 3
	case ModeYonma:
		return 4
	default:
		return 0
	}
}

// Positions returns the ordered positions available for the mode.
func (m Mode) Positions() []Position {
	n := m.SeatCount()
	out := make([]Position, n)
	copy(out, allPositions[:n])
	return out
}

// HasPosition reports whether p is a seat of a table in mode m.
func (m Mode) HasPosition(p Position) bool {
	return p.Index() >= 0 && p.Index() < m.SeatCount()
}

// Index is the order of the position around the table, -1 if unknown.
func (p Position) Index() int {
	for i, candidate := range allPositions {
		if candidate == p {
			return i
		}
	}
	return -1
}

type Table struct {
	ID        uint64      `json:"id"`
	RoomID    string      `json:"room_id"`
	Name      string      `json:"name"`
	Mode      Mode        `json:"mode"`
	Length    Length      `json:"length"`
	Uma       []int64     `json:"uma"`
	Status    TableStatus `json:"status"`
	CreatedBy uint64      `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
}

// Seat is one occupied position.
type Seat struct {
	TableID     uint64     `json:"table_id"`
	Position    Position   `json:"position"`
	Occupant    OccupantID `json:"occupant"`
	DisplayName string     `json:"display_name"`
	SeatedAt    time.Time  `json:"seated_at"`
}

type Round struct {
	ID        uint64      `json:"id"`
	TableID   uint64      `json:"table_id"`
	Number    int         `json:"number"`
	Status    RoundStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// Counters are the per-round tallies an occupant reports.
type Counters struct {
	AgariCount         int64 `json:"agari_count"`
	AgariPointTotal    int64 `json:"agari_point_total"`
	DealInCount        int64 `json:"deal_in_count"`
	DealInPointTotal   int64 `json:"deal_in_point_total"`
	RiichiCount        int64 `json:"riichi_count"`
	FuroCount          int64 `json:"furo_count"`
	HandsPlayed        int64 `json:"hands_played"`
	YakumanCount       int64 `json:"yakuman_count"`
	DoubleYakumanCount int64 `json:"double_yakuman_count"`
}

// RoundStat is one occupant's result for one round.
type RoundStat struct {
	ID        uint64     `json:"id"`
	RoundID   uint64     `json:"round_id"`
	Occupant  OccupantID `json:"occupant"`
	Mode      Mode       `json:"mode"`
	Length    Length     `json:"length"`
	Rank      int        `json:"rank"`
	Point     int64      `json:"point"`
	Score     int64      `json:"score"`
	Chip      int64      `json:"chip"`
	Counters
	Submitted bool      `json:"submitted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoundWithStats is a round plus every stat row seeded for it.
type RoundWithStats struct {
	Round
	Stats []RoundStat `json:"stats"`
}

// StatFor returns the row of occupant in the round.
func (r RoundWithStats) StatFor(occupant OccupantID) (RoundStat, bool) {
	for _, s := range r.Stats {
		if s.Occupant == occupant {
			return s, true
		}
	}
	return RoundStat{}, false
}

type BonusOverride struct {
	TableID   uint64     `json:"table_id"`
	Occupant  OccupantID `json:"occupant"`
	Amount    int64      `json:"amount"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Member is a seated occupant as shown on the score sheet.
type Member struct {
	ID   OccupantID `json:"id"`
	Name string     `json:"name"`
}
