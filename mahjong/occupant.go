package mahjong

import (
	"fmt"
	"strconv"
	"strings"
)

// OccupantID identifies whoever holds a seat: a real account ("user:<id>")
// or a server-created placeholder ("bot:<n>").
type OccupantID string

const (
	userPrefix = "user:"
	botPrefix  = "bot:"
)

func UserOccupant(accountID uint64) OccupantID {
	return OccupantID(userPrefix + strconv.FormatUint(accountID, 10))
}

func BotOccupant(n uint64) OccupantID {
	return OccupantID(botPrefix + strconv.FormatUint(n, 10))
}

func (o OccupantID) IsBot() bool { return strings.HasPrefix(string(o), botPrefix) }

// AccountID returns the account behind a user occupant.
func (o OccupantID) AccountID() (uint64, bool) {
	raw, ok := strings.CutPrefix(string(o), userPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// ParseOccupant validates the wire form of an occupant id.
func ParseOccupant(raw string) (OccupantID, error) {
	raw = strings.TrimSpace(raw)
	for _, prefix := range []string{userPrefix, botPrefix} {
		rest, ok := strings.CutPrefix(raw, prefix)
		if !ok {
			continue
		}
		if n, err := strconv.ParseUint(rest, 10, 64); err != nil || n == 0 {
			break
		}
		return OccupantID(raw), nil
	}
	return "", NewValidationError("occupant", fmt.Sprintf("malformed occupant id %q", raw))
}

// BotName is the display name given to placeholder occupants.
func BotName(position Position) string {
	return "BOT (" + string(position) + ")"
}
