package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the human-readable date_created format sent on the wire
// (month-abbrev day-year hour:minute, 24-hour).
const DateLayout = "Jan-02-2006 15:04"

// ID identifies users and chat messages. Zero means absent.
// ARCHITECTURAL DISCOVERY: Clients send identifiers both as JSON numbers and
// as numeric strings, so decoding accepts either form
type ID int64

// UnmarshalJSON accepts a JSON number, a numeric string or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ErrInvalidIdentifier
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*id = 0
			return nil
		}
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return ErrInvalidIdentifier
	}
	*id = ID(v)
	return nil
}

// IsZero reports whether the identifier is absent.
func (id ID) IsZero() bool {
	return id == 0
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseID parses a decimal identifier, as found in URLs and CLI flags.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return 0, ErrInvalidIdentifier
	}
	return ID(v), nil
}

// User is a directory entry for someone allowed to chat.
type User struct {
	ID        ID        `json:"id" db:"id" validate:"required,gt=0"`
	Username  string    `json:"username" db:"username" validate:"required,max=150"`
	FirstName string    `json:"first_name" db:"first_name" validate:"max=150"`
	LastName  string    `json:"last_name" db:"last_name" validate:"max=150"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DisplayName is the full name when one is known, else the username.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Identity returns the authenticated identity for this user.
func (u *User) Identity() Identity {
	return Identity{UserID: u.ID, DisplayName: u.DisplayName()}
}

// Identity is what authentication yields before a connection may register.
type Identity struct {
	UserID      ID     `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// IsZero reports whether no user is authenticated.
func (i Identity) IsZero() bool {
	return i.UserID.IsZero()
}

// ChatMessage is a persisted message between two users. Immutable once created.
type ChatMessage struct {
	ID        ID        `json:"id" db:"id"`
	From      ID        `json:"user_from" db:"user_from"`
	To        ID        `json:"user_to" db:"user_to"`
	Body      string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"date_created" db:"date_created"`
}

// FormatDate renders a timestamp in DateLayout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
