package stream

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// tempPrefix marks client-generated identities on the wire.
const tempPrefix = "temp-"

// ID identifies an entry in a stream. It is either a temporary identity
// generated locally for an optimistic entry, or the id the server assigned.
// The zero ID is neither and never matches a stored entry.
type ID struct {
	temp   uuid.UUID
	server int64
}

// TempID returns a fresh temporary identity.
func TempID() ID {
	return ID{temp: uuid.New()}
}

// ServerID returns the confirmed identity n.
func ServerID(n int64) ID {
	return ID{server: n}
}

// ParseID parses the wire form: "temp-<uuid>" or a decimal server id.
func ParseID(s string) (ID, error) {
	if rest, ok := strings.CutPrefix(s, tempPrefix); ok {
		u, err := uuid.Parse(rest)
		if err != nil {
			return ID{}, fmt.Errorf("parse temporary id %q: %w", s, err)
		}
		return ID{temp: u}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("parse server id %q: %w", s, err)
	}
	return ServerID(n), nil
}

// IsTemporary reports whether id was generated locally.
func (id ID) IsTemporary() bool { return id.temp != uuid.Nil }

// IsZero reports whether id is unset.
func (id ID) IsZero() bool { return id == ID{} }

// Server returns the server id, or 0 for temporary and zero ids.
func (id ID) Server() int64 { return id.server }

func (id ID) String() string {
	if id.IsTemporary() {
		return tempPrefix + id.temp.String()
	}
	return strconv.FormatInt(id.server, 10)
}

// MarshalJSON writes temporary ids as strings and server ids as numbers.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsTemporary() {
		return json.Marshal(id.String())
	}
	return []byte(strconv.FormatInt(id.server, 10)), nil
}

// UnmarshalJSON accepts a number or a string in either wire form.
func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	if string(data) == "null" {
		*id = ID{}
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parse server id %s: %w", data, err)
	}
	*id = ServerID(n)
	return nil
}
