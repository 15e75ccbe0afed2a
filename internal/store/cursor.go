package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stacklok/toolhive-imagegen-server/internal/generation"
)

// CursorSeparator is the delimiter between the timestamp and the id in a cursor
const CursorSeparator = ":"

// Position is a point in the (createdAt, id) ordering.
type Position struct {
	CreatedAt time.Time
	ID        string
}

// PositionOf returns the ordering key of g.
func PositionOf(g *generation.Generation) Position {
	return Position{CreatedAt: g.CreatedAt, ID: g.ID}
}

// Before reports whether p sorts after other in descending listing order,
// i.e. p is older, or equally old with a smaller id.
func (p Position) Before(other Position) bool {
	if !p.CreatedAt.Equal(other.CreatedAt) {
		return p.CreatedAt.Before(other.CreatedAt)
	}
	return p.ID < other.ID
}

// EncodeCursor encodes a position into an opaque cursor string.
// The cursor format is: base64url(unixMicro:id)
func EncodeCursor(p Position) string {
	value := strconv.FormatInt(p.CreatedAt.UnixMicro(), 10) + CursorSeparator + p.ID
	return base64.RawURLEncoding.EncodeToString([]byte(value))
}

// DecodeCursor decodes a cursor produced by EncodeCursor.
// Returns nil if the cursor is empty.
func DecodeCursor(cursor string) (*Position, error) {
	if cursor == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode cursor: %v", ErrInvalidCursor, err)
	}

	parts := strings.SplitN(string(decoded), CursorSeparator, 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("%w: expected timestamp:id", ErrInvalidCursor)
	}

	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timestamp", ErrInvalidCursor)
	}

	return &Position{CreatedAt: time.UnixMicro(micros).UTC(), ID: parts[1]}, nil
}
