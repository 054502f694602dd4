package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultLimit is the recommended default page size for paginated results
	DefaultLimit = 50

	// MaxLimit is the maximum allowed page size for paginated results
	MaxLimit = 200
)

const cursorPrefix = "offset:"

var (
	// ErrInvalidLimit is returned when the pagination limit is invalid
	ErrInvalidLimit = errors.New("pagination limit must be greater than 0 and less than or equal to MaxLimit")

	// ErrInvalidCursor is returned when a pagination cursor is invalid
	ErrInvalidCursor = errors.New("invalid pagination cursor format")
)

// ValidateLimit rejects negative limits and limits above MaxLimit. Zero
// selects the default.
func ValidateLimit(limit int) error {
	if limit < 0 || limit > MaxLimit {
		return fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	return nil
}

// EffectiveLimit applies the default and the maximum to limit
func EffectiveLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// EncodeCursor returns the opaque cursor for the page starting at offset
func EncodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

// DecodeCursor returns the offset encoded by EncodeCursor. The empty cursor is offset 0.
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	s, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, ErrInvalidCursor
	}
	offset, err := strconv.Atoi(s)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("%w: bad offset %q", ErrInvalidCursor, s)
	}
	return offset, nil
}

// Paginate returns the page of items selected by cursor and the cursor of
// the following page, empty on the last page. A cursor past the end yields
// an empty last page.
func Paginate[T any](items []T, cursor string, limit int) ([]T, string, error) {
	offset, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	limit = EffectiveLimit(limit)

	if offset >= len(items) {
		return []T{}, "", nil
	}
	end := offset + limit
	if end >= len(items) {
		return items[offset:], "", nil
	}
	return items[offset:end], EncodeCursor(end), nil
}

// Collector accumulates the pages of a list call on the client side
type Collector[T any] struct {
	// NextCursor holds the pagination cursor for the next page
	NextCursor string
	// Pages counts the pages collected so far
	Pages int

	items    []T
	maxPages int
}

// NewCollector creates a collector that stops after maxPages pages; zero means no limit
func NewCollector[T any](maxPages int) *Collector[T] {
	return &Collector[T]{maxPages: maxPages}
}

// Add records one page and the cursor returned with it
func (c *Collector[T]) Add(items []T, nextCursor string) {
	c.items = append(c.items, items...)
	c.NextCursor = nextCursor
	c.Pages++
}

// HasMore reports whether another page should be fetched
func (c *Collector[T]) HasMore() bool {
	if c.Pages == 0 {
		return true
	}
	if c.maxPages > 0 && c.Pages >= c.maxPages {
		return false
	}
	return c.NextCursor != ""
}

// Items returns everything collected
func (c *Collector[T]) Items() []T {
	return c.items
}
