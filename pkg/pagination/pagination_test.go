package pagination

import (
	"errors"
	"testing"
)

func TestValidateLimit(t *testing.T) {
	for _, limit := range []int{0, 1, DefaultLimit, MaxLimit} {
		if err := ValidateLimit(limit); err != nil {
			t.Errorf("ValidateLimit(%d) = %v", limit, err)
		}
	}
	for _, limit := range []int{-1, MaxLimit + 1} {
		if err := ValidateLimit(limit); !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("ValidateLimit(%d) = %v, want ErrInvalidLimit", limit, err)
		}
	}
}

func TestEffectiveLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultLimit},
		{-5, DefaultLimit},
		{10, 10},
		{MaxLimit + 50, MaxLimit},
	}
	for _, tt := range tests {
		if got := EffectiveLimit(tt.in); got != tt.want {
			t.Errorf("EffectiveLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCursorRoundTrip(t *testing.T) {
	for _, offset := range []int{0, 1, 49, 1000} {
		got, err := DecodeCursor(EncodeCursor(offset))
		if err != nil {
			t.Fatalf("DecodeCursor: %v", err)
		}
		if got != offset {
			t.Errorf("offset = %d, want %d", got, offset)
		}
	}

	for _, bad := range []string{"!!!", EncodeCursor(-1)[:2], "b2Zmc2V0Oi0x"} {
		if _, err := DecodeCursor(bad); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("DecodeCursor(%q) = %v, want ErrInvalidCursor", bad, err)
		}
	}
}

func TestPaginate(t *testing.T) {
	items := make([]int, 5)
	for i := range items {
		items[i] = i
	}

	page, next, err := Paginate(items, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0] != 0 || next == "" {
		t.Fatalf("first page = %v next = %q", page, next)
	}

	page, next, err = Paginate(items, next, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0] != 2 {
		t.Fatalf("second page = %v", page)
	}

	page, next, err = Paginate(items, next, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0] != 4 || next != "" {
		t.Fatalf("last page = %v next = %q", page, next)
	}

	page, next, err = Paginate(items, EncodeCursor(99), 2)
	if err != nil || len(page) != 0 || next != "" {
		t.Errorf("past the end = %v %q %v", page, next, err)
	}

	if _, _, err := Paginate(items, "garbage!", 2); !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("bad cursor error = %v", err)
	}
}

func TestCollector(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	c := NewCollector[string](0)
	for c.HasMore() {
		page, next, err := Paginate(items, c.NextCursor, 2)
		if err != nil {
			t.Fatal(err)
		}
		c.Add(page, next)
	}
	if c.Pages != 3 {
		t.Errorf("Pages = %d, want 3", c.Pages)
	}
	if got := c.Items(); len(got) != 5 || got[4] != "e" {
		t.Errorf("Items = %v", got)
	}

	limited := NewCollector[string](1)
	limited.Add(items[:2], "more")
	if limited.HasMore() {
		t.Error("collector must stop at maxPages")
	}
}
