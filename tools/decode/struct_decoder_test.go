package decode

import (
	"testing"
	"time"
)

type sample struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func TestDecodeMap(t *testing.T) {
	got, err := DecodeMap[sample](map[string]any{
		"id":         float64(42),
		"name":       "alice",
		"created_at": "2025-01-02T03:04:05Z",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 42 || got.Name != "alice" || !got.CreatedAt.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("got %+v", got)
	}

	if _, err := DecodeMap[sample](map[string]any{"id": 1.5}); err == nil {
		t.Fatalf("fractional id accepted")
	}
	if _, err := DecodeMap[sample](nil); err == nil {
		t.Fatalf("nil map accepted")
	}
	if got, err := DecodeMap[sample](map[string]any{"id": float64(1), "created_at": ""}); err != nil || !got.CreatedAt.IsZero() {
		t.Fatalf("empty time = %+v %v", got, err)
	}
}

func TestReadMap(t *testing.T) {
	m := map[string]any{"user": map[string]any{"id": 1}, "flat": "x"}
	if sub, err := ReadMap(m, "user"); err != nil || sub["id"] != 1 {
		t.Fatalf("ReadMap = %v %v", sub, err)
	}
	if _, err := ReadMap(m, "flat"); err == nil {
		t.Fatalf("non-object accepted")
	}
	if _, err := ReadMap(m, "missing"); err == nil {
		t.Fatalf("missing key accepted")
	}
}
