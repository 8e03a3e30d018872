package persistence

import (
	"testing"
	"time"

	"github.com/mapper-influences/backend/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := &domain.Cursor{
		CreatedAt: time.Date(2026, time.March, 1, 12, 30, 45, 123456789, time.UTC),
		ID:        "3d1cdf2c-8c7a-4a9f-9e9c-0b1a2c3d4e5f",
	}

	token := EncodeCursor(cursor)
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	decoded, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.CreatedAt.Equal(cursor.CreatedAt) {
		t.Fatalf("expected %v got %v", cursor.CreatedAt, decoded.CreatedAt)
	}
	if decoded.ID != cursor.ID {
		t.Fatalf("expected %s got %s", cursor.ID, decoded.ID)
	}
}

func TestEncodeNilCursor(t *testing.T) {
	if token := EncodeCursor(nil); token != "" {
		t.Fatalf("expected empty token got %q", token)
	}
}

func TestDecodeEmptyCursor(t *testing.T) {
	decoded, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != nil {
		t.Fatal("expected nil cursor")
	}
}

func TestDecodeInvalidCursor(t *testing.T) {
	if _, err := DecodeCursor("not-base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := DecodeCursor("bm8tc2VwYXJhdG9y"); err == nil {
		t.Fatal("expected error for missing separator")
	}
}
