package canonical

import (
	"testing"
	"time"

	"github.com/certen/cortex/pkg/errs"
)

func TestEncodeOrdersKeysLexicographically(t *testing.T) {
	a, err := Encode([]Field{
		{Key: "b", Value: "2"},
		{Key: "a", Value: "1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Encode([]Field{
		{Key: "a", Value: "1"},
		{Key: "b", Value: "2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected reordered fields to encode identically, got %q vs %q", a, b)
	}
}

func TestEncodeElidesNilFields(t *testing.T) {
	b, err := Encode([]Field{
		{Key: "present", Value: "x"},
		{Key: "absent", Value: nil},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `{"present":"x"}` {
		t.Fatalf("expected nil field elided, got %q", b)
	}
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	_, err := Encode([]Field{
		{Key: "bad", Value: string([]byte{0xff, 0xfe})},
	})
	if err == nil {
		t.Fatal("expected error for invalid UTF-8 value")
	}
	if !errs.Is(err, errs.KindEncoding) {
		t.Fatalf("expected EncodingError kind, got %v", err)
	}
}

func TestEncodeRejectsNonUTCTimestamp(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("timezone database unavailable")
	}
	_, err = Encode([]Field{
		{Key: "ts", Value: time.Now().In(loc)},
	})
	if err == nil {
		t.Fatal("expected error for non-UTC timestamp")
	}
	if !errs.Is(err, errs.KindEncoding) {
		t.Fatalf("expected EncodingError kind, got %v", err)
	}
}

func TestEncodeNumbersAsDecimalStrings(t *testing.T) {
	b, err := Encode([]Field{{Key: "n", Value: int64(42)}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `{"n":42}` {
		t.Fatalf("expected decimal encoding, got %q", b)
	}
}

func TestHashIsDeterministic(t *testing.T) {
	fields := []Field{
		{Key: "content", Value: "hello world"},
		{Key: "tenant_id", Value: "tenant-1"},
	}
	h1, err := HashHex(fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := HashHex([]Field{
		{Key: "tenant_id", Value: "tenant-1"},
		{Key: "content", Value: "hello world"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected hash to be order-independent, got %q vs %q", h1, h2)
	}
}

func TestHashChangesWithContent(t *testing.T) {
	h1, err := HashHex([]Field{{Key: "content", Value: "a"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := HashHex([]Field{{Key: "content", Value: "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 == h2 {
		t.Fatal("expected different content to hash differently")
	}
}
