package secure

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpen(t *testing.T) {
	box, err := NewBox("task-seal-key")
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	plain := []byte(`{"card_number":"4111111111111111"}`)
	sealed, err := box.Seal(plain)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("4111")) {
		t.Fatal("sealed payload leaks plaintext")
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Fatalf("expected %s, got %s", plain, opened)
	}
}

func TestOpenRejectsTamperingAndWrongKey(t *testing.T) {
	box, _ := NewBox("a")
	other, _ := NewBox("b")

	sealed, _ := box.Seal([]byte("payload"))
	if _, err := other.Open(sealed); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed for wrong key, got %v", err)
	}

	sealed[len(sealed)-1] ^= 0xff
	if _, err := box.Open(sealed); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed for tampered payload, got %v", err)
	}

	if _, err := box.Open([]byte("short")); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed for short payload, got %v", err)
	}
}

func TestNewBoxRequiresKey(t *testing.T) {
	if _, err := NewBox(""); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}
