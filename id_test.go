package lagoon

import "testing"

func TestNewID(t *testing.T) {
	id1 := NewID()
	id2 := NewID()
	if len(id1) != 36 {
		t.Errorf("expected 36 chars (UUIDv7), got %d: %s", len(id1), id1)
	}
	if id1 == id2 {
		t.Error("two IDs should be unique")
	}
	if id1 >= id2 {
		t.Error("sequential UUIDv7s should be time-ordered")
	}
}

func TestNewCredential(t *testing.T) {
	c1 := NewCredential()
	c2 := NewCredential()
	if len(c1) != 36 {
		t.Errorf("expected 36 chars (UUIDv4), got %d: %s", len(c1), c1)
	}
	if c1 == c2 {
		t.Error("credentials must never repeat")
	}
}
