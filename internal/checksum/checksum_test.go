package checksum

import "testing"

func TestSum(t *testing.T) {
	a := Sum([]byte("slip"))
	if len(a) != 64 {
		t.Fatalf("len = %d, want 64 hex chars", len(a))
	}
	if a != Sum([]byte("slip")) {
		t.Error("Sum not deterministic")
	}
	if a == Sum([]byte("slip ")) {
		t.Error("different input, same digest")
	}
}

