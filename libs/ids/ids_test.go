package ids

import (
	"strings"
	"testing"
)

func TestNewReference(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		ref := NewReference()
		if len(ref) != referenceLength {
			t.Fatalf("unexpected length %q", ref)
		}
		for _, r := range ref {
			if !strings.ContainsRune(referenceAlphabet, r) {
				t.Fatalf("reference %q has character outside alphabet", ref)
			}
		}
		seen[ref] = true
	}
	if len(seen) < 195 {
		t.Fatalf("too many collisions: %d unique of 200", len(seen))
	}
}
