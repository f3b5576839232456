package stratum

import "testing"

func TestExtranonceAllocator_UniquePerFamily(t *testing.T) {
	a := NewExtranonceAllocator()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		en, err := a.Allocate(FamilyIceRiver)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		key := string(en)
		if seen[key] {
			t.Fatalf("duplicate extranonce allocated: %x", en)
		}
		seen[key] = true
	}
}

func TestExtranonceAllocator_ReleaseReuses(t *testing.T) {
	a := NewExtranonceAllocator()
	en, err := a.Allocate(FamilyIceRiver)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	a.Release(FamilyIceRiver, en)

	next, err := a.Allocate(FamilyIceRiver)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if string(next) != string(en) {
		t.Fatalf("expected released extranonce %x to be reused, got %x", en, next)
	}
}

func TestExtranonceAllocator_BitmainHasNoExtranonce(t *testing.T) {
	a := NewExtranonceAllocator()
	en, err := a.Allocate(FamilyBitmain)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if en != nil {
		t.Fatalf("expected nil extranonce for bitmain, got %x", en)
	}
}
