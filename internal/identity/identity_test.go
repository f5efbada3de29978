package identity

import "testing"

func TestMakePairCanonicalOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b Identity
	}{
		{5, 9},
		{9, 5},
		{1, 2},
		{1000000, 3},
	}
	for _, tc := range cases {
		forward := MakePair(tc.a, tc.b)
		reverse := MakePair(tc.b, tc.a)
		if forward != reverse {
			t.Fatalf("MakePair(%d,%d) != MakePair(%d,%d)", tc.a, tc.b, tc.b, tc.a)
		}
		if forward.Key() != reverse.Key() {
			t.Fatalf("keys differ: %q vs %q", forward.Key(), reverse.Key())
		}
		if forward.Low > forward.High {
			t.Fatalf("pair not canonical: %+v", forward)
		}
	}
}

func TestPairKey(t *testing.T) {
	t.Parallel()

	if got := MakePair(9, 5).Key(); got != "5-9" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestPairValid(t *testing.T) {
	t.Parallel()

	if MakePair(5, None).Valid() {
		t.Fatal("pair with sentinel peer must be invalid")
	}
	if MakePair(5, 5).Valid() {
		t.Fatal("pair with identical members must be invalid")
	}
	if MakePair(0, 5).Valid() {
		t.Fatal("pair with zero member must be invalid")
	}
	if !MakePair(5, 9).Valid() {
		t.Fatal("expected valid pair")
	}
}

func TestPairOther(t *testing.T) {
	t.Parallel()

	pair := MakePair(5, 9)
	if got := pair.Other(5); got != 9 {
		t.Fatalf("Other(5) = %d", got)
	}
	if got := pair.Other(9); got != 5 {
		t.Fatalf("Other(9) = %d", got)
	}
	if got := pair.Other(7); got != None {
		t.Fatalf("Other(7) = %d, want sentinel", got)
	}
}
