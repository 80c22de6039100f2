package gotftp

import "testing"

func TestNextBlockRollover(t *testing.T) {
	tests := []struct {
		name string
		r    Rollover
		want uint16
	}{
		{"wrap to zero", WrapToZero, 0},
		{"wrap to one", WrapToOne, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := nextBlock(65535, tc.r); got != tc.want {
				t.Errorf("nextBlock(65535, %v) = %d, want %d", tc.r, got, tc.want)
			}
		})
	}
	if got := nextBlock(7, WrapToZero); got != 8 {
		t.Errorf("nextBlock(7) = %d, want 8", got)
	}
}

func TestBlockAfterAcrossRollover(t *testing.T) {
	if !blockAfter(0, 65535) {
		t.Errorf("blockAfter(0, 65535) = false, want true across rollover")
	}
	if blockAfter(65535, 0) {
		t.Errorf("blockAfter(65535, 0) = true, want false")
	}
	if !blockAfter(5, 3) {
		t.Errorf("blockAfter(5, 3) = false, want true")
	}
	if blockAfter(3, 3) {
		t.Errorf("blockAfter(3, 3) = true, want false (equal is not after)")
	}
}

func TestBlockAfterOrEqual(t *testing.T) {
	if !blockAfterOrEqual(3, 3) {
		t.Errorf("blockAfterOrEqual(3, 3) = false, want true")
	}
	if !blockAfterOrEqual(4, 3) {
		t.Errorf("blockAfterOrEqual(4, 3) = false, want true")
	}
	if blockAfterOrEqual(2, 3) {
		t.Errorf("blockAfterOrEqual(2, 3) = true, want false")
	}
}

func TestInWindow(t *testing.T) {
	if !inWindow(5, 5, 4) {
		t.Errorf("inWindow(5, head=5, 4) = false, want true (head itself)")
	}
	if !inWindow(8, 5, 4) {
		t.Errorf("inWindow(8, head=5, 4) = false, want true (last in window)")
	}
	if inWindow(9, 5, 4) {
		t.Errorf("inWindow(9, head=5, 4) = true, want false (past window)")
	}
	if inWindow(4, 5, 4) {
		t.Errorf("inWindow(4, head=5, 4) = true, want false (before window)")
	}
	if !inWindow(1, 65534, 4) {
		// window {65534, 65535, 0, 1}: 1 is the last slot, should be in.
		t.Errorf("inWindow(1, head=65534, 4) = false, want true across rollover")
	}
	if !inWindow(0, 65534, 4) {
		t.Errorf("inWindow(0, head=65534, 4) = false, want true across rollover")
	}
	if inWindow(5, 5, 0) {
		t.Errorf("inWindow with count=0 should always be false")
	}
}
