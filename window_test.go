package gotftp

import (
	"bytes"
	"testing"
)

func TestSendWindowFillAndFinal(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 10) // blocks of 4, 4 and 2 bytes; the last is short
	sw := newSendWindow(4, 4, WrapToZero, 1)

	more, added, err := sw.fill(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if added != 3 {
		t.Fatalf("added = %d, want 3 frames (4,4,2 bytes)", added)
	}
	if more {
		t.Errorf("more = true, want false once final short block seen")
	}
	if !sw.isFinal() {
		t.Errorf("isFinal() = false, want true")
	}
	frames := sw.frames()
	if len(frames) != 3 || frames[2].block != 3 || len(frames[2].payload) != 2 {
		t.Fatalf("frames = %+v, want 3 frames ending in a 2-byte final block", frames)
	}
}

func TestSendWindowRespectsWindowSize(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 100)
	sw := newSendWindow(4, 2, WrapToZero, 1)
	more, added, err := sw.fill(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if added != 2 || !more {
		t.Fatalf("added=%d more=%v, want 2 frames and more data pending", added, more)
	}
}

func TestSendWindowOnAckDiscardsUpToAndRetransmitsRest(t *testing.T) {
	sw := newSendWindow(4, 4, WrapToZero, 1)
	data := bytes.Repeat([]byte{0x02}, 16)
	if _, _, err := sw.fill(bytes.NewReader(data)); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if len(sw.frames()) != 4 {
		t.Fatalf("frames = %d, want 4", len(sw.frames()))
	}
	if err := sw.onAck(2); err != nil {
		t.Fatalf("onAck(2): %v", err)
	}
	if len(sw.frames()) != 2 {
		t.Fatalf("frames after ack = %d, want 2 remaining (blocks 3,4)", len(sw.frames()))
	}
	if sw.frames()[0].block != 3 {
		t.Errorf("frames[0].block = %d, want 3", sw.frames()[0].block)
	}
}

func TestSendWindowOnAckOutOfWindow(t *testing.T) {
	sw := newSendWindow(4, 4, WrapToZero, 1)
	data := bytes.Repeat([]byte{0x02}, 16)
	sw.fill(bytes.NewReader(data))
	if err := sw.onAck(99); err != errOutOfWindow {
		t.Errorf("onAck(99) = %v, want errOutOfWindow", err)
	}
}

func TestRecvWindowInOrderAcksEveryWindowSizeBlocks(t *testing.T) {
	rw := newRecvWindow(4, WrapToZero, 1)
	for i := uint16(1); i <= 3; i++ {
		inOrder, shouldAck, _ := rw.accept(i)
		if !inOrder {
			t.Fatalf("accept(%d) inOrder = false, want true", i)
		}
		if shouldAck {
			t.Fatalf("accept(%d) shouldAck = true, want false (window not full)", i)
		}
	}
	inOrder, shouldAck, ackBlock := rw.accept(4)
	if !inOrder || !shouldAck || ackBlock != 4 {
		t.Fatalf("accept(4) = (%v, %v, %d), want (true, true, 4)", inOrder, shouldAck, ackBlock)
	}
}

func TestRecvWindowGapReAcksLastInOrder(t *testing.T) {
	rw := newRecvWindow(4, WrapToZero, 1)
	rw.accept(1)
	rw.accept(2)
	inOrder, shouldAck, ackBlock := rw.accept(4) // gap: skipped block 3
	if inOrder {
		t.Errorf("accept(4) after gap: inOrder = true, want false")
	}
	if !shouldAck || ackBlock != 2 {
		t.Errorf("accept(4) after gap = (shouldAck=%v, ackBlock=%d), want (true, 2)", shouldAck, ackBlock)
	}
}

func TestRecvWindowRolloverWrapToZero(t *testing.T) {
	rw := newRecvWindow(1, WrapToZero, 65535)
	inOrder, shouldAck, ackBlock := rw.accept(65535)
	if !inOrder || !shouldAck || ackBlock != 65535 {
		t.Fatalf("accept(65535) = (%v,%v,%d), want (true,true,65535)", inOrder, shouldAck, ackBlock)
	}
	inOrder, _, _ = rw.accept(0)
	if !inOrder {
		t.Errorf("accept(0) after 65535 under WrapToZero: inOrder = false, want true")
	}
}

func TestPrevBlockInverseOfNextBlock(t *testing.T) {
	for _, r := range []Rollover{WrapToZero, WrapToOne} {
		b := uint16(42)
		if got := prevBlock(nextBlock(b, r), r); got != b {
			t.Errorf("prevBlock(nextBlock(%d, %v), %v) = %d, want %d", b, r, r, got, b)
		}
	}
}
