package znp

import (
	"bytes"
	"math/rand"
	"testing"
)

func noise(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		for {
			b[i] = byte(r.Intn(256))
			if b[i] != SOF {
				break
			}
		}
	}
	return b
}

func TestDecodeSingleFrameWithNoise(t *testing.T) {
	frame := mustEncode(t, Frame{Command: ZdoStateChangeInd, Data: []byte{DevStateCoordinator}})
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		var stream []byte
		stream = append(stream, noise(r, r.Intn(20))...)
		stream = append(stream, frame...)
		stream = append(stream, noise(r, r.Intn(20))...)

		d := NewDecoder()
		frames := d.Decode(stream)
		if len(frames) != 1 {
			t.Fatalf("iteration %d: got %d frames from % X", i, len(frames), stream)
		}
		if !bytes.Equal(frames[0], frame) {
			t.Fatalf("iteration %d: frame = % X, want % X", i, frames[0], frame)
		}
		if idx, _ := d.Cursor(); idx != 0 {
			t.Fatalf("iteration %d: cursor = %d after frame", i, idx)
		}
	}
}

func TestDecodeOversizedLengthNeverEmits(t *testing.T) {
	d := NewDecoder()
	for n := MaxDataSize + 1; n <= 0xFF; n++ {
		stream := []byte{SOF, byte(n), 0x44, 0x81}
		stream = append(stream, make([]byte, n+1)...)
		if frames := d.Decode(stream); len(frames) != 0 {
			t.Fatalf("length %d: got %d frames", n, len(frames))
		}
		if idx, _ := d.Cursor(); idx != 0 {
			t.Fatalf("length %d: cursor = %d", n, idx)
		}
	}
}

func TestDecodeResynchronizes(t *testing.T) {
	good := mustEncode(t, Frame{Command: SysPingRsp, Data: []byte{0x59, 0x06}})
	stream := append([]byte{SOF, 0xFB}, good...)
	frames := NewDecoder().Decode(stream)
	if len(frames) != 1 || !bytes.Equal(frames[0], good) {
		t.Fatalf("frames = % X", frames)
	}
}

func TestDecodeMultipleFrames(t *testing.T) {
	a := mustEncode(t, Frame{Command: SysPingRsp, Data: []byte{0x59, 0x06}})
	b := mustEncode(t, Frame{Command: AfDataConfirm, Data: []byte{0x00, 0x01, 0x07}})
	frames := NewDecoder().Decode(append(append([]byte{}, a...), b...))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[1], b) {
		t.Errorf("second frame = % X", frames[1])
	}
}

func TestDecodeSplitFrame(t *testing.T) {
	frame := mustEncode(t, Frame{Command: SysPingRsp, Data: []byte{0x59, 0x06}})

	// Default: each call starts fresh, a split frame is lost.
	d := NewDecoder()
	if got := d.Decode(frame[:3]); len(got) != 0 {
		t.Fatalf("partial read produced %d frames", len(got))
	}
	if idx, length := d.Cursor(); idx != 3 || length != 2 {
		t.Errorf("cursor = (%d, %d), want (3, 2)", idx, length)
	}
	if got := d.Decode(frame[3:]); len(got) != 0 {
		t.Errorf("split frame decoded without reassembly")
	}

	d = NewDecoder(WithReassembly())
	d.Decode(frame[:3])
	got := d.Decode(frame[3:])
	if len(got) != 1 || !bytes.Equal(got[0], frame) {
		t.Errorf("reassembled = % X, want % X", got, frame)
	}
}

func TestDecodeMaxLengthResets(t *testing.T) {
	d := NewDecoder(WithMaxLength(6), WithReassembly())
	// Declared length 4 needs 9 bytes; the cursor wraps at 6.
	d.Decode([]byte{SOF, 0x04, 0x21, 0x01, 0x00, 0x00, 0x00})
	if idx, _ := d.Cursor(); idx != 0 {
		t.Errorf("cursor = %d, want 0 after reaching max length", idx)
	}
}
