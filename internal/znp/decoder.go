package znp

// Decoder extracts MT frames from a raw serial byte stream.
//
// By default every Decode call starts from an empty cursor, so a frame split
// across two reads is lost. WithReassembly keeps the cursor between calls.
type Decoder struct {
	maxLength  int
	reassemble bool

	buf    []byte
	index  int
	length int
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxLength bounds the working buffer. The cursor resets when it is reached.
func WithMaxLength(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLength = n
		}
	}
}

// WithReassembly keeps a partial frame across Decode calls.
func WithReassembly() DecoderOption {
	return func(d *Decoder) { d.reassemble = true }
}

// NewDecoder returns a decoder with a BufferSize working buffer.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{maxLength: BufferSize}
	for _, o := range opts {
		o(d)
	}
	d.buf = make([]byte, d.maxLength)
	return d
}

// Decode scans p and returns every complete SOF-led frame candidate, each a
// copy including SOF and FCS. The checksum is not verified here.
func (d *Decoder) Decode(p []byte) [][]byte {
	if !d.reassemble {
		d.Reset()
	}
	var frames [][]byte
	for _, b := range p {
		if d.index >= d.maxLength {
			d.index = 0
			continue
		}
		if b == SOF && d.index == 0 {
			d.buf[0] = b
			d.index = 1
			continue
		}
		if d.index == 1 {
			d.length = int(b)
		}
		if d.index > 0 {
			d.buf[d.index] = b
			d.index++
		}
		if d.index > 0 && (d.buf[0] != SOF || d.length > MaxDataSize) {
			d.index = 0
			continue
		}
		if d.index > 0 && d.index == d.length+MinMessageLength {
			frame := make([]byte, d.index)
			copy(frame, d.buf[:d.index])
			frames = append(frames, frame)
			d.Reset()
		}
	}
	return frames
}

// Cursor returns the write position and declared length reached so far.
func (d *Decoder) Cursor() (index, length int) {
	return d.index, d.length
}

// Reset discards any partial frame.
func (d *Decoder) Reset() {
	d.index = 0
	d.length = 0
	clear(d.buf)
}
