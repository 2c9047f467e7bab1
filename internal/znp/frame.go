package znp

import (
	"errors"
	"fmt"
)

// MT framing constants.
const (
	SOF              = 0xFE
	MaxDataSize      = 250
	MinMessageLength = 5 // SOF + Len + Cmd0 + Cmd1 + FCS
	BufferSize       = 1024
)

// Cmd0 type bits.
const (
	TypePoll = 0x00
	TypeSREQ = 0x20
	TypeAREQ = 0x40
	TypeSRSP = 0x60
)

// Subsystems (Cmd0 & 0x1F).
const (
	SubsysRPCError = 0x00
	SubsysSYS      = 0x01
	SubsysMAC      = 0x02
	SubsysAF       = 0x04
	SubsysZDO      = 0x05
	SubsysSAPI     = 0x06
	SubsysUTIL     = 0x07
	SubsysAPP      = 0x09
)

var (
	ErrShortFrame = errors.New("znp: frame too short")
	ErrBadSOF     = errors.New("znp: missing start of frame")
	ErrBadLength  = errors.New("znp: length mismatch")
	ErrBadFCS     = errors.New("znp: checksum mismatch")
	ErrTooLarge   = errors.New("znp: payload exceeds 250 bytes")
)

// Command is the Cmd0/Cmd1 pair, Cmd0 in the high byte.
type Command uint16

// NewCommand builds a Command from its two header bytes.
func NewCommand(cmd0, cmd1 uint8) Command { return Command(uint16(cmd0)<<8 | uint16(cmd1)) }

// Cmd0 returns the type and subsystem byte.
func (c Command) Cmd0() uint8 { return uint8(c >> 8) }

// Cmd1 returns the command id byte.
func (c Command) Cmd1() uint8 { return uint8(c) }

// Type returns the frame type bits (SREQ, AREQ or SRSP).
func (c Command) Type() uint8 { return c.Cmd0() & 0xE0 }

// Subsystem returns the subsystem bits of Cmd0.
func (c Command) Subsystem() uint8 { return c.Cmd0() & 0x1F }

// Response returns the SRSP command paired with a SREQ.
func (c Command) Response() Command {
	return NewCommand(TypeSRSP|c.Subsystem(), c.Cmd1())
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", uint16(c))
}

// Frame is one decoded MT frame.
type Frame struct {
	Command Command
	Data    []byte
}

// FCS is the XOR of every byte in b.
func FCS(b []byte) uint8 {
	var x uint8
	for _, v := range b {
		x ^= v
	}
	return x
}

// Encode serializes f to wire format.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Data) > MaxDataSize {
		return nil, ErrTooLarge
	}
	out := make([]byte, 0, len(f.Data)+MinMessageLength)
	out = append(out, SOF, byte(len(f.Data)), f.Command.Cmd0(), f.Command.Cmd1())
	out = append(out, f.Data...)
	out = append(out, FCS(out[1:]))
	return out, nil
}

// ParseFrame validates a complete wire frame and returns its contents.
// Data is copied.
func ParseFrame(raw []byte) (Frame, error) {
	if len(raw) < MinMessageLength {
		return Frame{}, ErrShortFrame
	}
	if raw[0] != SOF {
		return Frame{}, ErrBadSOF
	}
	n := int(raw[1])
	if n > MaxDataSize {
		return Frame{}, ErrTooLarge
	}
	if len(raw) != n+MinMessageLength {
		return Frame{}, fmt.Errorf("%w: declared %d, frame %d bytes", ErrBadLength, n, len(raw))
	}
	if got, want := raw[len(raw)-1], FCS(raw[1:len(raw)-1]); got != want {
		return Frame{}, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrBadFCS, got, want)
	}
	data := make([]byte, n)
	copy(data, raw[4:4+n])
	return Frame{Command: NewCommand(raw[2], raw[3]), Data: data}, nil
}
