// Package znp implements the Z-Stack Monitor and Test (MT) serial protocol:
// frame codec, stream decoder, command builders and response decoding.
// Backend: CC2530/CC2652 class coordinators running Z-Stack ZNP firmware.
package znp

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Port is the byte-stream transport to the coordinator radio.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// IEEE is a 64-bit extended address in display (big-endian) order.
// On the wire Z-Stack sends it little-endian.
type IEEE [8]byte

func (a IEEE) String() string {
	return fmt.Sprintf("%016X", a[:])
}

// ParseIEEE parses a 16 hex character string, with or without a 0x prefix.
func ParseIEEE(s string) (IEEE, error) {
	var a IEEE
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 16 {
		return a, fmt.Errorf("invalid IEEE address %q: want 16 hex chars", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid IEEE address %q: %w", s, err)
	}
	copy(a[:], b)
	return a, nil
}

func readIEEE(b []byte) IEEE {
	var a IEEE
	for i := 0; i < 8; i++ {
		a[i] = b[7-i]
	}
	return a
}

func putIEEE(b []byte, a IEEE) {
	for i := 0; i < 8; i++ {
		b[i] = a[7-i]
	}
}

// SimpleDescriptor describes an endpoint.
type SimpleDescriptor struct {
	Endpoint    uint8
	ProfileID   uint16
	DeviceID    uint16
	InClusters  []uint16
	OutClusters []uint16
}

// BindRequest is a ZDO bind request asking the device at TargetAddr to
// report ClusterID from SrcEP to the coordinator.
type BindRequest struct {
	TargetAddr uint16
	SrcIEEE    IEEE
	SrcEP      uint8
	ClusterID  uint16
	DstIEEE    IEEE
	DstEP      uint8
}

// Destination addresses an AF data request.
type Destination struct {
	Addr     uint16
	Endpoint uint8
	Group    bool
}
