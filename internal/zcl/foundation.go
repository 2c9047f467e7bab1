package zcl

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Foundation ZCL command IDs (global, not cluster-specific).
const (
	FoundationReadAttributes         uint8 = 0x00
	FoundationReadAttributesResponse uint8 = 0x01
	FoundationWriteAttributes        uint8 = 0x02
	FoundationWriteAttributesResp    uint8 = 0x04
	FoundationConfigReporting        uint8 = 0x06
	FoundationConfigReportingResp    uint8 = 0x07
	FoundationReportAttributes       uint8 = 0x0A
	FoundationDefaultResponse        uint8 = 0x0B
	FoundationDiscoverAttributesResp uint8 = 0x0D
)

// ZCL status codes
const (
	StatusSuccess         uint8 = 0x00
	StatusFailure         uint8 = 0x01
	StatusUnsupportedAttr uint8 = 0x86
	StatusInvalidValue    uint8 = 0x87
	StatusReadOnly        uint8 = 0x88
	StatusInvalidDataType uint8 = 0x8D
)

// Frame control bits.
const (
	FrameTypeCluster       uint8 = 0x01
	FrameManufacturer      uint8 = 0x04
	FrameServerToClient    uint8 = 0x08
	FrameDisableDefaultRsp uint8 = 0x10
)

var ErrShortHeader = errors.New("zcl: header too short")

// Header is the ZCL frame header.
type Header struct {
	FrameControl     uint8
	ManufacturerCode uint16
	Seq              uint8
	Command          uint8
}

// ClusterSpecific reports whether the command belongs to the cluster rather
// than the foundation command set.
func (h Header) ClusterSpecific() bool { return h.FrameControl&0x03 == FrameTypeCluster }

// DefaultResponseDisabled reports the disable-default-response bit.
func (h Header) DefaultResponseDisabled() bool { return h.FrameControl&FrameDisableDefaultRsp != 0 }

// IsResponse reports whether the frame is itself a foundation response,
// which never warrants a Default Response.
func (h Header) IsResponse() bool {
	if h.ClusterSpecific() {
		return false
	}
	switch h.Command {
	case FoundationReadAttributesResponse, FoundationWriteAttributesResp,
		FoundationConfigReportingResp, FoundationDefaultResponse,
		FoundationDiscoverAttributesResp:
		return true
	}
	return false
}

// ParseHeader splits a ZCL frame into header and payload.
func ParseHeader(data []byte) (Header, []byte, error) {
	if len(data) < 3 {
		return Header{}, nil, ErrShortHeader
	}
	h := Header{FrameControl: data[0]}
	i := 1
	if h.FrameControl&FrameManufacturer != 0 {
		if len(data) < 5 {
			return Header{}, nil, ErrShortHeader
		}
		h.ManufacturerCode = binary.LittleEndian.Uint16(data[1:3])
		i = 3
	}
	h.Seq = data[i]
	h.Command = data[i+1]
	return h, data[i+2:], nil
}

// Append serializes the header followed by payload.
func (h Header) Append(payload []byte) []byte {
	buf := make([]byte, 0, 5+len(payload))
	buf = append(buf, h.FrameControl)
	if h.FrameControl&FrameManufacturer != 0 {
		buf = binary.LittleEndian.AppendUint16(buf, h.ManufacturerCode)
	}
	buf = append(buf, h.Seq, h.Command)
	return append(buf, payload...)
}

// Record is one attribute from a read response or report.
type Record struct {
	AttrID   uint16
	Status   uint8
	DataType uint8
	Value    []byte
}

// WriteRecord is a single attribute write.
type WriteRecord struct {
	AttrID   uint16
	DataType uint8
	Value    []byte
}

// ReportConfig is one Configure Reporting record.
type ReportConfig struct {
	AttrID       uint16
	DataType     uint8
	MinInterval  uint16
	MaxInterval  uint16
	ReportChange []byte
}

// ReadAttributes builds a Read Attributes frame.
func ReadAttributes(seq uint8, attrIDs []uint16) []byte {
	payload := make([]byte, 0, 2*len(attrIDs))
	for _, id := range attrIDs {
		payload = binary.LittleEndian.AppendUint16(payload, id)
	}
	return Header{Seq: seq, Command: FoundationReadAttributes}.Append(payload)
}

// WriteAttributes builds a Write Attributes frame.
func WriteAttributes(seq uint8, records []WriteRecord) []byte {
	var payload []byte
	for _, r := range records {
		payload = binary.LittleEndian.AppendUint16(payload, r.AttrID)
		payload = append(payload, r.DataType)
		payload = append(payload, r.Value...)
	}
	return Header{Seq: seq, Command: FoundationWriteAttributes}.Append(payload)
}

// ConfigureReporting builds a Configure Reporting frame, direction "reported".
// ReportChange is only sent for analog types and must match the type size.
func ConfigureReporting(seq uint8, configs []ReportConfig) []byte {
	var payload []byte
	for _, c := range configs {
		payload = append(payload, 0x00)
		payload = binary.LittleEndian.AppendUint16(payload, c.AttrID)
		payload = append(payload, c.DataType)
		payload = binary.LittleEndian.AppendUint16(payload, c.MinInterval)
		payload = binary.LittleEndian.AppendUint16(payload, c.MaxInterval)
		payload = append(payload, c.ReportChange...)
	}
	return Header{Seq: seq, Command: FoundationConfigReporting}.Append(payload)
}

// ClusterCommand builds a cluster-specific client-to-server command.
func ClusterCommand(seq, cmdID uint8, payload []byte) []byte {
	return Header{FrameControl: FrameTypeCluster, Seq: seq, Command: cmdID}.Append(payload)
}

// DefaultResponse builds a Default Response to the frame described by req.
func DefaultResponse(req Header, status uint8) []byte {
	fc := FrameDisableDefaultRsp
	if req.FrameControl&FrameServerToClient == 0 {
		fc |= FrameServerToClient
	}
	h := Header{FrameControl: fc, Seq: req.Seq, Command: FoundationDefaultResponse}
	if req.FrameControl&FrameManufacturer != 0 {
		h.FrameControl |= FrameManufacturer
		h.ManufacturerCode = req.ManufacturerCode
	}
	return h.Append([]byte{req.Command, status})
}

// ParseReadResponse parses Read Attributes Response records
// (attrID, status, [type, value]).
func ParseReadResponse(data []byte) []Record {
	var out []Record
	for len(data) >= 3 {
		r := Record{AttrID: binary.LittleEndian.Uint16(data), Status: data[2]}
		data = data[3:]
		if r.Status != StatusSuccess {
			out = append(out, r)
			continue
		}
		var ok bool
		r.DataType, r.Value, data, ok = takeValue(data)
		out = append(out, r)
		if !ok {
			break
		}
	}
	return out
}

// ParseReport parses Report Attributes records (attrID, type, value).
func ParseReport(data []byte) []Record {
	var out []Record
	for len(data) >= 3 {
		r := Record{AttrID: binary.LittleEndian.Uint16(data)}
		var ok bool
		r.DataType, r.Value, data, ok = takeValue(data[2:])
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out
}

// ParseStatusRecords returns the first status of a Write Attributes or
// Configure Reporting response. A lone success byte means all succeeded.
func ParseStatusRecords(data []byte) uint8 {
	if len(data) == 0 {
		return StatusFailure
	}
	return data[0]
}

// takeValue consumes a type byte and the value that follows. The raw value
// keeps its length prefix for string types. ok is false when the value
// boundary cannot be determined.
func takeValue(data []byte) (dataType uint8, value, rest []byte, ok bool) {
	if len(data) < 1 {
		return 0, nil, nil, false
	}
	dataType = data[0]
	data = data[1:]
	n := TypeSize(dataType)
	switch n {
	case SizeUnknown:
		return dataType, nil, nil, false
	case SizeVariable:
		if len(data) < 1 {
			return dataType, nil, nil, false
		}
		n = 1 + int(data[0])
	case SizeVariable16:
		if len(data) < 2 {
			return dataType, nil, nil, false
		}
		n = 2 + int(binary.LittleEndian.Uint16(data))
	}
	if len(data) < n {
		return dataType, nil, nil, false
	}
	value = make([]byte, n)
	copy(value, data[:n])
	return dataType, value, data[n:], true
}

// DecodeRecord decodes a record value to a Go value.
func DecodeRecord(r Record) (any, error) {
	if r.Status != StatusSuccess {
		return nil, fmt.Errorf("zcl: attribute 0x%04X status 0x%02X", r.AttrID, r.Status)
	}
	v, _, err := DecodeValue(r.DataType, r.Value)
	return v, err
}
