package znp

import (
	"encoding/binary"
	"fmt"
	"sync"

	"zstack-gateway/internal/zcl"
)

// Response is a decoded MT frame. Which fields are set depends on Command.
type Response struct {
	Command Command
	Data    []byte // MT payload
	Status  uint8  // command status observed in the frame

	// AF_INCOMING_MSG
	GroupID     uint16
	ClusterID   uint16
	SrcAddr     uint16
	SrcEndpoint uint8
	DstEndpoint uint8
	LinkQuality uint8
	ZCL         zcl.Header
	ZCLPayload  []byte
	Records     []zcl.Record

	// ZDO
	NwkAddr    uint16
	IEEE       IEEE
	Endpoints  []uint8
	Descriptor *SimpleDescriptor

	// AF_DATA_CONFIRM
	TransID uint8

	// IsFirst is set on the first delivery of a ZCL frame that expects a
	// Default Response.
	IsFirst bool
}

// IsZCL reports whether the response carries a ZCL frame.
func (r *Response) IsZCL() bool { return r.Command == AfIncomingMsg }

// Seq returns the transaction identifier used for matching: the ZCL
// sequence number for AF messages, the AF transaction id for confirms.
func (r *Response) Seq() uint8 {
	if r.IsZCL() {
		return r.ZCL.Seq
	}
	return r.TransID
}

func (r *Response) String() string {
	if r.IsZCL() {
		return fmt.Sprintf("%s src=0x%04X cluster=0x%04X cmd=0x%02X seq=%d status=0x%02X",
			r.Command, r.SrcAddr, r.ClusterID, r.ZCL.Command, r.ZCL.Seq, r.Status)
	}
	return fmt.Sprintf("%s status=0x%02X len=%d", r.Command, r.Status, len(r.Data))
}

// Adapter is the default frame adapter. It validates wire frames and decodes
// the payload of the commands the gateway consumes.
type Adapter struct {
	mu      sync.Mutex
	lastSeq map[uint16]uint8 // per source address, for IsFirst
}

// NewAdapter returns an Adapter.
func NewAdapter() *Adapter {
	return &Adapter{lastSeq: make(map[uint16]uint8)}
}

// FromZigbee validates a raw frame and decodes it.
func (a *Adapter) FromZigbee(raw []byte) (*Response, error) {
	f, err := ParseFrame(raw)
	if err != nil {
		return nil, err
	}
	r, err := DecodeFrame(f)
	if err != nil {
		return nil, err
	}
	if r.IsZCL() {
		r.IsFirst = a.first(r)
	}
	return r, nil
}

func (a *Adapter) first(r *Response) bool {
	if r.ZCL.DefaultResponseDisabled() || r.ZCL.IsResponse() {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if seq, ok := a.lastSeq[r.SrcAddr]; ok && seq == r.ZCL.Seq {
		return false
	}
	a.lastSeq[r.SrcAddr] = r.ZCL.Seq
	return true
}

// DecodeFrame decodes the payload of a validated frame. Unknown commands
// are returned with only Command, Data and Status set.
func DecodeFrame(f Frame) (*Response, error) {
	r := &Response{Command: f.Command, Data: f.Data}
	d := f.Data
	if len(d) > 0 {
		r.Status = d[0]
	}
	short := func(min int) error {
		if len(d) < min {
			return fmt.Errorf("znp: %s payload too short: %d < %d", f.Command, len(d), min)
		}
		return nil
	}

	switch f.Command {
	case AfIncomingMsg:
		if err := short(17); err != nil {
			return nil, err
		}
		r.GroupID = binary.LittleEndian.Uint16(d[0:2])
		r.ClusterID = binary.LittleEndian.Uint16(d[2:4])
		r.SrcAddr = binary.LittleEndian.Uint16(d[4:6])
		r.SrcEndpoint = d[6]
		r.DstEndpoint = d[7]
		r.LinkQuality = d[9]
		n := int(d[16])
		if len(d) < 17+n {
			return nil, fmt.Errorf("znp: AF_INCOMING_MSG truncated: want %d data bytes, have %d", n, len(d)-17)
		}
		h, payload, err := zcl.ParseHeader(d[17 : 17+n])
		if err != nil {
			return nil, fmt.Errorf("znp: AF_INCOMING_MSG: %w", err)
		}
		r.ZCL = h
		r.ZCLPayload = payload
		r.Status = zcl.StatusSuccess
		if h.ClusterSpecific() {
			break
		}
		switch h.Command {
		case zcl.FoundationReadAttributesResponse:
			r.Records = zcl.ParseReadResponse(payload)
			if len(r.Records) > 0 {
				r.Status = r.Records[0].Status
			}
		case zcl.FoundationReportAttributes:
			r.Records = zcl.ParseReport(payload)
		case zcl.FoundationWriteAttributesResp, zcl.FoundationConfigReportingResp:
			r.Status = zcl.ParseStatusRecords(payload)
		case zcl.FoundationDefaultResponse:
			if len(payload) >= 2 {
				r.Status = payload[1]
			}
		}

	case AfDataConfirm:
		if err := short(3); err != nil {
			return nil, err
		}
		r.DstEndpoint = d[1]
		r.TransID = d[2]

	case ZdoActiveEPRsp:
		if err := short(6); err != nil {
			return nil, err
		}
		r.SrcAddr = binary.LittleEndian.Uint16(d[0:2])
		r.Status = d[2]
		r.NwkAddr = binary.LittleEndian.Uint16(d[3:5])
		n := int(d[5])
		if len(d) < 6+n {
			return nil, fmt.Errorf("znp: ZDO_ACTIVE_EP_RSP truncated")
		}
		r.Endpoints = append([]uint8(nil), d[6:6+n]...)

	case ZdoSimpleDescRsp:
		if err := short(6); err != nil {
			return nil, err
		}
		r.SrcAddr = binary.LittleEndian.Uint16(d[0:2])
		r.Status = d[2]
		r.NwkAddr = binary.LittleEndian.Uint16(d[3:5])
		if r.Status != StatusSuccess {
			break
		}
		desc, err := parseSimpleDescriptor(d[6:])
		if err != nil {
			return nil, err
		}
		r.Descriptor = desc

	case ZdoBindRsp, ZdoMgmtLeaveRsp, ZdoMgmtPermitJoinRsp:
		if err := short(3); err != nil {
			return nil, err
		}
		r.SrcAddr = binary.LittleEndian.Uint16(d[0:2])
		r.Status = d[2]

	case ZdoEndDeviceAnnceInd:
		if err := short(13); err != nil {
			return nil, err
		}
		r.SrcAddr = binary.LittleEndian.Uint16(d[0:2])
		r.NwkAddr = binary.LittleEndian.Uint16(d[2:4])
		r.IEEE = readIEEE(d[4:12])
		r.Status = StatusSuccess

	case ZdoTCDevInd:
		if err := short(12); err != nil {
			return nil, err
		}
		r.NwkAddr = binary.LittleEndian.Uint16(d[0:2])
		r.SrcAddr = r.NwkAddr
		r.IEEE = readIEEE(d[2:10])
		r.Status = StatusSuccess

	case ZdoLeaveInd:
		if err := short(10); err != nil {
			return nil, err
		}
		r.SrcAddr = binary.LittleEndian.Uint16(d[0:2])
		r.NwkAddr = r.SrcAddr
		r.IEEE = readIEEE(d[2:10])
		r.Status = StatusSuccess

	case UtilGetDeviceInfoRsp:
		if err := short(11); err != nil {
			return nil, err
		}
		r.IEEE = readIEEE(d[1:9])
		r.NwkAddr = binary.LittleEndian.Uint16(d[9:11])
	}
	return r, nil
}

func parseSimpleDescriptor(d []byte) (*SimpleDescriptor, error) {
	if len(d) < 7 {
		return nil, fmt.Errorf("znp: simple descriptor too short: %d bytes", len(d))
	}
	desc := &SimpleDescriptor{
		Endpoint:  d[0],
		ProfileID: binary.LittleEndian.Uint16(d[1:3]),
		DeviceID:  binary.LittleEndian.Uint16(d[3:5]),
	}
	d = d[6:]
	var err error
	if desc.InClusters, d, err = clusterList(d); err != nil {
		return nil, err
	}
	if desc.OutClusters, _, err = clusterList(d); err != nil {
		return nil, err
	}
	return desc, nil
}

func clusterList(d []byte) ([]uint16, []byte, error) {
	if len(d) < 1 {
		return nil, nil, fmt.Errorf("znp: missing cluster count")
	}
	n := int(d[0])
	d = d[1:]
	if len(d) < 2*n {
		return nil, nil, fmt.Errorf("znp: cluster list truncated: %d clusters, %d bytes", n, len(d))
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(d[2*i:])
	}
	return out, d[2*n:], nil
}
