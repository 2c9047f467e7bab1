package znp

import (
	"encoding/binary"

	"zstack-gateway/internal/zcl"
)

// ResetRequest builds SYS_RESET_REQ. soft selects a serial-bootloader-safe reset.
func ResetRequest(soft bool) Frame {
	t := byte(0x00)
	if soft {
		t = 0x01
	}
	return Frame{Command: SysResetReq, Data: []byte{t}}
}

// PingRequest builds SYS_PING.
func PingRequest() Frame { return Frame{Command: SysPing} }

// VersionRequest builds SYS_VERSION.
func VersionRequest() Frame { return Frame{Command: SysVersion} }

// DeviceInfoRequest builds UTIL_GET_DEVICE_INFO.
func DeviceInfoRequest() Frame { return Frame{Command: UtilGetDeviceInfo} }

// NVWrite builds SYS_OSAL_NV_WRITE for item id at offset 0.
func NVWrite(id uint16, value []byte) Frame {
	d := make([]byte, 0, 4+len(value))
	d = binary.LittleEndian.AppendUint16(d, id)
	d = append(d, 0x00, byte(len(value)))
	d = append(d, value...)
	return Frame{Command: SysNVWrite, Data: d}
}

// NVItemInit builds SYS_OSAL_NV_ITEM_INIT creating item id with init data.
func NVItemInit(id uint16, length uint16, init []byte) Frame {
	d := make([]byte, 0, 5+len(init))
	d = binary.LittleEndian.AppendUint16(d, id)
	d = binary.LittleEndian.AppendUint16(d, length)
	d = append(d, byte(len(init)))
	d = append(d, init...)
	return Frame{Command: SysNVItemInit, Data: d}
}

// RegisterEndpoint builds AF_REGISTER for a Home Automation endpoint.
func RegisterEndpoint(ep uint8, deviceID uint16, in, out []uint16) Frame {
	d := []byte{ep}
	d = binary.LittleEndian.AppendUint16(d, ProfileHA)
	d = binary.LittleEndian.AppendUint16(d, deviceID)
	d = append(d, 0x00, 0x00) // device version, latency
	d = append(d, byte(len(in)))
	for _, c := range in {
		d = binary.LittleEndian.AppendUint16(d, c)
	}
	d = append(d, byte(len(out)))
	for _, c := range out {
		d = binary.LittleEndian.AppendUint16(d, c)
	}
	return Frame{Command: AfRegister, Data: d}
}

// StartupFromApp builds ZDO_STARTUP_FROM_APP with a start delay in ms.
func StartupFromApp(delay uint16) Frame {
	return Frame{Command: ZdoStartupFromApp, Data: binary.LittleEndian.AppendUint16(nil, delay)}
}

// PermitJoin builds ZDO_MGMT_PERMIT_JOIN_REQ. addr 0xFFFC broadcasts to all
// routers; duration 0 closes the network.
func PermitJoin(addr uint16, duration uint8) Frame {
	mode := byte(0x02)
	if addr == BroadcastAddr {
		mode = 0x0F
	}
	d := []byte{mode}
	d = binary.LittleEndian.AppendUint16(d, addr)
	d = append(d, duration, 0x00)
	return Frame{Command: ZdoMgmtPermitJoinReq, Data: d}
}

// ActiveEndpoints builds ZDO_ACTIVE_EP_REQ for addr.
func ActiveEndpoints(addr uint16) Frame {
	d := binary.LittleEndian.AppendUint16(nil, addr)
	d = binary.LittleEndian.AppendUint16(d, addr)
	return Frame{Command: ZdoActiveEPReq, Data: d}
}

// SimpleDescriptorRequest builds ZDO_SIMPLE_DESC_REQ for one endpoint.
func SimpleDescriptorRequest(addr uint16, ep uint8) Frame {
	d := binary.LittleEndian.AppendUint16(nil, addr)
	d = binary.LittleEndian.AppendUint16(d, addr)
	d = append(d, ep)
	return Frame{Command: ZdoSimpleDescReq, Data: d}
}

// Bind builds ZDO_BIND_REQ with a 64-bit destination.
func Bind(req BindRequest) Frame {
	d := make([]byte, 23)
	binary.LittleEndian.PutUint16(d[0:2], req.TargetAddr)
	putIEEE(d[2:10], req.SrcIEEE)
	d[10] = req.SrcEP
	binary.LittleEndian.PutUint16(d[11:13], req.ClusterID)
	d[13] = 0x03
	putIEEE(d[14:22], req.DstIEEE)
	d[22] = req.DstEP
	return Frame{Command: ZdoBindReq, Data: d}
}

// MgmtLeave asks the device at addr to leave the network.
func MgmtLeave(addr uint16, ieee IEEE) Frame {
	d := make([]byte, 11)
	binary.LittleEndian.PutUint16(d[0:2], addr)
	putIEEE(d[2:10], ieee)
	return Frame{Command: ZdoMgmtLeaveReq, Data: d}
}

// DataRequest wraps a ZCL frame in AF_DATA_REQUEST, or AF_DATA_REQUEST_EXT
// with group addressing when dst.Group is set.
func DataRequest(dst Destination, cluster uint16, transID uint8, zclFrame []byte) Frame {
	if dst.Group {
		d := []byte{0x01}
		d = binary.LittleEndian.AppendUint64(d, uint64(dst.Addr))
		d = append(d, 0xFF)
		d = append(d, 0x00, 0x00) // intra-pan
		d = append(d, CoordinatorEP)
		d = binary.LittleEndian.AppendUint16(d, cluster)
		d = append(d, transID, 0x00, DefaultRadius)
		d = binary.LittleEndian.AppendUint16(d, uint16(len(zclFrame)))
		d = append(d, zclFrame...)
		return Frame{Command: AfDataRequestExt, Data: d}
	}
	d := binary.LittleEndian.AppendUint16(nil, dst.Addr)
	d = append(d, dst.Endpoint, CoordinatorEP)
	d = binary.LittleEndian.AppendUint16(d, cluster)
	d = append(d, transID, 0x00, DefaultRadius, byte(len(zclFrame)))
	d = append(d, zclFrame...)
	return Frame{Command: AfDataRequest, Data: d}
}

// DefaultResponse builds the reply to a frame flagged IsFirst. AF messages
// get a ZCL Default Response routed back to the sender; any other command
// is echoed with the status as its only payload byte.
func DefaultResponse(r *Response, status uint8) Frame {
	if !r.IsZCL() {
		return Frame{Command: r.Command, Data: []byte{status}}
	}
	dst := Destination{Addr: r.SrcAddr, Endpoint: r.SrcEndpoint}
	return DataRequest(dst, r.ClusterID, r.ZCL.Seq, zcl.DefaultResponse(r.ZCL, status))
}
