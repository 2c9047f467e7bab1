package znp

// MT commands used by the gateway. Values are Cmd0<<8 | Cmd1.
const (
	SysResetReq      Command = 0x4100
	SysResetInd      Command = 0x4180
	SysPing          Command = 0x2101
	SysPingRsp       Command = 0x6101
	SysVersion       Command = 0x2102
	SysVersionRsp    Command = 0x6102
	SysNVItemInit    Command = 0x2107
	SysNVItemInitRsp Command = 0x6107
	SysNVWrite       Command = 0x2109
	SysNVWriteRsp    Command = 0x6109

	AfRegister       Command = 0x2400
	AfRegisterRsp    Command = 0x6400
	AfDataRequest    Command = 0x2401
	AfDataRequestRsp Command = 0x6401
	AfDataRequestExt Command = 0x2402
	AfDataConfirm    Command = 0x4480
	AfIncomingMsg    Command = 0x4481

	ZdoSimpleDescReq      Command = 0x2504
	ZdoSimpleDescSrsp     Command = 0x6504
	ZdoActiveEPReq        Command = 0x2505
	ZdoActiveEPSrsp       Command = 0x6505
	ZdoBindReq            Command = 0x2521
	ZdoBindSrsp           Command = 0x6521
	ZdoMgmtLeaveReq       Command = 0x2534
	ZdoMgmtLeaveSrsp      Command = 0x6534
	ZdoMgmtPermitJoinReq  Command = 0x2536
	ZdoMgmtPermitJoinSrsp Command = 0x6536
	ZdoStartupFromApp     Command = 0x2540
	ZdoStartupFromAppRsp  Command = 0x6540
	ZdoSimpleDescRsp      Command = 0x4584
	ZdoActiveEPRsp        Command = 0x4585
	ZdoBindRsp            Command = 0x45A1
	ZdoMgmtLeaveRsp       Command = 0x45B4
	ZdoMgmtPermitJoinRsp  Command = 0x45B6
	ZdoStateChangeInd     Command = 0x45C0
	ZdoEndDeviceAnnceInd  Command = 0x45C1
	ZdoLeaveInd           Command = 0x45C9
	ZdoTCDevInd           Command = 0x45CA
	ZdoPermitJoinInd      Command = 0x45CB

	UtilGetDeviceInfo    Command = 0x2700
	UtilGetDeviceInfoRsp Command = 0x6700
)

var commandNames = map[Command]string{
	SysResetReq:           "SYS_RESET_REQ",
	SysResetInd:           "SYS_RESET_IND",
	SysPing:               "SYS_PING",
	SysPingRsp:            "SYS_PING_SRSP",
	SysVersion:            "SYS_VERSION",
	SysVersionRsp:         "SYS_VERSION_SRSP",
	SysNVItemInit:         "SYS_OSAL_NV_ITEM_INIT",
	SysNVItemInitRsp:      "SYS_OSAL_NV_ITEM_INIT_SRSP",
	SysNVWrite:            "SYS_OSAL_NV_WRITE",
	SysNVWriteRsp:         "SYS_OSAL_NV_WRITE_SRSP",
	AfRegister:            "AF_REGISTER",
	AfRegisterRsp:         "AF_REGISTER_SRSP",
	AfDataRequest:         "AF_DATA_REQUEST",
	AfDataRequestRsp:      "AF_DATA_REQUEST_SRSP",
	AfDataRequestExt:      "AF_DATA_REQUEST_EXT",
	AfDataConfirm:         "AF_DATA_CONFIRM",
	AfIncomingMsg:         "AF_INCOMING_MSG",
	ZdoSimpleDescReq:      "ZDO_SIMPLE_DESC_REQ",
	ZdoSimpleDescSrsp:     "ZDO_SIMPLE_DESC_SRSP",
	ZdoActiveEPReq:        "ZDO_ACTIVE_EP_REQ",
	ZdoActiveEPSrsp:       "ZDO_ACTIVE_EP_SRSP",
	ZdoBindReq:            "ZDO_BIND_REQ",
	ZdoBindSrsp:           "ZDO_BIND_SRSP",
	ZdoMgmtLeaveReq:       "ZDO_MGMT_LEAVE_REQ",
	ZdoMgmtLeaveSrsp:      "ZDO_MGMT_LEAVE_SRSP",
	ZdoMgmtPermitJoinReq:  "ZDO_MGMT_PERMIT_JOIN_REQ",
	ZdoMgmtPermitJoinSrsp: "ZDO_MGMT_PERMIT_JOIN_SRSP",
	ZdoStartupFromApp:     "ZDO_STARTUP_FROM_APP",
	ZdoStartupFromAppRsp:  "ZDO_STARTUP_FROM_APP_SRSP",
	ZdoSimpleDescRsp:      "ZDO_SIMPLE_DESC_RSP",
	ZdoActiveEPRsp:        "ZDO_ACTIVE_EP_RSP",
	ZdoBindRsp:            "ZDO_BIND_RSP",
	ZdoMgmtLeaveRsp:       "ZDO_MGMT_LEAVE_RSP",
	ZdoMgmtPermitJoinRsp:  "ZDO_MGMT_PERMIT_JOIN_RSP",
	ZdoStateChangeInd:     "ZDO_STATE_CHANGE_IND",
	ZdoEndDeviceAnnceInd:  "ZDO_END_DEVICE_ANNCE_IND",
	ZdoLeaveInd:           "ZDO_LEAVE_IND",
	ZdoTCDevInd:           "ZDO_TC_DEV_IND",
	ZdoPermitJoinInd:      "ZDO_PERMIT_JOIN_IND",
	UtilGetDeviceInfo:     "UTIL_GET_DEVICE_INFO",
	UtilGetDeviceInfoRsp:  "UTIL_GET_DEVICE_INFO_SRSP",
}

// NV item ids.
const (
	NVStartupOption    uint16 = 0x0003
	NVExtendedPanID    uint16 = 0x002D
	NVPrecfgKey        uint16 = 0x0062
	NVPrecfgKeysEnable uint16 = 0x0063
	NVPanID            uint16 = 0x0083
	NVChannelList      uint16 = 0x0084
	NVLogicalType      uint16 = 0x0087
	NVZdoDirectCB      uint16 = 0x008F
	NVTCLKTableStart   uint16 = 0x0101
	NVHasConfigured    uint16 = 0x0F00
)

// Startup option bits.
const (
	StartupClearConfig = 0x01
	StartupClearState  = 0x02
)

// Device states reported by ZDO_STATE_CHANGE_IND.
const (
	DevStateCoordinator = 0x09
)

// Logical types.
const (
	LogicalCoordinator = 0x00
)

// Status codes.
const (
	StatusSuccess   = 0x00
	StatusFailure   = 0x01
	StatusAFExists  = 0xB8
	StatusNVCreated = 0x09
)

// TCLinkKey is the trust-center link key table entry written to the
// coordinator: wildcard address, the ZigBeeAlliance09 key, zeroed counters.
var TCLinkKey = [32]byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0x5A, 0x69, 0x67, 0x42, 0x65, 0x65, 0x41, 0x6C,
	0x6C, 0x69, 0x61, 0x6E, 0x63, 0x65, 0x30, 0x39,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// Radio and application defaults.
const (
	DefaultChannel  = 11
	DefaultRadius   = 0x1E
	DefaultBaudRate = 115200
	ProfileHA       = 0x0104
	CoordinatorEP   = 1
	CoordinatorAddr = 0x0000
	BroadcastAddr   = 0xFFFC
)
