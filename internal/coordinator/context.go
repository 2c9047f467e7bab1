package coordinator

import (
	"sync"

	"zstack-gateway/internal/znp"
)

// CoordinatorInfo describes the local coordinator radio.
type CoordinatorInfo struct {
	NwkAddr  uint16
	IEEE     znp.IEEE
	Channel  uint8
	PanID    uint16
	ExtPanID uint64
	LinkKey  [32]byte
}

// DeviceInfo identifies the device being joined or interviewed.
type DeviceInfo struct {
	NwkAddr uint16
	IEEE    znp.IEEE
}

// NetworkContext is the state shared by the gateway loops. It is mutated
// during initialization and interview only.
type NetworkContext struct {
	mu          sync.RWMutex
	coordinator CoordinatorInfo
	device      *DeviceInfo
	nwkIndex    map[uint16]string
}

// NewNetworkContext returns an empty context.
func NewNetworkContext() *NetworkContext {
	return &NetworkContext{nwkIndex: make(map[uint16]string)}
}

// Coordinator returns the local coordinator identity.
func (n *NetworkContext) Coordinator() CoordinatorInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.coordinator
}

// SetCoordinator records the coordinator identity after startup.
func (n *NetworkContext) SetCoordinator(info CoordinatorInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.coordinator = info
}

// Device returns the device currently joining or under interview.
func (n *NetworkContext) Device() (DeviceInfo, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.device == nil {
		return DeviceInfo{}, false
	}
	return *n.device, true
}

// SetDevice sets the joining device; nil clears it.
func (n *NetworkContext) SetDevice(info *DeviceInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.device = info
}

// Remember records the network address of a device.
func (n *NetworkContext) Remember(nwk uint16, ieee string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for addr, v := range n.nwkIndex {
		if v == ieee {
			delete(n.nwkIndex, addr)
		}
	}
	n.nwkIndex[nwk] = ieee
}

// Forget drops a device from the address index.
func (n *NetworkContext) Forget(ieee string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for addr, v := range n.nwkIndex {
		if v == ieee {
			delete(n.nwkIndex, addr)
		}
	}
}

// Resolve maps a network address to an IEEE address.
func (n *NetworkContext) Resolve(nwk uint16) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ieee, ok := n.nwkIndex[nwk]
	return ieee, ok
}

// ClearIndex forgets every device address.
func (n *NetworkContext) ClearIndex() {
	n.mu.Lock()
	defer n.mu.Unlock()
	clear(n.nwkIndex)
}
