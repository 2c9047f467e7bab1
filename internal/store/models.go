package store

import (
	"slices"
	"time"
)

// Device is a network member as last seen by the gateway.
type Device struct {
	IEEEAddress  string         `json:"ieee_address"`
	NwkAddress   uint16         `json:"nwk_address"`
	Manufacturer string         `json:"manufacturer,omitempty"`
	Model        string         `json:"model,omitempty"`
	PowerSource  uint8          `json:"power_source,omitempty"`
	Endpoints    []Endpoint     `json:"endpoints,omitempty"`
	Interviewed  bool           `json:"interviewed"`
	JoinedAt     time.Time      `json:"joined_at"`
	LastSeen     time.Time      `json:"last_seen"`
	LinkQuality  uint8          `json:"linkquality,omitempty"`
	State        map[string]any `json:"state,omitempty"`

	// Configured lists in-clusters already bound and set up for reporting,
	// so a re-interview does not repeat them.
	Configured []uint16 `json:"configured,omitempty"`
}

// Endpoint is a simple descriptor.
type Endpoint struct {
	ID          uint8    `json:"id"`
	ProfileID   uint16   `json:"profile_id"`
	DeviceID    uint16   `json:"device_id"`
	InClusters  []uint16 `json:"in_clusters"`
	OutClusters []uint16 `json:"out_clusters"`
}

// IsConfigured reports whether reporting for cluster was already set up.
func (d *Device) IsConfigured(cluster uint16) bool {
	return slices.Contains(d.Configured, cluster)
}

// MarkConfigured records cluster as configured.
func (d *Device) MarkConfigured(cluster uint16) {
	if !d.IsConfigured(cluster) {
		d.Configured = append(d.Configured, cluster)
	}
}

// EndpointFor returns the first endpoint serving cluster as an in-cluster,
// falling back to the first endpoint, or 1 when none are known.
func (d *Device) EndpointFor(cluster uint16) uint8 {
	for _, ep := range d.Endpoints {
		if slices.Contains(ep.InClusters, cluster) {
			return ep.ID
		}
	}
	if len(d.Endpoints) > 0 {
		return d.Endpoints[0].ID
	}
	return 1
}

// NetworkState holds the parameters the coordinator network was formed with.
type NetworkState struct {
	Channel         uint8  `json:"channel"`
	PanID           uint16 `json:"pan_id"`
	ExtPanID        string `json:"ext_pan_id"`
	CoordinatorIEEE string `json:"coordinator_ieee,omitempty"`
	Formed          bool   `json:"formed"`
}
