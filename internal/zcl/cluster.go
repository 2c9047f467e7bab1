package zcl

// Cluster IDs handled by the gateway.
const (
	ClusterBasic        uint16 = 0x0000
	ClusterPowerConfig  uint16 = 0x0001
	ClusterOnOff        uint16 = 0x0006
	ClusterLevelControl uint16 = 0x0008
	ClusterColorControl uint16 = 0x0300
	ClusterIlluminance  uint16 = 0x0400
	ClusterTemperature  uint16 = 0x0402
	ClusterPressure     uint16 = 0x0403
	ClusterHumidity     uint16 = 0x0405
	ClusterOccupancy    uint16 = 0x0406
	ClusterIASZone      uint16 = 0x0500
	ClusterMetering     uint16 = 0x0702
	ClusterElectrical   uint16 = 0x0B04
)

// Basic cluster attributes read during interview.
const (
	AttrManufacturerName uint16 = 0x0004
	AttrModelIdentifier  uint16 = 0x0005
	AttrPowerSource      uint16 = 0x0007
)

// Access flags
const (
	AccessRead   uint8 = 0x01
	AccessWrite  uint8 = 0x02
	AccessReport uint8 = 0x04
)

// AttributeDef describes an attribute and how it maps to a document property.
type AttributeDef struct {
	ID       uint16
	Name     string
	Type     uint8
	Access   uint8
	Property string  // document key; empty when not exposed
	Scale    float64 // raw value is divided by Scale when non-zero

	// Reporting parameters used when the cluster is configured at interview.
	MinInterval uint16
	MaxInterval uint16
	Change      uint64
}

func (a *AttributeDef) IsWritable() bool   { return a.Access&AccessWrite != 0 }
func (a *AttributeDef) IsReportable() bool { return a.Access&AccessReport != 0 }

// ClusterDef is a cluster known to the gateway.
type ClusterDef struct {
	ID         uint16
	Name       string
	Attributes []AttributeDef
}

// FindAttribute looks up an attribute by ID.
func (c *ClusterDef) FindAttribute(id uint16) *AttributeDef {
	for i := range c.Attributes {
		if c.Attributes[i].ID == id {
			return &c.Attributes[i]
		}
	}
	return nil
}

// FindProperty looks up an attribute by its document property name.
func (c *ClusterDef) FindProperty(name string) *AttributeDef {
	for i := range c.Attributes {
		if c.Attributes[i].Property == name {
			return &c.Attributes[i]
		}
	}
	return nil
}

// ReportConfigs returns Configure Reporting records for the cluster's
// reportable attributes.
func (c *ClusterDef) ReportConfigs() []ReportConfig {
	var out []ReportConfig
	for _, a := range c.Attributes {
		if !a.IsReportable() {
			continue
		}
		rc := ReportConfig{
			AttrID:      a.ID,
			DataType:    a.Type,
			MinInterval: a.MinInterval,
			MaxInterval: a.MaxInterval,
		}
		if isAnalog(a.Type) {
			rc.ReportChange, _ = EncodeValue(a.Type, a.Change)
		}
		out = append(out, rc)
	}
	return out
}

func isAnalog(t uint8) bool {
	switch {
	case t >= TypeUint8 && t <= TypeInt8+7:
		return true
	case t == TypeFloat16, t == TypeFloat32, t == TypeFloat64, t == TypeUTC:
		return true
	}
	return false
}

var catalog = map[uint16]ClusterDef{}

func register(c ClusterDef) { catalog[c.ID] = c }

// Lookup returns the definition for a cluster, or nil if unknown.
// The returned value is a copy.
func Lookup(id uint16) *ClusterDef {
	c, ok := catalog[id]
	if !ok {
		return nil
	}
	c.Attributes = append([]AttributeDef(nil), c.Attributes...)
	return &c
}

// Reportable reports whether the gateway binds and configures reporting for
// the cluster at interview time.
func Reportable(id uint16) bool {
	c, ok := catalog[id]
	if !ok {
		return false
	}
	for _, a := range c.Attributes {
		if a.IsReportable() {
			return true
		}
	}
	return false
}

// PropertyCluster finds the cluster exposing a document property.
func PropertyCluster(property string) (*ClusterDef, *AttributeDef) {
	for id := range catalog {
		c := Lookup(id)
		if a := c.FindProperty(property); a != nil {
			return c, a
		}
	}
	return nil, nil
}

func init() {
	const rw, rr = AccessRead | AccessWrite, AccessRead | AccessReport

	register(ClusterDef{ID: ClusterBasic, Name: "Basic", Attributes: []AttributeDef{
		{ID: AttrManufacturerName, Name: "ManufacturerName", Type: TypeCharStr, Access: AccessRead, Property: "manufacturer"},
		{ID: AttrModelIdentifier, Name: "ModelIdentifier", Type: TypeCharStr, Access: AccessRead, Property: "model"},
		{ID: AttrPowerSource, Name: "PowerSource", Type: TypeEnum8, Access: AccessRead, Property: "power_source"},
	}})
	register(ClusterDef{ID: ClusterPowerConfig, Name: "Power Configuration", Attributes: []AttributeDef{
		{ID: 0x0020, Name: "BatteryVoltage", Type: TypeUint8, Access: AccessRead, Property: "voltage", Scale: 10},
		{ID: 0x0021, Name: "BatteryPercentageRemaining", Type: TypeUint8, Access: rr, Property: "battery", Scale: 2,
			MinInterval: 3600, MaxInterval: 62000, Change: 0},
	}})
	register(ClusterDef{ID: ClusterOnOff, Name: "On/Off", Attributes: []AttributeDef{
		{ID: 0x0000, Name: "OnOff", Type: TypeBool, Access: rr, Property: "state", MinInterval: 0, MaxInterval: 3600},
		{ID: 0x4003, Name: "StartUpOnOff", Type: TypeEnum8, Access: rw, Property: "power_on_behavior"},
	}})
	register(ClusterDef{ID: ClusterLevelControl, Name: "Level Control", Attributes: []AttributeDef{
		{ID: 0x0000, Name: "CurrentLevel", Type: TypeUint8, Access: rr, Property: "brightness",
			MinInterval: 1, MaxInterval: 3600, Change: 1},
		{ID: 0x0010, Name: "OnOffTransitionTime", Type: TypeUint16, Access: rw, Property: "transition_time"},
	}})
	register(ClusterDef{ID: ClusterColorControl, Name: "Color Control", Attributes: []AttributeDef{
		{ID: 0x0007, Name: "ColorTemperatureMireds", Type: TypeUint16, Access: rr, Property: "color_temp",
			MinInterval: 1, MaxInterval: 3600, Change: 1},
	}})
	register(ClusterDef{ID: ClusterIlluminance, Name: "Illuminance Measurement", Attributes: []AttributeDef{
		{ID: 0x0000, Name: "MeasuredValue", Type: TypeUint16, Access: rr, Property: "illuminance",
			MinInterval: 10, MaxInterval: 3600, Change: 5},
	}})
	register(ClusterDef{ID: ClusterTemperature, Name: "Temperature Measurement", Attributes: []AttributeDef{
		{ID: 0x0000, Name: "MeasuredValue", Type: TypeInt16, Access: rr, Property: "temperature", Scale: 100,
			MinInterval: 10, MaxInterval: 3600, Change: 10},
	}})
	register(ClusterDef{ID: ClusterPressure, Name: "Pressure Measurement", Attributes: []AttributeDef{
		{ID: 0x0000, Name: "MeasuredValue", Type: TypeInt16, Access: rr, Property: "pressure",
			MinInterval: 10, MaxInterval: 3600, Change: 1},
	}})
	register(ClusterDef{ID: ClusterHumidity, Name: "Relative Humidity", Attributes: []AttributeDef{
		{ID: 0x0000, Name: "MeasuredValue", Type: TypeUint16, Access: rr, Property: "humidity", Scale: 100,
			MinInterval: 10, MaxInterval: 3600, Change: 100},
	}})
	register(ClusterDef{ID: ClusterOccupancy, Name: "Occupancy Sensing", Attributes: []AttributeDef{
		{ID: 0x0000, Name: "Occupancy", Type: TypeBitmap8, Access: rr, Property: "occupancy", MinInterval: 0, MaxInterval: 3600},
	}})
	register(ClusterDef{ID: ClusterIASZone, Name: "IAS Zone", Attributes: []AttributeDef{
		{ID: 0x0002, Name: "ZoneStatus", Type: TypeBitmap16, Access: AccessRead, Property: "zone_status"},
	}})
	register(ClusterDef{ID: ClusterMetering, Name: "Metering", Attributes: []AttributeDef{
		{ID: 0x0000, Name: "CurrentSummationDelivered", Type: TypeUint48, Access: rr, Property: "energy",
			MinInterval: 10, MaxInterval: 3600, Change: 1},
	}})
	register(ClusterDef{ID: ClusterElectrical, Name: "Electrical Measurement", Attributes: []AttributeDef{
		{ID: 0x0505, Name: "RMSVoltage", Type: TypeUint16, Access: rr, Property: "voltage_rms",
			MinInterval: 10, MaxInterval: 3600, Change: 1},
		{ID: 0x050B, Name: "ActivePower", Type: TypeInt16, Access: rr, Property: "power",
			MinInterval: 10, MaxInterval: 3600, Change: 1},
	}})
}
