// Package convert translates between JSON-style state documents and ZCL
// requests for the clusters in the zcl catalog.
package convert

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strings"

	"zstack-gateway/internal/coordinator"
	"zstack-gateway/internal/zcl"
)

// Keys that modify other properties instead of mapping to an attribute.
const (
	keyGroupID    = "group_id"
	keyTransition = "transition"
)

// Cluster commands issued for set requests.
const (
	cmdOff                    uint8 = 0x00
	cmdOn                     uint8 = 0x01
	cmdToggle                 uint8 = 0x02
	cmdMoveToLevelWithOnOff   uint8 = 0x04
	cmdMoveToColorTemperature uint8 = 0x0A
)

// Converter implements coordinator.Converter.
type Converter struct{}

func New() *Converter { return &Converter{} }

var _ coordinator.Converter = (*Converter)(nil)

// ToZigbee maps doc to ZCL operations. Set documents map each property to a
// command or attribute write; get documents become reads grouped by cluster.
func (c *Converter) ToZigbee(doc coordinator.Document, mode coordinator.ConvertMode) ([]coordinator.Operation, error) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		if k == keyGroupID || k == keyTransition {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if len(keys) == 0 {
		return nil, fmt.Errorf("no properties in document")
	}

	switch mode {
	case coordinator.ModeSet:
		return c.set(doc, keys)
	case coordinator.ModeGet:
		return c.get(keys)
	}
	return nil, fmt.Errorf("unknown convert mode %d", mode)
}

func (c *Converter) set(doc coordinator.Document, keys []string) ([]coordinator.Operation, error) {
	transition := uint16(0)
	if t, ok := toFloat(doc[keyTransition]); ok && t > 0 {
		transition = uint16(min(math.Round(t*10), math.MaxUint16))
	}

	var ops []coordinator.Operation
	for _, key := range keys {
		op, err := c.setProperty(key, doc[key], transition)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (c *Converter) setProperty(key string, value any, transition uint16) (coordinator.Operation, error) {
	switch key {
	case "state":
		s, ok := value.(string)
		if !ok {
			return coordinator.Operation{}, fmt.Errorf("state: expected string, got %T", value)
		}
		op := coordinator.Operation{Kind: coordinator.OpCommand, Cluster: zcl.ClusterOnOff}
		switch strings.ToUpper(s) {
		case "ON":
			op.Command, op.State = cmdOn, coordinator.Document{"state": "ON"}
		case "OFF":
			op.Command, op.State = cmdOff, coordinator.Document{"state": "OFF"}
		case "TOGGLE":
			op.Command = cmdToggle
		default:
			return coordinator.Operation{}, fmt.Errorf("state: invalid value %q", s)
		}
		return op, nil

	case "brightness":
		v, ok := toFloat(value)
		if !ok || v < 0 || v > 254 {
			return coordinator.Operation{}, fmt.Errorf("brightness: expected 0-254, got %v", value)
		}
		level := uint8(v)
		payload := binary.LittleEndian.AppendUint16([]byte{level}, transition)
		state := coordinator.Document{"brightness": level, "state": "ON"}
		if level == 0 {
			state["state"] = "OFF"
		}
		return coordinator.Operation{
			Kind: coordinator.OpCommand, Cluster: zcl.ClusterLevelControl,
			Command: cmdMoveToLevelWithOnOff, Payload: payload, State: state,
		}, nil

	case "color_temp":
		v, ok := toFloat(value)
		if !ok || v < 0 || v > math.MaxUint16 {
			return coordinator.Operation{}, fmt.Errorf("color_temp: expected mireds, got %v", value)
		}
		mireds := uint16(v)
		payload := binary.LittleEndian.AppendUint16(nil, mireds)
		payload = binary.LittleEndian.AppendUint16(payload, transition)
		return coordinator.Operation{
			Kind: coordinator.OpCommand, Cluster: zcl.ClusterColorControl,
			Command: cmdMoveToColorTemperature, Payload: payload,
			State: coordinator.Document{"color_temp": mireds},
		}, nil
	}

	cluster, attr := zcl.PropertyCluster(key)
	if attr == nil {
		return coordinator.Operation{}, fmt.Errorf("unknown property %q", key)
	}
	if !attr.IsWritable() {
		return coordinator.Operation{}, fmt.Errorf("property %q is read-only", key)
	}
	raw := value
	if attr.Scale != 0 {
		f, ok := toFloat(value)
		if !ok {
			return coordinator.Operation{}, fmt.Errorf("%s: expected number, got %T", key, value)
		}
		raw = math.Round(f * attr.Scale)
	}
	encoded, err := zcl.EncodeValue(attr.Type, raw)
	if err != nil {
		return coordinator.Operation{}, fmt.Errorf("%s: %w", key, err)
	}
	return coordinator.Operation{
		Kind:    coordinator.OpWrite,
		Cluster: cluster.ID,
		Records: []zcl.WriteRecord{{AttrID: attr.ID, DataType: attr.Type, Value: encoded}},
		State:   coordinator.Document{key: value},
	}, nil
}

func (c *Converter) get(keys []string) ([]coordinator.Operation, error) {
	byCluster := make(map[uint16][]uint16)
	for _, key := range keys {
		cluster, attr := zcl.PropertyCluster(key)
		if attr == nil {
			return nil, fmt.Errorf("unknown property %q", key)
		}
		if !slices.Contains(byCluster[cluster.ID], attr.ID) {
			byCluster[cluster.ID] = append(byCluster[cluster.ID], attr.ID)
		}
	}
	clusters := make([]uint16, 0, len(byCluster))
	for id := range byCluster {
		clusters = append(clusters, id)
	}
	slices.Sort(clusters)

	ops := make([]coordinator.Operation, 0, len(clusters))
	for _, id := range clusters {
		ops = append(ops, coordinator.Operation{Kind: coordinator.OpRead, Cluster: id, AttrIDs: byCluster[id]})
	}
	return ops, nil
}

// FromZigbee renders attribute records as document properties. Records
// with a failure status or without a mapped property are skipped.
func (c *Converter) FromZigbee(cluster uint16, records []zcl.Record) coordinator.Document {
	def := zcl.Lookup(cluster)
	if def == nil {
		return nil
	}
	doc := coordinator.Document{}
	for _, rec := range records {
		attr := def.FindAttribute(rec.AttrID)
		if attr == nil || attr.Property == "" {
			continue
		}
		v, err := zcl.DecodeRecord(rec)
		if err != nil {
			continue
		}
		doc[attr.Property] = present(cluster, attr, v)
	}
	if len(doc) == 0 {
		return nil
	}
	return doc
}

func present(cluster uint16, attr *zcl.AttributeDef, v any) any {
	switch {
	case cluster == zcl.ClusterOnOff && attr.Type == zcl.TypeBool:
		if b, _ := v.(bool); b {
			return "ON"
		}
		return "OFF"
	case cluster == zcl.ClusterOccupancy:
		n, _ := toFloat(v)
		return int(n)&0x01 != 0
	case attr.Scale != 0:
		if n, ok := toFloat(v); ok {
			return n / attr.Scale
		}
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
