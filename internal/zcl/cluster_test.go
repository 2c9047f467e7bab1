package zcl

import (
	"bytes"
	"testing"
)

func TestLookupReturnsCopy(t *testing.T) {
	c := Lookup(ClusterOnOff)
	if c == nil {
		t.Fatal("OnOff cluster missing")
	}
	c.Attributes[0].Property = "changed"
	if Lookup(ClusterOnOff).Attributes[0].Property != "state" {
		t.Error("Lookup must not expose the catalog")
	}
	if Lookup(0xFC00) != nil {
		t.Error("unknown cluster should be nil")
	}
}

func TestReportable(t *testing.T) {
	tests := []struct {
		id   uint16
		want bool
	}{
		{ClusterOnOff, true},
		{ClusterTemperature, true},
		{ClusterBasic, false},
		{ClusterIASZone, false},
		{0x1234, false},
	}
	for _, tt := range tests {
		if got := Reportable(tt.id); got != tt.want {
			t.Errorf("Reportable(0x%04X) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestReportConfigs(t *testing.T) {
	cfgs := Lookup(ClusterTemperature).ReportConfigs()
	if len(cfgs) != 1 {
		t.Fatalf("got %d configs, want 1", len(cfgs))
	}
	if !bytes.Equal(cfgs[0].ReportChange, []byte{10, 0}) {
		t.Errorf("change = %X, want 0A00", cfgs[0].ReportChange)
	}
	// Discrete types carry no reportable change.
	if cfgs := Lookup(ClusterOnOff).ReportConfigs(); len(cfgs) != 1 || cfgs[0].ReportChange != nil {
		t.Errorf("onoff configs = %+v", cfgs)
	}
}

func TestPropertyCluster(t *testing.T) {
	c, a := PropertyCluster("brightness")
	if c == nil || c.ID != ClusterLevelControl || a.ID != 0x0000 {
		t.Fatalf("brightness -> %v %v", c, a)
	}
	if c, _ := PropertyCluster("nope"); c != nil {
		t.Error("unknown property should not resolve")
	}
}
