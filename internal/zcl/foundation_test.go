package zcl

import (
	"bytes"
	"testing"
)

func TestParseHeader(t *testing.T) {
	h, payload, err := ParseHeader([]byte{0x18, 0x07, 0x0A, 0x00, 0x00, 0x10, 0x01})
	if err != nil {
		t.Fatal(err)
	}
	if h.Seq != 0x07 || h.Command != FoundationReportAttributes {
		t.Errorf("header = %+v", h)
	}
	if !h.DefaultResponseDisabled() || h.ClusterSpecific() {
		t.Errorf("frame control bits misread: 0x%02X", h.FrameControl)
	}
	if !bytes.Equal(payload, []byte{0x00, 0x00, 0x10, 0x01}) {
		t.Errorf("payload = %X", payload)
	}
}

func TestParseHeaderManufacturer(t *testing.T) {
	h, payload, err := ParseHeader([]byte{0x05, 0x5F, 0x11, 0x01, 0x02, 0xAA})
	if err != nil {
		t.Fatal(err)
	}
	if h.ManufacturerCode != 0x115F || h.Seq != 0x01 || h.Command != 0x02 {
		t.Errorf("header = %+v", h)
	}
	if !bytes.Equal(payload, []byte{0xAA}) {
		t.Errorf("payload = %X", payload)
	}
	if !bytes.Equal(h.Append(payload), []byte{0x05, 0x5F, 0x11, 0x01, 0x02, 0xAA}) {
		t.Error("Append should reproduce the input")
	}
}

func TestParseHeaderShort(t *testing.T) {
	if _, _, err := ParseHeader([]byte{0x00, 0x01}); err == nil {
		t.Error("expected error")
	}
	if _, _, err := ParseHeader([]byte{0x04, 0x01, 0x02}); err == nil {
		t.Error("expected error for truncated manufacturer header")
	}
}

func TestBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"read", ReadAttributes(3, []uint16{0x0004, 0x0005}), []byte{0x00, 3, 0x00, 0x04, 0x00, 0x05, 0x00}},
		{"write", WriteAttributes(4, []WriteRecord{{AttrID: 0x4003, DataType: TypeEnum8, Value: []byte{0x01}}}),
			[]byte{0x00, 4, 0x02, 0x03, 0x40, 0x30, 0x01}},
		{"command", ClusterCommand(5, 0x01, nil), []byte{0x01, 5, 0x01}},
		{"configure", ConfigureReporting(6, []ReportConfig{{AttrID: 0, DataType: TypeBool, MinInterval: 0, MaxInterval: 3600}}),
			[]byte{0x00, 6, 0x06, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x10, 0x0E}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("got %X, want %X", tt.got, tt.want)
			}
		})
	}
}

func TestDefaultResponse(t *testing.T) {
	req := Header{FrameControl: FrameTypeCluster, Seq: 9, Command: 0x02}
	got := DefaultResponse(req, StatusSuccess)
	want := []byte{FrameDisableDefaultRsp | FrameServerToClient, 9, FoundationDefaultResponse, 0x02, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("got %X, want %X", got, want)
	}

	// A report from a server gets a client-to-server reply.
	req = Header{FrameControl: FrameServerToClient, Seq: 1, Command: FoundationReportAttributes}
	if got := DefaultResponse(req, StatusSuccess); got[0] != FrameDisableDefaultRsp {
		t.Errorf("frame control = 0x%02X, want 0x%02X", got[0], FrameDisableDefaultRsp)
	}
}

func TestIsResponse(t *testing.T) {
	for _, cmd := range []uint8{FoundationReadAttributesResponse, FoundationWriteAttributesResp, FoundationDefaultResponse} {
		if !(Header{Command: cmd}).IsResponse() {
			t.Errorf("0x%02X should be a response", cmd)
		}
	}
	if (Header{Command: FoundationReportAttributes}).IsResponse() {
		t.Error("report is not a response")
	}
	if (Header{FrameControl: FrameTypeCluster, Command: FoundationDefaultResponse}).IsResponse() {
		t.Error("cluster-specific 0x0B is not a foundation response")
	}
}

func TestParseReadResponse(t *testing.T) {
	data := []byte{
		0x05, 0x00, 0x86, // unsupported
		0x04, 0x00, 0x00, 0x42, 0x02, 'H', 'i',
		0x00, 0x00, 0x00, 0x38, 0x00, 0x3C, // float16 must not stop parsing
		0x01, 0x00, 0x00, 0x20, 0xFF,
	}
	recs := ParseReadResponse(data)
	if len(recs) != 4 {
		t.Fatalf("got %d records, want 4", len(recs))
	}
	if recs[0].Status != StatusUnsupportedAttr || recs[0].Value != nil {
		t.Errorf("rec[0] = %+v", recs[0])
	}
	if !bytes.Equal(recs[1].Value, []byte{0x02, 'H', 'i'}) {
		t.Errorf("rec[1] value = %X", recs[1].Value)
	}
	if v, err := DecodeRecord(recs[1]); err != nil || v != "Hi" {
		t.Errorf("DecodeRecord = %v, %v", v, err)
	}
	if recs[3].AttrID != 0x0001 || !bytes.Equal(recs[3].Value, []byte{0xFF}) {
		t.Errorf("rec[3] = %+v", recs[3])
	}
}

func TestParseReadResponseUnknownTypeStops(t *testing.T) {
	recs := ParseReadResponse([]byte{0x00, 0x00, 0x00, 0x50, 0x01, 0x01, 0x00, 0x00, 0x20, 0x01})
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
}

func TestParseReport(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x29, 0x3A, 0x09, // temperature 2362
		0x01, 0x00, 0x20, // truncated
	}
	recs := ParseReport(data)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	v, err := DecodeRecord(recs[0])
	if err != nil {
		t.Fatal(err)
	}
	if v.(int16) != 2362 {
		t.Errorf("value = %v, want 2362", v)
	}
	if ParseReport(nil) != nil {
		t.Error("nil input should yield no records")
	}
}
