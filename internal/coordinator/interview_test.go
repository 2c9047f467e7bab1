package coordinator

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"zstack-gateway/internal/store"
	"zstack-gateway/internal/zcl"
	"zstack-gateway/internal/znp"
)

const testNwk = 0x1A2B

var testIEEE, _ = znp.ParseIEEE("00124B0001020304")

func le16(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }

// deviceRadio answers the interview of a single-endpoint on/off device.
func deviceRadio(nwk uint16) func(f znp.Frame) []znp.Frame {
	return func(f znp.Frame) []znp.Frame {
		switch f.Command {
		case znp.ZdoActiveEPReq:
			body := append(le16(nwk), 1, 1)
			return []znp.Frame{srspFrame(f.Command, 0), zdoRsp(znp.ZdoActiveEPRsp, nwk, 0, body...)}
		case znp.ZdoSimpleDescReq:
			desc := []byte{1, 0x04, 0x01, 0x00, 0x01, 0x00, 2, 0x00, 0x00, 0x06, 0x00, 0}
			body := append(le16(nwk), byte(len(desc)))
			return []znp.Frame{srspFrame(f.Command, 0), zdoRsp(znp.ZdoSimpleDescRsp, nwk, 0, append(body, desc...)...)}
		case znp.ZdoBindReq:
			return []znp.Frame{srspFrame(f.Command, 0), zdoRsp(znp.ZdoBindRsp, nwk, 0)}
		case znp.AfDataRequest:
			req, ok := parseAFRequest(f)
			if !ok || req.addr != nwk {
				return nil
			}
			var reply []byte
			switch req.zcl.Command {
			case zcl.FoundationReadAttributes:
				reply = zclReply(req.zcl.Seq, zcl.FoundationReadAttributesResponse, []byte{
					0x04, 0x00, 0x00, zcl.TypeCharStr, 4, 'A', 'C', 'M', 'E',
					0x05, 0x00, 0x00, zcl.TypeCharStr, 2, 'T', '1',
					0x07, 0x00, 0x00, zcl.TypeEnum8, 0x01,
				})
			case zcl.FoundationConfigReporting:
				reply = zclReply(req.zcl.Seq, zcl.FoundationConfigReportingResp, []byte{zcl.StatusSuccess})
			default:
				return nil
			}
			return []znp.Frame{srspFrame(f.Command, 0), afIncoming(nwk, req.ep, req.cluster, reply)}
		}
		return nil
	}
}

func newTestInterview(t *testing.T, port *fakePort) (*InterviewEngine, *store.BoltStore) {
	t.Helper()
	st := newTestStore(t)
	link := NewLink(port, nil, nil, newTestLogger())
	attrs := NewAttributeEngine(link, 5*time.Millisecond, DefaultRetry, newTestLogger())
	netctx := NewNetworkContext()
	coord, _ := znp.ParseIEEE("00124B00FFFFFFFF")
	netctx.SetCoordinator(CoordinatorInfo{IEEE: coord})
	return NewInterviewEngine(link, attrs, st, netctx, 5*time.Millisecond, newTestLogger()), st
}

func runInterview(t *testing.T, e *InterviewEngine) int {
	t.Helper()
	for steps := 1; steps <= 20; steps++ {
		done, exhausted, err := e.Step(context.Background())
		if exhausted {
			t.Fatalf("interview exhausted: %v", err)
		}
		if done {
			return steps
		}
	}
	t.Fatal("interview did not finish")
	return 0
}

func TestInterviewDiscoversDevice(t *testing.T) {
	port := &fakePort{reply: deviceRadio(testNwk)}
	e, st := newTestInterview(t, port)
	dev := &store.Device{IEEEAddress: testIEEE.String(), NwkAddress: testNwk}
	e.Begin(dev, testIEEE)

	steps := runInterview(t, e)
	if steps != 4 {
		t.Errorf("finished in %d steps, want 4", steps)
	}
	if dev.Manufacturer != "ACME" || dev.Model != "T1" || dev.PowerSource != 1 {
		t.Errorf("identity = %q %q %d", dev.Manufacturer, dev.Model, dev.PowerSource)
	}
	if len(dev.Endpoints) != 1 || dev.Endpoints[0].ProfileID != znp.ProfileHA || dev.Endpoints[0].DeviceID != 0x0100 {
		t.Fatalf("endpoints = %+v", dev.Endpoints)
	}
	if !dev.IsConfigured(zcl.ClusterOnOff) || dev.IsConfigured(zcl.ClusterBasic) {
		t.Errorf("Configured = %v, want [6]", dev.Configured)
	}

	saved, err := st.GetDevice(dev.IEEEAddress)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if !saved.IsConfigured(zcl.ClusterOnOff) {
		t.Error("configured cluster not persisted")
	}

	binds := 0
	for _, c := range port.writtenCommands() {
		if c == znp.ZdoBindReq {
			binds++
		}
	}
	if binds != 1 {
		t.Errorf("%d bind requests, want 1", binds)
	}
}

func TestInterviewBasicReadFailureStillConfigures(t *testing.T) {
	radio := deviceRadio(testNwk)
	port := &fakePort{}
	port.reply = func(f znp.Frame) []znp.Frame {
		req, ok := parseAFRequest(f)
		if !ok || req.cluster != zcl.ClusterBasic {
			return radio(f)
		}
		// Manufacturer name unsupported, model present.
		reply := zclReply(req.zcl.Seq, zcl.FoundationReadAttributesResponse, []byte{
			0x04, 0x00, zcl.StatusUnsupportedAttr,
			0x05, 0x00, 0x00, zcl.TypeCharStr, 2, 'T', '1',
		})
		return []znp.Frame{srspFrame(f.Command, 0), afIncoming(testNwk, req.ep, req.cluster, reply)}
	}
	e, _ := newTestInterview(t, port)
	dev := &store.Device{IEEEAddress: testIEEE.String(), NwkAddress: testNwk}
	e.Begin(dev, testIEEE)

	if steps := runInterview(t, e); steps != 4 {
		t.Errorf("finished in %d steps, want 4", steps)
	}
	if dev.Manufacturer != "" || dev.Model != "T1" {
		t.Errorf("identity = %q %q", dev.Manufacturer, dev.Model)
	}
	if !dev.IsConfigured(zcl.ClusterOnOff) {
		t.Errorf("Configured = %v, want on/off", dev.Configured)
	}
	binds := 0
	for _, c := range port.writtenCommands() {
		if c == znp.ZdoBindReq {
			binds++
		}
	}
	if binds != 1 {
		t.Errorf("%d bind requests, want 1", binds)
	}
}

func TestInterviewSkipsConfiguredClusters(t *testing.T) {
	port := &fakePort{reply: deviceRadio(testNwk)}
	e, _ := newTestInterview(t, port)
	dev := &store.Device{IEEEAddress: testIEEE.String(), NwkAddress: testNwk, Configured: []uint16{zcl.ClusterOnOff}}
	e.Begin(dev, testIEEE)

	runInterview(t, e)
	for _, c := range port.writtenCommands() {
		if c == znp.ZdoBindReq {
			t.Fatal("bound an already configured cluster")
		}
	}
}

func TestInterviewIgnoresOtherDevices(t *testing.T) {
	// The radio answers for a different address only.
	port := &fakePort{reply: deviceRadio(0x5555)}
	e, _ := newTestInterview(t, port)
	e.Begin(&store.Device{IEEEAddress: testIEEE.String(), NwkAddress: testNwk}, testIEEE)

	_, _, err := e.Step(context.Background())
	if err == nil {
		t.Fatal("step accepted a reply from another device")
	}
}

func TestInterviewAbortsAfterRepeatedFailures(t *testing.T) {
	e, _ := newTestInterview(t, &fakePort{})
	e.Begin(&store.Device{IEEEAddress: testIEEE.String(), NwkAddress: testNwk}, testIEEE)

	for i := 1; i <= maxStepFailures; i++ {
		_, exhausted, err := e.Step(context.Background())
		if err == nil {
			t.Fatalf("step %d succeeded on a silent radio", i)
		}
		if exhausted {
			t.Fatalf("exhausted after %d failures", i)
		}
	}
	if _, exhausted, _ := e.Step(context.Background()); !exhausted {
		t.Error("not exhausted after more than 3 failures")
	}
}

func TestBindTargets(t *testing.T) {
	dev := &store.Device{
		Endpoints: []store.Endpoint{
			{ID: 1, InClusters: []uint16{zcl.ClusterBasic, zcl.ClusterOnOff, zcl.ClusterTemperature}},
			{ID: 2, InClusters: []uint16{zcl.ClusterOnOff, 0xFC00}},
		},
		Configured: []uint16{zcl.ClusterTemperature},
	}
	got := bindTargets(dev)
	if len(got) != 1 || got[0] != (bindTarget{endpoint: 1, cluster: zcl.ClusterOnOff}) {
		t.Errorf("bindTargets = %+v", got)
	}
}
