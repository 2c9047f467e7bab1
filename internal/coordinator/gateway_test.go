package coordinator

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"zstack-gateway/internal/store"
	"zstack-gateway/internal/zcl"
	"zstack-gateway/internal/znp"
)

// firstAdapter marks every valid frame as expecting a default response.
type firstAdapter struct{}

func (firstAdapter) FromZigbee(raw []byte) (*znp.Response, error) {
	f, err := znp.ParseFrame(raw)
	if err != nil {
		return nil, err
	}
	return &znp.Response{Command: f.Command, Data: f.Data, IsFirst: true}, nil
}

type stubConverter struct {
	ops   []Operation
	state Document
	docs  []Document
}

func (c *stubConverter) ToZigbee(doc Document, mode ConvertMode) ([]Operation, error) {
	c.docs = append(c.docs, doc)
	return c.ops, nil
}

func (c *stubConverter) FromZigbee(cluster uint16, records []zcl.Record) Document {
	if c.state == nil {
		return nil
	}
	out := Document{}
	for k, v := range c.state {
		out[k] = v
	}
	return out
}

type testGateway struct {
	*Gateway
	port  *fakePort
	sink  *recordingSink
	store *store.BoltStore
	conv  *stubConverter
}

func newTestGateway(t *testing.T, cfg Config, adapter FrameAdapter, opts ...Option) *testGateway {
	t.Helper()
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Millisecond
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = 5 * time.Millisecond
	}
	port := &fakePort{}
	sink := &recordingSink{}
	st := newTestStore(t)
	conv := &stubConverter{}
	link := NewLink(port, nil, adapter, newTestLogger())
	g := New(cfg, link, st, conv, sink, newTestLogger(), opts...)
	return &testGateway{Gateway: g, port: port, sink: sink, store: st, conv: conv}
}

func (tg *testGateway) addDevice(t *testing.T, nwk uint16, ieee znp.IEEE) *store.Device {
	t.Helper()
	dev := &store.Device{
		IEEEAddress: ieee.String(),
		NwkAddress:  nwk,
		Interviewed: true,
		Endpoints:   []store.Endpoint{{ID: 1, InClusters: []uint16{zcl.ClusterOnOff}}},
	}
	if err := tg.store.SaveDevice(dev); err != nil {
		t.Fatalf("SaveDevice: %v", err)
	}
	tg.netctx.Remember(nwk, dev.IEEEAddress)
	return dev
}

func TestDefaultResponseEndToEnd(t *testing.T) {
	tg := newTestGateway(t, Config{InitialState: Running, Tick: time.Millisecond}, firstAdapter{})
	tg.port.queue([]byte{0xFE, 0x00, 0x61, 0x80, 0xE1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tg.Run(ctx) }()

	want := []byte{0xFE, 0x01, 0x61, 0x80, 0x00, 0xE0}
	deadline := time.Now().Add(2 * time.Second)
	found := false
	for !found && time.Now().Before(deadline) {
		for _, w := range tg.port.written() {
			if bytes.Equal(w, want) {
				found = true
			}
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
	if !found {
		t.Fatalf("written %X, want %X", tg.port.written(), want)
	}
}

func TestDefaultResponseWhileInterviewing(t *testing.T) {
	var sent []uint16
	tg := newTestGateway(t, Config{InitialState: DeviceInterviewing}, nil,
		WithResponder(func(r *znp.Response) error { sent = append(sent, r.SrcAddr); return nil }))
	tg.netctx.SetDevice(&DeviceInfo{NwkAddr: 0x1234})

	tg.handleIncoming(&znp.Response{Command: znp.AfIncomingMsg, SrcAddr: 0x9999, IsFirst: true})
	tg.handleIncoming(&znp.Response{Command: znp.AfIncomingMsg, SrcAddr: 0x1234, IsFirst: true})
	tg.handleIncoming(&znp.Response{Command: znp.AfIncomingMsg, SrcAddr: 0x1234})
	tg.defaultResponseStep(context.Background())

	if len(sent) != 1 || sent[0] != 0x1234 {
		t.Errorf("responded to %v, want [0x1234]", sent)
	}
}

func TestDefaultResponseSkippedDuringInit(t *testing.T) {
	var sent int
	tg := newTestGateway(t, Config{InitialState: InitFail}, nil,
		WithResponder(func(*znp.Response) error { sent++; return nil }))
	tg.handleIncoming(&znp.Response{Command: znp.AfIncomingMsg, IsFirst: true})
	tg.defaultResponseStep(context.Background())
	if sent != 0 {
		t.Errorf("sent %d default responses while initializing", sent)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	tg := newTestGateway(t, Config{InitialState: Running}, nil)
	for i := range QueueCapacity {
		if !tg.Submit(ActionSet, "dev", Document{"state": "ON"}) {
			t.Fatalf("Submit %d failed", i)
		}
	}
	if tg.Submit(ActionSet, "dev", Document{"state": "ON"}) {
		t.Error("Submit succeeded on full queue")
	}
	if tg.Submit(ActionSet, "", Document{}) || tg.Submit(ActionSet, "dev", nil) {
		t.Error("invalid Submit accepted")
	}
}

func TestActionsPausedWhileInterviewing(t *testing.T) {
	tg := newTestGateway(t, Config{InitialState: DeviceInterviewing}, nil)
	tg.Submit(ActionGet, "dev", Document{"state": ""})
	tg.actionStep(context.Background())
	if tg.QueueLen() != 1 {
		t.Errorf("QueueLen = %d, action consumed while interviewing", tg.QueueLen())
	}
}

func TestRemoveUnknownDevice(t *testing.T) {
	tg := newTestGateway(t, Config{InitialState: Running}, nil)
	if !tg.Submit(ActionRemoveDevice, "00124B00DEADBEEF", Document{}) {
		t.Fatal("Submit failed")
	}
	tg.actionStep(context.Background())

	if tg.QueueLen() != 0 {
		t.Errorf("QueueLen = %d", tg.QueueLen())
	}
	if n := len(tg.port.written()); n != 0 {
		t.Errorf("%d frames sent for unknown device", n)
	}
	if tg.sink.events(EventDeviceRemoved) != 0 {
		t.Error("removal published for unknown device")
	}
}

func TestDequeuedActionsReleasedOnce(t *testing.T) {
	tg := newTestGateway(t, Config{InitialState: Running}, nil)
	var failed, removed int
	setUnknown := NewAction(ActionSet, "00124B00DEADBEEF", NewPayload(Document{"state": "ON"}, func() { failed++ }))
	removeUnknown := NewAction(ActionRemoveDevice, "00124B00DEADBEEE", NewPayload(Document{}, func() { removed++ }))
	if !tg.queue.Enqueue(setUnknown) || !tg.queue.Enqueue(removeUnknown) {
		t.Fatal("Enqueue failed")
	}

	for range 3 {
		tg.actionStep(context.Background())
	}

	if failed != 1 {
		t.Errorf("failed dispatch released %d times, want 1", failed)
	}
	if removed != 1 {
		t.Errorf("successful dispatch released %d times, want 1", removed)
	}
	if !setUnknown.Payload.Released() || !removeUnknown.Payload.Released() {
		t.Error("payload not marked released")
	}
	if tg.QueueLen() != 0 {
		t.Errorf("QueueLen = %d", tg.QueueLen())
	}
}

func TestRunReleasesQueuedActionsOnCancel(t *testing.T) {
	// Interviewing pauses the action loop so everything stays queued.
	tg := newTestGateway(t, Config{InitialState: DeviceInterviewing, Tick: time.Hour}, nil)
	counts := make([]int, 3)
	for i := range counts {
		a := NewAction(ActionGet, "00124B00DEADBEEF", NewPayload(Document{"state": ""}, func() { counts[i]++ }))
		if !tg.queue.Enqueue(a) {
			t.Fatalf("Enqueue %d failed", i)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tg.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i, n := range counts {
		if n != 1 {
			t.Errorf("action %d released %d times, want 1", i, n)
		}
	}
	if tg.QueueLen() != 0 {
		t.Errorf("QueueLen = %d after Run", tg.QueueLen())
	}
}

func TestRemoveDevice(t *testing.T) {
	tg := newTestGateway(t, Config{InitialState: Running}, nil)
	dev := tg.addDevice(t, testNwk, testIEEE)
	tg.port.reply = func(f znp.Frame) []znp.Frame {
		if f.Command == znp.ZdoMgmtLeaveReq {
			return []znp.Frame{srspFrame(f.Command, 0), zdoRsp(znp.ZdoMgmtLeaveRsp, testNwk, 0)}
		}
		return nil
	}

	tg.Submit(ActionRemoveDevice, dev.IEEEAddress, Document{})
	tg.actionStep(context.Background())

	if _, err := tg.store.GetDevice(dev.IEEEAddress); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetDevice err = %v, want ErrNotFound", err)
	}
	if _, ok := tg.netctx.Resolve(testNwk); ok {
		t.Error("address still indexed")
	}
	if tg.sink.events(EventDeviceRemoved) != 1 {
		t.Error("removal not published")
	}
}

func TestSetAction(t *testing.T) {
	tg := newTestGateway(t, Config{InitialState: Running}, nil)
	dev := tg.addDevice(t, testNwk, testIEEE)
	tg.conv.ops = []Operation{{Kind: OpCommand, Cluster: zcl.ClusterOnOff, Command: 0x01, State: Document{"state": "ON"}}}
	tg.port.reply = func(f znp.Frame) []znp.Frame {
		req, ok := parseAFRequest(f)
		if !ok {
			return nil
		}
		return []znp.Frame{afIncoming(req.addr, 1, req.cluster,
			zclReply(req.zcl.Seq, zcl.FoundationDefaultResponse, []byte{req.zcl.Command, zcl.StatusSuccess}))}
	}

	tg.Submit(ActionSet, dev.IEEEAddress, Document{"state": "ON"})
	tg.actionStep(context.Background())

	doc, ok := tg.sink.find(dev.IEEEAddress)
	if !ok || doc["state"] != "ON" {
		t.Fatalf("published state = %v", doc)
	}
	saved, _ := tg.store.GetDevice(dev.IEEEAddress)
	if saved.State["state"] != "ON" {
		t.Errorf("stored state = %v", saved.State)
	}
}

func TestGetActionPublishesRead(t *testing.T) {
	tg := newTestGateway(t, Config{InitialState: Running}, nil)
	dev := tg.addDevice(t, testNwk, testIEEE)
	tg.conv.ops = []Operation{{Kind: OpRead, Cluster: zcl.ClusterOnOff, AttrIDs: []uint16{0}}}
	tg.conv.state = Document{"state": "OFF"}
	tg.port.reply = func(f znp.Frame) []znp.Frame {
		req, ok := parseAFRequest(f)
		if !ok {
			return nil
		}
		return []znp.Frame{afIncoming(req.addr, 1, req.cluster,
			zclReply(req.zcl.Seq, zcl.FoundationReadAttributesResponse, []byte{0, 0, 0, zcl.TypeBool, 0}))}
	}

	tg.Submit(ActionGet, dev.IEEEAddress, Document{"state": ""})
	tg.actionStep(context.Background())

	if doc, ok := tg.sink.find(dev.IEEEAddress); !ok || doc["state"] != "OFF" {
		t.Errorf("published state = %v", doc)
	}
}

func TestAttributeReportPublished(t *testing.T) {
	tg := newTestGateway(t, Config{InitialState: Running}, nil)
	dev := tg.addDevice(t, testNwk, testIEEE)
	tg.conv.state = Document{"temperature": 21.5}

	report := zcl.Header{FrameControl: zcl.FrameServerToClient, Seq: 9, Command: zcl.FoundationReportAttributes}.
		Append([]byte{0x00, 0x00, zcl.TypeInt16, 0x66, 0x08})
	tg.port.queue(mustEncode(t, afIncoming(testNwk, 1, zcl.ClusterTemperature, report)))
	tg.networkStep(context.Background())

	doc, ok := tg.sink.find(dev.IEEEAddress)
	if !ok {
		t.Fatal("no state published")
	}
	if doc["temperature"] != 21.5 {
		t.Errorf("temperature = %v", doc["temperature"])
	}
	if len(tg.defaults) != 1 {
		t.Errorf("%d default responses pending, want 1", len(tg.defaults))
	}
}

func TestJoinAnnounceInterview(t *testing.T) {
	tg := newTestGateway(t, Config{InitialState: Running}, nil)
	ctx := context.Background()

	tg.handleIncoming(&znp.Response{Command: znp.ZdoTCDevInd, NwkAddr: testNwk, IEEE: testIEEE})
	tg.networkStep(ctx)
	if tg.State() != DeviceJoined {
		t.Fatalf("state = %s, want device_joined", tg.State())
	}
	if !tg.timer.Armed(timerJoin) {
		t.Error("join timeout not armed")
	}

	tg.handleIncoming(&znp.Response{Command: znp.ZdoEndDeviceAnnceInd, NwkAddr: testNwk, IEEE: testIEEE})
	tg.networkStep(ctx)
	if tg.State() != DeviceInterviewing {
		t.Fatalf("state = %s, want device_interviewing", tg.State())
	}
	if tg.timer.Armed(timerJoin) {
		t.Error("join timeout still armed")
	}
	if tg.sink.events(EventDeviceJoined) != 1 {
		t.Error("join not published")
	}
}

func TestJoinTimeoutStartsInterview(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	tg := newTestGateway(t, Config{InitialState: Running}, nil, WithClock(clk.Now))
	ctx := context.Background()

	tg.handleIncoming(&znp.Response{Command: znp.ZdoTCDevInd, NwkAddr: testNwk, IEEE: testIEEE})
	tg.networkStep(ctx)
	clk.advance(30 * time.Second)
	tg.networkStep(ctx)
	if tg.State() != DeviceInterviewing {
		t.Errorf("state = %s, want device_interviewing", tg.State())
	}
}

func TestGatewayInterview(t *testing.T) {
	tg := newTestGateway(t, Config{InitialState: DeviceInterviewing}, nil)
	tg.port.reply = deviceRadio(testNwk)
	tg.netctx.SetDevice(&DeviceInfo{NwkAddr: testNwk, IEEE: testIEEE})

	for i := 0; i < 20 && tg.State() != Running; i++ {
		tg.networkStep(context.Background())
	}
	if tg.State() != Running {
		t.Fatalf("state = %s, want running", tg.State())
	}
	doc, ok := tg.sink.find(TopicBridgeDevices + testIEEE.String())
	if !ok || doc["model"] != "T1" {
		t.Errorf("device identity = %v", doc)
	}
	dev, err := tg.store.GetDevice(testIEEE.String())
	if err != nil || !dev.Interviewed {
		t.Errorf("stored device = %+v, %v", dev, err)
	}
	if _, ok := tg.netctx.Device(); ok {
		t.Error("interviewed device not cleared")
	}
}

func TestPermitJoinWindow(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	tg := newTestGateway(t, Config{InitialState: Running}, nil, WithClock(clk.Now))
	tg.port.reply = func(f znp.Frame) []znp.Frame {
		if f.Command == znp.ZdoMgmtPermitJoinReq {
			return []znp.Frame{srspFrame(f.Command, 0)}
		}
		return nil
	}
	ctx := context.Background()

	tg.Submit(ActionPermitJoin, TargetCoordinator, Document{"time": 60.0})
	tg.actionStep(ctx)
	tg.networkStep(ctx)
	if tg.State() != PermitJoin {
		t.Fatalf("state = %s, want permit_join", tg.State())
	}
	clk.advance(60 * time.Second)
	tg.networkStep(ctx)
	if tg.State() != Running {
		t.Errorf("state = %s, want running after window", tg.State())
	}
}

func TestFactoryReset(t *testing.T) {
	tg := newTestGateway(t, Config{InitialState: Running}, nil)
	tg.addDevice(t, testNwk, testIEEE)
	tg.store.SaveNetworkState(&store.NetworkState{Channel: 11, Formed: true})
	tg.port.reply = func(f znp.Frame) []znp.Frame {
		if f.Command == znp.SysNVWrite {
			return []znp.Frame{srspFrame(f.Command, 0)}
		}
		return nil
	}

	tg.RequestFactoryReset()
	tg.networkStep(context.Background())

	if tg.State() != InitFormat {
		t.Errorf("state = %s, want init_format", tg.State())
	}
	devs, _ := tg.store.ListDevices()
	if len(devs) != 0 {
		t.Errorf("%d devices after factory reset", len(devs))
	}
	ns, _ := tg.store.GetNetworkState()
	if ns.Formed {
		t.Error("network still marked formed")
	}
}

// coordinatorRadio answers the startup sequence.
func coordinatorRadio(f znp.Frame) []znp.Frame {
	switch f.Command {
	case znp.SysResetReq:
		return []znp.Frame{{Command: znp.SysResetInd, Data: []byte{0x00, 0x02, 0x02, 0x07, 0x01}}}
	case znp.SysPing, znp.SysNVWrite, znp.AfRegister:
		return []znp.Frame{srspFrame(f.Command, 0)}
	case znp.ZdoStartupFromApp:
		return []znp.Frame{srspFrame(f.Command, 0), {Command: znp.ZdoStateChangeInd, Data: []byte{znp.DevStateCoordinator}}}
	case znp.UtilGetDeviceInfo:
		d := []byte{0x00, 0x04, 0x03, 0x02, 0x01, 0x00, 0x4B, 0x12, 0x00, 0x00, 0x00, 0x09}
		return []znp.Frame{{Command: f.Command.Response(), Data: d}}
	}
	return nil
}

func TestStartupFormsNetwork(t *testing.T) {
	tg := newTestGateway(t, Config{Network: NetworkConfig{Channel: 15, PanID: 0x1A62, ExtPanID: 0xDDDDDDDDDDDDDDDD}}, nil)
	tg.port.reply = coordinatorRadio
	ctx := context.Background()

	tg.networkStep(ctx)
	if tg.State() != InitSuccessful {
		t.Fatalf("state = %s, want init_successful", tg.State())
	}
	tg.networkStep(ctx)
	if tg.State() != Running {
		t.Fatalf("state = %s, want running", tg.State())
	}

	nvWrites := 0
	for _, c := range tg.port.writtenCommands() {
		if c == znp.SysNVWrite {
			nvWrites++
		}
	}
	if nvWrites != 7 {
		t.Errorf("%d NV writes, want 7", nvWrites)
	}
	ns, err := tg.store.GetNetworkState()
	if err != nil || !ns.Formed || ns.CoordinatorIEEE != "00124B0001020304" {
		t.Errorf("network state = %+v, %v", ns, err)
	}
	if tg.netctx.Coordinator().IEEE.String() != "00124B0001020304" {
		t.Errorf("coordinator ieee = %s", tg.netctx.Coordinator().IEEE)
	}
	if !tg.timer.Armed(timerPing) {
		t.Error("ping not scheduled")
	}
}

func TestStartupResumesNetwork(t *testing.T) {
	cfg := Config{Network: NetworkConfig{Channel: 15, PanID: 0x1A62, ExtPanID: 0xDDDDDDDDDDDDDDDD}}
	tg := newTestGateway(t, cfg, nil)
	tg.store.SaveNetworkState(&store.NetworkState{Channel: 15, PanID: 0x1A62, ExtPanID: "DDDDDDDDDDDDDDDD", Formed: true})
	tg.port.reply = coordinatorRadio

	tg.networkStep(context.Background())
	if tg.State() != InitSuccessful {
		t.Fatalf("state = %s", tg.State())
	}
	for _, c := range tg.port.writtenCommands() {
		if c == znp.SysNVWrite {
			t.Fatal("resume wrote NV items")
		}
	}
}

func TestStartupFailuresEscalate(t *testing.T) {
	tg := newTestGateway(t, Config{MaxInitFailures: 2, InitRetryDelay: time.Nanosecond}, nil)
	ctx := context.Background()

	tg.networkStep(ctx)
	if tg.State() != InitFail {
		t.Fatalf("state = %s, want init_fail", tg.State())
	}
	time.Sleep(time.Millisecond)
	tg.networkStep(ctx)
	if tg.State() != InitMax {
		t.Errorf("state = %s, want init_max", tg.State())
	}
}
