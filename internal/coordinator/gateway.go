package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"zstack-gateway/internal/store"
	"zstack-gateway/internal/zcl"
	"zstack-gateway/internal/znp"
)

// NetworkConfig holds the parameters the coordinator network is formed with.
type NetworkConfig struct {
	Channel     uint8
	PanID       uint16
	ExtPanID    uint64
	ForceFormat bool
}

// Config holds gateway timing and network configuration.
type Config struct {
	Network         NetworkConfig
	Tick            time.Duration
	PingInterval    time.Duration
	JoinTimeout     time.Duration
	RequestTimeout  time.Duration
	ResetTimeout    time.Duration
	InitRetryDelay  time.Duration
	PermitJoinTime  uint8
	Retry           int
	QueueCapacity   int
	MaxInitFailures int
	// InitialState is the state the network loop starts in; InitFail runs
	// the normal startup.
	InitialState NetworkState
}

func (c *Config) setDefaults() {
	if c.Network.Channel == 0 {
		c.Network.Channel = znp.DefaultChannel
	}
	if c.Tick <= 0 {
		c.Tick = 10 * time.Millisecond
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 60 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 2 * time.Second
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 10 * time.Second
	}
	if c.InitRetryDelay <= 0 {
		c.InitRetryDelay = 5 * time.Second
	}
	if c.PermitJoinTime == 0 {
		c.PermitJoinTime = 254
	}
	if c.Retry <= 0 {
		c.Retry = DefaultRetry
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = QueueCapacity
	}
	if c.MaxInitFailures <= 0 {
		c.MaxInitFailures = 5
	}
}

// Gateway runs the network, action and default-response loops against one
// coordinator radio.
type Gateway struct {
	cfg       Config
	link      *Link
	store     store.Store
	converter Converter
	publisher *Publisher
	logger    *slog.Logger

	state     *StateMachine
	queue     *ActionQueue
	timer     *SoftwareTimer
	netctx    *NetworkContext
	attrs     *AttributeEngine
	interview *InterviewEngine

	defaults  chan *znp.Response
	responder func(*znp.Response) error

	initFailures int
	initRetryAt  time.Time
	ctx          context.Context
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithResponder replaces the default-response sender.
func WithResponder(fn func(*znp.Response) error) Option {
	return func(g *Gateway) { g.responder = fn }
}

// WithClock sets the clock used by the software timer.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.timer = NewSoftwareTimer(now) }
}

// New builds a gateway. sink may be nil.
func New(cfg Config, link *Link, st store.Store, conv Converter, sink DataSink, logger *slog.Logger, opts ...Option) *Gateway {
	cfg.setDefaults()
	g := &Gateway{
		cfg:       cfg,
		link:      link,
		store:     st,
		converter: conv,
		publisher: NewPublisher(sink, logger.With("component", "publisher")),
		logger:    logger,
		queue:     NewActionQueue(cfg.QueueCapacity),
		timer:     NewSoftwareTimer(nil),
		netctx:    NewNetworkContext(),
		defaults:  make(chan *znp.Response, 64),
		ctx:       context.Background(),
	}
	g.state = NewStateMachine(cfg.InitialState, logger.With("component", "state"))
	g.attrs = NewAttributeEngine(link, cfg.RequestTimeout, cfg.Retry, logger.With("component", "attributes"))
	g.interview = NewInterviewEngine(link, g.attrs, st, g.netctx, cfg.RequestTimeout, logger.With("component", "interview"))
	g.responder = g.sendDefaultResponse
	for _, opt := range opts {
		opt(g)
	}
	g.state.OnChange(g.stateChanged)
	link.SetFallback(g.handleIncoming)
	g.rebuildIndex()
	return g
}

// State returns the current network state.
func (g *Gateway) State() NetworkState { return g.state.State() }

// Network returns the shared network context.
func (g *Gateway) Network() *NetworkContext { return g.netctx }

// QueueLen returns the number of pending actions.
func (g *Gateway) QueueLen() int { return g.queue.Len() }

// RequestFactoryReset asks the network loop to wipe the network.
func (g *Gateway) RequestFactoryReset() bool { return g.state.Request(FactoryReset) }

// Submit queues an action. It returns false when the queue is full or the
// target or payload is empty.
func (g *Gateway) Submit(kind ActionKind, target string, payload Document) bool {
	if payload == nil {
		return false
	}
	a := NewAction(kind, target, NewPayload(payload, nil))
	if !g.queue.Enqueue(a) {
		g.logger.Warn("action rejected", "id", a.ID.String(), "kind", kind.String(), "target", target, "queued", g.queue.Len())
		return false
	}
	g.logger.Debug("action queued", "id", a.ID.String(), "kind", kind.String(), "target", target)
	return true
}

// Run starts the loops and blocks until ctx is cancelled or a loop fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.ctx = ctx
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return g.loop(ctx, "network", g.networkStep) })
	eg.Go(func() error { return g.loop(ctx, "actions", g.actionStep) })
	eg.Go(func() error { return g.loop(ctx, "default_response", g.defaultResponseStep) })
	err := eg.Wait()
	g.drainQueue()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// drainQueue releases actions left in the queue once the consumer stopped.
func (g *Gateway) drainQueue() {
	n := 0
	for {
		a, ok := g.queue.TryDequeue()
		if !ok {
			break
		}
		a.Payload.Release()
		n++
	}
	if n > 0 {
		g.logger.Info("dropped queued actions", "count", n)
	}
}

func (g *Gateway) loop(ctx context.Context, name string, step func(context.Context)) error {
	ticker := time.NewTicker(g.cfg.Tick)
	defer ticker.Stop()
	g.logger.Debug("loop started", "loop", name)
	for {
		select {
		case <-ctx.Done():
			g.logger.Debug("loop stopped", "loop", name)
			return ctx.Err()
		case <-ticker.C:
			step(ctx)
		}
	}
}

// networkStep is one iteration of the network loop. It is the only writer
// of the network state.
func (g *Gateway) networkStep(ctx context.Context) {
	g.state.ApplyRequests()
	g.timer.Run()
	g.state.ApplyRequests()

	switch s := g.state.State(); s {
	case InitFail, InitFormat, InitMax:
		g.initialize(ctx, s)

	case InitSuccessful:
		if err := g.state.Transition(Running); err != nil {
			g.logger.Error("enter running", "err", err)
		}

	case Running, PermitJoin, DeviceJoined:
		if s == DeviceJoined && !g.timer.Armed(timerJoin) {
			g.timer.SetTimeout(timerJoin, g.cfg.JoinTimeout, g.joinTimeout)
		}
		g.processSerial(ctx)

	case DeviceInterviewing:
		g.interviewStep(ctx)

	case FactoryReset:
		g.factoryReset(ctx)
	}
}

func (g *Gateway) processSerial(ctx context.Context) {
	rs, err := g.link.Poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		g.logger.Error("serial read failed", "err", err)
		if err := g.state.Transition(InitFail); err != nil {
			g.logger.Error("enter init_fail", "err", err)
		}
		return
	}
	for _, r := range rs {
		g.handleIncoming(r)
	}
}

// stateChanged runs on the network loop after every transition.
func (g *Gateway) stateChanged(from, to NetworkState) {
	if from == DeviceJoined && to != DeviceJoined {
		g.timer.Cancel(timerJoin)
	}
	if to == FactoryReset || to == InitFail {
		g.interview.Abort()
	}
	g.publisher.Event(EventNetworkState, Document{"from": from.String(), "state": to.String()})
}

// joinTimeout fires when no announce followed a join. A known joining
// device is interviewed anyway; otherwise the network returns to running.
func (g *Gateway) joinTimeout() {
	if g.state.State() != DeviceJoined {
		return
	}
	if _, ok := g.netctx.Device(); ok {
		g.logger.Info("join timeout, interviewing without announce")
		g.state.Request(DeviceInterviewing)
		return
	}
	g.state.Request(Running)
}

func (g *Gateway) interviewStep(ctx context.Context) {
	if g.interview.Current() == nil {
		info, ok := g.netctx.Device()
		if !ok {
			g.state.Request(Running)
			return
		}
		dev, err := g.loadOrCreate(info)
		if err != nil {
			g.logger.Error("load interviewed device", "err", err)
			g.state.Request(Running)
			return
		}
		g.interview.Begin(dev, info.IEEE)
		g.publisher.Event(EventInterviewStarted, Document{"ieee_address": dev.IEEEAddress})
		return
	}

	done, exhausted, err := g.interview.Step(ctx)
	switch {
	case exhausted:
		iv := g.interview.Current()
		g.logger.Error("interview failed", "err", err)
		if iv != nil {
			g.publisher.Event(EventInterviewFailed, Document{"ieee_address": iv.Device.IEEEAddress})
		}
		g.finishInterview()
	case done:
		g.completeInterview()
	}
}

func (g *Gateway) completeInterview() {
	dev := g.interview.Current().Device
	dev.Interviewed = true
	dev.LastSeen = time.Now()
	if err := g.store.SaveDevice(dev); err != nil {
		g.logger.Error("save device", "ieee", dev.IEEEAddress, "err", err)
	}
	g.logger.Info("interview complete", "ieee", dev.IEEEAddress, "model", dev.Model, "endpoints", len(dev.Endpoints))
	if err := g.publisher.PublishDevice(dev); err != nil {
		g.logger.Warn("publish device", "err", err)
	}
	g.publisher.Event(EventInterviewDone, Document{"ieee_address": dev.IEEEAddress})
	g.finishInterview()
}

func (g *Gateway) finishInterview() {
	g.interview.Abort()
	g.netctx.SetDevice(nil)
	g.state.Request(Running)
	if g.timer.Armed(timerPermitJoin) {
		g.state.Request(PermitJoin)
	}
}

func (g *Gateway) loadOrCreate(info DeviceInfo) (*store.Device, error) {
	ieee := info.IEEE.String()
	dev, err := g.store.GetDevice(ieee)
	switch {
	case errors.Is(err, store.ErrNotFound):
		now := time.Now()
		dev = &store.Device{IEEEAddress: ieee, JoinedAt: now, LastSeen: now}
	case err != nil:
		return nil, err
	}
	dev.NwkAddress = info.NwkAddr
	if err := g.store.SaveDevice(dev); err != nil {
		return nil, err
	}
	g.netctx.Remember(info.NwkAddr, ieee)
	return dev, nil
}

func (g *Gateway) rebuildIndex() {
	devs, err := g.store.ListDevices()
	if err != nil {
		g.logger.Warn("list devices", "err", err)
		return
	}
	for _, d := range devs {
		g.netctx.Remember(d.NwkAddress, d.IEEEAddress)
	}
}

// handleIncoming processes a response not consumed by a pending request.
// It runs on the network loop, or on the action loop for frames read while
// that loop waited for a reply.
func (g *Gateway) handleIncoming(r *znp.Response) {
	switch r.Command {
	case znp.ZdoTCDevInd:
		g.deviceJoined(r)
	case znp.ZdoEndDeviceAnnceInd:
		g.deviceAnnounced(r)
	case znp.ZdoLeaveInd:
		g.deviceLeft(r)
	case znp.AfIncomingMsg:
		g.attributeReport(r)
	}

	if r.IsFirst {
		select {
		case g.defaults <- r:
		default:
			g.logger.Warn("default response backlog full", "frame", r.String())
		}
	}
}

func (g *Gateway) deviceJoined(r *znp.Response) {
	info := DeviceInfo{NwkAddr: r.NwkAddr, IEEE: r.IEEE}
	dev, err := g.loadOrCreate(info)
	if err != nil {
		g.logger.Error("save joined device", "err", err)
		return
	}
	g.logger.Info("device joined", "ieee", dev.IEEEAddress, "nwk", fmt.Sprintf("0x%04X", r.NwkAddr))
	g.publisher.Event(EventDeviceJoined, Document{"ieee_address": dev.IEEEAddress, "nwk_address": fmt.Sprintf("0x%04X", r.NwkAddr)})
	if dev.Interviewed {
		return
	}
	switch g.state.State() {
	case Running, PermitJoin:
		g.netctx.SetDevice(&info)
		g.state.Request(DeviceJoined)
	}
}

func (g *Gateway) deviceAnnounced(r *znp.Response) {
	info := DeviceInfo{NwkAddr: r.NwkAddr, IEEE: r.IEEE}
	dev, err := g.loadOrCreate(info)
	if err != nil {
		g.logger.Error("save announced device", "err", err)
		return
	}
	g.publisher.Event(EventDeviceAnnounce, Document{"ieee_address": dev.IEEEAddress, "nwk_address": fmt.Sprintf("0x%04X", r.NwkAddr)})
	if dev.Interviewed {
		return
	}
	switch g.state.State() {
	case Running, PermitJoin:
		g.netctx.SetDevice(&info)
		g.state.Request(DeviceJoined)
		g.state.Request(DeviceInterviewing)
	case DeviceJoined:
		g.netctx.SetDevice(&info)
		g.state.Request(DeviceInterviewing)
	}
}

func (g *Gateway) deviceLeft(r *znp.Response) {
	ieee := r.IEEE.String()
	if err := g.store.DeleteDevice(ieee); err != nil && !errors.Is(err, store.ErrNotFound) {
		g.logger.Error("delete device", "ieee", ieee, "err", err)
	}
	g.netctx.Forget(ieee)
	g.logger.Info("device left", "ieee", ieee)
	g.publisher.Event(EventDeviceLeft, Document{"ieee_address": ieee})
}

func (g *Gateway) attributeReport(r *znp.Response) {
	if len(r.Records) == 0 || r.ZCL.ClusterSpecific() {
		return
	}
	if r.ZCL.Command != zcl.FoundationReportAttributes && r.ZCL.Command != zcl.FoundationReadAttributesResponse {
		return
	}
	ieee, ok := g.netctx.Resolve(r.SrcAddr)
	if !ok {
		g.logger.Debug("report from unknown device", "nwk", fmt.Sprintf("0x%04X", r.SrcAddr))
		return
	}
	doc := g.converter.FromZigbee(r.ClusterID, r.Records)
	if len(doc) == 0 {
		return
	}
	doc["linkquality"] = r.LinkQuality
	g.updateState(ieee, doc, r.LinkQuality)
}

// updateState merges doc into the stored state and publishes the result.
func (g *Gateway) updateState(ieee string, doc Document, lqi uint8) {
	var state Document
	err := g.store.UpdateDevice(ieee, func(dev *store.Device) error {
		if dev.State == nil {
			dev.State = make(map[string]any)
		}
		maps.Copy(dev.State, doc)
		dev.LastSeen = time.Now()
		if lqi > 0 {
			dev.LinkQuality = lqi
		}
		state = maps.Clone(dev.State)
		return nil
	})
	if err != nil {
		g.logger.Warn("update device state", "ieee", ieee, "err", err)
		state = doc
	}
	if err := g.publisher.PublishState(ieee, state); err != nil {
		g.logger.Warn("publish state", "ieee", ieee, "err", err)
	}
}

// defaultResponseStep answers frames that expect a Default Response.
func (g *Gateway) defaultResponseStep(ctx context.Context) {
	s := g.state.State()
	if s == FactoryReset || s.Initializing() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-g.defaults:
			if s == DeviceInterviewing {
				info, ok := g.netctx.Device()
				if !ok || r.SrcAddr != info.NwkAddr {
					continue
				}
			}
			if err := g.responder(r); err != nil {
				g.logger.Warn("default response", "frame", r.String(), "err", err)
			}
		default:
			return
		}
	}
}

func (g *Gateway) sendDefaultResponse(r *znp.Response) error {
	return g.link.Send(znp.DefaultResponse(r, zcl.StatusSuccess))
}
