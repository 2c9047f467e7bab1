package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zstack-gateway/internal/store"
	"zstack-gateway/internal/zcl"
	"zstack-gateway/internal/znp"
)

// maxStepFailures is how often a single interview step may fail before the
// interview is abandoned.
const maxStepFailures = 3

type interviewStep int

const (
	stepActiveEndpoints interviewStep = iota
	stepSimpleDescriptors
	stepBasic
	stepConfigure
	stepDone
)

func (s interviewStep) String() string {
	switch s {
	case stepActiveEndpoints:
		return "active_endpoints"
	case stepSimpleDescriptors:
		return "simple_descriptors"
	case stepBasic:
		return "basic"
	case stepConfigure:
		return "configure"
	case stepDone:
		return "done"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

type bindTarget struct {
	endpoint uint8
	cluster  uint16
}

// Interview is the progress of one device interview.
type Interview struct {
	Device   *store.Device
	IEEE     znp.IEEE
	step     interviewStep
	epIndex  int
	targets  []bindTarget
	failures int
}

// InterviewEngine discovers a joined device one step per call, so the
// network loop keeps its cadence between steps.
type InterviewEngine struct {
	link    *Link
	attrs   *AttributeEngine
	store   store.Store
	netctx  *NetworkContext
	timeout time.Duration
	logger  *slog.Logger
	current *Interview
}

// NewInterviewEngine returns an engine exchanging ZDO requests over link
// and ZCL requests through attrs, waiting up to timeout for each reply.
func NewInterviewEngine(link *Link, attrs *AttributeEngine, st store.Store, netctx *NetworkContext, timeout time.Duration, logger *slog.Logger) *InterviewEngine {
	return &InterviewEngine{
		link:    link,
		attrs:   attrs,
		store:   st,
		netctx:  netctx,
		timeout: timeout,
		logger:  logger,
	}
}

// Begin starts interviewing dev, replacing any interview in progress.
func (e *InterviewEngine) Begin(dev *store.Device, ieee znp.IEEE) {
	e.current = &Interview{Device: dev, IEEE: ieee}
	e.logger.Info("interview started", "ieee", dev.IEEEAddress, "nwk", fmt.Sprintf("0x%04X", dev.NwkAddress))
}

// Current returns the interview in progress, or nil.
func (e *InterviewEngine) Current() *Interview { return e.current }

// Abort drops the interview in progress.
func (e *InterviewEngine) Abort() { e.current = nil }

// Step runs one interview step. It reports done once the device is fully
// configured. A failed step is retried on the next call until it has failed
// more than maxStepFailures times, after which Step returns an error with
// exhausted set.
func (e *InterviewEngine) Step(ctx context.Context) (done, exhausted bool, err error) {
	iv := e.current
	if iv == nil {
		return false, true, fmt.Errorf("no interview in progress")
	}
	if err := e.step(ctx, iv); err != nil {
		iv.failures++
		e.logger.Warn("interview step failed",
			"ieee", iv.Device.IEEEAddress, "step", iv.step.String(), "failures", iv.failures, "err", err)
		return false, iv.failures > maxStepFailures, fmt.Errorf("interview %s: %w", iv.step, err)
	}
	iv.failures = 0
	return iv.step == stepDone, false, nil
}

func (e *InterviewEngine) step(ctx context.Context, iv *Interview) error {
	dev := iv.Device
	addr := dev.NwkAddress

	switch iv.step {
	case stepActiveEndpoints:
		r, err := e.link.Exchange(ctx, znp.ActiveEndpoints(addr), e.timeout, zdoReply(znp.ZdoActiveEPRsp, addr))
		if err != nil {
			return err
		}
		if r.Status != znp.StatusSuccess {
			return fmt.Errorf("active endpoints status 0x%02X", r.Status)
		}
		dev.Endpoints = dev.Endpoints[:0]
		for _, ep := range r.Endpoints {
			dev.Endpoints = append(dev.Endpoints, store.Endpoint{ID: ep})
		}
		iv.epIndex = 0
		iv.step = stepSimpleDescriptors
		if len(dev.Endpoints) == 0 {
			iv.step = stepBasic
		}

	case stepSimpleDescriptors:
		ep := &dev.Endpoints[iv.epIndex]
		r, err := e.link.Exchange(ctx, znp.SimpleDescriptorRequest(addr, ep.ID), e.timeout, zdoReply(znp.ZdoSimpleDescRsp, addr))
		if err != nil {
			return err
		}
		if r.Status != znp.StatusSuccess || r.Descriptor == nil {
			return fmt.Errorf("simple descriptor ep %d status 0x%02X", ep.ID, r.Status)
		}
		ep.ProfileID = r.Descriptor.ProfileID
		ep.DeviceID = r.Descriptor.DeviceID
		ep.InClusters = r.Descriptor.InClusters
		ep.OutClusters = r.Descriptor.OutClusters
		iv.epIndex++
		if iv.epIndex >= len(dev.Endpoints) {
			iv.step = stepBasic
		}

	case stepBasic:
		dst := znp.Destination{Addr: addr, Endpoint: dev.EndpointFor(zcl.ClusterBasic)}
		// Identity is best effort; binding does not depend on it.
		res, err := e.attrs.ReadAttributes(ctx, dst, zcl.ClusterBasic,
			[]uint16{zcl.AttrManufacturerName, zcl.AttrModelIdentifier, zcl.AttrPowerSource})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || !res.OK() {
			e.logger.Warn("read basic attributes",
				"ieee", dev.IEEEAddress, "status", fmt.Sprintf("0x%02X", res.Status), "err", err)
		}
		applyBasic(dev, res.Records)
		iv.targets = bindTargets(dev)
		iv.step = stepConfigure

	case stepConfigure:
		if len(iv.targets) == 0 {
			iv.step = stepDone
			return nil
		}
		t := iv.targets[0]
		if err := e.configure(ctx, iv, t); err != nil {
			return err
		}
		dev.MarkConfigured(t.cluster)
		if err := e.store.SaveDevice(dev); err != nil {
			return fmt.Errorf("save device: %w", err)
		}
		iv.targets = iv.targets[1:]
		if len(iv.targets) == 0 {
			iv.step = stepDone
		}
	}
	return nil
}

func (e *InterviewEngine) configure(ctx context.Context, iv *Interview, t bindTarget) error {
	dev := iv.Device
	coord := e.netctx.Coordinator()
	bind := znp.Bind(znp.BindRequest{
		TargetAddr: dev.NwkAddress,
		SrcIEEE:    iv.IEEE,
		SrcEP:      t.endpoint,
		ClusterID:  t.cluster,
		DstIEEE:    coord.IEEE,
		DstEP:      znp.CoordinatorEP,
	})
	r, err := e.link.Exchange(ctx, bind, e.timeout, zdoReply(znp.ZdoBindRsp, dev.NwkAddress))
	if err != nil {
		return err
	}
	if r.Status != znp.StatusSuccess {
		return fmt.Errorf("bind cluster 0x%04X status 0x%02X", t.cluster, r.Status)
	}

	def := zcl.Lookup(t.cluster)
	if def == nil {
		return nil
	}
	configs := def.ReportConfigs()
	if len(configs) == 0 {
		return nil
	}
	dst := znp.Destination{Addr: dev.NwkAddress, Endpoint: t.endpoint}
	res, err := e.attrs.ConfigureReporting(ctx, dst, t.cluster, configs)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("configure reporting cluster 0x%04X status 0x%02X", t.cluster, res.Status)
	}
	e.logger.Info("reporting configured", "ieee", dev.IEEEAddress, "cluster", fmt.Sprintf("0x%04X", t.cluster))
	return nil
}

func applyBasic(dev *store.Device, records []zcl.Record) {
	for _, rec := range records {
		if rec.Status != zcl.StatusSuccess {
			continue
		}
		v, err := zcl.DecodeRecord(rec)
		if err != nil {
			continue
		}
		switch rec.AttrID {
		case zcl.AttrManufacturerName:
			if s, ok := v.(string); ok {
				dev.Manufacturer = s
			}
		case zcl.AttrModelIdentifier:
			if s, ok := v.(string); ok {
				dev.Model = s
			}
		case zcl.AttrPowerSource:
			if n, ok := v.(uint8); ok {
				dev.PowerSource = n
			}
		}
	}
}

// bindTargets lists the reportable in-clusters not yet configured, at most
// once per cluster.
func bindTargets(dev *store.Device) []bindTarget {
	var out []bindTarget
	seen := make(map[uint16]bool)
	for _, ep := range dev.Endpoints {
		for _, c := range ep.InClusters {
			if seen[c] || !zcl.Reportable(c) || dev.IsConfigured(c) {
				continue
			}
			seen[c] = true
			out = append(out, bindTarget{endpoint: ep.ID, cluster: c})
		}
	}
	return out
}
