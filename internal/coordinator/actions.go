package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"zstack-gateway/internal/store"
	"zstack-gateway/internal/znp"
)

// actionStep dequeues and dispatches at most one action.
func (g *Gateway) actionStep(ctx context.Context) {
	s := g.state.State()
	if s == DeviceInterviewing || s == FactoryReset || s.Initializing() {
		return
	}
	a, ok := g.queue.TryDequeue()
	if !ok {
		return
	}
	defer a.Payload.Release()

	log := g.logger.With("id", a.ID.String(), "kind", a.Kind.String(), "target", a.Target)
	if err := g.dispatch(ctx, a); err != nil {
		log.Warn("action failed", "err", err)
		return
	}
	log.Debug("action done")
}

func (g *Gateway) dispatch(ctx context.Context, a *Action) error {
	doc := a.Payload.Document()
	switch a.Kind {
	case ActionSet:
		return g.convertAndSend(ctx, a.Target, doc, ModeSet)
	case ActionGet:
		return g.convertAndSend(ctx, a.Target, doc, ModeGet)
	case ActionPermitJoin:
		return g.permitJoin(ctx, doc)
	case ActionRemoveDevice:
		return g.removeDevice(ctx, a.Target)
	}
	return fmt.Errorf("unknown action kind %d", a.Kind)
}

func (g *Gateway) convertAndSend(ctx context.Context, target string, doc Document, mode ConvertMode) error {
	var dev *store.Device
	var dst znp.Destination
	if target == TargetGroup {
		id, ok := groupID(doc)
		if !ok {
			return fmt.Errorf("group action without group_id")
		}
		dst = znp.Destination{Addr: id, Group: true}
	} else {
		d, err := g.store.GetDevice(target)
		if err != nil {
			return fmt.Errorf("get device %s: %w", target, err)
		}
		dev = d
		dst = znp.Destination{Addr: dev.NwkAddress}
	}

	ops, err := g.converter.ToZigbee(doc, mode)
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}

	var errs []error
	for _, op := range ops {
		if dev != nil {
			dst.Endpoint = dev.EndpointFor(op.Cluster)
		}
		res, err := g.execute(ctx, dst, op)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !res.OK() {
			errs = append(errs, fmt.Errorf("cluster 0x%04X: status 0x%02X after %d attempts", op.Cluster, res.Status, res.Attempts))
			continue
		}
		state := op.State
		if op.Kind == OpRead {
			state = g.converter.FromZigbee(op.Cluster, res.Records)
		}
		if dev != nil && len(state) > 0 {
			g.updateState(dev.IEEEAddress, state, 0)
		}
	}
	return errors.Join(errs...)
}

func (g *Gateway) execute(ctx context.Context, dst znp.Destination, op Operation) (Result, error) {
	switch op.Kind {
	case OpRead:
		return g.attrs.ReadAttributes(ctx, dst, op.Cluster, op.AttrIDs)
	case OpWrite:
		return g.attrs.WriteAttributes(ctx, dst, op.Cluster, op.Records)
	case OpCommand:
		return g.attrs.Command(ctx, dst, op.Cluster, op.Command, op.Payload)
	}
	return Result{}, fmt.Errorf("unknown operation kind %d", op.Kind)
}

// permitJoin opens the network for doc["time"] seconds, or closes it when
// doc["value"] is false.
func (g *Gateway) permitJoin(ctx context.Context, doc Document) error {
	duration := g.cfg.PermitJoinTime
	if v, ok := doc["value"].(bool); ok && !v {
		duration = 0
	}
	if t, ok := number(doc["time"]); ok && duration > 0 {
		duration = uint8(min(max(t, 0), 254))
	}

	r, err := g.link.Exchange(ctx, znp.PermitJoin(znp.BroadcastAddr, duration), g.cfg.RequestTimeout, srsp(znp.ZdoMgmtPermitJoinReq))
	if err != nil {
		return fmt.Errorf("permit join: %w", err)
	}
	if r.Status != znp.StatusSuccess {
		return fmt.Errorf("permit join: status 0x%02X", r.Status)
	}

	g.logger.Info("permit join", "duration", duration)
	g.publisher.Event(EventPermitJoin, Document{"value": duration > 0, "time": duration})
	if duration == 0 {
		g.timer.Cancel(timerPermitJoin)
		if g.state.State() == PermitJoin {
			g.state.Request(Running)
		}
		return nil
	}
	g.timer.SetTimeout(timerPermitJoin, time.Duration(duration)*time.Second, g.permitJoinExpired)
	if g.state.State() == Running {
		g.state.Request(PermitJoin)
	}
	return nil
}

func (g *Gateway) permitJoinExpired() {
	g.logger.Info("permit join window closed")
	g.publisher.Event(EventPermitJoin, Document{"value": false})
	if g.state.State() == PermitJoin {
		g.state.Request(Running)
	}
}

// removeDevice asks the device to leave and forgets it. Unknown devices are
// a no-op.
func (g *Gateway) removeDevice(ctx context.Context, ieee string) error {
	dev, err := g.store.GetDevice(ieee)
	if errors.Is(err, store.ErrNotFound) {
		g.logger.Debug("remove unknown device", "ieee", ieee)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get device %s: %w", ieee, err)
	}

	addr, err := znp.ParseIEEE(dev.IEEEAddress)
	if err != nil {
		return err
	}
	_, err = g.link.Exchange(ctx, znp.MgmtLeave(dev.NwkAddress, addr), g.cfg.RequestTimeout, zdoReply(znp.ZdoMgmtLeaveRsp, dev.NwkAddress))
	if err != nil {
		// Sleeping end devices rarely answer; drop them regardless.
		g.logger.Warn("leave request unanswered", "ieee", ieee, "err", err)
	}

	if err := g.store.DeleteDevice(ieee); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete device %s: %w", ieee, err)
	}
	g.netctx.Forget(ieee)
	g.logger.Info("device removed", "ieee", ieee)
	g.publisher.Event(EventDeviceRemoved, Document{"ieee_address": ieee})
	return nil
}

func groupID(doc Document) (uint16, bool) {
	switch v := doc["group_id"].(type) {
	case string:
		n, err := strconv.ParseUint(v, 0, 16)
		return uint16(n), err == nil
	default:
		n, ok := number(v)
		if !ok || n < 0 || n > 0xFFFF {
			return 0, false
		}
		return uint16(n), true
	}
}

func number(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint16:
		return int(n), true
	case uint8:
		return int(n), true
	}
	return 0, false
}
