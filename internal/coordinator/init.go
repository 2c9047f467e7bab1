package coordinator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"zstack-gateway/internal/store"
	"zstack-gateway/internal/zcl"
	"zstack-gateway/internal/znp"
)

// HA device id the coordinator endpoint registers with.
const deviceConfigurationTool = 0x0005

// Clusters the coordinator endpoint registers as client.
var coordinatorOutClusters = []uint16{
	zcl.ClusterBasic, zcl.ClusterOnOff, zcl.ClusterLevelControl, zcl.ClusterColorControl,
}

func (g *Gateway) initialize(ctx context.Context, s NetworkState) {
	if time.Now().Before(g.initRetryAt) {
		return
	}
	format := s == InitFormat || s == InitMax || g.cfg.Network.ForceFormat
	if s == InitMax {
		g.initFailures = 0
	}

	if err := g.startZigbee(ctx, format); err != nil {
		if ctx.Err() != nil {
			return
		}
		g.initFailures++
		g.initRetryAt = time.Now().Add(g.cfg.InitRetryDelay)
		next := InitFail
		if g.initFailures >= g.cfg.MaxInitFailures {
			next = InitMax
		}
		g.logger.Error("coordinator init failed", "err", err, "failures", g.initFailures, "next", next.String())
		if err := g.state.Transition(next); err != nil {
			g.logger.Error("init transition", "err", err)
		}
		return
	}

	g.initFailures = 0
	g.initRetryAt = time.Time{}
	if err := g.state.Transition(InitSuccessful); err != nil {
		g.logger.Error("init transition", "err", err)
	}
}

// startZigbee resets the coordinator, forms the network when needed and
// starts it as coordinator.
func (g *Gateway) startZigbee(ctx context.Context, format bool) error {
	g.logger.Info("starting coordinator", "format", format)
	if err := g.reset(ctx); err != nil {
		return err
	}
	if _, err := g.link.Exchange(ctx, znp.PingRequest(), g.cfg.RequestTimeout, srsp(znp.SysPing)); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	if format || !g.canResume() {
		if err := g.formNetwork(ctx); err != nil {
			return err
		}
	}

	r, err := g.link.Exchange(ctx, znp.RegisterEndpoint(znp.CoordinatorEP, deviceConfigurationTool, nil, coordinatorOutClusters),
		g.cfg.RequestTimeout, srsp(znp.AfRegister))
	if err != nil {
		return fmt.Errorf("register endpoint: %w", err)
	}
	if r.Status != znp.StatusSuccess && r.Status != znp.StatusAFExists {
		return fmt.Errorf("register endpoint: status 0x%02X", r.Status)
	}

	_, err = g.link.Exchange(ctx, znp.StartupFromApp(100), g.cfg.ResetTimeout, func(r *znp.Response) bool {
		return r.Command == znp.ZdoStateChangeInd && r.Status == znp.DevStateCoordinator
	})
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	r, err = g.link.Exchange(ctx, znp.DeviceInfoRequest(), g.cfg.RequestTimeout, srsp(znp.UtilGetDeviceInfo))
	if err != nil {
		return fmt.Errorf("device info: %w", err)
	}

	net := g.cfg.Network
	g.netctx.SetCoordinator(CoordinatorInfo{
		NwkAddr:  r.NwkAddr,
		IEEE:     r.IEEE,
		Channel:  net.Channel,
		PanID:    net.PanID,
		ExtPanID: net.ExtPanID,
		LinkKey:  znp.TCLinkKey,
	})
	if err := g.store.SaveNetworkState(&store.NetworkState{
		Channel:         net.Channel,
		PanID:           net.PanID,
		ExtPanID:        fmt.Sprintf("%016X", net.ExtPanID),
		CoordinatorIEEE: r.IEEE.String(),
		Formed:          true,
	}); err != nil {
		g.logger.Error("save network state", "err", err)
	}

	g.timer.SetInterval(timerPing, g.cfg.PingInterval, g.ping)
	g.rebuildIndex()
	g.logger.Info("network started",
		"ieee", r.IEEE.String(), "channel", net.Channel, "panID", fmt.Sprintf("0x%04X", net.PanID))
	if err := g.publisher.Publish(TopicBridgeState, Document{"state": "online", "coordinator": r.IEEE.String()}); err != nil {
		g.logger.Warn("publish bridge state", "err", err)
	}
	return nil
}

func (g *Gateway) reset(ctx context.Context) error {
	_, err := g.link.Exchange(ctx, znp.ResetRequest(false), g.cfg.ResetTimeout, func(r *znp.Response) bool {
		return r.Command == znp.SysResetInd
	})
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// canResume reports whether the stored network matches the configuration.
func (g *Gateway) canResume() bool {
	ns, err := g.store.GetNetworkState()
	if err != nil || !ns.Formed {
		return false
	}
	net := g.cfg.Network
	return ns.Channel == net.Channel &&
		ns.PanID == net.PanID &&
		ns.ExtPanID == fmt.Sprintf("%016X", net.ExtPanID)
}

func (g *Gateway) formNetwork(ctx context.Context) error {
	g.logger.Info("forming network", "channel", g.cfg.Network.Channel, "panID", fmt.Sprintf("0x%04X", g.cfg.Network.PanID))
	if err := g.nvWrite(ctx, znp.NVStartupOption, []byte{znp.StartupClearConfig | znp.StartupClearState}); err != nil {
		return err
	}
	if err := g.reset(ctx); err != nil {
		return err
	}

	net := g.cfg.Network
	writes := []struct {
		id    uint16
		value []byte
	}{
		{znp.NVLogicalType, []byte{znp.LogicalCoordinator}},
		{znp.NVPanID, binary.LittleEndian.AppendUint16(nil, net.PanID)},
		{znp.NVExtendedPanID, binary.LittleEndian.AppendUint64(nil, net.ExtPanID)},
		{znp.NVChannelList, binary.LittleEndian.AppendUint32(nil, 1<<net.Channel)},
		{znp.NVZdoDirectCB, []byte{0x01}},
		{znp.NVTCLKTableStart, znp.TCLinkKey[:]},
	}
	for _, w := range writes {
		if err := g.nvWrite(ctx, w.id, w.value); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) nvWrite(ctx context.Context, id uint16, value []byte) error {
	r, err := g.link.Exchange(ctx, znp.NVWrite(id, value), g.cfg.RequestTimeout, srsp(znp.SysNVWrite))
	if err != nil {
		return fmt.Errorf("nv write 0x%04X: %w", id, err)
	}
	if r.Status != znp.StatusSuccess {
		return fmt.Errorf("nv write 0x%04X: status 0x%02X", id, r.Status)
	}
	return nil
}

// ping checks the coordinator is alive. It runs from the software timer on
// the network loop.
func (g *Gateway) ping() {
	_, err := g.link.Exchange(g.ctx, znp.PingRequest(), g.cfg.RequestTimeout, srsp(znp.SysPing))
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	g.logger.Error("coordinator ping failed", "err", err)
	g.timer.Cancel(timerPing)
	g.state.Request(InitFail)
}

// factoryReset clears the coordinator configuration and every known device,
// then formats a new network.
func (g *Gateway) factoryReset(ctx context.Context) {
	g.logger.Warn("factory reset")
	g.timer.Cancel(timerPing)
	g.timer.Cancel(timerPermitJoin)
	g.interview.Abort()
	g.netctx.SetDevice(nil)

	if err := g.nvWrite(ctx, znp.NVStartupOption, []byte{znp.StartupClearConfig | znp.StartupClearState}); err != nil {
		g.logger.Error("factory reset", "err", err)
		if err := g.state.Transition(InitFail); err != nil {
			g.logger.Error("factory reset transition", "err", err)
		}
		return
	}
	if err := g.store.ClearDevices(); err != nil {
		g.logger.Error("clear devices", "err", err)
	}
	if ns, err := g.store.GetNetworkState(); err == nil {
		ns.Formed = false
		if err := g.store.SaveNetworkState(ns); err != nil {
			g.logger.Error("save network state", "err", err)
		}
	}
	g.netctx.ClearIndex()
	if err := g.state.Transition(InitFormat); err != nil {
		g.logger.Error("factory reset transition", "err", err)
	}
}
