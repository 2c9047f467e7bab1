package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"zstack-gateway/internal/coordinator"
	"zstack-gateway/internal/store"
)

const maxBody = 1 << 20

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices()
	if err != nil {
		s.logger.Error("list devices", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	docs := make([]coordinator.Document, 0, len(devices))
	for _, dev := range devices {
		docs = append(docs, coordinator.DeviceDocument(dev))
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	ieee := r.PathValue("ieee")
	dev, err := s.store.GetDevice(ieee)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		s.logger.Error("get device", "err", err, "ieee", ieee)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	doc := coordinator.DeviceDocument(dev)
	doc["state"] = dev.State
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	ieee := r.PathValue("ieee")
	s.submit(w, coordinator.ActionRemoveDevice, ieee, coordinator.Document{"id": ieee})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	info := s.gw.Network().Coordinator()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"state":      s.gw.State().String(),
		"queue_len":  s.gw.QueueLen(),
		"channel":    info.Channel,
		"pan_id":     info.PanID,
		"ext_pan_id": fmt.Sprintf("%016X", info.ExtPanID),
		"ieee":       info.IEEE.String(),
		"nwk_addr":   info.NwkAddr,
	})
}

type permitJoinRequest struct {
	Duration uint8 `json:"duration"`
}

func (s *Server) handlePermitJoin(w http.ResponseWriter, r *http.Request) {
	var req permitJoinRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc := coordinator.Document{"value": req.Duration > 0, "time": float64(req.Duration)}
	s.submit(w, coordinator.ActionPermitJoin, coordinator.TargetCoordinator, doc)
}

func (s *Server) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	if !s.gw.RequestFactoryReset() {
		s.writeError(w, http.StatusServiceUnavailable, "request rejected")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type actionRequest struct {
	Kind    string               `json:"kind"`
	Target  string               `json:"target"`
	Payload coordinator.Document `json:"payload"`
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := coordinator.ParseActionKind(req.Kind)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Target == "" || len(req.Payload) == 0 {
		s.writeError(w, http.StatusBadRequest, "target and payload are required")
		return
	}
	s.submit(w, kind, req.Target, req.Payload)
}

func (s *Server) submit(w http.ResponseWriter, kind coordinator.ActionKind, target string, doc coordinator.Document) {
	if !s.gw.Submit(kind, target, doc) {
		s.writeError(w, http.StatusServiceUnavailable, "action queue full")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "kind": kind.String(), "target": target})
}
