package coordinator

import (
	"zstack-gateway/internal/zcl"
	"zstack-gateway/internal/znp"
)

// PendingRequest describes the ZCL reply an outstanding request expects.
type PendingRequest struct {
	Addr    uint16
	Cluster uint16
	TransID uint8
	// Status, when set, receives the command status of a matching reply.
	Status *uint8
}

// Matches reports whether r is the reply to p: same source address,
// cluster and transaction id.
func (p *PendingRequest) Matches(r *znp.Response) bool {
	return r != nil && r.IsZCL() &&
		r.SrcAddr == p.Addr &&
		r.ClusterID == p.Cluster &&
		r.ZCL.Seq == p.TransID
}

// Satisfied copies the status of a matching reply and reports whether the
// request succeeded.
func (p *PendingRequest) Satisfied(r *znp.Response) bool {
	if !p.Matches(r) {
		return false
	}
	if p.Status != nil {
		*p.Status = r.Status
	}
	return r.Status == zcl.StatusSuccess
}

// zdoReply matches a ZDO response command from addr.
func zdoReply(cmd znp.Command, addr uint16) func(*znp.Response) bool {
	return func(r *znp.Response) bool {
		return r.Command == cmd && r.SrcAddr == addr
	}
}

// srsp matches the synchronous response to req.
func srsp(req znp.Command) func(*znp.Response) bool {
	want := req.Response()
	return func(r *znp.Response) bool { return r.Command == want }
}
