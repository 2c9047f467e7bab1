package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zstack-gateway/internal/zcl"
	"zstack-gateway/internal/znp"
)

// DefaultRetry is the number of attempts per attribute request.
const DefaultRetry = 2

// Result is the outcome of an attribute request.
type Result struct {
	Status   uint8
	Attempts int
	Records  []zcl.Record
}

// OK reports whether the request was acknowledged with SUCCESS.
func (r Result) OK() bool { return r.Status == zcl.StatusSuccess }

// AttributeEngine sends ZCL requests and waits for the matching reply,
// retrying with a fresh transaction id per attempt.
type AttributeEngine struct {
	link    *Link
	timeout time.Duration
	retry   int
	logger  *slog.Logger
}

// NewAttributeEngine returns an engine making retry attempts per request,
// DefaultRetry when retry is not positive.
func NewAttributeEngine(link *Link, timeout time.Duration, retry int, logger *slog.Logger) *AttributeEngine {
	if retry <= 0 {
		retry = DefaultRetry
	}
	return &AttributeEngine{link: link, timeout: timeout, retry: retry, logger: logger}
}

// ReadAttributes reads attrIDs from cluster on dst. An optional retry
// overrides the engine's attempt budget for this call.
func (e *AttributeEngine) ReadAttributes(ctx context.Context, dst znp.Destination, cluster uint16, attrIDs []uint16, retry ...int) (Result, error) {
	return e.request(ctx, dst, cluster, e.attempts(retry), func(seq uint8) []byte {
		return zcl.ReadAttributes(seq, attrIDs)
	})
}

// WriteAttributes writes records to cluster on dst. An optional retry
// overrides the engine's attempt budget for this call.
func (e *AttributeEngine) WriteAttributes(ctx context.Context, dst znp.Destination, cluster uint16, records []zcl.WriteRecord, retry ...int) (Result, error) {
	return e.request(ctx, dst, cluster, e.attempts(retry), func(seq uint8) []byte {
		return zcl.WriteAttributes(seq, records)
	})
}

// Command sends a cluster-specific command and waits for its Default Response.
func (e *AttributeEngine) Command(ctx context.Context, dst znp.Destination, cluster uint16, cmdID uint8, payload []byte) (Result, error) {
	return e.request(ctx, dst, cluster, e.retry, func(seq uint8) []byte {
		return zcl.ClusterCommand(seq, cmdID, payload)
	})
}

// ConfigureReporting installs report configurations on cluster.
func (e *AttributeEngine) ConfigureReporting(ctx context.Context, dst znp.Destination, cluster uint16, configs []zcl.ReportConfig) (Result, error) {
	return e.request(ctx, dst, cluster, e.retry, func(seq uint8) []byte {
		return zcl.ConfigureReporting(seq, configs)
	})
}

func (e *AttributeEngine) attempts(retry []int) int {
	if len(retry) > 0 && retry[0] > 0 {
		return retry[0]
	}
	return e.retry
}

// request returns a non-nil error only for transport or context failures.
// A request that was never acknowledged yields a Result with the last
// status observed, FAILURE if none, and the records of the last matching
// reply.
func (e *AttributeEngine) request(ctx context.Context, dst znp.Destination, cluster uint16, retry int, build func(seq uint8) []byte) (Result, error) {
	res := Result{Status: zcl.StatusFailure}

	if dst.Group {
		seq := e.link.NextSeq()
		res.Attempts = 1
		if err := e.link.Send(znp.DataRequest(dst, cluster, seq, build(seq))); err != nil {
			return res, err
		}
		res.Status = zcl.StatusSuccess
		return res, nil
	}

	status := res.Status
	for attempt := 1; attempt <= retry; attempt++ {
		seq := e.link.NextSeq()
		pending := PendingRequest{Addr: dst.Addr, Cluster: cluster, TransID: seq, Status: &status}
		res.Attempts = attempt

		r, err := e.link.Exchange(ctx, znp.DataRequest(dst, cluster, seq, build(seq)), e.timeout, pending.Matches)
		switch {
		case errors.Is(err, ErrTimeout):
			e.logger.Debug("attribute request timeout",
				"addr", fmt.Sprintf("0x%04X", dst.Addr), "cluster", fmt.Sprintf("0x%04X", cluster), "attempt", attempt)
			continue
		case err != nil:
			res.Status = status
			return res, err
		}
		ok := pending.Satisfied(r)
		res.Status = status
		res.Records = r.Records
		if ok {
			return res, nil
		}
	}
	res.Status = status
	return res, nil
}
