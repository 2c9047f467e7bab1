package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"zstack-gateway/internal/znp"
)

// ErrTimeout is returned when no matching response arrives in time.
var ErrTimeout = errors.New("coordinator: response timeout")

// FrameAdapter validates a raw frame and decodes it into a Response.
type FrameAdapter interface {
	FromZigbee(raw []byte) (*znp.Response, error)
}

// Link owns the serial port. One request/response cycle holds the mutex;
// frames read during a cycle that do not match are handed to the fallback
// handler after the mutex is released.
type Link struct {
	mu       sync.Mutex
	port     znp.Port
	decoder  *znp.Decoder
	adapter  FrameAdapter
	buf      []byte
	seq      atomic.Uint32
	fallback func(*znp.Response)
	logger   *slog.Logger
}

// NewLink wraps port. decoder and adapter default to znp.NewDecoder and
// znp.NewAdapter when nil.
func NewLink(port znp.Port, decoder *znp.Decoder, adapter FrameAdapter, logger *slog.Logger) *Link {
	if decoder == nil {
		decoder = znp.NewDecoder()
	}
	if adapter == nil {
		adapter = znp.NewAdapter()
	}
	return &Link{
		port:    port,
		decoder: decoder,
		adapter: adapter,
		buf:     make([]byte, znp.BufferSize),
		logger:  logger,
	}
}

// SetFallback sets the handler for unmatched responses seen by Exchange.
func (l *Link) SetFallback(fn func(*znp.Response)) { l.fallback = fn }

// NextSeq returns a fresh transaction id.
func (l *Link) NextSeq() uint8 {
	return uint8(l.seq.Add(1))
}

// Send writes one frame.
func (l *Link) Send(f znp.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(f)
}

func (l *Link) write(f znp.Frame) error {
	raw, err := f.Encode()
	if err != nil {
		return err
	}
	if _, err := l.port.Write(raw); err != nil {
		return fmt.Errorf("write %s: %w", f.Command, err)
	}
	l.logger.Debug("tx", "cmd", f.Command.String(), "len", len(f.Data))
	return nil
}

// Poll performs one read and returns every response decoded from it.
func (l *Link) Poll(ctx context.Context) ([]*znp.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

func (l *Link) read() ([]*znp.Response, error) {
	n, err := l.port.Read(l.buf)
	if err != nil {
		return nil, fmt.Errorf("read serial: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	var out []*znp.Response
	for _, raw := range l.decoder.Decode(l.buf[:n]) {
		r, err := l.adapter.FromZigbee(raw)
		if err != nil {
			l.logger.Debug("drop frame", "raw", fmt.Sprintf("%X", raw), "err", err)
			continue
		}
		l.logger.Debug("rx", "frame", r.String())
		out = append(out, r)
	}
	return out, nil
}

// Exchange sends f and reads until match accepts a response or timeout
// elapses. With a nil match it only sends.
func (l *Link) Exchange(ctx context.Context, f znp.Frame, timeout time.Duration, match func(*znp.Response) bool) (*znp.Response, error) {
	found, others, err := l.exchange(ctx, f, timeout, match)
	if l.fallback != nil {
		for _, r := range others {
			l.fallback(r)
		}
	}
	return found, err
}

func (l *Link) exchange(ctx context.Context, f znp.Frame, timeout time.Duration, match func(*znp.Response) bool) (*znp.Response, []*znp.Response, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.write(f); err != nil {
		return nil, nil, err
	}
	if match == nil {
		return nil, nil, nil
	}

	var others []*znp.Response
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, others, err
		}
		rs, err := l.read()
		if err != nil {
			return nil, others, err
		}
		if len(rs) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		var found *znp.Response
		for _, r := range rs {
			if found == nil && match(r) {
				found = r
				continue
			}
			others = append(others, r)
		}
		if found != nil {
			return found, others, nil
		}
	}
	return nil, others, fmt.Errorf("%s: %w", f.Command, ErrTimeout)
}
