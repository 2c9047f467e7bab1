package coordinator

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"zstack-gateway/internal/store"
	"zstack-gateway/internal/zcl"
	"zstack-gateway/internal/znp"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakePort returns queued chunks one per Read and records writes. reply,
// when set, scripts the radio: it sees every written frame and returns the
// frames to queue in response.
type fakePort struct {
	mu     sync.Mutex
	reads  [][]byte
	writes [][]byte
	reply  func(f znp.Frame) []znp.Frame
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reads) == 0 {
		return 0, nil
	}
	n := copy(b, p.reads[0])
	p.reads = p.reads[1:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := bytes.Clone(b)
	p.writes = append(p.writes, cp)
	if p.reply != nil {
		if f, err := znp.ParseFrame(cp); err == nil {
			for _, out := range p.reply(f) {
				raw, err := out.Encode()
				if err != nil {
					panic(err)
				}
				p.reads = append(p.reads, raw)
			}
		}
	}
	return len(b), nil
}

func (p *fakePort) Close() error { return nil }

func (p *fakePort) queue(raw ...[]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads = append(p.reads, raw...)
}

func (p *fakePort) written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

// writtenCommands decodes the command of every written frame.
func (p *fakePort) writtenCommands() []znp.Command {
	var out []znp.Command
	for _, raw := range p.written() {
		if f, err := znp.ParseFrame(raw); err == nil {
			out = append(out, f.Command)
		}
	}
	return out
}

type published struct {
	topic string
	doc   Document
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []published
}

func (s *recordingSink) Publish(topic string, payload Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, published{topic, payload})
	return nil
}

func (s *recordingSink) find(topic string) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].topic == topic {
			return s.msgs[i].doc, true
		}
	}
	return nil, false
}

func (s *recordingSink) events(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.topic == TopicBridgeEvent && m.doc["type"] == eventType {
			n++
		}
	}
	return n
}

// afRequest is the decoded body of an AF_DATA_REQUEST.
type afRequest struct {
	addr    uint16
	ep      uint8
	cluster uint16
	zcl     zcl.Header
	payload []byte
}

func parseAFRequest(f znp.Frame) (afRequest, bool) {
	if f.Command != znp.AfDataRequest || len(f.Data) < 10 {
		return afRequest{}, false
	}
	d := f.Data
	h, payload, err := zcl.ParseHeader(d[10:])
	if err != nil {
		return afRequest{}, false
	}
	return afRequest{
		addr:    binary.LittleEndian.Uint16(d[0:2]),
		ep:      d[2],
		cluster: binary.LittleEndian.Uint16(d[4:6]),
		zcl:     h,
		payload: payload,
	}, true
}

// afIncoming builds an AF_INCOMING_MSG frame.
func afIncoming(src uint16, srcEP uint8, cluster uint16, zclFrame []byte) znp.Frame {
	d := make([]byte, 17, 17+len(zclFrame))
	binary.LittleEndian.PutUint16(d[2:4], cluster)
	binary.LittleEndian.PutUint16(d[4:6], src)
	d[6] = srcEP
	d[7] = znp.CoordinatorEP
	d[9] = 0x80 // lqi
	d[16] = byte(len(zclFrame))
	return znp.Frame{Command: znp.AfIncomingMsg, Data: append(d, zclFrame...)}
}

// zclReply builds a server-to-client foundation frame answering seq.
func zclReply(seq, cmd uint8, payload []byte) []byte {
	h := zcl.Header{FrameControl: zcl.FrameServerToClient | zcl.FrameDisableDefaultRsp, Seq: seq, Command: cmd}
	return h.Append(payload)
}

func srspFrame(req znp.Command, status uint8) znp.Frame {
	return znp.Frame{Command: req.Response(), Data: []byte{status}}
}

// zdoRsp builds a ZDO response: src address, status, then body.
func zdoRsp(cmd znp.Command, src uint16, status uint8, body ...byte) znp.Frame {
	d := binary.LittleEndian.AppendUint16(nil, src)
	d = append(d, status)
	return znp.Frame{Command: cmd, Data: append(d, body...)}
}

func mustEncode(t *testing.T, f znp.Frame) []byte {
	t.Helper()
	raw, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return raw
}
