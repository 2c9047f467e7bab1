package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"zstack-gateway/internal/coordinator"
)

// Message is one published document as delivered to feed clients.
type Message struct {
	Topic   string               `json:"topic"`
	Payload coordinator.Document `json:"payload"`
}

// Feed is a coordinator.DataSink that fans published documents out to
// websocket clients.
type Feed struct {
	clients map[*feedClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *feedClient
	unregister chan *feedClient
	broadcast  chan Message

	done     chan struct{}
	stopOnce sync.Once
}

var _ coordinator.DataSink = (*Feed)(nil)

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewFeed(logger *slog.Logger) *Feed {
	return &Feed{
		clients:    make(map[*feedClient]struct{}),
		logger:     logger.With("component", "feed"),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		broadcast:  make(chan Message, 256),
		done:       make(chan struct{}),
	}
}

// Run delivers broadcasts until Stop is called.
func (f *Feed) Run() {
	for {
		select {
		case <-f.done:
			f.mu.Lock()
			for client := range f.clients {
				close(client.send)
				delete(f.clients, client)
			}
			f.mu.Unlock()
			return

		case client := <-f.register:
			f.mu.Lock()
			f.clients[client] = struct{}{}
			total := len(f.clients)
			f.mu.Unlock()
			f.logger.Debug("feed client connected", "total", total)

		case client := <-f.unregister:
			f.mu.Lock()
			if _, ok := f.clients[client]; ok {
				delete(f.clients, client)
				close(client.send)
			}
			total := len(f.clients)
			f.mu.Unlock()
			f.logger.Debug("feed client disconnected", "total", total)

		case msg := <-f.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				f.logger.Error("feed marshal", "topic", msg.Topic, "err", err)
				continue
			}
			f.mu.Lock()
			var slow []*feedClient
			for client := range f.clients {
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				delete(f.clients, client)
				close(client.send)
				f.logger.Warn("feed client evicted (too slow)")
			}
			f.mu.Unlock()
		}
	}
}

// Stop shuts the feed down. Safe to call multiple times.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
	})
}

// Publish queues payload for every connected client. It never blocks; when
// the queue is full the document is dropped.
func (f *Feed) Publish(topic string, payload coordinator.Document) error {
	select {
	case f.broadcast <- Message{Topic: topic, Payload: payload}:
	default:
		f.logger.Warn("feed queue full, dropping message", "topic", topic)
	}
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	client := &feedClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	select {
	case s.feed.register <- client:
	case <-s.feed.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) writePump(client *feedClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

// readPump discards client messages and unregisters on disconnect.
func (s *Server) readPump(client *feedClient) {
	defer func() {
		select {
		case s.feed.unregister <- client:
		case <-s.feed.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.feed.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}
