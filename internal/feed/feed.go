package feed

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/terminal-bench/ledgerboard/pkg/messaging"
	"github.com/terminal-bench/ledgerboard/shared/events"
)

// Feed pushes accepted-score events to WebSocket subscribers. Events arrive
// either from NATS (Attach) or from an in-process publisher (Publish) when no
// broker is configured.
type Feed struct {
	subscribers map[uuid.UUID]*subscriber
	mu          sync.RWMutex
	broadcast   chan []byte
}

type subscriber struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New creates a feed
func New() *Feed {
	return &Feed{
		subscribers: make(map[uuid.UUID]*subscriber),
		broadcast:   make(chan []byte, 64),
	}
}

// Attach subscribes the feed to score events on NATS
func (f *Feed) Attach(client *messaging.Client) error {
	return client.Subscribe(events.ScoreAccepted, func(msg *nats.Msg) {
		select {
		case f.broadcast <- msg.Data:
		default:
			// Feed is lossy; a slow loop drops events rather than backing
			// up the broker subscription.
		}
	})
}

// Publish lets the submission pipeline feed events directly when NATS is not
// configured. It satisfies the pipeline's Publisher interface.
func (f *Feed) Publish(subject string, data interface{}) error {
	if subject != events.ScoreAccepted {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	select {
	case f.broadcast <- payload:
	default:
	}
	return nil
}

// Run fans broadcast events out to subscribers until ctx is cancelled.
// Cancellation is the normal way to stop the feed, so it returns nil then;
// callers running it under an errgroup see a clean shutdown, not an error.
func (f *Feed) Run(ctx context.Context) error {
	for {
		select {
		case payload := <-f.broadcast:
			f.mu.RLock()
			for _, sub := range f.subscribers {
				select {
				case sub.send <- payload:
				default:
					// Slow subscriber; drop rather than block the feed.
				}
			}
			f.mu.RUnlock()
		case <-ctx.Done():
			f.closeAll()
			return nil
		}
	}
}

// Subscribers returns the current subscriber count
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

// HandleWS upgrades an HTTP request and registers the connection
func (f *Feed) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sub := &subscriber{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}

	f.mu.Lock()
	f.subscribers[sub.id] = sub
	f.mu.Unlock()

	go f.readPump(sub)
	go f.writePump(sub)
}

func (f *Feed) readPump(sub *subscriber) {
	defer func() {
		f.mu.Lock()
		delete(f.subscribers, sub.id)
		f.mu.Unlock()
		close(sub.done)
		sub.conn.Close()
	}()

	// Subscribers only listen; reads exist to notice the close.
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(sub *subscriber) {
	for {
		select {
		case payload := <-sub.send:
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}

func (f *Feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, sub := range f.subscribers {
		if err := sub.conn.Close(); err != nil {
			log.Printf("failed to close feed subscriber: %v", err)
		}
		delete(f.subscribers, id)
	}
}
