package monitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/proctor-client/internal/logger"
	"github.com/dj-oyu/proctor-client/internal/views"
)

// SerializedEvent holds pre-serialized data in both formats.
type SerializedEvent struct {
	Version      uint64
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// statusEvent is the payload of /api/status and its stream.
type statusEvent struct {
	Version   uint64          `json:"version"`
	Room      *views.Snapshot `json:"room"`
	Uptime    float64         `json:"uptime_seconds"`
	Timestamp float64         `json:"timestamp"`
}

// StatusBroadcaster manages fanout of status events to multiple SSE clients.
// Pre-serializes both JSON and Protobuf formats for efficiency.
type StatusBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan *SerializedEvent // Channel carries pre-serialized data
	nextID   int
	monitor  *Monitor
	notify   chan struct{}
	stop     chan struct{}
	stopped  bool
	interval time.Duration
	onCount  func(int)
}

// NewStatusBroadcaster creates a broadcaster for status events. Events are sent
// on every publish and at least once per interval.
func NewStatusBroadcaster(monitor *Monitor, interval time.Duration) *StatusBroadcaster {
	if interval <= 0 {
		interval = DefaultConfig().StatusInterval
	}
	sb := &StatusBroadcaster{
		clients:  make(map[int]chan *SerializedEvent),
		monitor:  monitor,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		interval: interval,
	}
	monitor.OnChange(sb.wake)
	return sb
}

// Subscribe adds a new client and returns a channel for receiving status events.
// The current status is queued immediately.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	event := buildSerializedEvent(sb.monitor)

	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 2) // Buffer 2 events to avoid blocking
	if event != nil {
		ch <- event
	}
	sb.clients[id] = ch
	sb.countChangedLocked()

	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		sb.countChangedLocked()
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// OnClientCount registers fn to observe the number of connected clients.
func (sb *StatusBroadcaster) OnClientCount(fn func(int)) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.onCount = fn
}

func (sb *StatusBroadcaster) countChangedLocked() {
	if sb.onCount != nil {
		sb.onCount(len(sb.clients))
	}
}

// Start begins the status event loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the broadcaster and disconnects all clients.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.stopped {
		return
	}
	close(sb.stop)
	sb.stopped = true
	for id, ch := range sb.clients {
		close(ch)
		delete(sb.clients, id)
	}
}

func (sb *StatusBroadcaster) wake() {
	select {
	case sb.notify <- struct{}{}:
	default:
	}
}

func (sb *StatusBroadcaster) run() {
	logger.Info("StatusBroadcaster", "Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-sb.notify:
		case <-ticker.C:
		}

		// Check client count before generating status
		sb.mu.Lock()
		clientCount := len(sb.clients)
		sb.mu.Unlock()
		if clientCount == 0 {
			continue
		}

		if event := buildSerializedEvent(sb.monitor); event != nil {
			sb.broadcast(event)
		}
	}
}

func (sb *StatusBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}

func currentStatus(m *Monitor) statusEvent {
	snap, version, ok := m.Snapshot()
	ev := statusEvent{
		Version:   version,
		Uptime:    m.Uptime().Seconds(),
		Timestamp: float64(time.Now().Unix()),
	}
	if ok {
		ev.Room = &snap
	}
	return ev
}

func buildSerializedEvent(m *Monitor) *SerializedEvent {
	status := currentStatus(m)

	jsonData, err := json.Marshal(status)
	if err != nil {
		logger.Error("StatusBroadcaster", "JSON marshal error: %v", err)
		return nil
	}

	pbData, err := encodeProto(jsonData)
	if err != nil {
		logger.Error("StatusBroadcaster", "Protobuf marshal error: %v", err)
		return nil
	}

	// Base64 encode for SSE transport
	pbBase64 := []byte(base64.StdEncoding.EncodeToString(pbData))

	return &SerializedEvent{
		Version:      status.Version,
		JSONData:     jsonData,
		ProtobufData: pbBase64,
	}
}

// encodeProto converts a JSON object into a wire-encoded google.protobuf.Struct.
func encodeProto(jsonData []byte) ([]byte, error) {
	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(st)
}
