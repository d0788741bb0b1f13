// Package hub keeps dashboard subscribers in sync with the telemetry snapshot
// and the pump selection. Every subscriber has a bounded outbound queue; a
// subscriber whose queue is full is dropped so it never stalls the others.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/napd/local-control/internal/logic"
	"github.com/napd/local-control/internal/telemetry"
)

// Source is the telemetry the hub serves.
type Source interface {
	Snapshot() telemetry.Snapshot
	SetPumpState(id logic.PumpIdentity, state logic.PumpState) bool
}

// Selection reports the selected pump.
type Selection interface {
	Current() logic.PumpIdentity
}

// Options tune a Hub. Zero values select the defaults.
type Options struct {
	BufferSize      int              // outbound frames queued per subscriber (default 16)
	HeartbeatPeriod time.Duration    // default 1s
	Now             func() time.Time // default time.Now
}

// Subscriber is one connected dashboard client.
type Subscriber struct {
	ID   string
	send chan []byte
}

// Messages returns the subscriber's outbound frames. The channel is closed
// when the subscriber is dropped or the hub shuts down.
func (s *Subscriber) Messages() <-chan []byte {
	return s.send
}

// Hub is the broadcast hub. Safe for concurrent use.
type Hub struct {
	src  Source
	sel  Selection
	opts Options

	mu     sync.RWMutex
	subs   map[string]*Subscriber
	closed bool

	// Last data and selection frames broadcast, so a subscriber that raced a
	// publish starts from what everyone else already has.
	lastVersion uint64
	lastData    []byte
	lastSel     []byte
}

// New creates a Hub serving src and sel.
func New(src Source, sel Selection, opts Options) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 16
	}
	if opts.HeartbeatPeriod <= 0 {
		opts.HeartbeatPeriod = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		src:  src,
		sel:  sel,
		opts: opts,
		subs: make(map[string]*Subscriber),
	}
}

// Subscribe registers a new subscriber. Its queue already holds the current
// snapshot followed by the current selection.
func (h *Hub) Subscribe() (*Subscriber, error) {
	snap := h.src.Snapshot()
	data, err := h.dataFrame(snap)
	if err != nil {
		return nil, err
	}
	sel, err := h.selectionFrame(h.sel.Current())
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	// A publish that ran after the reads above has not reached this
	// subscriber, so start it from the broadcast frames instead.
	if h.lastData != nil && h.lastVersion > snap.Version {
		data = h.lastData
	}
	if h.lastSel != nil {
		sel = h.lastSel
	}

	sub := &Subscriber{ID: uuid.NewString(), send: make(chan []byte, h.opts.BufferSize+2)}
	sub.send <- data
	sub.send <- sel
	h.subs[sub.ID] = sub
	log.Printf("hub: subscriber %s connected (%d total)", sub.ID, len(h.subs))
	return sub, nil
}

// Unsubscribe removes sub and closes its queue. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	delete(h.subs, sub.ID)
	close(sub.send)
	log.Printf("hub: subscriber %s disconnected (%d total)", sub.ID, len(h.subs))
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish pushes snap to every subscriber. A snapshot older than the last one
// published is discarded.
func (h *Hub) Publish(snap telemetry.Snapshot) {
	frame, err := h.dataFrame(snap)
	if err != nil {
		log.Printf("hub: %v", err)
		return
	}

	h.mu.Lock()
	if h.lastData != nil && snap.Version < h.lastVersion {
		h.mu.Unlock()
		return
	}
	h.lastVersion, h.lastData = snap.Version, frame
	slow := h.queue(frame)
	h.mu.Unlock()
	h.drop(slow)
}

// PublishSelection pushes a selection change to every subscriber. It does not
// call back into the selector, so it may run under the selector's lock.
func (h *Hub) PublishSelection(id logic.PumpIdentity) {
	frame, err := h.selectionFrame(id)
	if err != nil {
		log.Printf("hub: %v", err)
		return
	}

	h.mu.Lock()
	h.lastSel = frame
	slow := h.queue(frame)
	h.mu.Unlock()
	h.drop(slow)
}

// Heartbeat pushes a liveness signal to every subscriber.
func (h *Hub) Heartbeat() {
	frame, err := encode(EventHeartbeat, HeartbeatJSON{Timestamp: telemetry.FormatTime(h.opts.Now())})
	if err != nil {
		log.Printf("hub: %v", err)
		return
	}
	h.broadcast(frame)
}

// Handle serves one inbound frame from sub. Replies go to sub only, except
// set_pump_state which re-broadcasts to everyone. A rejected frame is answered
// with an error event and the reason is returned.
func (h *Hub) Handle(sub *Subscriber, raw []byte) error {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
		h.sendNotice(sub, EventError, "malformed message")
		return ErrMalformed
	}

	switch msg.Event {
	case EventRequestData:
		frame, err := h.dataFrame(h.src.Snapshot())
		if err != nil {
			return err
		}
		h.sendTo(sub, frame)

	case EventRequestSelection:
		frame, err := h.selectionFrame(h.sel.Current())
		if err != nil {
			return err
		}
		h.sendTo(sub, frame)

	case EventSetPumpState:
		state, err := parseSetPumpState(msg.Data)
		if err != nil {
			log.Printf("hub: rejected set_pump_state from %s: %v", sub.ID, err)
			h.sendNotice(sub, EventError, err.Error())
			return err
		}
		id := h.sel.Current()
		h.src.SetPumpState(id, state)
		log.Printf("hub: %s state set to %s by %s", id, state, sub.ID)
		h.Publish(h.src.Snapshot())

	case EventToggleSelected:
		log.Printf("hub: pump selection toggle requested by %s", sub.ID)
		h.sendNotice(sub, EventSelectionToggled, "Pump selection toggle requested")

	default:
		log.Printf("hub: unknown event %q from %s", msg.Event, sub.ID)
		h.sendNotice(sub, EventError, fmt.Sprintf("unknown event %q", msg.Event))
		return fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Event)
	}
	return nil
}

// Run sends heartbeats until ctx is done, then closes the hub.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.opts.HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			h.Heartbeat()
		}
	}
}

// Close drops every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.send)
		delete(h.subs, id)
	}
}

// broadcast queues frame for every subscriber without blocking. Sends happen
// under the read lock so a queue is never closed while being written.
func (h *Hub) broadcast(frame []byte) {
	h.mu.RLock()
	slow := h.queue(frame)
	h.mu.RUnlock()
	h.drop(slow)
}

// queue offers frame to every subscriber and returns those whose queue is
// full. h.mu must be held.
func (h *Hub) queue(frame []byte) []*Subscriber {
	var slow []*Subscriber
	for _, sub := range h.subs {
		select {
		case sub.send <- frame:
		default:
			slow = append(slow, sub)
		}
	}
	return slow
}

func (h *Hub) sendTo(sub *Subscriber, frame []byte) {
	h.mu.RLock()
	_, ok := h.subs[sub.ID]
	full := false
	if ok {
		select {
		case sub.send <- frame:
		default:
			full = true
		}
	}
	h.mu.RUnlock()
	if full {
		h.drop([]*Subscriber{sub})
	}
}

func (h *Hub) sendNotice(sub *Subscriber, event, message string) {
	frame, err := encode(event, NoticeJSON{Message: message})
	if err != nil {
		log.Printf("hub: %v", err)
		return
	}
	h.sendTo(sub, frame)
}

func (h *Hub) drop(subs []*Subscriber) {
	for _, sub := range subs {
		log.Printf("hub: subscriber %s queue full, dropping", sub.ID)
		h.Unsubscribe(sub)
	}
}

func (h *Hub) dataFrame(snap telemetry.Snapshot) ([]byte, error) {
	return encode(EventDataUpdate, telemetry.ToJSON(snap))
}

func (h *Hub) selectionFrame(id logic.PumpIdentity) ([]byte, error) {
	return encode(EventSelectionChanged, SelectionJSON{
		SelectedPump: int(id),
		Timestamp:    telemetry.FormatTime(h.opts.Now()),
	})
}

func parseSetPumpState(data json.RawMessage) (logic.PumpState, error) {
	var req SetPumpStateJSON
	if len(data) == 0 {
		return "", errors.New("missing state")
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.State == nil {
		return "", errors.New("missing state")
	}
	return logic.ParsePumpState(*req.State)
}
