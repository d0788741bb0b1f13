package tags

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the broker-backed tag store.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string // tags live at <prefix>/<source>/<tag>
	SystemTopic string // lifecycle events; empty disables them
	BufferSize  int    // tags queued while disconnected
	// ConnectTimeout bounds the wait for the first connection. The store
	// keeps retrying in the background if the broker is not up yet.
	ConnectTimeout time.Duration
}

// MQTTStore is a tag store backed by an MQTT broker. Every tag topic under the
// prefix is subscribed and cached; Get never touches the network.
type MQTTStore struct {
	client      paho.Client
	prefix      string
	systemTopic string

	mu     sync.RWMutex
	values map[key]Value

	pendingMu sync.Mutex
	pending   *writeQueue
	connects  int
}

// NewMQTTStore connects to the broker and subscribes to all tags under the prefix.
func NewMQTTStore(cfg MQTTConfig) (*MQTTStore, error) {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "tags"
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	s := &MQTTStore{
		prefix:      strings.TrimSuffix(cfg.TopicPrefix, "/"),
		systemTopic: cfg.SystemTopic,
		values:      make(map[key]Value),
		pending:     newWriteQueue(cfg.BufferSize),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("tags: connection lost: %v", err)
		})
	if s.systemTopic != "" {
		opts.SetWill(s.systemTopic, string(offlinePayload()), 1, true)
	}

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		log.Printf("tags: broker %s not reachable yet, retrying in background", cfg.Broker)
		return s, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return s, nil
}

func (s *MQTTStore) onConnect(c paho.Client) {
	log.Printf("tags: connected, subscribing to %s/+/+", s.prefix)
	token := c.Subscribe(s.prefix+"/+/+", 1, func(_ paho.Client, m paho.Message) {
		s.receive(m.Topic(), m.Payload())
	})
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("tags: subscribe: %v", token.Error())
		}
	}()

	writes, dropped, reconnect := s.connected()
	if reconnect && s.systemTopic != "" {
		// Replaces the retained OFFLINE will.
		c.Publish(s.systemTopic, 1, true, systemPayload("RECONNECTED", time.Now()))
	}
	if len(writes) > 0 {
		log.Printf("tags: replaying %d queued writes (%d dropped)", len(writes), dropped)
	}
	for _, w := range writes {
		c.Publish(w.topic, 1, false, w.payload)
	}
}

// connected records a new connection and drains the offline queue. reconnect
// is false for the first connection of the process.
func (s *MQTTStore) connected() (writes []pendingWrite, dropped int, reconnect bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.connects++
	writes, dropped = s.pending.take()
	return writes, dropped, s.connects > 1
}

func (s *MQTTStore) receive(topic string, payload []byte) {
	tag, source, ok := parseTopic(s.prefix, topic)
	if !ok {
		return
	}
	s.mu.Lock()
	s.values[key{tag, source}] = ParseValue(payload)
	s.mu.Unlock()
}

// Get returns the last value seen for (tag, source).
func (s *MQTTStore) Get(tag, source string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key{tag, source}]
	return v, ok
}

// Set publishes v to the source's tag topic without waiting for the broker.
// While disconnected the write is buffered and replayed on reconnect.
func (s *MQTTStore) Set(tag, source string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode tag %s: %w", tag, err)
	}

	s.mu.Lock()
	s.values[key{tag, source}] = NewValue(v)
	s.mu.Unlock()

	w := pendingWrite{topic: topicFor(s.prefix, source, tag), payload: payload}
	if !s.client.IsConnectionOpen() {
		s.pendingMu.Lock()
		s.pending.add(w)
		s.pendingMu.Unlock()
		return nil
	}

	token := s.client.Publish(w.topic, 1, false, w.payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("tags: publish %s: %v", w.topic, token.Error())
		}
	}()
	return nil
}

// PublishSystem sends a retained lifecycle event and waits briefly for delivery.
func (s *MQTTStore) PublishSystem(payload []byte) error {
	if s.systemTopic == "" {
		return nil
	}
	token := s.client.Publish(s.systemTopic, 1, true, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish system timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// Connected reports whether the broker connection is currently up.
func (s *MQTTStore) Connected() bool {
	return s.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (s *MQTTStore) Close() error {
	s.client.Disconnect(1000)
	return nil
}

func topicFor(prefix, source, tag string) string {
	return prefix + "/" + source + "/" + tag
}

func parseTopic(prefix, topic string) (tag, source string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	source, tag, found = strings.Cut(rest, "/")
	if !found || source == "" || tag == "" || strings.Contains(tag, "/") {
		return "", "", false
	}
	return tag, source, true
}

func offlinePayload() []byte {
	return systemPayload("OFFLINE", time.Time{})
}

// systemPayload is a bare lifecycle event without a snapshot. A zero now
// omits the timestamp.
func systemPayload(event string, now time.Time) []byte {
	inner := map[string]string{"event": event}
	if !now.IsZero() {
		inner["timestamp"] = now.UTC().Format(time.RFC3339)
	}
	data, _ := json.Marshal(map[string]map[string]string{"system": inner})
	return data
}
