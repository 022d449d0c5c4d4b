package sink

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/posebridge/internal/monitoring"
	"github.com/banshee-data/posebridge/internal/posemath"
)

var mqttLogf = monitoring.Component("mqtt")

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish within the configured timeout.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTTOptions configures an MQTT sink.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	// Retain publishes each frame as the retained message so late
	// subscribers get the current pose immediately.
	Retain  bool
	Timeout time.Duration
}

// publisher is the subset of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes every applied transform as a JSON Frame.
type MQTT struct {
	client  publisher
	topic   string
	qos     byte
	retain  bool
	timeout time.Duration
	now     func() time.Time

	mu     sync.Mutex
	pose   posemath.Mat4
	closed bool
}

// NewMQTT connects to the broker and returns a sink publishing to
// opts.Topic.
func NewMQTT(opts MQTTOptions) (*MQTT, error) {
	if opts.Broker == "" || opts.Topic == "" {
		return nil, fmt.Errorf("mqtt sink needs a broker and a topic")
	}
	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			mqttLogf("Connection lost: %v", err)
		})

	client := mqtt.NewClient(co)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, token.Error())
	}
	mqttLogf("Connected to %s, publishing to %s", opts.Broker, opts.Topic)
	return newMQTT(client, opts), nil
}

func newMQTT(client publisher, opts MQTTOptions) *MQTT {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &MQTT{
		client:  client,
		topic:   opts.Topic,
		qos:     opts.QoS,
		retain:  opts.Retain,
		timeout: timeout,
		now:     time.Now,
		pose:    posemath.Identity(),
	}
}

// Apply publishes m.
func (s *MQTT) Apply(m posemath.Mat4) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pose = m
	s.mu.Unlock()

	payload, err := EncodeFrame(m, s.now())
	if err != nil {
		return err
	}
	token := s.client.Publish(s.topic, s.qos, s.retain, payload)
	if !token.WaitTimeout(s.timeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", s.topic, err)
	}
	return nil
}

// CurrentPose returns the last published pose, identity before the first.
func (s *MQTT) CurrentPose() (posemath.Mat4, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose, nil
}

// Close disconnects from the broker.
func (s *MQTT) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.client.Disconnect(250)
	return nil
}
