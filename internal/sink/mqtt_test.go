package sink

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posebridge/internal/posemath"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu           sync.Mutex
	msgs         []published
	token        *fakeToken
	disconnected bool
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic, qos, retained, payload.([]byte)})
	if p.token != nil {
		return p.token
	}
	return &fakeToken{}
}

func (p *fakePublisher) Disconnect(uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
}

func TestMQTTPublishesFrames(t *testing.T) {
	pub := &fakePublisher{}
	s := newMQTT(pub, MQTTOptions{Topic: "pose/camera1", QoS: 1, Retain: true})
	s.now = func() time.Time { return time.Unix(10, 0) }

	pose, err := s.CurrentPose()
	require.NoError(t, err)
	assert.True(t, pose.IsIdentity())

	m := posemath.Identity().WithTranslation(1, 2, 3)
	require.NoError(t, s.Apply(m))

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "pose/camera1", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	got, at, err := DecodeFrame(msg.payload)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.Equal(t, int64(10), at.Unix())

	pose, _ = s.CurrentPose()
	assert.Equal(t, m, pose)
}

func TestMQTTErrors(t *testing.T) {
	boom := errors.New("broker gone")
	pub := &fakePublisher{token: &fakeToken{err: boom}}
	s := newMQTT(pub, MQTTOptions{Topic: "t"})
	assert.ErrorIs(t, s.Apply(posemath.Identity()), boom)

	pub.token = &fakeToken{timeout: true}
	assert.ErrorIs(t, s.Apply(posemath.Identity()), ErrPublishTimeout)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, pub.disconnected)
	assert.ErrorIs(t, s.Apply(posemath.Identity()), ErrClosed)
}

func TestNewMQTTRequiresBrokerAndTopic(t *testing.T) {
	_, err := NewMQTT(MQTTOptions{Topic: "x"})
	assert.Error(t, err)
	_, err = NewMQTT(MQTTOptions{Broker: "tcp://localhost:1883"})
	assert.Error(t, err)
}
