package sink

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posebridge/internal/posemath"
)

func TestFrameRoundTrip(t *testing.T) {
	m := posemath.Identity().WithTranslation(1, 2, 3)
	at := time.Unix(1700000000, 250000000)
	b, err := EncodeFrame(m, at)
	require.NoError(t, err)

	got, gotAt, err := DecodeFrame(b)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.WithinDuration(t, at, gotAt, time.Microsecond)

	_, _, err = DecodeFrame([]byte(`{"matrix":[1,2]}`))
	assert.ErrorIs(t, err, posemath.ErrLength)
}

func TestMemory(t *testing.T) {
	start := posemath.Identity().WithTranslation(0, 0, 5)
	s := NewMemory(start)

	pose, err := s.CurrentPose()
	require.NoError(t, err)
	assert.Equal(t, start, pose)
	_, ok := s.Last()
	assert.False(t, ok)

	m := posemath.Identity().WithTranslation(1, 1, 1)
	require.NoError(t, s.Apply(m))
	pose, _ = s.CurrentPose()
	assert.Equal(t, m, pose)
	last, ok := s.Last()
	assert.True(t, ok)
	assert.Equal(t, m, last)
	assert.EqualValues(t, 1, s.Applied())
}

func TestMemoryHistoryBounded(t *testing.T) {
	s := NewMemory(posemath.Identity())
	s.limit = 3
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Apply(posemath.Identity().WithTranslation(float64(i), 0, 0)))
	}
	h := s.History()
	require.Len(t, h, 3)
	x, _, _ := h[0].Translation()
	assert.Equal(t, 2.0, x)
	assert.EqualValues(t, 5, s.Applied())
}

type failingSink struct {
	err error
}

func (f failingSink) Apply(posemath.Mat4) error { return f.err }
func (f failingSink) CurrentPose() (posemath.Mat4, error) {
	return posemath.Mat4{}, f.err
}

func TestFanout(t *testing.T) {
	a := NewMemory(posemath.Identity().WithTranslation(7, 0, 0))
	b := NewMemory(posemath.Identity())
	boom := errors.New("boom")
	f := NewFanout(a, nil, b, failingSink{err: boom})
	assert.Equal(t, 3, f.Len())

	m := posemath.Identity().WithTranslation(0, 3, 0)
	err := f.Apply(m)
	assert.ErrorIs(t, err, boom)

	pa, _ := a.CurrentPose()
	pb, _ := b.CurrentPose()
	assert.Equal(t, m, pa)
	assert.Equal(t, m, pb)

	pose, err := f.CurrentPose()
	require.NoError(t, err)
	assert.Equal(t, m, pose)

	empty := NewFanout()
	pose, err = empty.CurrentPose()
	require.NoError(t, err)
	assert.True(t, pose.IsIdentity())
	assert.NoError(t, empty.Apply(m))
}
