package calibration

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posebridge/internal/monitoring"
	"github.com/banshee-data/posebridge/internal/posemath"
)

type fakeSource struct {
	pose posemath.Mat4
	err  error
}

func (f *fakeSource) CurrentPose() (posemath.Mat4, error) { return f.pose, f.err }

func rotY(deg float64) posemath.Mat4 {
	r := deg * math.Pi / 180
	c, s := math.Cos(r), math.Sin(r)
	return posemath.Mat4{
		c, 0, s, 0,
		0, 1, 0, 0,
		-s, 0, c, 0,
		0, 0, 0, 1,
	}
}

func assertNear(t *testing.T, want, got posemath.Mat4) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9, "entry %d", i)
	}
}

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func TestCalibrateRoundTrip(t *testing.T) {
	e := NewEngine(nil)
	desired := rotY(30).WithTranslation(0, 1.7, 5)
	sample := rotY(-75).WithTranslation(2, 0.3, -1)

	e.Request(desired)
	c, err := e.CalibrateFromIncoming(sample)
	require.NoError(t, err)
	assertNear(t, desired, c.Mul(sample))
	assertNear(t, desired, e.Apply(sample))

	_, ok := e.Pending()
	assert.False(t, ok, "pending target consumed")
}

func TestCalibrateFallsBackToSource(t *testing.T) {
	src := &fakeSource{pose: posemath.Identity().WithTranslation(9, 9, 9)}
	e := NewEngine(src)
	sample := posemath.Identity().WithTranslation(1, 2, 3)

	_, err := e.CalibrateFromIncoming(sample)
	require.NoError(t, err)
	assertNear(t, posemath.Identity().WithTranslation(8, 7, 6), e.Current())
}

func TestCalibrateSingularLeavesStateUnchanged(t *testing.T) {
	e := NewEngine(nil)
	desired := rotY(10)
	e.Request(desired)
	before := e.Current()

	_, err := e.CalibrateFromIncoming(posemath.Mat4{})
	assert.ErrorIs(t, err, ErrSingular)
	assert.Equal(t, before, e.Current())

	p, ok := e.Pending()
	require.True(t, ok)
	assert.Equal(t, desired, p)
}

func TestCalibrateWithoutDesired(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.CalibrateFromIncoming(posemath.Identity())
	assert.ErrorIs(t, err, ErrNoDesiredPose)
	assert.ErrorIs(t, e.RequestFromSink(), ErrNoDesiredPose)

	boom := errors.New("boom")
	e = NewEngine(&fakeSource{err: boom})
	_, err = e.CalibrateFromIncoming(posemath.Identity())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, e.RequestFromSink(), boom)
}

func TestRequestFromSink(t *testing.T) {
	src := &fakeSource{pose: rotY(45)}
	e := NewEngine(src)
	require.NoError(t, e.RequestFromSink())

	// the source moves on; the stored target does not
	src.pose = posemath.Identity()
	p, ok := e.Pending()
	require.True(t, ok)
	assert.Equal(t, rotY(45), p)
}

func TestApplyIdentityIsBitExact(t *testing.T) {
	e := NewEngine(nil)
	m := rotY(33).WithTranslation(1, 2, 3)
	assert.Equal(t, m, e.Apply(m))
}

func TestReset(t *testing.T) {
	e := NewEngine(nil)
	e.Request(posemath.Identity().WithTranslation(1, 0, 0))
	_, err := e.CalibrateFromIncoming(posemath.Identity())
	require.NoError(t, err)
	require.False(t, e.Current().IsIdentity())

	e.Request(rotY(5))
	e.Reset()
	assert.True(t, e.Current().IsIdentity())
	pending, ok := e.Pending()
	require.True(t, ok, "reset keeps the pending target")
	assert.Equal(t, rotY(5), pending)

	// the kept target is used by the next calibration
	c, err := e.CalibrateFromIncoming(posemath.Identity().WithTranslation(1, 0, 0))
	require.NoError(t, err)
	assertNear(t, rotY(5).Mul(posemath.Identity().WithTranslation(-1, 0, 0)), c)
}

func TestClear(t *testing.T) {
	e := NewEngine(nil)
	e.Request(posemath.Identity().WithTranslation(1, 0, 0))
	_, err := e.CalibrateFromIncoming(posemath.Identity())
	require.NoError(t, err)

	e.Request(rotY(5))
	e.Clear()
	assert.True(t, e.Current().IsIdentity())
	_, ok := e.Pending()
	assert.False(t, ok)
}
