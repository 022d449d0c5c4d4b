// Package sink delivers output transforms to their destination.
package sink

import (
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/banshee-data/posebridge/internal/posemath"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrClosed is returned by Apply after a sink has been closed.
var ErrClosed = errors.New("sink closed")

// TransformSink receives ready-to-apply poses and can report the current
// pose of whatever it drives. Implementations must be safe for concurrent
// use: the receive loop and the scheduler may both call Apply.
type TransformSink interface {
	Apply(m posemath.Mat4) error
	CurrentPose() (posemath.Mat4, error)
}

// Frame is the JSON form of one applied transform.
type Frame struct {
	Matrix []float64 `json:"matrix"`
	// T is the apply time in unix seconds.
	T float64 `json:"t"`
}

// NewFrame stamps m with at.
func NewFrame(m posemath.Mat4, at time.Time) Frame {
	return Frame{Matrix: m.Slice(), T: float64(at.UnixNano()) / 1e9}
}

// EncodeFrame renders m as a Frame.
func EncodeFrame(m posemath.Mat4, at time.Time) ([]byte, error) {
	return json.Marshal(NewFrame(m, at))
}

// DecodeFrame parses a Frame payload back into a matrix.
func DecodeFrame(b []byte) (posemath.Mat4, time.Time, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return posemath.Mat4{}, time.Time{}, err
	}
	m, err := posemath.FromSlice(f.Matrix)
	if err != nil {
		return posemath.Mat4{}, time.Time{}, err
	}
	sec := int64(f.T)
	nsec := int64((f.T - float64(sec)) * 1e9)
	return m, time.Unix(sec, nsec), nil
}
