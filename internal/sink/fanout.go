package sink

import (
	"errors"

	"github.com/banshee-data/posebridge/internal/posemath"
)

// Fanout applies every transform to several sinks. The first sink is the
// primary and answers CurrentPose.
type Fanout struct {
	sinks []TransformSink
}

// NewFanout returns a Fanout over the non-nil sinks.
func NewFanout(sinks ...TransformSink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Apply forwards m to every sink and joins their errors.
func (f *Fanout) Apply(m posemath.Mat4) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Apply(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CurrentPose asks the primary sink. With no sinks it reports identity.
func (f *Fanout) CurrentPose() (posemath.Mat4, error) {
	if len(f.sinks) == 0 {
		return posemath.Identity(), nil
	}
	return f.sinks[0].CurrentPose()
}

// Len returns the number of wrapped sinks.
func (f *Fanout) Len() int { return len(f.sinks) }
