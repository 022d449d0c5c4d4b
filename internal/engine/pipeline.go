package engine

import (
	"errors"

	"github.com/banshee-data/posebridge/internal/ingest"
	"github.com/banshee-data/posebridge/internal/network"
	"github.com/banshee-data/posebridge/internal/posemath"
)

// FeedPacket runs one receive cycle on a single payload. Adapters use it.
func (s *Session) FeedPacket(payload []byte) {
	s.FeedPackets([][]byte{payload})
}

// FeedPackets runs one receive cycle on payloads, as if they had been
// drained from the socket together.
func (s *Session) FeedPackets(payloads [][]byte) {
	for _, p := range payloads {
		s.stats.AddPacket(len(p))
	}
	s.handleDatagrams(payloads)
}

// handleDatagrams is the receive pipeline: decode, validate, admit through
// the limiter or batcher, then smooth or retarget. No per-packet failure
// escapes it.
func (s *Session) handleDatagrams(packets [][]byte) {
	snap := s.snapshot()
	now := s.clock.Now()

	var poses []ingest.Sample
	for _, p := range packets {
		msg, err := network.DecodeDatagram(p)
		if err != nil {
			s.stats.AddMalformed()
			logf("ignoring malformed payload (%d bytes): %v", len(p), err)
			continue
		}

		switch msg.Type {
		case ingest.TypePose:
			sample, err := snap.validator.Validate(msg.Matrix, now)
			if err != nil {
				s.stats.AddDropped()
				logf("rejected pose: %v", err)
				continue
			}
			s.diag.Event("pose")
			poses = append(poses, sample)

		case ingest.TypeCalib:
			sample, err := snap.validator.Validate(msg.Matrix, now)
			if err != nil {
				s.stats.AddDropped()
				logf("rejected calibration pose: %v", err)
				continue
			}
			s.diag.Event("calib")
			s.calibrate(sample.Matrix)

		case ingest.TypeCmd:
			s.handleCommand(msg.Cmd)

		default:
			logf("ignoring message of unknown type %q", msg.Type)
		}
	}

	if len(poses) == 0 {
		return
	}

	adm := s.batcher.Admit(poses, snap.policy)
	s.stats.AddReceived(adm.Received)
	for i := 0; i < adm.Dropped; i++ {
		s.stats.AddDropped()
	}
	for i := 0; i < adm.Batches; i++ {
		s.stats.AddBatch()
	}
	for _, sample := range adm.Samples {
		s.consume(sample)
	}
}

func (s *Session) handleCommand(cmd string) {
	switch cmd {
	case ingest.CmdResetCalib:
		s.ResetCalibration()
	default:
		logf("ignoring unknown command %q", cmd)
	}
}

func (s *Session) calibrate(sample posemath.Mat4) {
	if _, err := s.calib.CalibrateFromIncoming(sample); err != nil {
		if errors.Is(err, posemath.ErrSingular) {
			logf("calibration skipped: incoming pose is singular")
			return
		}
		logf("calibration failed: %v", err)
		return
	}
	s.diag.Event("calibration_computed")
}

// consume hands an admitted sample to the active strategy with the
// parameters published alongside it. Under split interpolation it only
// replaces the target read by the scheduler.
func (s *Session) consume(sample ingest.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.strategy.Kind().Scheduled() {
		t := sample
		s.target = &t
		return
	}
	s.emitLocked(s.strategy.Produce(sample, s.snapshot().params))
}

// emitLocked composes the calibration with a smoothed pose and applies it to
// the sink. s.mu must be held.
func (s *Session) emitLocked(smoothed posemath.Mat4) {
	out := s.calib.Apply(smoothed)
	s.lastSmoothed = &smoothed
	s.lastOutput = &out
	if err := s.sink.Apply(out); err != nil {
		logf("sink apply failed: %v", err)
	}
}
