// Package engine owns one receiver session: the shared pose state, the
// receive pipeline, the interpolation scheduler and the registered packet
// sources.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/posebridge/internal/calibration"
	"github.com/banshee-data/posebridge/internal/config"
	"github.com/banshee-data/posebridge/internal/diag"
	"github.com/banshee-data/posebridge/internal/ingest"
	"github.com/banshee-data/posebridge/internal/monitoring"
	"github.com/banshee-data/posebridge/internal/network"
	"github.com/banshee-data/posebridge/internal/posemath"
	"github.com/banshee-data/posebridge/internal/sink"
	"github.com/banshee-data/posebridge/internal/smoothing"
	"github.com/banshee-data/posebridge/internal/timeutil"
)

// DefaultJoinTimeout bounds how long Stop waits for workers to exit.
const DefaultJoinTimeout = 2 * time.Second

var (
	// ErrAlreadyRunning is returned by Start on a running session.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrJoinTimeout is returned when workers do not exit within the join
	// timeout. The session is considered stopped regardless.
	ErrJoinTimeout = errors.New("timed out waiting for session workers")
)

var logf = monitoring.Component("engine")

// Options are the collaborators of a Session. Only Sink is required.
type Options struct {
	Sink          sink.TransformSink
	Diag          *diag.Log
	Clock         timeutil.Clock
	SocketFactory network.UDPSocketFactory
	Stats         *monitoring.SessionStats
	JoinTimeout   time.Duration
}

// snapshot is an immutable view of the configuration. Workers load one per
// cycle.
type snapshot struct {
	cfg        *config.SessionConfig
	generation uint64
	kind       smoothing.Kind
	params     smoothing.Params
	validator  *ingest.Validator
	policy     ingest.BatchPolicy
}

func newSnapshot(cfg *config.SessionConfig, gen uint64) *snapshot {
	return &snapshot{
		cfg:        cfg,
		generation: gen,
		kind:       cfg.GetStrategy(),
		params:     cfg.SmoothingParams(),
		validator:  ingest.NewValidator(cfg.GetMaxTranslation()),
		policy: ingest.BatchPolicy{
			Enabled:     cfg.GetBatchMode(),
			MaxBatch:    cfg.GetMaxBatchSize(),
			MinInterval: cfg.GetMinInterval(),
		},
	}
}

// Session is the receiver engine. All methods are safe for concurrent use.
type Session struct {
	sink        sink.TransformSink
	diag        *diag.Log
	clock       timeutil.Clock
	factory     network.UDPSocketFactory
	stats       *monitoring.SessionStats
	joinTimeout time.Duration

	calib   *calibration.Engine
	batcher *ingest.Batcher

	// snap is only stored with mu held, so a holder of mu sees the snapshot
	// that belongs to the active strategy.
	snap       atomic.Pointer[snapshot]
	generation atomic.Uint64

	// mu guards the pose state below.
	mu           sync.Mutex
	strategy     smoothing.Strategy
	target       *ingest.Sample
	lastSmoothed *posemath.Mat4
	lastOutput   *posemath.Mat4

	// runMu guards the lifecycle state below.
	runMu     sync.Mutex
	running   bool
	id        string
	runCtx    context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	listener  *network.UDPListener
	forwarder *network.PacketForwarder
	adapters  []network.Adapter
	sched     *schedulerHandle
}

// NewSession builds an idle session using the default configuration.
func NewSession(opts Options) (*Session, error) {
	if opts.Sink == nil {
		return nil, errors.New("engine: a transform sink is required")
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.SocketFactory == nil {
		opts.SocketFactory = network.NewRealUDPSocketFactory()
	}
	if opts.Stats == nil {
		opts.Stats = monitoring.NewSessionStats()
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}

	s := &Session{
		sink:        opts.Sink,
		diag:        opts.Diag,
		clock:       opts.Clock,
		factory:     opts.SocketFactory,
		stats:       opts.Stats,
		joinTimeout: opts.JoinTimeout,
		calib:       calibration.NewEngine(opts.Sink),
	}
	cfg := config.DefaultSessionConfig()
	s.batcher = ingest.NewBatcher(ingest.NewRateLimiter(cfg.GetMinInterval(), s.clock))
	s.publish(cfg, smoothing.MustNew(cfg.GetStrategy()))
	return s, nil
}

// publish installs cfg as the next generation. A non-nil strategy replaces
// the active one in the same critical section and clears the target, so no
// cycle runs one generation's strategy with another's parameters.
func (s *Session) publish(cfg *config.SessionConfig, strategy smoothing.Strategy) *snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := newSnapshot(cfg, s.generation.Add(1))
	s.snap.Store(snap)
	if strategy != nil {
		s.strategy = strategy
		s.target = nil
	}
	return snap
}

func (s *Session) snapshot() *snapshot { return s.snap.Load() }

// Config returns the active configuration. Callers must not modify it.
func (s *Session) Config() *config.SessionConfig { return s.snapshot().cfg }

// Generation increases by one on every configuration change.
func (s *Session) Generation() uint64 { return s.snapshot().generation }

// ID returns the identifier of the current or most recent run.
func (s *Session) ID() string {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.id
}

// Running reports whether Start has succeeded and Stop has not been called.
func (s *Session) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// Stats returns the counters of the current run.
func (s *Session) Stats() monitoring.StatsSnapshot { return s.stats.Snapshot() }

// LastOutput returns the last transform applied to the sink. It survives
// Stop and Start.
func (s *Session) LastOutput() (posemath.Mat4, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastOutput == nil {
		return posemath.Mat4{}, false
	}
	return *s.lastOutput, true
}

// Calibration returns the live calibration transform.
func (s *Session) Calibration() posemath.Mat4 { return s.calib.Current() }

// Start validates cfg (nil keeps the current configuration), resets the run
// state, binds the UDP listener and launches the workers. A bind failure is
// returned and leaves the session stopped.
func (s *Session) Start(ctx context.Context, cfg *config.SessionConfig) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	merged := s.snapshot().cfg
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		merged = merged.Merge(cfg)
	}

	s.stats.Reset()
	s.calib.Clear()
	snap := s.publish(merged, s.seededStrategy(merged, true))

	var fwd *network.PacketForwarder
	if addr := merged.GetForwardAddr(); addr != "" {
		f, err := network.NewPacketForwarder(addr, merged.GetStatsInterval())
		if err != nil {
			return err
		}
		fwd = f
	}

	maxBatch := 1
	if merged.GetBatchMode() {
		maxBatch = merged.GetMaxBatchSize()
	}
	listener := network.NewUDPListener(network.UDPListenerConfig{
		Address:       merged.GetListenAddr(),
		RcvBuf:        merged.GetRcvBuf(),
		LogInterval:   merged.GetStatsInterval(),
		Stats:         s.stats,
		Forwarder:     fwd,
		Handler:       network.BatchHandlerFunc(s.handleDatagrams),
		MaxBatch:      maxBatch,
		SocketFactory: s.factory,
	})
	if err := listener.Listen(); err != nil {
		if fwd != nil {
			fwd.Close()
		}
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)
	s.id = uuid.NewString()
	s.runCtx = gctx
	s.cancel = cancel
	s.group = group
	s.listener = listener
	s.forwarder = fwd
	s.running = true

	group.Go(func() error {
		if err := listener.Serve(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	for _, a := range s.adapters {
		s.goAdapterLocked(a)
	}
	if snap.kind.Scheduled() {
		s.startSchedulerLocked()
	}

	logf("session %s started on %s (strategy %s, generation %d)", s.id, listener.LocalAddr(), snap.kind, snap.generation)
	s.diag.Eventf("session_started %s", s.id)
	return nil
}

// Stop cancels the workers, closes the transport and waits up to the join
// timeout. The last output is preserved; the target is cleared.
func (s *Session) Stop() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	s.cancel()
	s.listener.Close()

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()

	var err error
	select {
	case werr := <-done:
		if werr != nil && !errors.Is(werr, context.Canceled) {
			err = werr
		}
	case <-time.After(s.joinTimeout):
		err = ErrJoinTimeout
	}

	if s.forwarder != nil {
		s.forwarder.Close()
		s.forwarder = nil
	}
	s.listener = nil
	s.sched = nil

	s.mu.Lock()
	s.target = nil
	s.mu.Unlock()

	snap := s.stats.Snapshot()
	logf("session %s stopped: %d received, %d dropped, %d malformed", s.id, snap.Received, snap.Dropped, snap.Malformed)
	s.diag.Eventf("session_stopped %s", s.id)
	return err
}

// LocalAddr returns the bound UDP address of a running session.
func (s *Session) LocalAddr() string {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.listener == nil || s.listener.LocalAddr() == nil {
		return ""
	}
	return s.listener.LocalAddr().String()
}

// RegisterAdapter adds a packet source. Adapters run for the lifetime of
// every run; one registered while running starts immediately.
func (s *Session) RegisterAdapter(a network.Adapter) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.adapters = append(s.adapters, a)
	if s.running {
		s.goAdapterLocked(a)
	}
}

func (s *Session) goAdapterLocked(a network.Adapter) {
	ctx := s.runCtx
	s.group.Go(func() error {
		logf("adapter %s running", a.Name())
		if err := a.Run(ctx, s); err != nil && !errors.Is(err, context.Canceled) {
			logf("adapter %s stopped: %v", a.Name(), err)
		}
		return nil
	})
}

// UpdateConfig merges cfg into the active configuration and publishes it as
// a new generation. A strategy change resets strategy state and starts or
// stops the scheduler.
func (s *Session) UpdateConfig(cfg *config.SessionConfig) error {
	if cfg == nil {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	prev := s.snapshot()
	merged := prev.cfg.Merge(cfg)
	var strategy smoothing.Strategy
	if merged.GetStrategy() != prev.kind {
		strategy = s.seededStrategy(merged, false)
	}
	next := s.publish(merged, strategy)

	if s.listener != nil {
		maxBatch := 1
		if next.cfg.GetBatchMode() {
			maxBatch = next.cfg.GetMaxBatchSize()
		}
		s.listener.SetMaxBatch(maxBatch)
	}

	if next.kind != prev.kind {
		logf("strategy changed from %s to %s", prev.kind, next.kind)
		if s.running {
			switch {
			case next.kind.Scheduled() && s.sched == nil:
				s.startSchedulerLocked()
			case !next.kind.Scheduled() && s.sched != nil:
				if err := s.stopSchedulerLocked(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// seededStrategy builds a fresh strategy for cfg. The seed is the previous
// smoothed output; on start the sink's current pose is used when there is
// none and seeding is enabled.
func (s *Session) seededStrategy(cfg *config.SessionConfig, starting bool) smoothing.Strategy {
	var seed *posemath.Mat4
	s.mu.Lock()
	if s.lastSmoothed != nil {
		m := *s.lastSmoothed
		seed = &m
	}
	s.mu.Unlock()

	if seed == nil && starting && cfg.GetSeedFromSink() {
		if m, err := s.sink.CurrentPose(); err == nil {
			seed = &m
		} else {
			logf("could not seed from sink: %v", err)
		}
	}

	strategy := smoothing.MustNew(cfg.GetStrategy())
	strategy.Reset(seed)
	return strategy
}

// RequestCalibration stores the sink's current pose as the desired pose for
// the next calibration.
func (s *Session) RequestCalibration() error {
	if err := s.calib.RequestFromSink(); err != nil {
		return err
	}
	s.diag.Event("calib_requested")
	return nil
}

// ApplyTestIdentity runs an identity pose through the active strategy, the
// calibration and the sink, as if it had arrived on the wire.
func (s *Session) ApplyTestIdentity() {
	s.consume(ingest.Sample{Matrix: posemath.Identity(), At: s.clock.Now()})
	logf("test identity applied")
	s.diag.Event("test_identity")
}

// RequestCalibrationPose stores desired for the next calibration.
func (s *Session) RequestCalibrationPose(desired posemath.Mat4) {
	s.calib.Request(desired)
	s.diag.Event("calib_requested")
}

// ResetCalibration returns the calibration to identity. A pending
// calibration request is kept.
func (s *Session) ResetCalibration() {
	s.calib.Reset()
	logf("calibration reset")
	s.diag.Event("calib_reset")
}
