package stress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/posebridge/internal/config"
	"github.com/banshee-data/posebridge/internal/diag"
	"github.com/banshee-data/posebridge/internal/engine"
	"github.com/banshee-data/posebridge/internal/posemath"
	"github.com/banshee-data/posebridge/internal/sink"
)

// DefaultSampleEvery is the timeline sampling period.
const DefaultSampleEvery = 500 * time.Millisecond

// stressTuning favours throughput: a short minimum interval, deep batches
// and the scheduled strategy so bursts are absorbed by averaging.
const stressTuning = `{
	"strategy": "split_interp",
	"min_interval": "8.333ms",
	"batch_mode": true,
	"max_batch_size": 128,
	"listen_addr": "127.0.0.1:0",
	"stats_interval": "1s"
}`

// Tuning returns the session configuration used for stress runs.
func Tuning() *config.SessionConfig {
	cfg, err := config.ParseSessionConfig([]byte(stressTuning))
	if err != nil {
		panic(err)
	}
	return cfg
}

// Options configure a stress run.
type Options struct {
	Rate     int
	Duration time.Duration
	Burst    int
	Corrupt  float64
	OSC      bool
	Seed     uint64

	SampleEvery time.Duration
	// OutDir receives the diagnostic log and the report files. A temporary
	// directory is created when empty.
	OutDir string
	// Tuning overrides Tuning().
	Tuning *config.SessionConfig
}

// Run starts a session on a loopback port, streams poses at it and returns
// the report. The report files are written to OutDir.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.SampleEvery <= 0 {
		opts.SampleEvery = DefaultSampleEvery
	}
	if opts.Tuning == nil {
		opts.Tuning = Tuning()
	}
	outDir := opts.OutDir
	if outDir == "" {
		dir, err := os.MkdirTemp("", "posebridge_stress_")
		if err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
		outDir = dir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	diagPath := filepath.Join(outDir, "posebridge_diag.csv")
	dlog := diag.New()
	if err := dlog.EnableFile(diag.FileOptions{Path: diagPath}); err != nil {
		return nil, err
	}
	defer dlog.Disable()

	session, err := engine.NewSession(engine.Options{
		Sink: sink.NewMemory(posemath.Identity()),
		Diag: dlog,
	})
	if err != nil {
		return nil, err
	}
	if err := session.Start(ctx, opts.Tuning); err != nil {
		return nil, err
	}
	addr := session.LocalAddr()
	logf("stress run against %s: %d pps for %v, burst %d, corrupt %.3f", addr, opts.Rate, opts.Duration, opts.Burst, opts.Corrupt)

	g, gctx := errgroup.WithContext(ctx)
	senderDone := make(chan struct{})
	var sent SendResult
	g.Go(func() error {
		defer close(senderDone)
		res, err := Send(gctx, SenderOptions{
			Addr:     addr,
			Rate:     opts.Rate,
			Duration: opts.Duration,
			Burst:    opts.Burst,
			Corrupt:  opts.Corrupt,
			OSC:      opts.OSC,
			Seed:     opts.Seed,
		})
		sent = res
		return err
	})

	var timeline []TimelinePoint
	start := time.Now()
	sample := func() {
		st := session.Stats()
		timeline = append(timeline, TimelinePoint{
			Elapsed:  time.Since(start).Seconds(),
			Received: st.Received,
			Dropped:  st.Dropped,
		})
	}

	ticker := time.NewTicker(opts.SampleEvery)
sampling:
	for {
		select {
		case <-senderDone:
			break sampling
		case <-ticker.C:
			sample()
		}
	}
	ticker.Stop()

	sendErr := g.Wait()
	stopErr := session.Stop()
	sample()

	if sendErr != nil && !errors.Is(sendErr, context.Canceled) {
		return nil, fmt.Errorf("stress sender: %w", sendErr)
	}
	if stopErr != nil {
		logf("session stop: %v", stopErr)
	}

	st := session.Stats()
	rep := &Report{
		Addr:      addr,
		Rate:      opts.Rate,
		Duration:  opts.Duration.Seconds(),
		Burst:     opts.Burst,
		Corrupt:   opts.Corrupt,
		Sent:      sent.Sent,
		Corrupted: sent.Corrupted,
		Bursts:    sent.Bursts,
		Received:  st.Received,
		Dropped:   st.Dropped,
		Malformed: st.Malformed,
		Batches:   st.Batches,
		DropRate:  st.DropRate(),
		Timeline:  timeline,
		DiagPath:  diagPath,
	}
	if err := rep.WriteAll(outDir); err != nil {
		return rep, err
	}
	logf("stress run done: %d received, %d dropped (drop rate %.3f), report %s", rep.Received, rep.Dropped, rep.DropRate, rep.ReportPath)
	return rep, nil
}
