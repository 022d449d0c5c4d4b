package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/posebridge/internal/stress"
	"github.com/banshee-data/posebridge/internal/version"
)

var (
	host     = flag.String("host", "", "Send to an external receiver at host:port instead of running an in-process session")
	rate     = flag.Int("rate", 200, "Average send steps per second")
	duration = flag.Duration("duration", 10*time.Second, "How long to send")
	burst    = flag.Int("burst", 10, "Datagrams per burst (0 disables bursts)")
	corrupt  = flag.Float64("corrupt", 0, "Fraction of datagrams to corrupt")
	osc      = flag.Bool("osc", false, "Send OSC /pose messages instead of JSON")
	seed     = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
	outDir   = flag.String("out", "", "Directory for the report files (default: a new temp dir)")
	maxDrop  = flag.Float64("threshold", 0.25, "Exit non-zero when the drop rate reaches this value")
	showVer  = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("pose-stress %s\n", version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *host != "" {
		res, err := stress.Send(ctx, stress.SenderOptions{
			Addr:     *host,
			Rate:     *rate,
			Duration: *duration,
			Burst:    *burst,
			Corrupt:  *corrupt,
			OSC:      *osc,
			Seed:     *seed,
		})
		if err != nil && err != context.Canceled {
			log.Fatalf("stress sender failed: %v", err)
		}
		log.Printf("stress sender finished: %d sent, %d corrupted, %d bursts", res.Sent, res.Corrupted, res.Bursts)
		return
	}

	rep, err := stress.Run(ctx, stress.Options{
		Rate:     *rate,
		Duration: *duration,
		Burst:    *burst,
		Corrupt:  *corrupt,
		OSC:      *osc,
		Seed:     *seed,
		OutDir:   *outDir,
	})
	if err != nil {
		log.Fatalf("stress run failed: %v", err)
	}
	log.Printf("REPORT: received=%d dropped=%d malformed=%d drop_rate=%.3f", rep.Received, rep.Dropped, rep.Malformed, rep.DropRate)
	log.Printf("report: %s chart: %s plot: %s", rep.ReportPath, rep.ChartPath, rep.PlotPath)

	if rep.DropRate >= *maxDrop {
		log.Printf("drop rate %.3f is at or above threshold %.3f", rep.DropRate, *maxDrop)
		os.Exit(1)
	}
}
