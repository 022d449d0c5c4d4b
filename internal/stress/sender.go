// Package stress drives a receiver session with a synthetic pose stream and
// reports how much of it survived.
package stress

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"time"

	"github.com/banshee-data/posebridge/internal/ingest"
	"github.com/banshee-data/posebridge/internal/monitoring"
	"github.com/banshee-data/posebridge/internal/network"
)

var logf = monitoring.Component("stress")

// burstChance is the probability that a send step emits a burst instead of
// a single datagram.
const burstChance = 0.1

// SenderOptions configure the synthetic stream.
type SenderOptions struct {
	Addr     string
	Rate     int           // send steps per second
	Duration time.Duration // total send time
	Burst    int           // datagrams per burst; 0 disables bursts
	Corrupt  float64       // fraction of datagrams truncated to half length
	OSC      bool          // send /pose OSC messages instead of JSON
	Seed     uint64
}

// SendResult counts what the sender put on the wire.
type SendResult struct {
	Sent      int `json:"sent"`
	Corrupted int `json:"corrupted"`
	Bursts    int `json:"bursts"`
}

// PoseAt is the synthetic pose for time t: a rotation of t radians about Z
// with translation (1, 2, 3).
func PoseAt(t float64) []float64 {
	c, s := math.Cos(t), math.Sin(t)
	return []float64{
		c, -s, 0, 1,
		s, c, 0, 2,
		0, 0, 1, 3,
		0, 0, 0, 1,
	}
}

// Send streams poses to opts.Addr until the duration elapses or ctx is done.
func Send(ctx context.Context, opts SenderOptions) (SendResult, error) {
	var res SendResult
	conn, err := net.Dial("udp", opts.Addr)
	if err != nil {
		return res, fmt.Errorf("dial %s: %w", opts.Addr, err)
	}
	defer conn.Close()

	rate := max(opts.Rate, 1)
	interval := time.Second / time.Duration(rate)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	encode := func(t, stamp float64) ([]byte, error) {
		if opts.OSC {
			return network.EncodeOSCFloats(network.OSCPose, PoseAt(t)), nil
		}
		return ingest.EncodeMessage(ingest.Message{Type: ingest.TypePose, Matrix: PoseAt(t), T: &stamp})
	}
	send := func(t, stamp float64) error {
		b, err := encode(t, stamp)
		if err != nil {
			return err
		}
		if rng.Float64() < opts.Corrupt {
			b = b[:len(b)/2]
			res.Corrupted++
		}
		if _, err := conn.Write(b); err != nil {
			// a full socket buffer on loopback is not fatal for a stress run
			logf("send failed: %v", err)
			return nil
		}
		res.Sent++
		return nil
	}

	end := time.Now().Add(opts.Duration)
	for time.Now().Before(end) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		t := float64(time.Now().UnixNano()) / 1e9
		if opts.Burst > 0 && rng.Float64() < burstChance {
			res.Bursts++
			for i := 0; i < opts.Burst; i++ {
				if err := send(t+float64(i)*0.01, t); err != nil {
					return res, err
				}
			}
		} else if err := send(t, t); err != nil {
			return res, err
		}

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(interval):
		}
	}
	return res, nil
}
