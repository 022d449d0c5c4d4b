package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PCAPSource replays the UDP payloads of a capture file into a Feeder.
// Only datagrams whose destination port matches Port are fed; Port 0 feeds
// every UDP payload.
type PCAPSource struct {
	Path string
	Port int
	// Realtime paces replay by the capture timestamps. Speed scales the
	// pacing; values <= 0 mean 1.
	Realtime bool
	Speed    float64
}

func (s *PCAPSource) Name() string { return "pcap:" + s.Path }

// Run reads the capture until EOF or ctx cancellation.
func (s *PCAPSource) Run(ctx context.Context, feed Feeder) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", s.Path, err)
	}
	defer f.Close()
	return s.replay(ctx, f, feed)
}

func (s *PCAPSource) replay(ctx context.Context, src io.Reader, feed Feeder) error {
	r, err := pcapgo.NewReader(src)
	if err != nil {
		return fmt.Errorf("failed to read PCAP header: %w", err)
	}

	speed := s.Speed
	if speed <= 0 {
		speed = 1
	}

	var (
		count     int
		fed       int
		firstCap  time.Time
		firstWall time.Time
		startTime = time.Now()
	)
	for {
		if err := ctx.Err(); err != nil {
			logf("PCAP replay stopping due to context cancellation (fed %d of %d packets)", fed, count)
			return err
		}

		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			logf("PCAP replay complete: %d packets read, %d fed in %v", count, fed, time.Since(startTime))
			return nil
		}
		if err != nil {
			return fmt.Errorf("PCAP read after %d packets: %w", count, err)
		}
		count++

		payload, ok := udpPayload(data, r.LinkType(), s.Port)
		if !ok {
			continue
		}

		if s.Realtime {
			if firstCap.IsZero() {
				firstCap, firstWall = ci.Timestamp, time.Now()
			} else {
				offset := time.Duration(float64(ci.Timestamp.Sub(firstCap)) / speed)
				if wait := time.Until(firstWall.Add(offset)); wait > 0 {
					t := time.NewTimer(wait)
					select {
					case <-ctx.Done():
						t.Stop()
						return ctx.Err()
					case <-t.C:
					}
				}
			}
		}

		buf := make([]byte, len(payload))
		copy(buf, payload)
		feed.FeedPacket(buf)
		fed++
	}
}

func udpPayload(data []byte, link layers.LinkType, port int) ([]byte, bool) {
	packet := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return nil, false
	}
	if port != 0 && int(udp.DstPort) != port {
		return nil, false
	}
	return udp.Payload, true
}
