package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// forwardQueue is the number of datagrams buffered for forwarding.
const forwardQueue = 1000

// PacketForwarder mirrors raw datagrams to another UDP address without
// blocking the receive loop.
type PacketForwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	logInterval time.Duration
	address     string

	mu      sync.Mutex
	closed  bool
	started bool
	done    chan struct{}
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewPacketForwarder creates a forwarder sending to address ("host:port").
func NewPacketForwarder(address string, logInterval time.Duration) (*PacketForwarder, error) {
	forwardUDPAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, forwardUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}

	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, forwardQueue),
		logInterval: logInterval,
		address:     address,
		done:        make(chan struct{}),
	}, nil
}

// Start begins the forwarding goroutine. It stops when ctx is cancelled or
// the forwarder is closed. Calling Start more than once is a no-op.
func (f *PacketForwarder) Start(ctx context.Context) {
	f.mu.Lock()
	if f.started || f.closed {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.mu.Unlock()

	go func() {
		defer close(f.done)
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-f.channel:
				if !ok {
					return
				}
				if _, err := f.conn.Write(packet); err != nil {
					droppedCount++
					lastError = err
					f.dropped.Add(1)
					continue
				}
				f.sent.Add(1)
			case <-ticker.C:
				// Only log if we have dropped packets in this interval
				if droppedCount > 0 && lastError != nil {
					logf("Dropped %d forwarded packets due to errors (latest: %v)", droppedCount, lastError)
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	logf("Forwarding packets to %s", f.address)
}

// ForwardAsync queues a copy of packet. When the queue is full, or the
// forwarder is closed, the packet is dropped.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.dropped.Add(1)
		return
	}
	select {
	case f.channel <- packetCopy:
	default:
		f.dropped.Add(1)
	}
}

// Dropped returns the number of datagrams that were not forwarded.
func (f *PacketForwarder) Dropped() uint64 { return f.dropped.Load() }

// Sent returns the number of datagrams written to the destination.
func (f *PacketForwarder) Sent() uint64 { return f.sent.Load() }

// Close stops the forwarding goroutine and closes the connection.
func (f *PacketForwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	started := f.started
	close(f.channel)
	f.mu.Unlock()

	if started {
		<-f.done
	}
	return f.conn.Close()
}
