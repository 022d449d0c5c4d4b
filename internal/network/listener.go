// Package network carries pose datagrams into the pipeline: the UDP
// listener, the socket seam used by tests, packet forwarding, and the
// alternate OSC, serial and pcap sources.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/posebridge/internal/monitoring"
)

const (
	// pollInterval bounds how long a read blocks before the loop rechecks
	// its context.
	pollInterval = 100 * time.Millisecond
	// drainWait is the read deadline used while draining datagrams that are
	// already queued behind the first one of a cycle.
	drainWait = 500 * time.Microsecond
	// maxDatagram is the largest payload read from the socket.
	maxDatagram = 8192
)

var logf = monitoring.Component("udp")

// ErrNotBound is returned by Serve when Listen has not bound a socket.
var ErrNotBound = errors.New("udp listener is not bound")

// PacketStats is the subset of session statistics the listener updates.
type PacketStats interface {
	AddPacket(bytes int)
	LogStats()
}

// BatchHandler consumes the datagrams read in one receive cycle. The slices
// are only valid for the duration of the call.
type BatchHandler interface {
	HandleDatagrams(packets [][]byte)
}

// BatchHandlerFunc adapts a function to BatchHandler.
type BatchHandlerFunc func(packets [][]byte)

// HandleDatagrams calls f(packets).
func (f BatchHandlerFunc) HandleDatagrams(packets [][]byte) { f(packets) }

// UDPListener receives pose datagrams and hands them to a BatchHandler one
// receive cycle at a time.
type UDPListener struct {
	address       string
	rcvBuf        int
	logInterval   time.Duration
	connMu        sync.RWMutex // Protects conn field
	conn          UDPSocket
	stats         PacketStats
	forwarder     *PacketForwarder
	handler       BatchHandler
	socketFactory UDPSocketFactory
	maxBatch      atomic.Int64
}

// UDPListenerConfig contains configuration options for the UDP listener
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Stats       PacketStats
	Forwarder   *PacketForwarder
	Handler     BatchHandler
	// MaxBatch is the most datagrams drained per receive cycle.
	MaxBatch      int
	SocketFactory UDPSocketFactory // Optional: factory for creating UDP sockets (for testing)
}

// NewUDPListener creates a new UDP listener with the provided configuration
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	var stats PacketStats
	if config.Stats != nil {
		stats = config.Stats
	} else {
		stats = &noopStats{}
	}

	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}

	socketFactory := config.SocketFactory
	if socketFactory == nil {
		socketFactory = NewRealUDPSocketFactory()
	}

	l := &UDPListener{
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		logInterval:   logInterval,
		stats:         stats,
		forwarder:     config.Forwarder,
		handler:       config.Handler,
		socketFactory: socketFactory,
	}
	l.SetMaxBatch(config.MaxBatch)
	return l
}

// noopStats is a PacketStats implementation that does nothing.
// It is used as a safe default when no stats collector is provided.
type noopStats struct{}

func (n *noopStats) AddPacket(bytes int) {}
func (n *noopStats) LogStats()           {}

// SetMaxBatch changes how many datagrams one cycle may drain. Values below
// one are treated as one.
func (l *UDPListener) SetMaxBatch(n int) {
	if n < 1 {
		n = 1
	}
	l.maxBatch.Store(int64(n))
}

// Listen binds the socket. Bind failures are reported here so callers can
// fail synchronously before starting Serve.
func (l *UDPListener) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			logf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	l.setConn(conn)
	logf("UDP listener bound to %s with receive buffer %d bytes", conn.LocalAddr(), l.rcvBuf)
	return nil
}

// Start binds and serves until ctx is cancelled or the socket is closed.
func (l *UDPListener) Start(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve runs the receive loop on a socket bound by Listen. It returns nil
// when the socket is closed and ctx.Err() on cancellation, including a
// cancellation whose Close landed before the loop picked up the socket.
func (l *UDPListener) Serve(ctx context.Context) error {
	conn := l.GetConn()
	if conn == nil {
		// callers cancel before Close, so a closed listener under a live
		// context was never bound
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrNotBound
	}

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.startStatsLogging(statsCtx)
	}()
	defer func() {
		stopStats()
		wg.Wait()
	}()

	var bufs [][]byte
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			logf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		limit := int(l.maxBatch.Load())
		for len(bufs) < limit {
			bufs = append(bufs, make([]byte, maxDatagram))
		}

		packets := make([][]byte, 0, limit)
		for len(packets) < limit {
			wait := pollInterval
			if len(packets) > 0 {
				wait = drainWait
			}
			if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
				if !deadlineErrLogged {
					logf("failed to set read deadline: %v", err)
					deadlineErrLogged = true
				}
			}

			buf := bufs[len(packets)]
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					break
				}
				// Connection closed or context cancelled: clean shutdown.
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					if len(packets) > 0 {
						l.dispatch(packets)
					}
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return nil
				}
				logf("UDP read error: %v", err)
				break
			}
			if n == 0 {
				continue
			}
			packets = append(packets, buf[:n])
		}

		if len(packets) > 0 {
			l.dispatch(packets)
		}
	}
}

func (l *UDPListener) dispatch(packets [][]byte) {
	for _, p := range packets {
		l.stats.AddPacket(len(p))
		if l.forwarder != nil {
			l.forwarder.ForwardAsync(p)
		}
	}
	if l.handler != nil {
		l.handler.HandleDatagrams(packets)
	}
}

// startStatsLogging periodically logs packet statistics
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	// Trigger an initial stats report shortly after startup to avoid a long
	// silence on first-run. Then continue on the configured interval.
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		l.stats.LogStats()
	}

	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// setConn sets the connection with mutex protection
func (l *UDPListener) setConn(conn UDPSocket) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	l.conn = conn
}

// GetConn returns the connection with mutex protection
func (l *UDPListener) GetConn() UDPSocket {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return l.conn
}

// LocalAddr returns the bound address, or nil before Listen.
func (l *UDPListener) LocalAddr() net.Addr {
	conn := l.GetConn()
	if conn == nil {
		return nil
	}
	return conn.LocalAddr()
}

// Close closes the UDP listener and releases resources.
// It is safe to call Close multiple times.
func (l *UDPListener) Close() error {
	l.connMu.Lock()
	conn := l.conn
	l.conn = nil
	l.connMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
