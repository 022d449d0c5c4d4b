package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// SerialOptions describes the serial line that carries newline-delimited
// pose messages.
type SerialOptions struct {
	Path     string `json:"path"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o SerialOptions) Normalize() (SerialOptions, error) {
	opts := o
	if strings.TrimSpace(opts.Path) == "" {
		return opts, errors.New("serial path is required")
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// Mode converts the options into the serial.Mode used to open the port.
func (o SerialOptions) Mode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// PortOpener opens a serial port. Tests substitute an in-memory port.
type PortOpener func(path string, mode *serial.Mode) (io.ReadCloser, error)

func openSerialPort(path string, mode *serial.Mode) (io.ReadCloser, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// SerialSource reads one JSON pose message per line from a serial port.
type SerialSource struct {
	opts SerialOptions
	open PortOpener
}

// NewSerialSource validates opts and returns a source that opens the port
// when Run is called.
func NewSerialSource(opts SerialOptions) (*SerialSource, error) {
	return NewSerialSourceWithOpener(opts, openSerialPort)
}

// NewSerialSourceWithOpener is NewSerialSource with an injectable opener.
func NewSerialSourceWithOpener(opts SerialOptions, open PortOpener) (*SerialSource, error) {
	norm, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	if open == nil {
		open = openSerialPort
	}
	return &SerialSource{opts: norm, open: open}, nil
}

func (s *SerialSource) Name() string { return "serial:" + s.opts.Path }

// Run feeds each non-empty line to feed until ctx is cancelled or the port
// reaches EOF. Cancelling ctx closes the port to unblock the pending read.
func (s *SerialSource) Run(ctx context.Context, feed Feeder) error {
	mode, err := s.opts.Mode()
	if err != nil {
		return err
	}
	port, err := s.open(s.opts.Path, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.opts.Path, err)
	}
	logf("serial source reading %s at %d baud", s.opts.Path, s.opts.BaudRate)

	var closeOnce sync.Once
	closePort := func() { closeOnce.Do(func() { port.Close() }) }
	defer closePort()

	stop := context.AfterFunc(ctx, closePort)
	defer stop()

	scanner := bufio.NewScanner(port)
	scanner.Buffer(make([]byte, 0, maxDatagram), maxDatagram)
	lines := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines++
		payload := make([]byte, len(line))
		copy(payload, line)
		feed.FeedPacket(payload)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("serial read %s: %w", s.opts.Path, err)
	}
	logf("serial source %s reached EOF after %d lines", s.opts.Path, lines)
	return nil
}
