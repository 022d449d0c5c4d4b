package network

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/posebridge/internal/ingest"
)

// OSC addresses understood by DecodeOSC.
const (
	OSCPose     = "/pose"
	OSCCalib    = "/calib"
	OSCPoseBin  = "/pose_bin"
	OSCCalibBin = "/calib_bin"
)

// errOSCUnknownAddress marks a well-formed OSC message for an address we do
// not handle.
var errOSCUnknownAddress = errors.New("unknown OSC address")

// IsOSC reports whether b looks like an OSC message rather than JSON.
func IsOSC(b []byte) bool {
	return len(b) > 0 && b[0] == '/'
}

// DecodeDatagram decodes b as OSC when it starts with '/', else as a JSON
// wire message.
func DecodeDatagram(b []byte) (ingest.Message, error) {
	if IsOSC(b) {
		return DecodeOSC(b)
	}
	return ingest.DecodeMessage(b)
}

// DecodeOSC maps an OSC message onto the JSON wire model. /pose and /calib
// carry numeric arguments, of which the first sixteen are used; /pose_bin
// and /calib_bin carry one blob of sixteen big-endian float32 values. A
// message for any other address decodes to a message of that type, which
// the pipeline logs and ignores.
func DecodeOSC(b []byte) (ingest.Message, error) {
	r := oscReader{buf: b}
	addr, err := r.str()
	if err != nil {
		return ingest.Message{}, fmt.Errorf("%w: osc address: %v", ingest.ErrMalformed, err)
	}
	tags, err := r.str()
	if err != nil || len(tags) == 0 || tags[0] != ',' {
		return ingest.Message{}, fmt.Errorf("%w: osc type tags", ingest.ErrMalformed)
	}
	tags = tags[1:]

	switch addr {
	case OSCPose, OSCCalib:
		vals := make([]float64, 0, 16)
		for i := 0; i < len(tags); i++ {
			v, err := r.number(tags[i])
			if err != nil {
				return ingest.Message{}, fmt.Errorf("%w: %s: %v", ingest.ErrMalformed, addr, err)
			}
			vals = append(vals, v)
		}
		if len(vals) > 16 {
			vals = vals[:16]
		}
		return ingest.Message{Type: oscType(addr), Matrix: vals}, nil

	case OSCPoseBin, OSCCalibBin:
		if tags != "b" {
			return ingest.Message{}, fmt.Errorf("%w: %s expects one blob, got %q", ingest.ErrMalformed, addr, tags)
		}
		blob, err := r.blob()
		if err != nil {
			return ingest.Message{}, fmt.Errorf("%w: %s: %v", ingest.ErrMalformed, addr, err)
		}
		if len(blob) != 64 {
			return ingest.Message{}, fmt.Errorf("%w: %s blob is %d bytes, want 64", ingest.ErrMalformed, addr, len(blob))
		}
		vals := make([]float64, 16)
		for i := range vals {
			vals[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(blob[i*4:])))
		}
		return ingest.Message{Type: oscType(addr), Matrix: vals}, nil
	}
	return ingest.Message{Type: addr}, nil
}

func oscType(addr string) string {
	switch addr {
	case OSCCalib, OSCCalibBin:
		return ingest.TypeCalib
	}
	return ingest.TypePose
}

type oscReader struct {
	buf []byte
	off int
}

func pad4(n int) int { return (n + 3) &^ 3 }

func (r *oscReader) str() (string, error) {
	rest := r.buf[r.off:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", errors.New("unterminated string")
	}
	size := pad4(end + 1)
	if size > len(rest) {
		return "", errors.New("short string padding")
	}
	r.off += size
	return string(rest[:end]), nil
}

func (r *oscReader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, errors.New("short argument")
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *oscReader) number(tag byte) (float64, error) {
	switch tag {
	case 'f':
		b, err := r.take(4)
		if err != nil {
			return 0, err
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case 'd':
		b, err := r.take(8)
		if err != nil {
			return 0, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case 'i':
		b, err := r.take(4)
		if err != nil {
			return 0, err
		}
		return float64(int32(binary.BigEndian.Uint32(b))), nil
	case 'h':
		b, err := r.take(8)
		if err != nil {
			return 0, err
		}
		return float64(int64(binary.BigEndian.Uint64(b))), nil
	}
	return 0, fmt.Errorf("unsupported argument type %q", tag)
}

func (r *oscReader) blob() ([]byte, error) {
	b, err := r.take(4)
	if err != nil {
		return nil, err
	}
	n := int(int32(binary.BigEndian.Uint32(b)))
	data, err := r.take(n)
	if err != nil {
		return nil, err
	}
	if _, err := r.take(pad4(n) - n); err != nil {
		return nil, err
	}
	return data, nil
}

// EncodeOSCFloats builds an OSC message with float32 arguments.
func EncodeOSCFloats(addr string, vals []float64) []byte {
	var buf bytes.Buffer
	writeOSCString(&buf, addr)
	tags := make([]byte, 0, len(vals)+1)
	tags = append(tags, ',')
	for range vals {
		tags = append(tags, 'f')
	}
	writeOSCString(&buf, string(tags))
	for _, v := range vals {
		binary.Write(&buf, binary.BigEndian, float32(v))
	}
	return buf.Bytes()
}

// EncodeOSCMatrixBlob builds a /pose_bin style message: one blob holding
// sixteen big-endian float32 values.
func EncodeOSCMatrixBlob(addr string, vals []float64) []byte {
	var buf bytes.Buffer
	writeOSCString(&buf, addr)
	writeOSCString(&buf, ",b")
	binary.Write(&buf, binary.BigEndian, int32(len(vals)*4))
	for _, v := range vals {
		binary.Write(&buf, binary.BigEndian, float32(v))
	}
	return buf.Bytes()
}

func writeOSCString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	n := pad4(len(s)+1) - len(s)
	buf.Write(make([]byte, n))
}
