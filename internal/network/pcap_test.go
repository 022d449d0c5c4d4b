package network

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedDatagram struct {
	port    uint16
	payload string
	at      time.Time
}

func buildCapture(t *testing.T, datagrams []capturedDatagram) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for _, d := range datagrams {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(10, 0, 0, 2),
			DstIP:    net.IPv4(10, 0, 0, 1),
		}
		udp := &layers.UDP{SrcPort: 50000, DstPort: layers.UDPPort(d.port)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(sb, opts, eth, ip, udp, gopacket.Payload(d.payload)))

		data := sb.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     d.at,
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return buf.Bytes()
}

func TestPCAPSource_FiltersByPort(t *testing.T) {
	base := time.Unix(1700000000, 0)
	capture := buildCapture(t, []capturedDatagram{
		{9000, `{"type":"pose"}`, base},
		{9001, `other`, base.Add(time.Millisecond)},
		{9000, `{"type":"calib"}`, base.Add(2 * time.Millisecond)},
	})

	src := &PCAPSource{Path: "mem", Port: 9000}
	rec := &feedRecorder{}
	require.NoError(t, src.replay(context.Background(), bytes.NewReader(capture), rec))
	assert.Equal(t, []string{`{"type":"pose"}`, `{"type":"calib"}`}, rec.all())
}

func TestPCAPSource_AllPortsFromFile(t *testing.T) {
	base := time.Unix(1700000000, 0)
	capture := buildCapture(t, []capturedDatagram{
		{9000, "a", base},
		{9001, "b", base},
	})
	path := filepath.Join(t.TempDir(), "poses.pcap")
	require.NoError(t, os.WriteFile(path, capture, 0o644))

	src := &PCAPSource{Path: path}
	assert.Equal(t, "pcap:"+path, src.Name())
	rec := &feedRecorder{}
	require.NoError(t, src.Run(context.Background(), rec))
	assert.Equal(t, []string{"a", "b"}, rec.all())
}

func TestPCAPSource_RealtimePacing(t *testing.T) {
	base := time.Unix(1700000000, 0)
	capture := buildCapture(t, []capturedDatagram{
		{9000, "a", base},
		{9000, "b", base.Add(100 * time.Millisecond)},
	})
	src := &PCAPSource{Port: 9000, Realtime: true, Speed: 2}
	rec := &feedRecorder{}

	start := time.Now()
	require.NoError(t, src.replay(context.Background(), bytes.NewReader(capture), rec))
	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
	assert.Len(t, rec.all(), 2)
}

func TestPCAPSource_CancelDuringPacing(t *testing.T) {
	base := time.Unix(1700000000, 0)
	capture := buildCapture(t, []capturedDatagram{
		{9000, "a", base},
		{9000, "b", base.Add(time.Hour)},
	})
	src := &PCAPSource{Port: 9000, Realtime: true}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := src.replay(ctx, bytes.NewReader(capture), &feedRecorder{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPCAPSource_Errors(t *testing.T) {
	src := &PCAPSource{Path: filepath.Join(t.TempDir(), "missing.pcap")}
	assert.Error(t, src.Run(context.Background(), &feedRecorder{}))

	assert.Error(t, src.replay(context.Background(), bytes.NewReader([]byte("not a capture")), &feedRecorder{}))
}
