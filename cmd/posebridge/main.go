package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/posebridge/internal/config"
	"github.com/banshee-data/posebridge/internal/diag"
	"github.com/banshee-data/posebridge/internal/engine"
	"github.com/banshee-data/posebridge/internal/network"
	"github.com/banshee-data/posebridge/internal/posemath"
	"github.com/banshee-data/posebridge/internal/sink"
	"github.com/banshee-data/posebridge/internal/version"
)

var (
	configFile = flag.String("config", "", "Path to a session config JSON file")
	listen     = flag.String("listen", "", "UDP listen address for pose packets (overrides config)")
	strategy   = flag.String("strategy", "", "Smoothing strategy: none, matrix_blend, split_interp, alpha_beta, kalman (overrides config)")
	forward    = flag.String("forward", "", "Mirror raw datagrams to this UDP address (overrides config)")
	adminAddr  = flag.String("admin", "127.0.0.1:8081", "HTTP address for /debug routes and the WebSocket feed; empty disables")

	mqttBroker = flag.String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883); empty disables the MQTT sink")
	mqttTopic  = flag.String("mqtt-topic", "posebridge/transform", "MQTT topic for output transforms")
	mqttQoS    = flag.Int("mqtt-qos", 0, "MQTT QoS for output transforms")

	serialPort = flag.String("serial", "", "Serial port carrying newline-delimited pose messages; empty disables")
	serialBaud = flag.Int("serial-baud", 115200, "Serial baud rate")

	pcapFile     = flag.String("pcap", "", "Replay pose datagrams from a capture file")
	pcapPort     = flag.Int("pcap-port", 9000, "UDP destination port to replay from the capture (0 = all)")
	pcapRealtime = flag.Bool("pcap-realtime", true, "Pace capture replay by packet timestamps")
	pcapSpeed    = flag.Float64("pcap-speed", 1.0, "Replay speed multiplier for realtime pacing")

	diagFile = flag.String("diag-log", "", "Write diagnostic events to this file (rotated)")

	versionFlag = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("posebridge %s\n", version.String())
		return
	}

	cfg := config.EmptySessionConfig()
	if *configFile != "" {
		loaded, err := config.LoadSessionConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	overrides := config.EmptySessionConfig()
	if *listen != "" {
		overrides.ListenAddr = listen
	}
	if *strategy != "" {
		overrides.Strategy = strategy
	}
	if *forward != "" {
		overrides.ForwardAddr = forward
	}
	cfg = cfg.Merge(overrides)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	dlog := diag.New()
	if *diagFile != "" {
		if err := dlog.EnableFile(diag.FileOptions{Path: *diagFile}); err != nil {
			log.Fatalf("failed to enable diagnostic log: %v", err)
		}
		defer dlog.Disable()
	}

	memory := sink.NewMemory(posemath.Identity())
	sinks := []sink.TransformSink{memory}

	var hub *sink.WebSocketHub
	if *adminAddr != "" {
		hub = sink.NewWebSocketHub()
		defer hub.Close()
		sinks = append(sinks, hub)
	}

	if *mqttBroker != "" {
		mq, err := sink.NewMQTT(sink.MQTTOptions{
			Broker:   *mqttBroker,
			ClientID: "posebridge-" + uuid.NewString()[:8],
			Topic:    *mqttTopic,
			QoS:      byte(*mqttQoS),
			Retain:   true,
		})
		if err != nil {
			log.Fatalf("failed to connect to MQTT broker: %v", err)
		}
		defer mq.Close()
		sinks = append(sinks, mq)
	}

	session, err := engine.NewSession(engine.Options{
		Sink: sink.NewFanout(sinks...),
		Diag: dlog,
	})
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}

	if *serialPort != "" {
		src, err := network.NewSerialSource(network.SerialOptions{Path: *serialPort, BaudRate: *serialBaud})
		if err != nil {
			log.Fatalf("invalid serial options: %v", err)
		}
		session.RegisterAdapter(src)
	}
	if *pcapFile != "" {
		session.RegisterAdapter(&network.PCAPSource{
			Path:     *pcapFile,
			Port:     *pcapPort,
			Realtime: *pcapRealtime,
			Speed:    *pcapSpeed,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx, cfg); err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	log.Printf("posebridge %s session %s listening on %s", version.Version, session.ID(), session.LocalAddr())

	var wg sync.WaitGroup
	if *adminAddr != "" {
		mux := http.NewServeMux()
		session.AttachAdminRoutes(mux)
		mux.Handle("/ws", hub)

		server := &http.Server{
			Addr:              *adminAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("admin server failed: %v", err)
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("failed to shut down admin server: %v", err)
			}
		}()
		log.Printf("admin routes on http://%s/debug/, transforms on ws://%s/ws", *adminAddr, *adminAddr)
	}

	<-ctx.Done()
	log.Printf("shutting down")
	if err := session.Stop(); err != nil {
		log.Printf("session stop: %v", err)
	}
	wg.Wait()

	st := session.Stats()
	log.Printf("final stats: %d packets, %d received, %d dropped, %d malformed (drop rate %.3f)",
		st.Packets, st.Received, st.Dropped, st.Malformed, st.DropRate())
}
