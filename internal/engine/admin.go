package engine

import (
	"fmt"
	"io"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/posebridge/internal/config"
	"github.com/banshee-data/posebridge/internal/httputil"
	"github.com/banshee-data/posebridge/internal/monitoring"
	"github.com/banshee-data/posebridge/internal/version"
)

// maxConfigBody limits the size of a runtime config update.
const maxConfigBody = 64 << 10

// Status is the JSON document served by the session status route.
type Status struct {
	ID          string                   `json:"id"`
	Version     string                   `json:"version"`
	Running     bool                     `json:"running"`
	Generation  uint64                   `json:"generation"`
	Strategy    string                   `json:"strategy"`
	Stats       monitoring.StatsSnapshot `json:"stats"`
	DropRate    float64                  `json:"drop_rate"`
	Calibration []float64                `json:"calibration"`
	LastOutput  []float64                `json:"last_output,omitempty"`
}

// Status returns a point-in-time summary of the session.
func (s *Session) Status() Status {
	stats := s.Stats()
	st := Status{
		ID:          s.ID(),
		Version:     version.Version,
		Running:     s.Running(),
		Generation:  s.Generation(),
		Strategy:    s.snapshot().kind.String(),
		Stats:       stats,
		DropRate:    stats.DropRate(),
		Calibration: s.Calibration().Slice(),
	}
	if out, ok := s.LastOutput(); ok {
		st.LastOutput = out.Slice()
	}
	return st
}

// AttachAdminRoutes registers the session debug pages on mux.
func (s *Session) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("pose-session", "Pose session status and counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, s.Status())
	})

	debug.HandleSilentFunc("pose-calibrate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		if err := s.RequestCalibration(); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("calibration request failed: %v", err))
			return
		}
		io.WriteString(w, "Calibration requested; the next calib message will be aligned to the current pose\n")
	})

	debug.HandleSilentFunc("pose-test-identity", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		s.ApplyTestIdentity()
		io.WriteString(w, "Identity pose applied\n")
	})

	debug.HandleSilentFunc("pose-reset-calibration", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		s.ResetCalibration()
		io.WriteString(w, "Calibration reset\n")
	})

	debug.HandleSilentFunc("pose-config", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httputil.WriteJSON(w, http.StatusOK, s.Config())
		case http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
			if err != nil {
				httputil.BadRequest(w, "failed to read body")
				return
			}
			cfg, err := config.ParseSessionConfig(body)
			if err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
			if err := s.UpdateConfig(cfg); err != nil {
				httputil.InternalServerError(w, err.Error())
				return
			}
			fmt.Fprintf(w, "Configuration generation %d\n", s.Generation())
		default:
			httputil.MethodNotAllowed(w)
		}
	})
}
