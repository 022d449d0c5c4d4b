package engine

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posebridge/internal/posemath"
)

// localHostRequest builds a request that passes the loopback check on debug
// routes.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAdminRoutes_Status(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.UpdateConfig(testConfig(t, `{"strategy":"none","min_interval":"0s"}`)))
	h.session.FeedPacket(poseJSON(translation(1, 2, 3)))

	mux := http.NewServeMux()
	h.session.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/pose-session", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.False(t, st.Running)
	assert.Equal(t, "none", st.Strategy)
	assert.Equal(t, uint64(1), st.Stats.Received)
	require.Len(t, st.LastOutput, 16)
	assert.Equal(t, 3.0, st.LastOutput[11])
}

func TestAdminRoutes_Calibration(t *testing.T) {
	h := newHarness(t)
	mux := http.NewServeMux()
	h.session.AttachAdminRoutes(mux)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"calibrate GET rejected", http.MethodGet, "/debug/pose-calibrate", http.StatusMethodNotAllowed},
		{"calibrate POST", http.MethodPost, "/debug/pose-calibrate", http.StatusOK},
		{"reset GET rejected", http.MethodGet, "/debug/pose-reset-calibration", http.StatusMethodNotAllowed},
		{"reset POST", http.MethodPost, "/debug/pose-reset-calibration", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, localHostRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	_, pending := h.session.calib.Pending()
	assert.True(t, pending, "reset keeps the requested calibration target")
	assert.True(t, h.session.Calibration().IsIdentity())
}

func TestAdminRoutes_Config(t *testing.T) {
	h := newHarness(t)
	mux := http.NewServeMux()
	h.session.AttachAdminRoutes(mux)
	gen := h.session.Generation()

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodPost, "/debug/pose-config", strings.NewReader(`{"strategy":"kalman","alpha":0.3}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, gen+1, h.session.Generation())
	assert.Equal(t, 0.3, h.session.Config().GetAlpha())

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodPost, "/debug/pose-config", strings.NewReader(`{"strategy":"teleport"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, gen+1, h.session.Generation())

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/pose-config", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "kalman", got["strategy"])

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodDelete, "/debug/pose-config", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAdminRoutes_TestIdentity(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.UpdateConfig(testConfig(t, `{"strategy":"none","min_interval":"0s"}`)))
	h.session.RequestCalibrationPose(translation(0, 3, 0))
	h.session.FeedPacket(calibJSON(posemath.Identity()))

	mux := http.NewServeMux()
	h.session.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/pose-test-identity", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Zero(t, h.sink.Applied())

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodPost, "/debug/pose-test-identity", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, uint64(1), h.sink.Applied())

	// identity passes through the calibration like any other pose
	last, _ := h.sink.Last()
	assertTranslation(t, last, 0, 3, 0)
}
