package diag

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLine(t *testing.T) {
	at := time.Unix(1700000000, 500000000)
	assert.Equal(t, "1700000000.500000,pose\n", FormatLine(at, "pose"))
}

func TestDisabledByDefault(t *testing.T) {
	var nilLog *Log
	nilLog.Event("ignored")
	assert.False(t, nilLog.Enabled())

	l := New()
	assert.False(t, l.Enabled())
	l.Event("ignored")
}

func TestEnableWriter(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.now = func() time.Time { return time.Unix(42, 0) }

	l.EnableWriter(&buf)
	require.True(t, l.Enabled())
	l.Event("calib")
	l.Eventf("pose,%d", 3)

	require.NoError(t, l.Disable())
	l.Event("dropped")

	assert.Equal(t, "42.000000,calib\n42.000000,pose,3\n", buf.String())
	assert.False(t, l.Enabled())
}

func TestEnableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diag.log")
	l := New()
	require.NoError(t, l.EnableFile(FileOptions{Path: path, MaxSizeMB: 1}))
	l.Event("calibration_computed")
	require.NoError(t, l.Disable())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], ",logging_enabled"))
	assert.True(t, strings.HasSuffix(lines[1], ",calibration_computed"))

	assert.Error(t, l.EnableFile(FileOptions{}))
}
