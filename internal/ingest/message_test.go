package ingest

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	ts := 12.5
	tests := []struct {
		name    string
		in      string
		want    Message
		wantErr error
	}{
		{
			name: "pose",
			in:   `{"type":"pose","matrix":[1,0,0,0,0,1,0,0,0,0,1,0,0,0,0,1],"t":12.5}`,
			want: Message{Type: TypePose, Matrix: []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}, T: &ts},
		},
		{
			name: "missing type defaults to pose",
			in:   `{"matrix":[1,2,3]}`,
			want: Message{Type: TypePose, Matrix: []float64{1, 2, 3}},
		},
		{
			name: "calib",
			in:   `{"type":"calib","matrix":[0]}`,
			want: Message{Type: TypeCalib, Matrix: []float64{0}},
		},
		{
			name: "cmd needs no matrix",
			in:   `{"type":"cmd","cmd":"reset_calib"}`,
			want: Message{Type: TypeCmd, Cmd: CmdResetCalib},
		},
		{
			name: "unknown type passes through",
			in:   `{"type":"hello"}`,
			want: Message{Type: "hello"},
		},
		{name: "not json", in: `garbage{`, wantErr: ErrMalformed},
		{name: "pose without matrix", in: `{"type":"pose"}`, wantErr: ErrMalformed},
		{name: "null matrix", in: `{"matrix":null}`, wantErr: ErrMalformed},
		{name: "matrix of strings", in: `{"matrix":["a"]}`, wantErr: ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMessage([]byte(tt.in))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeMessage(%q) error = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DecodeMessage mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeMessageRoundTrip(t *testing.T) {
	msg := Message{Type: TypePose, Matrix: make([]float64, 16)}
	msg.Matrix[3] = 1.25
	b, err := EncodeMessage(msg)
	require.NoError(t, err)

	got, err := DecodeMessage(b)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}
