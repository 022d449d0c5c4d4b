// Package ingest turns raw datagrams into validated pose samples and decides
// which of them reach the smoothing stage.
package ingest

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformed marks a payload that could not be decoded at all, or a pose
// message that carries no matrix. Such payloads are logged but not counted as
// received or dropped.
var ErrMalformed = errors.New("malformed payload")

// Message types carried in the "type" field.
const (
	TypePose  = "pose"
	TypeCalib = "calib"
	TypeCmd   = "cmd"
)

// CmdResetCalib resets the calibration to identity.
const CmdResetCalib = "reset_calib"

// Message is one decoded wire message.
type Message struct {
	Type   string    `json:"type"`
	Matrix []float64 `json:"matrix,omitempty"`
	Cmd    string    `json:"cmd,omitempty"`
	// T is the sender timestamp in seconds. It is informational only;
	// the receiver uses arrival time.
	T *float64 `json:"t,omitempty"`
}

// HasMatrix reports whether the message type requires a matrix.
func (m Message) HasMatrix() bool {
	return m.Type == TypePose || m.Type == TypeCalib
}

// DecodeMessage parses a JSON datagram. A missing "type" defaults to pose.
func DecodeMessage(b []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		msg.Type = TypePose
	}
	if msg.HasMatrix() && msg.Matrix == nil {
		return Message{}, fmt.Errorf("%w: %s message without matrix", ErrMalformed, msg.Type)
	}
	return msg, nil
}

// EncodeMessage renders msg as a JSON datagram.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
