package smoothing

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind is returned by ParseKind for an unrecognised name.
var ErrUnknownKind = errors.New("unknown smoothing strategy")

// Kind selects one of the smoothing strategies.
type Kind int

const (
	KindNone Kind = iota
	KindMatrixBlend
	KindSplitInterpolation
	KindAlphaBeta
	KindKalman
)

// Kinds lists every strategy in declaration order.
var Kinds = []Kind{KindNone, KindMatrixBlend, KindSplitInterpolation, KindAlphaBeta, KindKalman}

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMatrixBlend:
		return "matrix_blend"
	case KindSplitInterpolation:
		return "split_interp"
	case KindAlphaBeta:
		return "alpha_beta"
	case KindKalman:
		return "kalman"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Valid reports whether k names a known strategy.
func (k Kind) Valid() bool {
	return k >= KindNone && k <= KindKalman
}

// Scheduled reports whether output for k is produced by the fixed-cadence
// scheduler rather than on packet arrival.
func (k Kind) Scheduled() bool {
	return k == KindSplitInterpolation
}

// ParseKind maps a wire or config name to a Kind. The legacy names
// "matrix_exp" and "matrix_interp" are accepted as aliases.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "":
		return KindNone, nil
	case "matrix_blend", "matrix_exp":
		return KindMatrixBlend, nil
	case "split_interp", "matrix_interp":
		return KindSplitInterpolation, nil
	case "alpha_beta":
		return KindAlphaBeta, nil
	case "kalman":
		return KindKalman, nil
	}
	return KindNone, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
