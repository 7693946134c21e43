package telemetry

import "errors"

var (
	ErrEmptyCode      = errors.New("telemetry: empty code")
	ErrEmptyKind      = errors.New("telemetry: empty kind")
	ErrZeroTimestamp  = errors.New("telemetry: zero timestamp")
	ErrNotAnObject    = errors.New("telemetry: snapshot is not an object")
	ErrInvalidPayload = errors.New("telemetry: invalid payload")
)
