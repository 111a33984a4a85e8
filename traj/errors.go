package traj

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidNumber is returned when a data token is not a valid float
	ErrInvalidNumber = errors.New("invalid numeric field")
	// ErrShortRecord is returned when a pose line has fewer than 7 numeric fields
	ErrShortRecord = errors.New("pose record needs 7 numeric fields")
	// ErrInvalidStamp is returned when a stamp cannot be read as a number
	ErrInvalidStamp = errors.New("invalid timestamp")
	// ErrUnknownPair is returned when a pair name is not configured
	ErrUnknownPair = errors.New("unknown pair")
	// ErrNoPoses is returned when an evaluation carries no reconstructed poses
	ErrNoPoses = errors.New("evaluation has no poses")
	// ErrNotConnected is returned when publishing without a broker connection
	ErrNotConnected = errors.New("MQTT client not connected")
	// ErrResponseTooLarge is returned when a remote file exceeds the size cap
	ErrResponseTooLarge = errors.New("response exceeds size limit")
)

// ParseError reports a fatal problem at a specific line of an input file
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
