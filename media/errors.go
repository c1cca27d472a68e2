package media

import (
	"errors"
	"fmt"
)

// ErrorCode classifies container-writer failures.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeOutOfMemory
	CodeDiskFull
	CodeFileAlreadyExists
	CodeUnsupportedFileType
	CodeEncoderNotFound
	CodeInvalidSourceMedia
	CodeMediaDiscontinuity
	CodeSessionNotRunning
	CodeInputFinished
	CodeInputNotReady
	CodeWriteFailed
	CodeCancelled
)

var errorStrings = map[ErrorCode]string{
	CodeUnknown:             "unknown writer error",
	CodeOutOfMemory:         "out of memory",
	CodeDiskFull:            "disk full",
	CodeFileAlreadyExists:   "output file already exists",
	CodeUnsupportedFileType: "file type not supported by this writer",
	CodeEncoderNotFound:     "no encoder for the requested codec",
	CodeInvalidSourceMedia:  "invalid source media",
	CodeMediaDiscontinuity:  "sample timestamps are not increasing",
	CodeSessionNotRunning:   "session is not writing",
	CodeInputFinished:       "input was already marked as finished",
	CodeInputNotReady:       "input was not ready for more media data",
	CodeWriteFailed:         "write to output failed",
	CodeCancelled:           "writing was cancelled",
}

// ErrorString returns a descriptive string for code. It is meant for
// diagnostics, not for control flow.
func ErrorString(code ErrorCode) string {
	if s, ok := errorStrings[code]; ok {
		return s
	}
	return fmt.Sprintf("writer error %d", int(code))
}

func (c ErrorCode) String() string { return ErrorString(c) }

// WriterError is returned by sessions.
type WriterError struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *WriterError) Error() string {
	msg := ErrorString(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriterError) Unwrap() error { return e.Err }

// NewWriterError builds a WriterError.
func NewWriterError(code ErrorCode, op string, err error) *WriterError {
	return &WriterError{Code: code, Op: op, Err: err}
}

// CodeOf extracts the code from err, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var we *WriterError
	if errors.As(err, &we) {
		return we.Code
	}
	return CodeUnknown
}

// Describe renders err for logs, naming the error code when present.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var we *WriterError
	if errors.As(err, &we) {
		return fmt.Sprintf("%s (code %d: %s)", err.Error(), int(we.Code), ErrorString(we.Code))
	}
	return err.Error()
}
