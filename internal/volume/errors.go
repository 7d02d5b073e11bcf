// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package volume

import (
	"errors"
	"fmt"

	"github.com/pdiddy/step-volume/pkg/types"
)

// Kind classifies why an extraction could not complete.
type Kind string

const (
	KindUsage             Kind = "UsageError"
	KindFileNotFound      Kind = "FileNotFound"
	KindKernelUnavailable Kind = "KernelUnavailable"
	KindImportFailed      Kind = "ImportFailed"
	KindNoSolidGeometry   Kind = "NoSolidGeometry"
	KindInternalFailure   Kind = "InternalFailure"
)

// User-facing messages with a fixed text.
const (
	MsgFileNotFound    = "STEP file not found"
	MsgNoSolidGeometry = "No valid solid objects found in STEP file"
)

// ExtractionError is the structured failure of an extraction. Only Message
// is serialized; Kind and Err are for callers and logs.
type ExtractionError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *ExtractionError) Error() string { return e.Message }

func (e *ExtractionError) Unwrap() error { return e.Err }

// Payload returns the JSON shape of the error.
func (e *ExtractionError) Payload() types.ErrorPayload {
	return types.ErrorPayload{Error: e.Message}
}

// KindOf returns the kind of an *ExtractionError anywhere in err's chain,
// or the empty kind.
func KindOf(err error) Kind {
	var xe *ExtractionError
	if errors.As(err, &xe) {
		return xe.Kind
	}
	return ""
}

// UsageError reports a wrong invocation shape.
func UsageError(program string) *ExtractionError {
	return &ExtractionError{
		Kind:    KindUsage,
		Message: fmt.Sprintf("Usage: %s <step_file_path>", program),
	}
}

// FileNotFound reports a path that does not exist.
func FileNotFound(path string) *ExtractionError {
	return &ExtractionError{
		Kind:    KindFileNotFound,
		Message: MsgFileNotFound,
		Err:     fmt.Errorf("%s does not exist", path),
	}
}

func kernelUnavailable(err error) *ExtractionError {
	return &ExtractionError{Kind: KindKernelUnavailable, Message: err.Error(), Err: err}
}

func importFailed(err error) *ExtractionError {
	return &ExtractionError{
		Kind:    KindImportFailed,
		Message: "Failed to import STEP file: " + err.Error(),
		Err:     err,
	}
}

func noSolidGeometry() *ExtractionError {
	return &ExtractionError{Kind: KindNoSolidGeometry, Message: MsgNoSolidGeometry}
}

func internalFailure(err error) *ExtractionError {
	return &ExtractionError{
		Kind:    KindInternalFailure,
		Message: "Volume extraction failed: " + err.Error(),
		Err:     err,
	}
}
