package build

import "fmt"

// SpecLoadError reports a specification document that could not be read or parsed.
type SpecLoadError struct {
	Path string
	Err  error
}

func (e *SpecLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load specification: %v", e.Err)
	}
	return fmt.Sprintf("load specification %s: %v", e.Path, e.Err)
}

func (e *SpecLoadError) Unwrap() error { return e.Err }

// SpecValidationError reports a structurally valid specification that cannot be built.
type SpecValidationError struct {
	Action string
	Reason string
}

func (e *SpecValidationError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("invalid specification: %s", e.Reason)
	}
	return fmt.Sprintf("invalid specification: action %q %s", e.Action, e.Reason)
}

// StagingErrorKind identifies the staging step that failed.
type StagingErrorKind string

// Staging failure kinds. Only StagingCleanupFailed is non-fatal.
const (
	StagingWriteFailed        StagingErrorKind = "write_failed"
	StagingInitCopyFailed     StagingErrorKind = "init_copy_failed"
	StagingContextFileMissing StagingErrorKind = "context_file_missing"
	StagingArchiveFailed      StagingErrorKind = "archive_failed"
	StagingCleanupFailed      StagingErrorKind = "cleanup_failed"
)

// StagingError reports a failure while preparing the package directory.
type StagingError struct {
	Kind StagingErrorKind
	Path string
	Err  error
}

func (e *StagingError) Error() string {
	var msg string
	switch e.Kind {
	case StagingWriteFailed:
		msg = "failed to write package file"
		if e.Path != "" {
			msg += " " + e.Path
		}
	case StagingInitCopyFailed:
		msg = fmt.Sprintf("failed to copy init binary %s into the package directory", e.Path)
	case StagingContextFileMissing:
		msg = fmt.Sprintf("couldn't find %q within the build context", e.Path)
	case StagingArchiveFailed:
		msg = "failed to prepare working directory archive"
	case StagingCleanupFailed:
		msg = "failed to clean up working directory"
	default:
		msg = "staging failed"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *StagingError) Unwrap() error { return e.Err }

// BackendErrorKind identifies how the image build backend failed.
type BackendErrorKind string

const (
	BackendCapabilityMissing BackendErrorKind = "capability_missing"
	BackendBuildFailed       BackendErrorKind = "build_failed"
)

// BackendError reports a failure of the image build backend.
type BackendError struct {
	Kind    BackendErrorKind
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	msg := e.Message
	if msg == "" {
		switch e.Kind {
		case BackendCapabilityMissing:
			msg = "image build backend lacks the required capability"
		default:
			msg = "image build failed"
		}
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error { return e.Err }
