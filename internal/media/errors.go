package media

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Category groups acquisition failures by what the user can do about them.
type Category string

const (
	CategoryPermissionDenied Category = "permission_denied"
	CategoryNotFound         Category = "not_found"
	CategoryDeviceBusy       Category = "device_busy"
	CategoryOverconstrained  Category = "overconstrained"
	CategoryUnsupported      Category = "unsupported"
	CategoryUnknown          Category = "unknown"
)

// ErrUnsupported is returned by Devices implementations that cannot capture
// the requested kind of media on this platform.
var ErrUnsupported = errors.New("media: capture not supported on this platform")

// mediadevices reports this when no driver matches the constraints.
const noDriverMessage = "failed to find the best driver"

// Error is a categorised acquisition failure.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "media: " + string(e.Category)
	}
	return fmt.Sprintf("media: %s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns a sentence suitable for showing to the user.
func (e *Error) Message() string {
	switch e.Category {
	case CategoryPermissionDenied:
		return "Camera or microphone access was denied. Allow access and try again."
	case CategoryNotFound:
		return "No camera or microphone was found."
	case CategoryDeviceBusy:
		return "The camera or microphone is already in use by another application."
	case CategoryOverconstrained:
		return "No available device supports the requested quality."
	case CategoryUnsupported:
		return "Media capture is not supported here."
	default:
		return "Could not access the camera or microphone."
	}
}

// CategoryFromName maps a DOM exception name, as reported by browser peers,
// to a Category.
func CategoryFromName(name string) Category {
	switch name {
	case "NotAllowedError", "PermissionDeniedError", "SecurityError":
		return CategoryPermissionDenied
	case "NotFoundError", "DevicesNotFoundError":
		return CategoryNotFound
	case "NotReadableError", "TrackStartError", "AbortError":
		return CategoryDeviceBusy
	case "OverconstrainedError", "ConstraintNotSatisfiedError":
		return CategoryOverconstrained
	case "NotSupportedError", "TypeError":
		return CategoryUnsupported
	}
	return CategoryUnknown
}

// Classify wraps err in an *Error. Errors that already are one are returned
// unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var mediaErr *Error
	if errors.As(err, &mediaErr) {
		return mediaErr
	}
	return &Error{Category: categorize(err), Err: err}
}

func categorize(err error) Category {
	switch {
	case errors.Is(err, ErrUnsupported):
		return CategoryUnsupported
	case errors.Is(err, fs.ErrPermission):
		return CategoryPermissionDenied
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENODEV):
		return CategoryNotFound
	case errors.Is(err, syscall.EBUSY):
		return CategoryDeviceBusy
	}

	msg := err.Error()
	if strings.Contains(msg, noDriverMessage) {
		return CategoryOverconstrained
	}
	// "NotAllowedError: Permission denied"
	if name, _, ok := strings.Cut(msg, ":"); ok {
		return CategoryFromName(strings.TrimSpace(name))
	}
	return CategoryFromName(msg)
}
