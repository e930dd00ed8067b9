package device

import (
	stderrors "errors"

	"codeberg.org/mutker/pdctl/internal/errors"
)

const (
	ErrOpenPathFailed    = errors.ErrorCode("device_open_path_failed")
	ErrOpenIDFailed      = errors.ErrorCode("device_open_id_failed")
	ErrOpenDefaultFailed = errors.ErrorCode("device_open_default_failed")
	ErrUnsupported       = errors.ErrorCode("device_unsupported_selector")
)

// ErrTransport marks read failures at the transport level (unplugged device,
// closed handle). Drivers wrap it; any other read error is treated as
// transient.
var ErrTransport = stderrors.New("device read error")

// IsTransport reports whether err is a transport-level read failure
func IsTransport(err error) bool {
	return stderrors.Is(err, ErrTransport)
}
