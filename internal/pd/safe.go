package pd

import (
	"codeberg.org/mutker/pdctl/internal/device"
	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/logger"
)

// guard runs fn and turns a panic raised by the decoder adapter into
// fallback. Decoder failures never escape the formatter.
func guard[T any](fallback T, fn func() T) (out T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug().
				Str("error_code", string(errors.ErrFieldDecodeFailure)).
				Interface("panic", r).
				Msg("Decoder failed, treating field as absent")
			out = fallback
		}
	}()

	return fn()
}

// valueAt reads a field value, treating any decoder failure as absence.
func valueAt(n device.Node, path ...string) device.Value {
	if n == nil {
		return device.Value{}
	}

	return guard(device.Value{}, func() device.Value {
		return device.ValueAt(n, path...)
	})
}

func fieldOf(n device.Node) string {
	if n == nil {
		return ""
	}

	return guard("", n.Field)
}

func rawOf(n device.Node) string {
	return guard("", n.Raw)
}
