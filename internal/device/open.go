package device

import (
	stderrors "errors"
	"fmt"

	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/logger"
)

// Open opens a device trying, in order, the explicit path, the explicit
// vendor/product pair and the driver default. The first success wins.
func Open(drv Driver, sel Selector) (Device, error) {
	errFactory := errors.New()
	var failures []error

	if sel.HasPath() {
		dev, err := drv.OpenPath(sel.Path)
		if err == nil {
			logger.Debug().Str("path", sel.Path).Msg("Device opened by path")
			return dev, nil
		}
		failures = append(failures, errFactory.Wrap(ErrOpenPathFailed, err))
	}

	if sel.HasID() {
		dev, err := drv.OpenID(sel.VendorID, sel.ProductID)
		if err == nil {
			logger.Debug().
				Str("vid", fmt.Sprintf("0x%04X", sel.VendorID)).
				Str("pid", fmt.Sprintf("0x%04X", sel.ProductID)).
				Msg("Device opened by vendor/product id")
			return dev, nil
		}
		failures = append(failures, errFactory.Wrap(ErrOpenIDFailed, err))
	}

	dev, err := drv.OpenDefault()
	if err == nil {
		logger.Debug().Msg("Device opened with driver default")
		return dev, nil
	}
	failures = append(failures, errFactory.Wrap(ErrOpenDefaultFailed, err))

	return nil, errFactory.Wrap(errors.ErrDeviceOpenFailed, stderrors.Join(failures...))
}
