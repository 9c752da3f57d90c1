package emubd

import (
	"go.uber.org/zap"
)

//Option is an emulated device option
type Option interface {
	apply(*Device)
}

//OptLogger provides the logger a device reports lifecycle events to, by default
// nothing is logged
type OptLogger struct {
	Logger *zap.Logger
}

func (opt OptLogger) apply(dev *Device) {
	if opt.Logger != nil {
		dev.log = opt.Logger
	}
}

//OptRequireStats instructs a device to fail creation if no persisted statistics
// exist, rather than starting its counters at zero
type OptRequireStats bool

func (require OptRequireStats) apply(dev *Device) {
	dev.requireStats = bool(require)
}

//OptStrictGeometry instructs a device to fail creation if persisted geometry
// exists and does not match the configured geometry, rather than warning
type OptStrictGeometry bool

func (strict OptStrictGeometry) apply(dev *Device) {
	dev.strictGeometry = bool(strict)
}

//OptFsync instructs a device created with Open to fsync every artifact it writes
type OptFsync bool

func (fsync OptFsync) apply(dev *Device) {
	dev.fsync = bool(fsync)
}
