package shimz

import (
	"reflect"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

type installKey struct {
	target any
	method string
}

// Installer replaces methods on Targets with wrapped versions, at most once
// per (target, method). Safe for concurrent use by multiple goroutines.
type Installer struct {
	logger    *zap.Logger
	originals *xsync.MapOf[installKey, Method]
}

// NewInstaller creates an installer.
func NewInstaller(logger *zap.Logger) *Installer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Installer{
		logger:    logger.Named("installer"),
		originals: xsync.NewMapOf[installKey, Method](),
	}
}

// Install wraps target's method with wrapper. It returns false, after logging,
// when the target is nil or not a pointer, does not expose replaceable
// methods, lacks the method, or already has it installed.
func (in *Installer) Install(target any, targetName, method string, wrapper Wrapper) bool {
	log := in.logger.With(zap.String("target", targetName), zap.String("method", method))

	if target == nil {
		log.Warn("cannot install on nil target")
		return false
	}
	if v := reflect.ValueOf(target); v.Kind() != reflect.Ptr || v.IsNil() {
		log.Warn("cannot install on non-pointer target", zap.String("type", v.Type().String()))
		return false
	}
	tgt, ok := target.(Target)
	if !ok {
		log.Warn("target does not expose replaceable methods")
		return false
	}
	if wrapper == nil {
		log.Warn("nil wrapper")
		return false
	}
	original, ok := tgt.Method(method)
	if !ok {
		log.Warn("method not found, skipping")
		return false
	}

	if _, loaded := in.originals.LoadOrStore(installKey{target: target, method: method}, original); loaded {
		log.Debug("already installed")
		return false
	}

	tgt.SetMethod(method, guard(log, original, wrapper))
	log.Debug("installed")
	return true
}

// guard builds the installed method. A wrapper that panics before reaching
// the original falls back to calling the original; one that panics after the
// original returned yields the original's result.
func guard(log *zap.Logger, original Method, wrapper Wrapper) Method {
	return func(recv any, args ...any) (result any) {
		var reached, returned bool
		var origResult any
		tracked := Method(func(r any, a ...any) any {
			reached = true
			origResult = original(r, a...)
			returned = true
			return origResult
		})

		failed := func() (failed bool) {
			defer func() {
				if p := recover(); p != nil {
					if reached && !returned {
						panic(p)
					}
					log.Warn("wrapper panicked", zap.Any("panic", p), zap.Bool("original_called", reached))
					failed = true
				}
			}()
			result = wrapper(tracked)(recv, args...)
			return false
		}()

		if !failed {
			return result
		}
		if returned {
			return origResult
		}
		return original(recv, args...)
	}
}

// Installed reports whether method is currently wrapped on target.
func (in *Installer) Installed(target any, method string) bool {
	_, ok := in.originals.Load(installKey{target: target, method: method})
	return ok
}

// Original returns the unwrapped method kept at install time.
func (in *Installer) Original(target any, method string) (Method, bool) {
	return in.originals.Load(installKey{target: target, method: method})
}

// Restore puts the original method back on target.
func (in *Installer) Restore(target any, method string) bool {
	original, ok := in.originals.LoadAndDelete(installKey{target: target, method: method})
	if !ok {
		return false
	}
	if tgt, ok := target.(Target); ok {
		tgt.SetMethod(method, original)
	}
	return true
}

// Size returns the number of installed (target, method) pairs.
func (in *Installer) Size() int {
	return in.originals.Size()
}
