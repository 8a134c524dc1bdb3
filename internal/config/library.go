package config

import (
	"errors"
	"sync"
)

// ErrAlreadyInitialized is returned by Init once the library configuration
// has been set or read.
var ErrAlreadyInitialized = errors.New("config: library already initialized")

var (
	libMu     sync.Mutex
	libCfg    *Config
	libFrozen bool
)

// Init sets the process-wide configuration. It succeeds at most once and
// only before the first call to Library.
func Init(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	libMu.Lock()
	defer libMu.Unlock()
	if libFrozen {
		return ErrAlreadyInitialized
	}
	libCfg = &cfg
	libFrozen = true
	return nil
}

// Library returns the process-wide configuration, freezing the defaults if
// Init was never called.
func Library() Config {
	libMu.Lock()
	defer libMu.Unlock()
	if !libFrozen {
		d := Default()
		libCfg = &d
		libFrozen = true
	}
	return *libCfg
}
