package navsat

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/navcal/logging"
	"go.viam.com/navcal/solver"
)

// Handle identifies a device in a Registry. Handles are dense and assigned in creation order
// starting at 0.
type Handle int

// Registry holds the navsat devices of one pipeline. It is expected to be populated at startup
// and then only read.
type Registry struct {
	cfg    Config
	solver solver.Solver
	logger logging.Logger

	mu      sync.RWMutex
	devices []*Navsat
}

// NewRegistry returns an empty registry whose devices are configured by cfg.
func NewRegistry(cfg Config, logger logging.Logger) (*Registry, error) {
	if err := cfg.Validate("navsat"); err != nil {
		return nil, err
	}
	s, err := cfg.newSolver()
	if err != nil {
		return nil, err
	}
	return &Registry{cfg: cfg, solver: s, logger: logger}, nil
}

// Create registers a new device reading keyframes from frames and returns its handle.
func (r *Registry) Create(frames KeyFrameSource) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle := Handle(len(r.devices))
	logger := r.logger.Sublogger(fmt.Sprintf("navsat%d", handle))
	r.devices = append(r.devices, newNavsat(frames, r.cfg, r.solver, logger))
	return handle
}

// Num returns the number of registered devices.
func (r *Registry) Num() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Get returns the device registered under handle, or ErrUnknownDevice.
func (r *Registry) Get(handle Handle) (*Navsat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if handle < 0 || int(handle) >= len(r.devices) {
		return nil, errors.Wrapf(ErrUnknownDevice, "handle %d", handle)
	}
	return r.devices[handle], nil
}

// Default returns the first registered device.
func (r *Registry) Default() (*Navsat, error) {
	return r.Get(0)
}
