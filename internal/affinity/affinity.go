// Package affinity pins goroutines to CPU cores. Pinning locks the calling
// goroutine to its OS thread first, so it only makes sense for long-lived
// loops that never return the thread.
package affinity

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrUnsupported is returned on platforms without sched_setaffinity.
var ErrUnsupported = errors.New("affinity: not supported on this platform")

// Pinner knows the set of cores this process may run on.
type Pinner struct {
	cores []int
}

// NewPinner discovers the cores available to the process.
func NewPinner() (*Pinner, error) {
	cores, err := allowedCores()
	if err != nil {
		return nil, err
	}
	if len(cores) == 0 {
		return nil, errors.New("affinity: no cores available")
	}
	return &Pinner{cores: cores}, nil
}

// CoreCount returns the number of usable cores.
func (p *Pinner) CoreCount() int {
	return len(p.cores)
}

// Pin locks the calling goroutine to its OS thread and binds that thread to
// the index-th available core. The index wraps around the core count.
// It returns the CPU number actually used.
func (p *Pinner) Pin(index int) (int, error) {
	if index < 0 {
		index = -index
	}
	cpu := p.cores[index%len(p.cores)]
	runtime.LockOSThread()
	if err := setAffinity(cpu); err != nil {
		runtime.UnlockOSThread()
		return cpu, fmt.Errorf("affinity: pin cpu %d: %w", cpu, err)
	}
	return cpu, nil
}
