//go:build !linux

package affinity

import "runtime"

func allowedCores() ([]int, error) {
	cores := make([]int, runtime.NumCPU())
	for i := range cores {
		cores[i] = i
	}
	return cores, nil
}

func setAffinity(int) error {
	return ErrUnsupported
}
