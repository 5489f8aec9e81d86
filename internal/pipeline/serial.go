package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrSeedInProgress is returned by SerialSeeder while another seed runs.
var ErrSeedInProgress = errors.New("a seed is already running")

// SeedRunner is anything that can run a seed.
type SeedRunner interface {
	Seed(ctx context.Context, mode Mode, count int) (Report, error)
}

// SerialSeeder lets one seed run at a time within this process. It does not
// coordinate with other processes writing to the same collection.
type SerialSeeder struct {
	mu   sync.Mutex
	next SeedRunner
}

// NewSerialSeeder wraps next.
func NewSerialSeeder(next SeedRunner) *SerialSeeder {
	return &SerialSeeder{next: next}
}

// Seed runs next, or fails fast with ErrSeedInProgress.
func (s *SerialSeeder) Seed(ctx context.Context, mode Mode, count int) (Report, error) {
	if !s.mu.TryLock() {
		return Report{}, ErrSeedInProgress
	}
	defer s.mu.Unlock()
	return s.next.Seed(ctx, mode, count)
}
