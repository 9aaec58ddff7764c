package pipeline

import (
	"sync"
	"sync/atomic"
)

// Profiler tracks function invocation counts to identify hot code worth
// analyzing and compiling. Profiling is at function level, not
// call-site level: the analysis cost is paid once per function body.

// FunctionProfile holds profiling data for a single function.
type FunctionProfile struct {
	InvocationCount uint64 // Atomic counter for invocations
	IsHot           bool   // True if threshold exceeded
}

// Profiler manages profiling for all functions the runtime executes.
type Profiler struct {
	// Profile storage (thread-safe)
	profiles sync.Map // [32]byte content hash -> *FunctionProfile

	// HotThreshold is the invocation count at which a function is
	// handed to the analyzer.
	HotThreshold uint64

	// OnHot is called once, on the invocation that crosses the
	// threshold.
	OnHot func(hash [32]byte, profile *FunctionProfile)

	hotCount uint64
}

// NewProfiler creates a profiler with the given hot threshold.
func NewProfiler(threshold uint64) *Profiler {
	if threshold == 0 {
		threshold = 1000
	}
	return &Profiler{HotThreshold: threshold}
}

// RecordInvocation increments the invocation count for a function.
// Returns true if this invocation caused the function to become hot.
func (p *Profiler) RecordInvocation(hash [32]byte) bool {
	val, _ := p.profiles.LoadOrStore(hash, &FunctionProfile{})
	profile := val.(*FunctionProfile)

	count := atomic.AddUint64(&profile.InvocationCount, 1)

	if !profile.IsHot && count >= p.HotThreshold {
		profile.IsHot = true
		atomic.AddUint64(&p.hotCount, 1)

		if p.OnHot != nil {
			p.OnHot(hash, profile)
		}
		return true
	}

	return false
}

// Profile returns the profile for a function, or nil if not tracked.
func (p *Profiler) Profile(hash [32]byte) *FunctionProfile {
	if val, ok := p.profiles.Load(hash); ok {
		return val.(*FunctionProfile)
	}
	return nil
}

// IsHot returns true if the function has exceeded the hot threshold.
func (p *Profiler) IsHot(hash [32]byte) bool {
	profile := p.Profile(hash)
	return profile != nil && profile.IsHot
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	TotalFunctions   int
	HotFunctions     int
	TotalInvocations uint64
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.profiles.Range(func(key, value interface{}) bool {
		profile := value.(*FunctionProfile)
		stats.TotalFunctions++
		stats.TotalInvocations += atomic.LoadUint64(&profile.InvocationCount)
		if profile.IsHot {
			stats.HotFunctions++
		}
		return true
	})
	return stats
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.profiles = sync.Map{}
	atomic.StoreUint64(&p.hotCount, 0)
}
