package sandbox

import (
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/hb-chen/skillexec/internal/skill"
)

// Limits bounds one sandboxed execution.
//
// MemoryLimitMB is checked against the growth of the whole process heap since
// the run started, not against the run's own allocations. Concurrent runs and
// the host share that heap, so a run can trip its limit because of another
// run's garbage. Keep per-skill limits above what the expected concurrent load
// adds to the heap within one execution timeout.
type Limits struct {
	ExecutionTimeoutMs int64    `mapstructure:"execution_timeout_ms" json:"executionTimeoutMs"`
	MemoryLimitMB      int64    `mapstructure:"memory_limit_mb" json:"memoryLimitMb"`
	AllowedEnv         []string `mapstructure:"allowed_env" json:"allowedEnv,omitempty"`
}

// DefaultLimits returns the instance limits used when none are configured
func DefaultLimits() Limits {
	return Limits{
		ExecutionTimeoutMs: 5000,
		MemoryLimitMB:      64,
	}
}

// Validate checks the limits
func (l Limits) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.ExecutionTimeoutMs, validation.Required, validation.Min(int64(1))),
		validation.Field(&l.MemoryLimitMB, validation.Required, validation.Min(int64(1))),
		validation.Field(&l.AllowedEnv, validation.Each(validation.Required)),
	)
}

// Timeout returns the execution timeout as a duration
func (l Limits) Timeout() time.Duration {
	return time.Duration(l.ExecutionTimeoutMs) * time.Millisecond
}

// MemoryBytes returns the memory limit in bytes
func (l Limits) MemoryBytes() int64 {
	return l.MemoryLimitMB << 20
}

// Equal reports whether two limits would build the same execution context
func (l Limits) Equal(o Limits) bool {
	return l.ExecutionTimeoutMs == o.ExecutionTimeoutMs &&
		l.MemoryLimitMB == o.MemoryLimitMB &&
		slices.Equal(l.AllowedEnv, o.AllowedEnv)
}

// apply layers skill-declared limits over l, then lets a request timeout
// shorten the result
func (l Limits) apply(policy *skill.SecurityPolicy, requestTimeout time.Duration) Limits {
	out := l
	out.AllowedEnv = slices.Clone(l.AllowedEnv)
	if policy != nil {
		if policy.TimeoutMs != 0 {
			out.ExecutionTimeoutMs = policy.TimeoutMs
		}
		if policy.MemoryMB != 0 {
			out.MemoryLimitMB = policy.MemoryMB
		}
		if policy.AllowedEnv != nil {
			out.AllowedEnv = slices.Clone(policy.AllowedEnv)
		}
	}
	if requestTimeout > 0 {
		ms := max(requestTimeout.Milliseconds(), 1)
		if ms < out.ExecutionTimeoutMs {
			out.ExecutionTimeoutMs = ms
		}
	}
	return out
}
