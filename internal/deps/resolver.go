package deps

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skillerr"
	"github.com/hb-chen/skillexec/pkg/logger"
)

// DefaultBuiltins are the builtin modules with a Go implementation
var DefaultBuiltins = []string{"path", "util", "crypto"}

// Policy is the dependency whitelist of a resolver
type Policy struct {
	AllowRelative    bool
	BaseDir          string
	AllowedBuiltins  []string
	RestrictExternal bool
	AllowedExternal  []string
}

// ExternalLoader loads third-party modules. Without one, external
// dependencies pass validation but fail to resolve.
type ExternalLoader interface {
	Load(ctx context.Context, module string) (Module, error)
}

// Resolver validates dependencies against a policy and loads their handles
type Resolver struct {
	policy   Policy
	builtins map[string]bool
	external map[string]bool
	loader   ExternalLoader

	group   singleflight.Group
	mu      sync.RWMutex
	modules map[string]Module
	loads   atomic.Int64

	log *zap.Logger
}

// NewResolver creates a resolver for the given policy
func NewResolver(policy Policy) *Resolver {
	r := &Resolver{
		policy:   policy,
		builtins: make(map[string]bool, len(policy.AllowedBuiltins)),
		external: make(map[string]bool, len(policy.AllowedExternal)),
		modules:  make(map[string]Module),
		log:      logger.Named("deps"),
	}
	for _, b := range policy.AllowedBuiltins {
		r.builtins[BuiltinName(b)] = true
	}
	for _, e := range policy.AllowedExternal {
		r.external[e] = true
	}
	return r
}

// SetExternalLoader installs the loader used for external modules
func (r *Resolver) SetExternalLoader(l ExternalLoader) {
	r.loader = l
}

// Policy returns the resolver policy
func (r *Resolver) Policy() Policy {
	return r.policy
}

// Loads returns how many module handles have actually been loaded
func (r *Resolver) Loads() int64 {
	return r.loads.Load()
}

// Validate checks every dependency against the policy and returns the first
// violation as a DependencyResolutionError
func (r *Resolver) Validate(deps []skill.Dependency) error {
	for _, d := range deps {
		if err := r.check(d); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) check(d skill.Dependency) error {
	category := d.Category
	if category == "" {
		category = Classify(d.Module)
	}

	switch category {
	case skill.CategoryRemote:
		return &skillerr.DependencyResolutionError{Module: d.Module, Reason: "remote modules are never allowed"}
	case skill.CategoryRelative:
		if !r.policy.AllowRelative {
			return &skillerr.DependencyResolutionError{Module: d.Module, Reason: "relative modules are not allowed"}
		}
		if r.policy.BaseDir == "" {
			return &skillerr.DependencyResolutionError{Module: d.Module, Reason: "relative modules require a base directory"}
		}
	case skill.CategoryBuiltin:
		if !r.builtins[BuiltinName(d.Module)] {
			return &skillerr.DependencyResolutionError{Module: d.Module, Reason: "builtin module is not in the allowed set"}
		}
	case skill.CategoryExternal:
		if r.policy.RestrictExternal && !r.external[d.Module] {
			return &skillerr.DependencyResolutionError{Module: d.Module, Reason: "external module is not in the allowed set"}
		}
	default:
		return &skillerr.DependencyResolutionError{Module: d.Module, Reason: fmt.Sprintf("unknown category %q", category)}
	}
	return nil
}

// Resolve validates dep and returns its module handle. Handles are memoised
// per import kind and module; concurrent loads of one key share a single load.
func (r *Resolver) Resolve(ctx context.Context, dep skill.Dependency) (Module, error) {
	if dep.Category == "" {
		dep.Category = Classify(dep.Module)
	}
	if err := r.check(dep); err != nil {
		return nil, err
	}

	key := dep.Key()
	r.mu.RLock()
	m, ok := r.modules[key]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	ch := r.group.DoChan(key, func() (interface{}, error) {
		r.mu.RLock()
		m, ok := r.modules[key]
		r.mu.RUnlock()
		if ok {
			return m, nil
		}

		m, err := r.load(ctx, dep)
		if err != nil {
			return nil, err
		}
		r.loads.Add(1)

		r.mu.Lock()
		r.modules[key] = m
		r.mu.Unlock()
		r.log.Debug("module resolved", zap.String("module", dep.Module), zap.String("category", string(dep.Category)))
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Module), nil
	}
}

// ForgetRelative drops memoised relative modules so the next resolve reads
// them from disk again. It returns how many handles were dropped.
func (r *Resolver) ForgetRelative() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, m := range r.modules {
		if _, ok := m.(*SourceModule); ok {
			delete(r.modules, key)
			n++
		}
	}
	return n
}

// ResolveAll resolves every dependency and indexes the handles by module name
func (r *Resolver) ResolveAll(ctx context.Context, deps []skill.Dependency) (map[string]Module, error) {
	out := make(map[string]Module, len(deps))
	for _, d := range deps {
		if _, ok := out[d.Module]; ok {
			continue
		}
		m, err := r.Resolve(ctx, d)
		if err != nil {
			return nil, err
		}
		out[d.Module] = m
	}
	return out, nil
}

func (r *Resolver) load(ctx context.Context, dep skill.Dependency) (Module, error) {
	switch dep.Category {
	case skill.CategoryBuiltin:
		name := BuiltinName(dep.Module)
		m, ok := builtinModules[name]
		if !ok {
			return nil, &skillerr.DependencyResolutionError{Module: dep.Module, Reason: "no sandbox implementation for builtin module"}
		}
		return m, nil
	case skill.CategoryRelative:
		return loadRelative(r.policy.BaseDir, dep.Module)
	case skill.CategoryExternal:
		if r.loader == nil {
			return nil, &skillerr.DependencyResolutionError{Module: dep.Module, Reason: "no loader configured for external modules"}
		}
		m, err := r.loader.Load(ctx, dep.Module)
		if err != nil {
			return nil, &skillerr.DependencyResolutionError{Module: dep.Module, Reason: err.Error()}
		}
		return m, nil
	}
	return nil, &skillerr.DependencyResolutionError{Module: dep.Module, Reason: "cannot load module"}
}
