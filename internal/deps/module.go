package deps

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/hb-chen/skillexec/internal/audit"
	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skillerr"
)

// Module is a resolved dependency that can be installed into a VM
type Module interface {
	Name() string
	Exports(vm *goja.Runtime) (goja.Value, error)
}

// NativeModule is a module implemented in Go
type NativeModule struct {
	name    string
	install func(vm *goja.Runtime) *goja.Object
}

// NewNativeModule wraps a Go installer as a module, for use by ExternalLoaders
func NewNativeModule(name string, install func(vm *goja.Runtime) *goja.Object) *NativeModule {
	return &NativeModule{name: name, install: install}
}

func (m *NativeModule) Name() string { return m.name }

func (m *NativeModule) Exports(vm *goja.Runtime) (goja.Value, error) {
	return m.install(vm), nil
}

var builtinModules = map[string]Module{
	"path":   NewNativeModule("path", installPath),
	"util":   NewNativeModule("util", installUtil),
	"crypto": NewNativeModule("crypto", installCrypto),
}

func installPath(vm *goja.Runtime) *goja.Object {
	o := vm.NewObject()
	_ = o.Set("sep", "/")
	_ = o.Set("delimiter", ":")
	_ = o.Set("join", func(parts ...string) string { return path.Join(parts...) })
	_ = o.Set("resolve", func(parts ...string) string {
		resolved := "/"
		for _, p := range parts {
			if path.IsAbs(p) {
				resolved = p
			} else {
				resolved = path.Join(resolved, p)
			}
		}
		return path.Clean(resolved)
	})
	_ = o.Set("normalize", path.Clean)
	_ = o.Set("dirname", path.Dir)
	_ = o.Set("extname", path.Ext)
	_ = o.Set("isAbsolute", path.IsAbs)
	_ = o.Set("basename", func(p string, ext ...string) string {
		base := path.Base(p)
		if len(ext) > 0 && ext[0] != "" && ext[0] != base {
			base = strings.TrimSuffix(base, ext[0])
		}
		return base
	})
	return o
}

func installUtil(vm *goja.Runtime) *goja.Object {
	o := vm.NewObject()
	stringify := jsonStringify(vm)

	inspect := func(v goja.Value) string {
		if v == nil || goja.IsUndefined(v) {
			return "undefined"
		}
		if s, ok := v.Export().(string); ok {
			return s
		}
		out, err := stringify(goja.Undefined(), v)
		if err != nil || goja.IsUndefined(out) {
			return v.String()
		}
		return out.String()
	}

	_ = o.Set("inspect", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(inspect(call.Argument(0)))
	})
	_ = o.Set("format", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		format := call.Argument(0).String()
		args := call.Arguments[1:]
		var b strings.Builder
		for i := 0; i < len(format); i++ {
			c := format[i]
			if c != '%' || i+1 >= len(format) {
				b.WriteByte(c)
				continue
			}
			verb := format[i+1]
			if verb == '%' {
				b.WriteByte('%')
				i++
				continue
			}
			if len(args) == 0 || !strings.ContainsRune("sdifjoO", rune(verb)) {
				b.WriteByte(c)
				continue
			}
			arg := args[0]
			args = args[1:]
			i++
			switch verb {
			case 's':
				b.WriteString(arg.String())
			case 'd', 'i':
				b.WriteString(fmt.Sprint(arg.ToInteger()))
			case 'f':
				b.WriteString(arg.ToNumber().String())
			default:
				b.WriteString(inspect(arg))
			}
		}
		for _, a := range args {
			b.WriteByte(' ')
			b.WriteString(inspect(a))
		}
		return vm.ToValue(b.String())
	})
	return o
}

func newHash(alg string) (hash.Hash, bool) {
	switch strings.ToLower(alg) {
	case "sha256":
		return sha256.New(), true
	case "sha512":
		return sha512.New(), true
	case "sha1":
		return sha1.New(), true
	case "md5":
		return md5.New(), true
	}
	return nil, false
}

func installCrypto(vm *goja.Runtime) *goja.Object {
	o := vm.NewObject()
	_ = o.Set("randomUUID", func() string { return uuid.NewString() })
	_ = o.Set("createHash", func(call goja.FunctionCall) goja.Value {
		alg := call.Argument(0).String()
		h, ok := newHash(alg)
		if !ok {
			panic(vm.NewTypeError("Digest method not supported: %s", alg))
		}
		obj := vm.NewObject()
		_ = obj.Set("update", func(call goja.FunctionCall) goja.Value {
			h.Write([]byte(call.Argument(0).String()))
			return obj
		})
		_ = obj.Set("digest", func(call goja.FunctionCall) goja.Value {
			sum := h.Sum(nil)
			switch enc := call.Argument(0); {
			case goja.IsUndefined(enc), enc.String() == "hex":
				return vm.ToValue(hex.EncodeToString(sum))
			case enc.String() == "base64":
				return vm.ToValue(base64.StdEncoding.EncodeToString(sum))
			default:
				panic(vm.NewTypeError("unsupported digest encoding: %s", enc.String()))
			}
		})
		return obj
	})
	return o
}

func jsonStringify(vm *goja.Runtime) goja.Callable {
	stringify, _ := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	return stringify
}

// SourceModule is a CommonJS module read from the skill directory
type SourceModule struct {
	name    string
	path    string
	program *goja.Program
}

func (m *SourceModule) Name() string { return m.name }

// Path returns the file the module was read from
func (m *SourceModule) Path() string { return m.path }

// Exports evaluates the module body in vm and returns module.exports.
// Relative modules cannot require further modules.
func (m *SourceModule) Exports(vm *goja.Runtime) (goja.Value, error) {
	fnv, err := vm.RunProgram(m.program)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(fnv)
	if !ok {
		return nil, fmt.Errorf("module %s did not compile to a function", m.name)
	}

	module := vm.NewObject()
	exports := vm.NewObject()
	_ = module.Set("exports", exports)
	require := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		panic(vm.NewTypeError("require is not available inside %s", m.name))
	})

	if _, err := fn(goja.Undefined(), exports, require, module); err != nil {
		return nil, err
	}
	return module.Get("exports"), nil
}

// WrapCommonJS wraps source in the function scope CommonJS modules expect
func WrapCommonJS(source string) string {
	return "(function (exports, require, module) {\n" + source + "\n})"
}

func loadRelative(baseDir, module string) (Module, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, &skillerr.DependencyResolutionError{Module: module, Reason: err.Error()}
	}
	target := filepath.Join(base, filepath.FromSlash(strings.TrimPrefix(module, "/")))
	if !within(base, target) {
		return nil, &skillerr.DependencyResolutionError{Module: module, Reason: "path escapes the skill directory"}
	}

	file, err := findSource(target)
	if err != nil {
		return nil, &skillerr.DependencyResolutionError{Module: module, Reason: err.Error()}
	}

	// symlinks inside the skill directory must not lead out of it
	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return nil, &skillerr.DependencyResolutionError{Module: module, Reason: err.Error()}
	}
	realFile, err := filepath.EvalSymlinks(file)
	if err != nil {
		return nil, &skillerr.DependencyResolutionError{Module: module, Reason: err.Error()}
	}
	if !within(realBase, realFile) {
		return nil, &skillerr.DependencyResolutionError{Module: module, Reason: "path escapes the skill directory"}
	}

	data, err := os.ReadFile(realFile)
	if err != nil {
		return nil, &skillerr.DependencyResolutionError{Module: module, Reason: err.Error()}
	}
	source := string(data)

	for _, d := range Extract(source) {
		if d.ImportKind == skill.ImportStatic {
			return nil, &skillerr.DependencyResolutionError{Module: module, Reason: "ES module syntax is not supported, use CommonJS"}
		}
	}
	if issues := audit.ScanText(source); len(issues) > 0 {
		return nil, &skillerr.DependencyResolutionError{
			Module: module,
			Reason: fmt.Sprintf("module failed security scan: %s", issues[0].Code),
		}
	}

	program, err := goja.Compile(file, WrapCommonJS(source), true)
	if err != nil {
		return nil, &skillerr.DependencyResolutionError{Module: module, Reason: err.Error()}
	}
	return &SourceModule{name: module, path: file, program: program}, nil
}

func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func findSource(target string) (string, error) {
	switch filepath.Ext(target) {
	case ".js", ".cjs":
		if _, err := os.Stat(target); err != nil {
			return "", err
		}
		return target, nil
	case "":
	default:
		return "", fmt.Errorf("only CommonJS JavaScript modules can be loaded")
	}

	for _, candidate := range []string{target + ".js", target + ".cjs", filepath.Join(target, "index.js")} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("module file not found")
}
