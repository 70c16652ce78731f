package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/hb-chen/skillexec/internal/audit"
	"github.com/hb-chen/skillexec/internal/skill"
)

const (
	maxLogEntries = 1000
	maxTimers     = 1000
)

// LogEntry is one console call made by a skill
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// hardening replaces the Function constructor, including the ones reachable
// through plain, async, generator and async generator function prototypes,
// and removes eval
var hardening = goja.MustCompile("hardening.js", `(function (blocked) {
	Object.defineProperty(blocked, "prototype", { value: Function.prototype });
	Object.defineProperty(Function.prototype, "constructor", { value: blocked });
	Object.defineProperty(Object.getPrototypeOf(async function () {}), "constructor", { value: blocked });
	Object.defineProperty(Object.getPrototypeOf(function* () {}), "constructor", { value: blocked });
	try {
		Object.defineProperty(Object.getPrototypeOf(eval("(async function* () {})")), "constructor", { value: blocked });
	} catch (e) {
		// no async generators in this runtime
	}
	globalThis.Function = blocked;
	delete globalThis.eval;
})`, true)

func (r *run) harden() error {
	fnv, err := r.vm.RunProgram(hardening)
	if err != nil {
		return err
	}
	fn, _ := goja.AssertFunction(fnv)
	blocked := r.vm.ToValue(func(goja.FunctionCall) goja.Value {
		r.record(audit.CodeFunctionConstructor, skill.RiskHigh, "Function constructor called at runtime", "")
		panic(r.vm.NewTypeError("code generation from strings is disabled"))
	})
	_, err = fn(goja.Undefined(), blocked)
	return err
}

// fromJSON rebuilds v inside the VM as plain JS data
func (r *run) fromJSON(v any) (goja.Value, error) {
	if v == nil {
		return r.vm.NewObject(), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	parse, _ := goja.AssertFunction(r.vm.Get("JSON").ToObject(r.vm).Get("parse"))
	return parse(goja.Undefined(), r.vm.ToValue(string(data)))
}

// toGo normalises a JS value to plain Go data through JSON
func (r *run) toGo(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	stringify, _ := goja.AssertFunction(r.vm.Get("JSON").ToObject(r.vm).Get("stringify"))
	s, err := stringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(s) {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal([]byte(s.String()), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *run) installGlobals() error {
	args, err := r.fromJSON(r.opts.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	ctxv, err := r.fromJSON(r.opts.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	r.args, r.context = args, ctxv

	if err := r.vm.Set("args", args); err != nil {
		return err
	}
	if err := r.vm.Set("context", ctxv); err != nil {
		return err
	}
	if err := r.vm.Set("console", r.console()); err != nil {
		return err
	}
	if r.opts.Profile == ProfileReduced {
		return nil
	}

	env, err := r.fromJSON(r.ectx.env)
	if err != nil {
		return fmt.Errorf("encode env: %w", err)
	}
	freeze, _ := goja.AssertFunction(r.vm.Get("Object").ToObject(r.vm).Get("freeze"))
	if env, err = freeze(goja.Undefined(), env); err != nil {
		return err
	}
	if err := r.vm.Set("env", env); err != nil {
		return err
	}

	set := func(repeat bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			return r.vm.ToValue(r.schedule(call, repeat))
		}
	}
	cancel := func(call goja.FunctionCall) goja.Value {
		r.timers.cancel(call.Argument(0).ToInteger())
		return goja.Undefined()
	}
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":    set(false),
		"setInterval":   set(true),
		"clearTimeout":  cancel,
		"clearInterval": cancel,
	} {
		if err := r.vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) console() *goja.Object {
	c := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		_ = c.Set(level, func(call goja.FunctionCall) goja.Value {
			r.appendLog(level, call.Arguments)
			return goja.Undefined()
		})
	}
	return c
}

func (r *run) appendLog(level string, args []goja.Value) {
	if len(r.logs) >= maxLogEntries {
		return
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, r.format(a))
	}
	entry := LogEntry{Level: level, Message: strings.Join(parts, " "), Time: time.Now()}
	r.logs = append(r.logs, entry)
	r.log.Debug(entry.Message)
}

func (r *run) format(v goja.Value) string {
	if _, ok := v.Export().(string); ok {
		return v.String()
	}
	if o, ok := v.(*goja.Object); ok && o.ClassName() != "Error" {
		if _, isFn := goja.AssertFunction(o); !isFn {
			stringify, _ := goja.AssertFunction(r.vm.Get("JSON").ToObject(r.vm).Get("stringify"))
			if s, err := stringify(goja.Undefined(), o); err == nil && !goja.IsUndefined(s) {
				return s.String()
			}
		}
	}
	return v.String()
}

func (r *run) schedule(call goja.FunctionCall, repeat bool) int64 {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		r.record(audit.CodeStringTimer, skill.RiskMedium, "timer called with a non-function callback", call.Argument(0).String())
		panic(r.vm.NewTypeError("timer callback must be a function"))
	}
	if r.timers.len() >= maxTimers {
		panic(r.vm.NewTypeError("too many pending timers"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	var extra []goja.Value
	if len(call.Arguments) > 2 {
		extra = append(extra, call.Arguments[2:]...)
	}
	return r.timers.add(fn, delay, repeat, extra)
}

// require hands out the dependencies resolved before execution and nothing else
func (r *run) require(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	if r.opts.Profile == ProfileReduced {
		panic(r.vm.NewTypeError("require is not available"))
	}
	if v, ok := r.required[name]; ok {
		return v
	}
	mod, ok := r.opts.Modules[name]
	if !ok {
		r.record(audit.CodeUndeclaredRequire, skill.RiskMedium, "require of a module that was not resolved before execution", name)
		panic(r.vm.NewTypeError("cannot find module '%s'", name))
	}
	exports, err := mod.Exports(r.vm)
	if err != nil {
		panic(r.vm.NewGoError(fmt.Errorf("load module %s: %w", name, err)))
	}
	r.required[name] = exports
	return exports
}

// record notes a runtime security event once per code
func (r *run) record(code string, level skill.RiskLevel, message, detail string) {
	for _, issue := range r.issues {
		if issue.Code == code {
			return
		}
	}
	if len(detail) > 80 {
		detail = detail[:80] + "..."
	}
	r.issues = append(r.issues, skill.SecurityIssue{Level: level, Code: code, Message: message, Snippet: detail})
}
