package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// maxCallStackSize limits the interpreter call stack depth to prevent stack
// overflow attacks.
const maxCallStackSize = 2048

// executionContext is the isolated scope one execution runs in. It is
// disposable: a fresh interpreter is built per call and never retained, so
// nothing a script does to its globals survives into the next execution.
// The only reachable capabilities are the ones bound here.
type executionContext struct {
	sb      *Sandbox
	vm      *goja.Runtime
	tracker *OutputTracker
	timers  *timerQueue

	// interrupted is closed by the deadline watchdog; timer waits select on
	// it so a hung sleep ends with the execution.
	interrupted chan struct{}

	// modules caches evaluated module values for this execution only; values
	// belong to this interpreter and must not outlive it.
	modules  map[string]goja.Value
	builtins map[string]goja.Value

	stringify goja.Callable
}

// newContext builds a fresh isolated interpreter bound to one output
// tracker.
func (s *Sandbox) newContext(tracker *OutputTracker) *executionContext {
	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)

	ec := &executionContext{
		sb:          s,
		vm:          vm,
		tracker:     tracker,
		timers:      newTimerQueue(),
		interrupted: make(chan struct{}),
		modules:     make(map[string]goja.Value),
		builtins:    make(map[string]goja.Value),
	}

	ec.harden()
	ec.bindCapabilities()
	return ec
}

// harden disables interpreter features that would let scripts manufacture
// code outside the transformed source.
func (ec *executionContext) harden() {
	_ = ec.vm.Set("eval", goja.Undefined())
	_, _ = ec.vm.RunString(`(function() {
		try {
			Object.defineProperty(Function.prototype, 'constructor', {
				value: function() { throw new TypeError('Function constructor is disabled'); },
				writable: false,
				configurable: false
			});
		} catch (e) {}
	})();`)
}

// bindCapabilities injects the explicit capability set: a leveled console
// and stream stand-ins routed through the output tracker, timer primitives,
// the mediated require function, a crypto.randomUUID shim and CommonJS
// scaffolding. Nothing else reaches the host.
func (ec *executionContext) bindCapabilities() {
	vm := ec.vm

	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		ec.tracker.Append(ec.formatArgs(call.Arguments))
		return goja.Undefined()
	}
	for _, level := range []string{"log", "info", "warn", "error", "debug", "trace"} {
		_ = console.Set(level, logFn)
	}
	_ = vm.Set("console", console)

	writeFn := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			ec.tracker.Write(call.Argument(0).String())
		}
		return vm.ToValue(true)
	}
	stdout := vm.NewObject()
	_ = stdout.Set("write", writeFn)
	stderr := vm.NewObject()
	_ = stderr.Set("write", writeFn)
	process := vm.NewObject()
	_ = process.Set("stdout", stdout)
	_ = process.Set("stderr", stderr)
	_ = process.Set("env", vm.NewObject())
	_ = process.Set("platform", "linux")
	_ = vm.Set("process", process)

	_ = vm.Set("setTimeout", ec.scheduleFunc(false))
	_ = vm.Set("setInterval", ec.scheduleFunc(true))
	_ = vm.Set("setImmediate", ec.scheduleFunc(false))
	_ = vm.Set("clearTimeout", ec.clearTimer)
	_ = vm.Set("clearInterval", ec.clearTimer)

	_ = vm.Set("require", func(call goja.FunctionCall) goja.Value {
		ref, ok := call.Argument(0).Export().(string)
		if !ok {
			panic(vm.NewGoError(moduleNotAvailable("")))
		}
		v, err := ec.requireRoot(ref)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return v
	})

	crypto := vm.NewObject()
	_ = crypto.Set("randomUUID", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(newRandomUUID())
	})
	_ = vm.Set("crypto", crypto)

	// CommonJS scaffolding for the transformed script body.
	module := vm.NewObject()
	exports := vm.NewObject()
	_ = module.Set("exports", exports)
	_ = vm.Set("module", module)
	_ = vm.Set("exports", exports)
}

func (ec *executionContext) scheduleFunc(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(ec.vm.NewTypeError("timer callback must be a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		if delay < 0 {
			delay = 0
		}
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = call.Arguments[2:]
		}
		return ec.vm.ToValue(ec.timers.schedule(fn, delay, repeat, args))
	}
}

func (ec *executionContext) clearTimer(call goja.FunctionCall) goja.Value {
	ec.timers.clear(call.Argument(0).ToInteger())
	return goja.Undefined()
}

// requireRoot mediates module loads made by the submitted script itself:
// classification, cache, then a real synchronous load.
func (ec *executionContext) requireRoot(ref string) (goja.Value, error) {
	switch classify(ref, ec.sb.allowed) {
	case moduleBuiltin:
		return ec.builtinModule(strings.TrimPrefix(ref, builtinScheme))
	case moduleAllowed:
		path := resolveInstalled(ec.sb.baseDir, ref)
		if path == "" {
			return nil, moduleNotAvailable(ref)
		}
		return ec.loadFile(path)
	default:
		return nil, moduleNotAvailable(ref)
	}
}

// requireFrom mediates module loads made from inside an installed package.
// Relative references resolve against the requiring file's directory but may
// never escape the installation base. Bare references resolve against the
// installed tree without the allowlist: which packages exist on disk is
// controlled by the installer, not by submitted code.
func (ec *executionContext) requireFrom(dir, ref string) (goja.Value, error) {
	if ref == "" {
		return nil, moduleNotAvailable(ref)
	}

	if strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") || ref == "." || ref == ".." {
		target := filepath.Join(dir, filepath.FromSlash(ref))
		if !within(ec.sb.baseDir, target) {
			return nil, moduleNotAvailable(ref)
		}
		path := resolveFile(target)
		if path == "" {
			return nil, moduleNotAvailable(ref)
		}
		return ec.loadFile(path)
	}

	stripped := strings.TrimPrefix(ref, builtinScheme)
	if builtinModules[stripped] || builtinModules[topLevelPackage(stripped)] {
		return ec.builtinModule(stripped)
	}

	if isPathLike(ref) {
		return nil, moduleNotAvailable(ref)
	}

	path := resolveInstalled(ec.sb.baseDir, ref)
	if path == "" {
		return nil, moduleNotAvailable(ref)
	}
	return ec.loadFile(path)
}

// moduleRequire builds the require function handed to an installed module,
// bound to that module's directory.
func (ec *executionContext) moduleRequire(dir string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		ref, _ := call.Argument(0).Export().(string)
		v, err := ec.requireFrom(dir, ref)
		if err != nil {
			panic(ec.vm.NewGoError(err))
		}
		return v
	}
}

// loadFile evaluates a module file in this context, caching its exports for
// the lifetime of the execution. The compiled program comes from the shared
// sandbox cache; the evaluated value never leaves this interpreter.
func (ec *executionContext) loadFile(path string) (goja.Value, error) {
	if v, ok := ec.modules[path]; ok {
		return v, nil
	}

	if strings.HasSuffix(path, ".json") {
		return ec.loadJSON(path)
	}

	prog, err := ec.sb.compileModule(path)
	if err != nil {
		ec.sb.logger.Debug("module load failed", zap.String("path", path), zap.Error(err))
		return nil, moduleNotAvailable(path)
	}

	wrapperValue, err := ec.vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	wrapper, ok := goja.AssertFunction(wrapperValue)
	if !ok {
		return nil, moduleNotAvailable(path)
	}

	module := ec.vm.NewObject()
	exports := ec.vm.NewObject()
	_ = module.Set("exports", exports)

	// Registered before evaluation so require cycles observe the partial
	// exports instead of recursing forever.
	ec.modules[path] = exports

	dir := filepath.Dir(path)
	_, err = wrapper(goja.Undefined(),
		module,
		exports,
		ec.vm.ToValue(ec.moduleRequire(dir)),
		ec.vm.ToValue(path),
		ec.vm.ToValue(dir),
	)
	if err != nil {
		delete(ec.modules, path)
		return nil, err
	}

	result := module.Get("exports")
	if result == nil {
		result = goja.Undefined()
	}
	ec.modules[path] = result
	return result, nil
}

// loadJSON evaluates a .json module to its parsed value.
func (ec *executionContext) loadJSON(path string) (goja.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, moduleNotAvailable(path)
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, moduleNotAvailable(path)
	}
	v := ec.vm.ToValue(parsed)
	ec.modules[path] = v
	return v, nil
}

// formatArgs renders console arguments to one output line. A leading format
// string gets printf-style substitution; everything else is rendered and
// joined with spaces.
func (ec *executionContext) formatArgs(args []goja.Value) string {
	if len(args) == 0 {
		return ""
	}
	if format, ok := args[0].Export().(string); ok && strings.ContainsRune(format, '%') {
		return ec.formatWithVerbs(format, args[1:])
	}
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = ec.formatValue(arg)
	}
	return strings.Join(parts, " ")
}

func (ec *executionContext) formatWithVerbs(format string, rest []goja.Value) string {
	var b strings.Builder
	next := 0
	for pos := 0; pos < len(format); pos++ {
		c := format[pos]
		if c != '%' || pos+1 >= len(format) {
			b.WriteByte(c)
			continue
		}
		verb := format[pos+1]
		switch verb {
		case '%':
			b.WriteByte('%')
			pos++
		case 's', 'd', 'i', 'f', 'j', 'o', 'O':
			if next >= len(rest) {
				b.WriteByte(c)
				continue
			}
			b.WriteString(ec.formatVerb(verb, rest[next]))
			next++
			pos++
		default:
			b.WriteByte(c)
		}
	}
	for ; next < len(rest); next++ {
		b.WriteByte(' ')
		b.WriteString(ec.formatValue(rest[next]))
	}
	return b.String()
}

func (ec *executionContext) formatVerb(verb byte, v goja.Value) string {
	switch verb {
	case 'd', 'i':
		return strconv.FormatInt(v.ToInteger(), 10)
	case 'f':
		return strconv.FormatFloat(v.ToFloat(), 'g', -1, 64)
	case 'j':
		if s, ok := ec.jsonStringify(v); ok {
			return s
		}
		return v.String()
	default:
		return ec.formatValue(v)
	}
}

// formatValue renders a single value the way the console shows it: strings
// raw, errors by their message, plain objects and arrays as JSON, everything
// else via its string conversion.
func (ec *executionContext) formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if s, ok := v.Export().(string); ok {
		return s
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); !isFn && !isErrorLike(obj) {
			if s, ok := ec.jsonStringify(obj); ok {
				return s
			}
		}
	}
	return v.String()
}

func isErrorLike(obj *goja.Object) bool {
	msg := obj.Get("message")
	stack := obj.Get("stack")
	return msg != nil && !goja.IsUndefined(msg) && stack != nil && !goja.IsUndefined(stack)
}

func (ec *executionContext) jsonStringify(v goja.Value) (string, bool) {
	if ec.stringify == nil {
		jsonObj, ok := ec.vm.Get("JSON").(*goja.Object)
		if !ok {
			return "", false
		}
		fn, ok := goja.AssertFunction(jsonObj.Get("stringify"))
		if !ok {
			return "", false
		}
		ec.stringify = fn
	}
	res, err := ec.stringify(goja.Undefined(), v)
	if err != nil || res == nil || goja.IsUndefined(res) {
		return "", false
	}
	return res.String(), true
}
