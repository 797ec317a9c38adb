package sandbox

import (
	gopath "path"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// newRandomUUID backs the crypto.randomUUID capability.
func newRandomUUID() string {
	return uuid.NewString()
}

// eventsProgram implements a minimal EventEmitter. Kept in source form so
// every context instantiates its own copy; compiled once per process.
var eventsProgram = goja.MustCompile("node:events", `(function (module, exports) {
	class EventEmitter {
		constructor() { this._events = {}; }
		on(name, fn) {
			(this._events[name] = this._events[name] || []).push(fn);
			return this;
		}
		addListener(name, fn) { return this.on(name, fn); }
		once(name, fn) {
			const wrapped = (...args) => {
				this.off(name, wrapped);
				fn.apply(this, args);
			};
			return this.on(name, wrapped);
		}
		off(name, fn) {
			const listeners = this._events[name];
			if (listeners) {
				const index = listeners.indexOf(fn);
				if (index >= 0) listeners.splice(index, 1);
			}
			return this;
		}
		removeListener(name, fn) { return this.off(name, fn); }
		removeAllListeners(name) {
			if (name === undefined) this._events = {};
			else delete this._events[name];
			return this;
		}
		emit(name, ...args) {
			const listeners = (this._events[name] || []).slice();
			for (const fn of listeners) fn.apply(this, args);
			return listeners.length > 0;
		}
		listenerCount(name) { return (this._events[name] || []).length; }
	}
	module.exports = EventEmitter;
	module.exports.EventEmitter = EventEmitter;
	module.exports.default = EventEmitter;
})`, false)

// assertProgram implements the commonly used assert surface.
var assertProgram = goja.MustCompile("node:assert", `(function (module, exports) {
	function AssertionError(message) {
		const err = new Error(message);
		err.name = 'AssertionError';
		return err;
	}
	function assert(value, message) {
		if (!value) throw AssertionError(message || 'assertion failed');
	}
	assert.ok = assert;
	assert.equal = function (actual, expected, message) {
		if (actual != expected) throw AssertionError(message || actual + ' != ' + expected);
	};
	assert.notEqual = function (actual, expected, message) {
		if (actual == expected) throw AssertionError(message || actual + ' == ' + expected);
	};
	assert.strictEqual = function (actual, expected, message) {
		if (actual !== expected) throw AssertionError(message || actual + ' !== ' + expected);
	};
	assert.notStrictEqual = function (actual, expected, message) {
		if (actual === expected) throw AssertionError(message || actual + ' === ' + expected);
	};
	assert.fail = function (message) { throw AssertionError(message || 'failed'); };
	assert.throws = function (fn, message) {
		try { fn(); } catch (e) { return; }
		throw AssertionError(message || 'missing expected exception');
	};
	module.exports = assert;
	module.exports.default = assert;
})`, false)

// builtinModule returns the in-context value of a builtin module. Builtin
// names always load; what they expose is limited to host-independent
// functionality. Unimplemented builtins load as inert empty objects, so a
// package depending on one fails only when it actually touches a member.
func (ec *executionContext) builtinModule(name string) (goja.Value, error) {
	if v, ok := ec.builtins[name]; ok {
		return v, nil
	}

	var v goja.Value
	var err error
	switch name {
	case "path":
		v = ec.pathModule()
	case "util":
		v = ec.utilModule()
	case "os":
		v = ec.osModule()
	case "crypto":
		v = ec.cryptoModule()
	case "events":
		v, err = ec.runBuiltinProgram(eventsProgram)
	case "assert":
		v, err = ec.runBuiltinProgram(assertProgram)
	case "process":
		v = ec.vm.Get("process")
	case "console":
		v = ec.vm.Get("console")
	default:
		v = ec.vm.NewObject()
	}
	if err != nil {
		return nil, err
	}

	ec.builtins[name] = v
	return v, nil
}

// runBuiltinProgram instantiates one of the source-form builtins in this
// context.
func (ec *executionContext) runBuiltinProgram(prog *goja.Program) (goja.Value, error) {
	wrapperValue, err := ec.vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	wrapper, ok := goja.AssertFunction(wrapperValue)
	if !ok {
		return nil, moduleNotAvailable("builtin")
	}
	module := ec.vm.NewObject()
	exports := ec.vm.NewObject()
	_ = module.Set("exports", exports)
	if _, err := wrapper(goja.Undefined(), module, exports); err != nil {
		return nil, err
	}
	result := module.Get("exports")
	if result == nil {
		result = goja.Undefined()
	}
	return result, nil
}

// pathModule exposes slash-based path manipulation. Pure string work, no
// filesystem access.
func (ec *executionContext) pathModule() goja.Value {
	vm := ec.vm
	obj := vm.NewObject()

	_ = obj.Set("sep", "/")
	_ = obj.Set("join", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		return vm.ToValue(gopath.Join(parts...))
	})
	_ = obj.Set("resolve", func(call goja.FunctionCall) goja.Value {
		parts := []string{"/"}
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		return vm.ToValue(gopath.Join(parts...))
	})
	_ = obj.Set("normalize", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(gopath.Clean(call.Argument(0).String()))
	})
	_ = obj.Set("dirname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(gopath.Dir(call.Argument(0).String()))
	})
	_ = obj.Set("basename", func(call goja.FunctionCall) goja.Value {
		base := gopath.Base(call.Argument(0).String())
		if len(call.Arguments) > 1 {
			base = strings.TrimSuffix(base, call.Argument(1).String())
		}
		return vm.ToValue(base)
	})
	_ = obj.Set("extname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(gopath.Ext(call.Argument(0).String()))
	})
	_ = obj.Set("isAbsolute", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(gopath.IsAbs(call.Argument(0).String()))
	})
	return obj
}

// utilModule exposes format and inspect, both routed through the same
// rendering the console uses.
func (ec *executionContext) utilModule() goja.Value {
	vm := ec.vm
	obj := vm.NewObject()
	_ = obj.Set("format", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(ec.formatArgs(call.Arguments))
	})
	_ = obj.Set("inspect", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(ec.formatValue(call.Argument(0)))
	})
	return obj
}

// osModule reveals nothing about the host beyond fixed values.
func (ec *executionContext) osModule() goja.Value {
	vm := ec.vm
	obj := vm.NewObject()
	_ = obj.Set("EOL", "\n")
	_ = obj.Set("platform", func(goja.FunctionCall) goja.Value {
		return vm.ToValue("linux")
	})
	_ = obj.Set("type", func(goja.FunctionCall) goja.Value {
		return vm.ToValue("Linux")
	})
	return obj
}

func (ec *executionContext) cryptoModule() goja.Value {
	vm := ec.vm
	obj := vm.NewObject()
	_ = obj.Set("randomUUID", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(newRandomUUID())
	})
	return obj
}
