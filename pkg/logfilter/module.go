// Package logfilter runs user-provided JavaScript over service log lines.
// A script calls register({name, parse, filter?, transform?}); parse turns
// a raw line into an event-like object (or null to drop it), filter vetoes
// events, transform reshapes them.
package logfilter

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/dop251/goja"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoRegister = errors.New("logfilter: script did not call register()")
var ErrHookTimeout = errors.New("logfilter: js hook timeout")

type Module struct {
	vm         *goja.Runtime
	scriptPath string
	name       string

	parseFn     goja.Callable
	filterFn    goja.Callable
	transformFn goja.Callable

	hookTimeout time.Duration
	stats       Stats
}

type Options struct {
	HookTimeout time.Duration
}

func LoadFromFile(scriptPath string, opts Options) (*Module, error) {
	b, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, errors.Wrap(err, "read script")
	}

	m := &Module{
		vm:          goja.New(),
		scriptPath:  scriptPath,
		hookTimeout: opts.HookTimeout,
	}

	bridgeConsole(m.vm)

	var config *goja.Object
	if err := m.vm.Set("register", func(v goja.Value) error {
		if config != nil {
			return errors.New("register() called more than once")
		}
		if goja.IsNull(v) || goja.IsUndefined(v) {
			return errors.New("register(config) requires a config object")
		}
		config = v.ToObject(m.vm)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "set register")
	}

	if _, err := m.vm.RunScript("logfilter:helpers", helpersJS); err != nil {
		return nil, errors.Wrap(err, "load helpers")
	}
	if err := injectParseTimestamp(m.vm); err != nil {
		return nil, err
	}

	prog, err := goja.Compile(scriptPath, string(b), false)
	if err != nil {
		return nil, errors.Wrap(err, "compile script")
	}
	if _, err := m.vm.RunProgram(prog); err != nil {
		return nil, errors.Wrap(err, "run script")
	}

	if config == nil {
		return nil, ErrNoRegister
	}

	nameVal := config.Get("name")
	if isNullish(nameVal) || strings.TrimSpace(nameVal.String()) == "" {
		return nil, errors.New("register({ name: string, ... }): name is required")
	}
	m.name = nameVal.String()

	parseFn, ok := goja.AssertFunction(config.Get("parse"))
	if !ok {
		return nil, errors.New("register({ parse: function(line, ctx), ... }): parse is required")
	}
	m.parseFn = parseFn

	if fn, ok := goja.AssertFunction(config.Get("filter")); ok {
		m.filterFn = fn
	}
	if fn, ok := goja.AssertFunction(config.Get("transform")); ok {
		m.transformFn = fn
	}

	return m, nil
}

func (m *Module) Name() string { return m.name }

func (m *Module) Stats() Stats { return m.stats }

// ProcessLine runs one log line through parse -> filter -> transform.
// A nil event with nil error means the line was dropped.
func (m *Module) ProcessLine(line, source string, lineNumber int64) (*Event, error) {
	m.stats.LinesProcessed++
	trimmed := strings.TrimRight(line, "\r\n")

	ctxObj := m.vm.NewObject()
	_ = ctxObj.Set("source", source)
	_ = ctxObj.Set("lineNumber", lineNumber)

	out, err := m.callHook(m.parseFn, m.vm.ToValue(trimmed), ctxObj)
	if err != nil {
		m.stats.HookErrors++
		return nil, errors.Wrap(err, "parse hook")
	}
	if isNullish(out) {
		m.stats.LinesDropped++
		return nil, nil
	}

	if m.filterFn != nil {
		keep, err := m.callHook(m.filterFn, out, ctxObj)
		if err != nil {
			m.stats.HookErrors++
			return nil, errors.Wrap(err, "filter hook")
		}
		if !keep.ToBoolean() {
			m.stats.LinesDropped++
			return nil, nil
		}
	}

	if m.transformFn != nil {
		out, err = m.callHook(m.transformFn, out, ctxObj)
		if err != nil {
			m.stats.HookErrors++
			return nil, errors.Wrap(err, "transform hook")
		}
		if isNullish(out) {
			m.stats.LinesDropped++
			return nil, nil
		}
	}

	ev, err := m.normalizeEvent(out, source, trimmed, lineNumber)
	if err != nil {
		m.stats.HookErrors++
		return nil, err
	}
	m.stats.EventsEmitted++
	return ev, nil
}

func (m *Module) callHook(fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	if m.hookTimeout > 0 {
		timer := time.AfterFunc(m.hookTimeout, func() {
			m.vm.Interrupt(ErrHookTimeout)
		})
		defer timer.Stop()
		defer m.vm.ClearInterrupt()
	}
	return fn(goja.Undefined(), args...)
}

func (m *Module) normalizeEvent(v goja.Value, source, raw string, lineNumber int64) (*Event, error) {
	// Shorthand: a bare string becomes {message: "..."}.
	if s, ok := v.Export().(string); ok {
		return &Event{Level: "info", Message: s, Source: source, Raw: raw, LineNumber: lineNumber}, nil
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, errors.Errorf("event must be an object or string, got %T", v.Export())
	}

	ev := &Event{Level: "info", Source: source, Raw: raw, LineNumber: lineNumber}

	if mv := obj.Get("message"); !isNullish(mv) {
		ev.Message = mv.String()
	}
	if lv := obj.Get("level"); !isNullish(lv) {
		ev.Level = strings.ToLower(lv.String())
	}
	if tv := obj.Get("timestamp"); !isNullish(tv) {
		ts := timestampString(tv)
		if ts != "" {
			ev.Timestamp = &ts
		}
	}
	if fv := obj.Get("fields"); !isNullish(fv) {
		if fields, ok := fv.Export().(map[string]any); ok {
			ev.Fields = fields
		}
	}
	return ev, nil
}

// timestampString renders a JS Date or string timestamp as RFC3339.
func timestampString(v goja.Value) string {
	switch vv := v.Export().(type) {
	case time.Time:
		return vv.UTC().Format(time.RFC3339Nano)
	case string:
		if t, err := dateparse.ParseAny(vv); err == nil {
			return t.UTC().Format(time.RFC3339Nano)
		}
		return vv
	default:
		return ""
	}
}

// ParsedTimestamp returns the event timestamp as a time.Time when present
// and parseable.
func (e *Event) ParsedTimestamp() (time.Time, bool) {
	if e == nil || e.Timestamp == nil {
		return time.Time{}, false
	}
	t, err := dateparse.ParseAny(*e.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// JSON renders the event as a single JSON line.
func (e *Event) JSON() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", errors.Wrap(err, "marshal event")
	}
	return string(b), nil
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsNull(v) || goja.IsUndefined(v)
}

func bridgeConsole(vm *goja.Runtime) {
	obj := vm.NewObject()

	write := func(level func() *zerolog.Event) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, a := range call.Arguments {
				parts = append(parts, a.String())
			}
			level().Str("origin", "script").Msg(strings.Join(parts, " "))
			return goja.Undefined()
		}
	}

	_ = obj.Set("log", write(log.Debug))
	_ = obj.Set("warn", write(log.Warn))
	_ = obj.Set("error", write(log.Error))
	_ = vm.Set("console", obj)
}

func injectParseTimestamp(vm *goja.Runtime) error {
	logVal := vm.Get("log")
	if isNullish(logVal) {
		return errors.New("logfilter: helpers did not define globalThis.log")
	}
	logObj := logVal.ToObject(vm)

	// log.parseTimestamp(value) -> Date or null, best-effort via dateparse.
	return errors.Wrap(logObj.Set("parseTimestamp", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 || isNullish(call.Arguments[0]) {
			return goja.Null()
		}
		s := strings.TrimSpace(call.Arguments[0].String())
		if s == "" {
			return goja.Null()
		}
		t, err := dateparse.ParseAny(s)
		if err != nil {
			return goja.Null()
		}
		ctor := vm.Get("Date")
		o, err := vm.New(ctor, vm.ToValue(t.UnixMilli()))
		if err != nil {
			return goja.Null()
		}
		return o
	}), "set parseTimestamp")
}
