// Package isolate implements the per-evaluation guest execution
// lifecycle: construct a fresh goja runtime, inject the fetch bridge and
// the shaped script, enforce the memory cap and wall-clock timeout, and
// always dispose the runtime on every exit path.
package isolate

import (
	"context"
	"fmt"
	"time"
	"unicode/utf16"

	"github.com/dop251/goja"

	"github.com/RyanPotat/eval-server/internal/debug"
	"github.com/RyanPotat/eval-server/internal/metrics"
	"github.com/RyanPotat/eval-server/internal/potatctx"
	"github.com/RyanPotat/eval-server/internal/sandbox/fetchbridge"
	"github.com/RyanPotat/eval-server/internal/sandbox/shaper"
)

const (
	memoryLimitBytes = 8 << 20 // 8 MiB
	wallClockBudget  = 5 * time.Second
	maxResultUnits   = 3000 // UTF-16 code units

	// timeoutInterruptReason is the value passed to vm.Interrupt when our
	// own watcher goroutine fires it. Any other interrupt reason
	// (goja's own memory-limit enforcement) is classified as catastrophic
	// instead of a timeout.
	timeoutInterruptReason = "execution timeout"
)

// Runner evaluates one snippet per call inside a fresh, disposable goja
// runtime. Runtimes are not pooled across evaluations: the Admission
// Queue already serializes execution to a single active isolate, and
// compilation caching across evaluations is an explicit non-goal, so
// pooling would only buy concurrency this service deliberately does not
// offer.
type Runner struct {
	bridge *fetchbridge.Bridge
}

// New builds a Runner that hands every evaluation's fetch calls to bridge.
func New(bridge *fetchbridge.Bridge) *Runner {
	return &Runner{bridge: bridge}
}

// Run evaluates code against msg and returns a result string bounded to
// 3000 UTF-16 units. It never returns a Go error: every guest-side or
// host-side failure is captured and turned into the "🚫 <Kind>: <message>"
// sentinel, per spec.md §4.4 and §7. evalID is used only for log
// correlation.
func (r *Runner) Run(ctx context.Context, evalID, code string, msg map[string]interface{}) string {
	start := time.Now()
	result, outcome := r.run(ctx, evalID, code, msg)
	elapsed := time.Since(start)
	debug.Eval(evalID, outcome, elapsed)
	metrics.RecordEvalDuration(float64(elapsed.Microseconds()) / 1000)
	return truncate(result, maxResultUnits)
}

func (r *Runner) run(ctx context.Context, evalID, code string, msg map[string]interface{}) (result, outcome string) {
	defer func() {
		if rec := recover(); rec != nil {
			result = sentinel(fmt.Sprintf("IsolateCatastrophic: %v", rec))
			outcome = "catastrophic"
		}
	}()

	potat := potatctx.FromMessage(msg)

	evalCtx, cancel := context.WithTimeout(ctx, wallClockBudget)
	defer cancel()

	vm := goja.New()
	vm.SetMemoryLimit(memoryLimitBytes)

	fetchbridge.Bind(vm, evalCtx, r.bridge, potat, evalID)

	script, err := shaper.Shape(code, msg)
	if err != nil {
		return sentinel(fmt.Sprintf("IsolateCatastrophic: %s", err.Error())), "catastrophic"
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-evalCtx.Done():
			vm.Interrupt(timeoutInterruptReason)
		case <-done:
		}
	}()
	defer func() {
		close(done)
		vm.ClearInterrupt()
	}()

	value, err := vm.RunString(script)
	if err != nil {
		kind, out := classifyError(err)
		return sentinel(kind), out
	}

	str, err := extractString(value)
	if err != nil {
		return sentinel(fmt.Sprintf("Error: %s", err.Error())), "guest-error"
	}
	return str, "ok"
}

// classifyError maps a RunString failure to the "<Kind>: <message>" text
// that follows the 🚫 sentinel prefix, matching the teacher's
// formatJSError classification of *goja.InterruptedError,
// *goja.CompilerSyntaxError, and *goja.Exception.
func classifyError(err error) (kind, outcome string) {
	switch e := err.(type) {
	case *goja.InterruptedError:
		reason := fmt.Sprintf("%v", e.Value())
		if reason == timeoutInterruptReason {
			return "Timeout: execution exceeded 5000ms", "timeout"
		}
		return fmt.Sprintf("IsolateCatastrophic: %s", reason), "catastrophic"
	case *goja.CompilerSyntaxError:
		return fmt.Sprintf("SyntaxError: %s", e.Error()), "guest-error"
	case *goja.Exception:
		return classifyException(e), "guest-error"
	default:
		return fmt.Sprintf("Error: %s", err.Error()), "guest-error"
	}
}

func classifyException(e *goja.Exception) string {
	val := e.Value()
	if obj, ok := val.(*goja.Object); ok {
		name := obj.Get("name")
		message := obj.Get("message")
		if name != nil && message != nil && !goja.IsUndefined(name) {
			return fmt.Sprintf("%s: %s", name.String(), message.String())
		}
	}
	return fmt.Sprintf("Error: %s", val.String())
}

// extractString resolves the final script value to a string. Shaped
// scripts always end in a call to the prelude's toString(), which for
// the async-wrap form returns a promise chained off the guest's async
// function; RunString/RunProgram drains goja's internal job queue before
// returning, so that promise is already settled by the time control
// reaches here.
func extractString(val goja.Value) (string, error) {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return "", nil
	}
	if p, ok := val.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return exportString(p.Result()), nil
		case goja.PromiseStateRejected:
			return "", fmt.Errorf("promise rejected: %s", exportString(p.Result()))
		default:
			return "", fmt.Errorf("promise did not settle")
		}
	}
	return exportString(val), nil
}

func exportString(val goja.Value) string {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return ""
	}
	exported := val.Export()
	if s, ok := exported.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", exported)
}

func sentinel(kindAndMessage string) string {
	return "🚫 " + kindAndMessage
}

// truncate bounds s to maxUnits UTF-16 code units, matching the
// reference implementation's truncation unit.
func truncate(s string, maxUnits int) string {
	units := utf16.Encode([]rune(s))
	if len(units) <= maxUnits {
		return s
	}
	return string(utf16.Decode(units[:maxUnits]))
}
