package runner

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

// Runtime identifiers accepted by Run.
const (
	RuntimeJS = "js"
	RuntimePy = "py"
)

const (
	minTimeout     = 5 * time.Second
	defaultTimeout = 10 * time.Second
	outputCap      = 1 << 20 // 1 MiB per stream
	testArg        = "2"
)

type Options struct {
	NodeBin   string
	PythonBin string
	Timeout   time.Duration
}

// Runner executes generated server programs in a scrubbed subprocess and
// validates their output against the QuizData contract.
type Runner struct {
	log       *logger.Logger
	nodeBin   string
	pythonBin string
	timeout   time.Duration
}

func New(log *logger.Logger, opts Options) *Runner {
	nodeBin := opts.NodeBin
	if nodeBin == "" {
		nodeBin = "node"
	}
	pythonBin := opts.PythonBin
	if pythonBin == "" {
		pythonBin = "python3"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout < minTimeout {
		timeout = minTimeout
	}
	return &Runner{
		log:       log.With("component", "ProgramRunner"),
		nodeBin:   nodeBin,
		pythonBin: pythonBin,
		timeout:   timeout,
	}
}

// NormalizeRuntime maps user-facing runtime spellings onto RuntimeJS or
// RuntimePy. Unknown spellings return an empty string.
func NormalizeRuntime(rt string) string {
	switch strings.ToLower(strings.TrimSpace(rt)) {
	case "js", "j", "javascript", "node":
		return RuntimeJS
	case "py", "p", "python", "python3":
		return RuntimePy
	default:
		return ""
	}
}

func fail(status int, format string, args ...any) types.RunResult {
	return types.RunResult{Success: false, Error: fmt.Sprintf(format, args...), HTTPStatus: status}
}

// Run executes the server program at programPath under the named runtime.
// Errors are encoded in the envelope rather than returned; only the caller's
// context error escapes as a 504/500 style envelope too.
func (r *Runner) Run(ctx context.Context, programPath, rt string, isTesting bool) types.RunResult {
	runtime := NormalizeRuntime(rt)
	if runtime == "" {
		return fail(http.StatusUnsupportedMediaType, "unsupported runtime %q", rt)
	}

	abs, err := filepath.Abs(programPath)
	if err != nil {
		return fail(http.StatusBadRequest, "invalid program path: %v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fail(http.StatusNotFound, "program not found: %s", abs)
	}
	if !info.Mode().IsRegular() {
		return fail(http.StatusBadRequest, "program is not a regular file: %s", abs)
	}

	ext := strings.ToLower(filepath.Ext(abs))
	var bin, flag, harness string
	switch runtime {
	case RuntimeJS:
		if ext != ".js" {
			return fail(http.StatusUnsupportedMediaType, "runtime %s cannot run %s", runtime, ext)
		}
		bin, flag, harness = r.nodeBin, "-e", jsHarness
	case RuntimePy:
		if ext != ".py" {
			return fail(http.StatusUnsupportedMediaType, "runtime %s cannot run %s", runtime, ext)
		}
		bin, flag, harness = r.pythonBin, "-c", pyHarness
	}
	binPath, err := exec.LookPath(bin)
	if err != nil {
		return fail(http.StatusFailedDependency, "runtime binary %q not installed", bin)
	}

	scratch, err := os.MkdirTemp("", "qrun-*")
	if err != nil {
		return fail(http.StatusInternalServerError, "scratch dir: %v", err)
	}
	defer os.RemoveAll(scratch)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{flag, harness, abs}
	if isTesting {
		args = append(args, testArg)
	}
	cmd := exec.CommandContext(runCtx, binPath, args...)
	cmd.Dir = scratch
	cmd.Env = scrubEnv(scratch)

	stdout := &cappedBuffer{cap: outputCap}
	stderr := &cappedBuffer{cap: outputCap}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		r.log.Warn("Program timed out", "path", abs, "runtime", runtime, "timeout", r.timeout.String())
		return fail(http.StatusGatewayTimeout, "program exceeded %s timeout", r.timeout)
	}
	if ctx.Err() != nil {
		return fail(http.StatusInternalServerError, "run canceled: %v", ctx.Err())
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return fail(http.StatusInternalServerError, "program error: %s", msg)
	}

	rawJSON, logs, ok := splitSentinel(stdout.String())
	if !ok {
		return fail(http.StatusInternalServerError, "program produced no result payload")
	}

	qd, err := types.CoerceQuizData([]byte(rawJSON))
	if err != nil {
		return fail(http.StatusUnprocessableEntity, "invalid quiz data: %v", err)
	}
	if len(logs) > 0 {
		qd.Logs = append(logs, qd.Logs...)
	}

	if isTesting && !qd.TestResults.Passed() {
		msg := "self-test failed"
		if qd.TestResults != nil && qd.TestResults.Message != "" {
			msg = qd.TestResults.Message
		}
		return types.RunResult{
			Success:      false,
			Error:        msg,
			HTTPStatus:   http.StatusOK,
			QuizResponse: qd,
		}
	}

	r.log.Debug("Program run complete", "path", abs, "runtime", runtime, "elapsed", elapsed.String())
	return types.RunResult{Success: true, HTTPStatus: http.StatusOK, QuizResponse: qd}
}

// scrubEnv drops every inherited variable except PATH and locale so the
// child sees no credentials.
func scrubEnv(scratch string) []string {
	env := []string{"HOME=" + scratch, "TMPDIR=" + scratch}
	for _, key := range []string{"PATH", "LANG", "LC_ALL"} {
		if v := os.Getenv(key); v != "" {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// splitSentinel separates the harness result payload from ordinary stdout.
// Lines printed before the sentinel become logs.
func splitSentinel(out string) (rawJSON string, logs []string, ok bool) {
	first := strings.Index(out, resultSentinel)
	if first < 0 {
		return "", nil, false
	}
	rest := out[first+len(resultSentinel):]
	second := strings.Index(rest, resultSentinel)
	if second < 0 {
		return "", nil, false
	}
	rawJSON = rest[:second]

	prefix := strings.TrimRight(out[:first], "\n")
	if prefix != "" {
		for _, line := range strings.Split(prefix, "\n") {
			if strings.TrimSpace(line) != "" {
				logs = append(logs, line)
			}
		}
	}
	return rawJSON, logs, true
}

// cappedBuffer stops retaining bytes past cap. Truncation is recorded so
// diagnostics stay honest.
type cappedBuffer struct {
	buf       bytes.Buffer
	cap       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	remain := b.cap - b.buf.Len()
	if remain <= 0 {
		b.truncated = true
		return n, nil
	}
	if len(p) > remain {
		b.truncated = true
		p = p[:remain]
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
