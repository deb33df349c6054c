package gateways

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ochairo/kiln/internal/domain/entities"
	"github.com/ochairo/kiln/internal/domain/interfaces"
)

// outputTailSize is how much of each stream is kept for error reports
const outputTailSize = 16 << 10

// CommandExecutor runs external tools (build system, archiver, git).
// Commands are bounded only by the caller's context unless a timeout is set.
type CommandExecutor struct {
	logger interfaces.Logger
	// Output receives live stdout/stderr of streamed commands. Nil disables streaming.
	Output io.Writer
}

// NewCommandExecutor creates a new command executor
func NewCommandExecutor(logger interfaces.Logger) *CommandExecutor {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &CommandExecutor{logger: logger}
}

// ExecuteConfig describes one external command invocation
type ExecuteConfig struct {
	Command     string
	Args        []string
	WorkingDir  string
	Env         map[string]string
	Timeout     time.Duration // zero means no deadline
	Description string
	Stream      bool // copy output to the executor's Output as it is produced
}

// ExecuteResult contains the result of command execution
type ExecuteResult struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error
}

// Execute runs a command with the given configuration
func (ce *CommandExecutor) Execute(ctx context.Context, config ExecuteConfig) *ExecuteResult {
	startTime := time.Now()
	result := &ExecuteResult{}

	timeout := config.Timeout
	execCtx, cancel := commandContext(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: tool invocation is controlled by the pipeline definition
	cmd := exec.CommandContext(execCtx, config.Command, config.Args...)
	if config.WorkingDir != "" {
		cmd.Dir = config.WorkingDir
	}
	cmd.Env = mergeEnv(os.Environ(), config.Env)

	stdout := &tailBuffer{limit: outputTailSize}
	stderr := &tailBuffer{limit: outputTailSize}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if config.Stream && ce.Output != nil {
		out := &lockedWriter{w: ce.Output}
		cmd.Stdout = io.MultiWriter(stdout, out)
		cmd.Stderr = io.MultiWriter(stderr, out)
	}

	ce.logger.Debug("executing command",
		interfaces.F("description", config.Description),
		interfaces.F("command", config.Command),
		interfaces.F("args", strings.Join(config.Args, " ")),
		interfaces.F("dir", config.WorkingDir))

	err := cmd.Run()
	result.Duration = time.Since(startTime)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err != nil {
		result.Error = err
		var exitErr *exec.ExitError
		//nolint:gocritic // ifElseChain: checking different error types, not suitable for switch
		if timeout > 0 && ctx.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			result.Error = fmt.Errorf("%s timed out after %v", config.Command, timeout)
			result.ExitCode = -1
		} else if ctx.Err() != nil {
			result.Error = fmt.Errorf("%s interrupted: %w", config.Command, ctx.Err())
			result.ExitCode = -1
		} else if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		return result
	}

	result.Success = true
	return result
}

// Run executes the command and turns a failed result into an error
func (ce *CommandExecutor) Run(ctx context.Context, config ExecuteConfig) error {
	result := ce.Execute(ctx, config)
	if result.Success {
		return nil
	}

	name := config.Description
	if name == "" {
		name = config.Command
	}
	if stderr := strings.TrimSpace(result.Stderr); stderr != "" {
		return fmt.Errorf("%s failed (exit %d): %w\nStderr: %s", name, result.ExitCode, result.Error, stderr)
	}
	return fmt.Errorf("%s failed (exit %d): %w", name, result.ExitCode, result.Error)
}

// RunBuild invokes the configured build tool inside sourceDir
func (ce *CommandExecutor) RunBuild(ctx context.Context, sourceDir string, build entities.BuildConfig) error {
	if build.Tool == "" {
		return errors.New("no build tool configured")
	}

	timeout := buildTimeout(build)

	ce.logger.Info("running build",
		interfaces.F("tool", build.Tool),
		interfaces.F("args", strings.Join(build.Args, " ")))

	result := ce.Execute(ctx, ExecuteConfig{
		Command:     build.Tool,
		Args:        build.Args,
		WorkingDir:  sourceDir,
		Env:         build.Env,
		Timeout:     timeout,
		Description: "build",
		Stream:      true,
	})
	if !result.Success {
		return fmt.Errorf("build failed (exit %d): %w\nStderr: %s",
			result.ExitCode, result.Error, strings.TrimSpace(result.Stderr))
	}

	ce.logger.Info("build completed", interfaces.F("duration", result.Duration.Round(time.Second)))
	return nil
}

// commandContext applies timeout on top of ctx; a zero timeout adds no deadline
func commandContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// buildTimeout is the opt-in limit from build.timeout_minutes
func buildTimeout(build entities.BuildConfig) time.Duration {
	if build.TimeoutMinutes <= 0 {
		return 0
	}
	return time.Duration(build.TimeoutMinutes) * time.Minute
}

// mergeEnv overlays extra on base, sorted for reproducible invocations
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[name]; !overridden {
			env = append(env, kv)
		}
	}
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// tailBuffer keeps only the last limit bytes written
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
