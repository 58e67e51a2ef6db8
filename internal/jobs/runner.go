package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	logx "taskq/pkg/logx"
)

const (
	defaultMaxOutput = 4 << 10
	killGrace        = 5 * time.Second
)

// Command is what a job executes.
type Command struct {
	Args  []string
	Shell bool // Args[0] is passed to "sh -c"
	Dir   string
	Env   map[string]string
}

// Output is the bounded tail of a command's combined stdout and stderr.
type Output struct {
	Tail      string
	Truncated bool
	ExitCode  int
}

// Runner executes job commands.
type Runner struct {
	log       logx.Logger
	maxOutput int
}

func NewRunner(log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{log: log, maxOutput: defaultMaxOutput}
}

// Run executes cmd and waits for it. A cancelled or expired ctx kills the
// process; the returned error then wraps ctx.Err().
func (r *Runner) Run(ctx context.Context, name string, cmd Command) (Output, error) {
	if len(cmd.Args) == 0 || strings.TrimSpace(cmd.Args[0]) == "" {
		return Output{}, fmt.Errorf("%s: empty command", name)
	}

	var c *exec.Cmd
	if cmd.Shell {
		c = exec.CommandContext(ctx, "/bin/sh", "-c", cmd.Args[0])
	} else {
		c = exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	}
	c.Dir = cmd.Dir
	c.WaitDelay = killGrace
	if len(cmd.Env) > 0 {
		c.Env = mergeEnv(os.Environ(), cmd.Env)
	}

	buf := &tailBuffer{max: r.maxOutput}
	c.Stdout = buf
	c.Stderr = buf

	start := time.Now()
	err := c.Run()
	out := Output{Tail: buf.String(), Truncated: buf.truncated, ExitCode: -1}
	if c.ProcessState != nil {
		out.ExitCode = c.ProcessState.ExitCode()
	}
	r.log.Debug("command finished", logx.String("job", name), logx.Int("exit", out.ExitCode), logx.Duration("dur", time.Since(start)))

	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("%s: %w", name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, &ExitError{Job: name, Code: out.ExitCode, Tail: lastLine(out.Tail)}
	}
	return out, fmt.Errorf("%s: %w", name, err)
}

// ExitError reports a command that exited non-zero.
type ExitError struct {
	Job  string
	Code int
	Tail string
}

func (e *ExitError) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("%s: exit status %d", e.Job, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Job, e.Code, e.Tail)
}

func mergeEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(base)+len(keys))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, override := extra[k]; override {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n\t ")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 200 {
		s = s[len(s)-200:]
	}
	return s
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	max       int
	buf       []byte
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
