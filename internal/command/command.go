// Package command runs allowlisted verification commands (tests, lint) in a
// task workspace. No shell is ever invoked; command strings are tokenized
// with POSIX rules and executed directly.
package command

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/randalmurphal/awe/internal/runner"
)

// Result is the outcome of one verification command.
type Result struct {
	OK              bool    `json:"ok"`
	Returncode      int     `json:"returncode"`
	Stdout          string  `json:"stdout"`
	Stderr          string  `json:"stderr"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// allowedPrefixes are the only command shapes the executor will spawn.
// A command is admitted if it starts with any prefix in the set; order
// does not matter.
var allowedPrefixes = [][]string{
	{"python", "-m", "pytest"},
	{"python3", "-m", "pytest"},
	{"python", "-m", "ruff"},
	{"python3", "-m", "ruff"},
	{"pytest"},
	{"ruff"},
}

// Executor runs verification commands with a timeout.
type Executor struct {
	logger *slog.Logger

	lookPath func(string) (string, error)
}

func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger, lookPath: exec.LookPath}
}

// Run tokenizes and executes the command in workDir. A non-allowlisted
// prefix returns ok=false returncode=2 without spawning. Timeouts map to
// 124, a missing binary to 127.
func (e *Executor) Run(ctx context.Context, commandLine, workDir string, timeout time.Duration) Result {
	argv, err := Tokenize(commandLine)
	if err != nil {
		return Result{Returncode: 2, Stderr: fmt.Sprintf("tokenize command: %v", err)}
	}
	if len(argv) == 0 {
		return Result{Returncode: 2, Stderr: "empty command"}
	}
	if !Allowed(argv) {
		return Result{Returncode: 2, Stderr: fmt.Sprintf("command prefix not allowlisted: %s", argv[0])}
	}
	if _, err := e.lookPath(argv[0]); err != nil {
		return Result{Returncode: 127, Stderr: "command_not_found provider=shell"}
	}

	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = runner.ChildEnv(workDir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		DurationSeconds: time.Since(start).Seconds(),
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.Returncode = 124
		res.Stderr = fmt.Sprintf("command_timeout provider=shell timeout_seconds=%.0f", timeout.Seconds())
		return res
	}
	if cmd.ProcessState != nil {
		res.Returncode = cmd.ProcessState.ExitCode()
	}
	if runErr != nil && res.Returncode == 0 {
		res.Returncode = 1
	}
	res.OK = res.Returncode == 0
	e.logger.Debug("verification command finished",
		"command", argv[0], "returncode", res.Returncode,
		"duration", time.Since(start).Round(time.Millisecond))
	return res
}

// Allowed reports whether argv starts with an allowlisted prefix.
func Allowed(argv []string) bool {
	for _, prefix := range allowedPrefixes {
		if len(argv) < len(prefix) {
			continue
		}
		match := true
		for i, p := range prefix {
			if argv[i] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Tokenize splits a command line with POSIX shell quoting rules. Shell
// metacharacters outside quotes become literal tokens; no expansion or
// substitution happens.
func Tokenize(line string) ([]string, error) {
	var argv []string
	var cur strings.Builder
	started := false
	const (
		stNone = iota
		stSingle
		stDouble
	)
	state := stNone
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			started = true
			escaped = false
		case state == stSingle:
			if r == '\'' {
				state = stNone
			} else {
				cur.WriteRune(r)
			}
		case state == stDouble:
			switch r {
			case '"':
				state = stNone
			case '\\':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			started = true
		case r == '\'':
			state = stSingle
			started = true
		case r == '"':
			state = stDouble
			started = true
		case r == ' ' || r == '\t' || r == '\n':
			if started {
				argv = append(argv, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if escaped {
		return nil, fmt.Errorf("trailing backslash")
	}
	if state != stNone {
		return nil, fmt.Errorf("unterminated quote")
	}
	if started {
		argv = append(argv, cur.String())
	}
	return argv, nil
}
