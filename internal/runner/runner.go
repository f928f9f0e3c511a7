// Package runner executes provider adapter invocations as child processes.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/awe/internal/errors"
	"github.com/randalmurphal/awe/internal/provider"
)

const (
	// DefaultTimeoutRetries is how many extra attempts a timed-out
	// invocation gets within the original budget.
	DefaultTimeoutRetries = 1

	// minAttemptFloor is the smallest attempt timeout we will schedule.
	minAttemptFloor = 50 * time.Millisecond

	// maxRetryBackoff caps the jittered sleep between timeout attempts.
	maxRetryBackoff = 750 * time.Millisecond

	// retryPromptLimit clips the prompt on retry attempts.
	retryPromptLimit = 1200

	truncationMarker = "\n[...prompt truncated for retry...]"

	// streamQueueSize bounds the stdout/stderr pump queue.
	streamQueueSize = 256
)

// limitPatterns flag quota- or capacity-limited provider output. Matching is
// case-insensitive and ignores the exit code.
var limitPatterns = []string{
	"hit your limit",
	"rate limit",
	"quota exceeded",
	"no capacity available",
	"usage limit reached",
	"resource_exhausted",
}

// StreamFunc receives live output chunks. stream is "stdout" or "stderr".
type StreamFunc func(stream, chunk string)

// Invocation describes one agent run.
type Invocation struct {
	Provider       string
	Adapter        provider.Adapter
	Argv           []string
	Prompt         string
	WorkDir        string
	TimeoutSeconds float64
	TimeoutRetries int
	OnStream       StreamFunc
	DryRun         bool
}

// AdapterResult is the structured outcome of an invocation.
type AdapterResult struct {
	Output          string              `json:"output"`
	Verdict         provider.Verdict    `json:"verdict"`
	NextAction      provider.NextAction `json:"next_action"`
	Returncode      int                 `json:"returncode"`
	DurationSeconds float64             `json:"duration_seconds"`
}

// Runner spawns and supervises child agent processes.
type Runner struct {
	logger *slog.Logger

	// lookPath is swappable for tests.
	lookPath func(string) (string, error)
}

func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, lookPath: exec.LookPath}
}

// Run executes the invocation. Runtime failures (timeout, missing command,
// provider limit, non-zero exit) come back as a non-nil *errors.Error whose
// code is the runtime-error kind; the result still carries whatever output
// and returncode were observed.
func (r *Runner) Run(ctx context.Context, inv Invocation) (AdapterResult, error) {
	if inv.DryRun {
		return AdapterResult{
			Output:     `{"verdict": "NO_BLOCKER", "next_action": "pass"}`,
			Verdict:    provider.VerdictNoBlocker,
			NextAction: provider.ActionPass,
		}, nil
	}
	if len(inv.Argv) == 0 {
		return AdapterResult{Returncode: 2}, errors.New(errors.CodeCommandNotConfigured,
			fmt.Sprintf("command_not_configured provider=%s", inv.Provider))
	}
	if _, err := r.lookPath(inv.Argv[0]); err != nil {
		return AdapterResult{Returncode: 127}, errors.New(errors.CodeCommandNotFound,
			fmt.Sprintf("command_not_found provider=%s command=%s", inv.Provider, inv.Argv[0]))
	}

	retries := inv.TimeoutRetries
	if retries < 0 {
		retries = DefaultTimeoutRetries
	}
	budget := time.Duration(inv.TimeoutSeconds * float64(time.Second))
	if budget <= 0 {
		budget = 10 * time.Minute
	}

	start := time.Now()
	remaining := budget
	prompt := inv.Prompt
	var res AdapterResult
	var err error
	for attempt := 0; ; attempt++ {
		attemptsLeft := retries - attempt + 1
		attemptBudget := remaining / time.Duration(attemptsLeft)
		if attemptBudget < minAttemptFloor {
			attemptBudget = minAttemptFloor
		}
		res, err = r.runOnce(ctx, inv, prompt, attemptBudget)
		res.DurationSeconds = time.Since(start).Seconds()
		if errors.CodeOf(err) != errors.CodeCommandTimeout {
			return res, err
		}
		remaining = budget - time.Since(start)
		if attempt >= retries {
			return res, err
		}
		sleep := jitteredBackoff()
		if sleep > remaining {
			sleep = remaining
		}
		if remaining-sleep < minAttemptFloor {
			return res, err
		}
		r.logger.Warn("agent timed out, retrying",
			"provider", inv.Provider,
			"attempt", attempt+1,
			"remaining", remaining.Round(time.Millisecond))
		select {
		case <-ctx.Done():
			return res, err
		case <-time.After(sleep):
		}
		prompt = clipPrompt(inv.Prompt, retryPromptLimit)
		remaining = budget - time.Since(start)
	}
}

func (r *Runner) runOnce(ctx context.Context, inv Invocation, prompt string, timeout time.Duration) (AdapterResult, error) {
	argv, stdin := inv.Adapter.PrepareInvocation(inv.Argv, prompt)

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(attemptCtx, argv[0], argv[1:]...)
	cmd.Dir = inv.WorkDir
	cmd.Env = ChildEnv(inv.WorkDir)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	if inv.OnStream != nil {
		stdoutPipe, err := cmd.StdoutPipe()
		if err != nil {
			return AdapterResult{Returncode: 1}, errors.Wrap(errors.CodeCommandFailed, err, "open stdout pipe")
		}
		stderrPipe, err := cmd.StderrPipe()
		if err != nil {
			return AdapterResult{Returncode: 1}, errors.Wrap(errors.CodeCommandFailed, err, "open stderr pipe")
		}
		if err := cmd.Start(); err != nil {
			return AdapterResult{Returncode: 1}, errors.Wrap(errors.CodeCommandFailed, err,
				fmt.Sprintf("command_failed provider=%s", inv.Provider))
		}
		pumpStreams(stdoutPipe, stderrPipe, &stdout, &stderr, inv.OnStream)
		err = cmd.Wait()
		return r.finish(inv, attemptCtx, timeout, stdout.String(), stderr.String(), cmd, err)
	}

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return r.finish(inv, attemptCtx, timeout, stdout.String(), stderr.String(), cmd, err)
}

func (r *Runner) finish(inv Invocation, ctx context.Context, timeout time.Duration, stdout, stderr string, cmd *exec.Cmd, runErr error) (AdapterResult, error) {
	combined := stdout
	if stderr != "" {
		combined = combined + "\n" + stderr
	}
	res := AdapterResult{
		Output:  inv.Adapter.NormalizeOutput(combined),
		Verdict: provider.VerdictUnknown,
	}
	if cmd.ProcessState != nil {
		res.Returncode = cmd.ProcessState.ExitCode()
	}

	// Limit patterns win over exit status.
	if matchesLimit(combined) {
		return res, errors.New(errors.CodeProviderLimit,
			fmt.Sprintf("provider_limit provider=%s command=%s", inv.Provider, inv.Argv[0]))
	}
	if ctx.Err() == context.DeadlineExceeded {
		res.Returncode = 124
		return res, errors.New(errors.CodeCommandTimeout,
			fmt.Sprintf("command_timeout provider=%s timeout_seconds=%.1f", inv.Provider, timeout.Seconds()))
	}
	if runErr != nil {
		return res, errors.New(errors.CodeCommandFailed,
			fmt.Sprintf("command_failed provider=%s returncode=%d", inv.Provider, res.Returncode))
	}

	if ctl, ok := provider.ParseControl(res.Output); ok {
		res.Verdict = ctl.Verdict
		res.NextAction = ctl.NextAction
	}
	return res, nil
}

// pumpStreams reads both pipes line-by-line on separate goroutines into a
// bounded queue and drains it through the callback.
func pumpStreams(stdoutPipe, stderrPipe io.Reader, stdout, stderr *bytes.Buffer, onStream StreamFunc) {
	type chunk struct {
		stream string
		text   string
	}
	queue := make(chan chunk, streamQueueSize)

	var wg sync.WaitGroup
	pump := func(name string, pipe io.Reader, sink *bytes.Buffer) {
		defer wg.Done()
		scanner := bufio.NewScanner(pipe)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text() + "\n"
			sink.WriteString(line)
			queue <- chunk{stream: name, text: line}
		}
	}
	wg.Add(2)
	go pump("stdout", stdoutPipe, stdout)
	go pump("stderr", stderrPipe, stderr)
	go func() {
		wg.Wait()
		close(queue)
	}()
	for c := range queue {
		onStream(c.stream, c.text)
	}
}

func matchesLimit(output string) bool {
	lower := strings.ToLower(output)
	for _, p := range limitPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func clipPrompt(prompt string, limit int) string {
	if len(prompt) <= limit {
		return prompt
	}
	return prompt[:limit] + truncationMarker
}

func jitteredBackoff() time.Duration {
	return time.Duration(rand.Int63n(int64(maxRetryBackoff)))
}
