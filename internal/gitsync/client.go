package gitsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 20 * time.Second

// ErrGitUnavailable is returned when git cannot be run.
var ErrGitUnavailable = errors.New("gitsync: git unavailable")

// Status is a snapshot of the working copy holding the ledgers.
type Status struct {
	Remote    string    `json:"remote"`
	Branch    string    `json:"branch"`
	Ahead     int       `json:"ahead"`
	Behind    int       `json:"behind"`
	Dirty     bool      `json:"dirty"`
	Summary   string    `json:"summary"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// Runner executes git with args inside dir and returns stdout.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner runs the git binary.
type ExecRunner struct {
	Binary string
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	binary := r.Binary
	if binary == "" {
		binary = "git"
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", fmt.Errorf("%w: %v", ErrGitUnavailable, err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("gitsync: git %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}

// Client reads git status for one repository directory.
type Client struct {
	dir     string
	runner  Runner
	timeout time.Duration
	now     func() time.Time
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithRunner overrides the git runner.
func WithRunner(runner Runner) ClientOption {
	return func(c *Client) {
		if runner != nil {
			c.runner = runner
		}
	}
}

// WithTimeout overrides the per command timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewClient constructs a client for dir.
func NewClient(dir string, opts ...ClientOption) *Client {
	if dir == "" {
		dir = "."
	}
	c := &Client{dir: dir, runner: ExecRunner{}, timeout: defaultTimeout, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.runner.Run(ctx, c.dir, args...)
}

// Fetch updates remote tracking refs.
func (c *Client) Fetch(ctx context.Context) error {
	_, err := c.run(ctx, "fetch", "--quiet")
	return err
}

// Status reads remote, branch and ahead/behind counts. The remote is
// optional; a repository without origin still reports its branch.
func (c *Client) Status(ctx context.Context) (Status, error) {
	status := Status{CheckedAt: c.now().UTC()}
	if out, err := c.run(ctx, "remote", "get-url", "origin"); err == nil {
		status.Remote = strings.TrimSpace(out)
	} else if errors.Is(err, ErrGitUnavailable) {
		return status, err
	}
	branch, err := c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return status, err
	}
	status.Branch = strings.TrimSpace(branch)
	out, err := c.run(ctx, "status", "-sb")
	if err != nil {
		return status, err
	}
	parseStatus(out, &status)
	return status, nil
}

var (
	aheadPattern  = regexp.MustCompile(`ahead (\d+)`)
	behindPattern = regexp.MustCompile(`behind (\d+)`)
)

func parseStatus(out string, status *Status) {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) == 0 {
		return
	}
	head := strings.TrimSpace(lines[0])
	status.Summary = head
	if m := aheadPattern.FindStringSubmatch(head); m != nil {
		status.Ahead, _ = strconv.Atoi(m[1])
	}
	if m := behindPattern.FindStringSubmatch(head); m != nil {
		status.Behind, _ = strconv.Atoi(m[1])
	}
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) != "" {
			status.Dirty = true
			break
		}
	}
}
