// Package toolchain builds and launches the generated web server through the
// configured external commands.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

type Config struct {
	Dir          string
	BuildCommand []string
	RunCommand   []string
	Logger       *log.Logger
}

type Exec struct {
	dir    string
	build  []string
	run    []string
	logger *log.Logger
}

// BuildError carries the toolchain output of a failed build.
type BuildError struct {
	Output string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed: %v", e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func New(cfg Config) (*Exec, error) {
	if len(cfg.BuildCommand) == 0 || strings.TrimSpace(cfg.BuildCommand[0]) == "" {
		return nil, errors.New("empty build command")
	}
	if len(cfg.RunCommand) == 0 || strings.TrimSpace(cfg.RunCommand[0]) == "" {
		return nil, errors.New("empty run command")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Exec{
		dir:    cfg.Dir,
		build:  cfg.BuildCommand,
		run:    cfg.RunCommand,
		logger: cfg.Logger,
	}, nil
}

// Build runs the build command to completion. A non-zero exit is returned as
// *BuildError with the combined output.
func (e *Exec) Build(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, e.build[0], e.build[1:]...)
	cmd.Dir = e.dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		e.logger.Printf("build failed cmd=%q dir=%s err=%v", strings.Join(e.build, " "), e.dir, err)
		return &BuildError{Output: string(output), Err: err}
	}
	e.logger.Printf("build succeeded cmd=%q dir=%s", strings.Join(e.build, " "), e.dir)
	return nil
}

// Start launches the run command in the background. The process is killed
// when ctx is done; callers must still Stop it.
func (e *Exec) Start(ctx context.Context) (Process, error) {
	cmd := exec.CommandContext(ctx, e.run[0], e.run[1:]...)
	cmd.Dir = e.dir
	out := &syncBuffer{}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 2 * time.Second
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start server process: %w", err)
	}
	e.logger.Printf("server started cmd=%q pid=%d", strings.Join(e.run, " "), cmd.Process.Pid)
	return &process{cmd: cmd, out: out, logger: e.logger}, nil
}

type Process interface {
	Stop() error
	Output() string
}

type process struct {
	once   sync.Once
	cmd    *exec.Cmd
	out    *syncBuffer
	logger *log.Logger
	err    error
}

// Stop kills the process and reaps it. Repeated calls are no-ops.
func (p *process) Stop() error {
	p.once.Do(func() {
		if p.cmd.Process == nil {
			return
		}
		if err := killProcessGroup(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.err = fmt.Errorf("kill server process: %w", err)
		}
		_ = p.cmd.Wait()
		p.logger.Printf("server stopped pid=%d", p.cmd.Process.Pid)
	})
	return p.err
}

func (p *process) Output() string {
	return p.out.String()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
