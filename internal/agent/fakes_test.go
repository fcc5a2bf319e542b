package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"crewforge/internal/console"
	"crewforge/internal/domain"
	"crewforge/internal/fs"
	"crewforge/internal/policy"
	"crewforge/internal/taskrequest"
	"crewforge/internal/toolchain"
)

// operationCompleter answers by prompt function name. Each name may carry a
// queue of replies; the last reply repeats once the queue drains.
type operationCompleter struct {
	mu      sync.Mutex
	replies map[string][]string
	calls   map[string]int
	inputs  map[string][]string
}

func newOperationCompleter() *operationCompleter {
	return &operationCompleter{
		replies: map[string][]string{},
		calls:   map[string]int{},
		inputs:  map[string][]string{},
	}
}

func (c *operationCompleter) on(name string, replies ...string) *operationCompleter {
	c.replies[name] = append(c.replies[name], replies...)
	return c
}

func (c *operationCompleter) Complete(_ context.Context, messages []domain.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content := messages[0].Content
	for name, replies := range c.replies {
		if !strings.Contains(content, "FUNCTION "+name+"(") {
			continue
		}
		idx := c.calls[name]
		c.calls[name]++
		c.inputs[name] = append(c.inputs[name], content)
		if idx >= len(replies) {
			idx = len(replies) - 1
		}
		return replies[idx], nil
	}
	return "", errors.New("no scripted reply")
}

type recordedLine struct {
	kind      console.Kind
	position  string
	statement string
}

type recordingReporter struct {
	mu    sync.Mutex
	lines []recordedLine
}

func (r *recordingReporter) AgentMessage(kind console.Kind, position, statement string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, recordedLine{kind: kind, position: position, statement: statement})
}

func (r *recordingReporter) count(kind console.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.lines {
		if l.kind == kind {
			n++
		}
	}
	return n
}

type memoryJournal struct {
	mu        sync.Mutex
	decisions []domain.DecisionLog
	artifacts []domain.Artifact
	changes   []domain.FileChangeLog
}

func (j *memoryJournal) LogDecision(_ context.Context, entry domain.DecisionLog) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.decisions = append(j.decisions, entry)
	return nil
}

func (j *memoryJournal) CreateArtifact(_ context.Context, artifact domain.Artifact) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.artifacts = append(j.artifacts, artifact)
	return nil
}

func (j *memoryJournal) LogFileChange(_ context.Context, entry domain.FileChangeLog) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.changes = append(j.changes, entry)
	return nil
}

func (j *memoryJournal) hasAction(action string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, d := range j.decisions {
		if d.Action == action {
			return true
		}
	}
	return false
}

type mapChecker map[string]int

func (m mapChecker) StatusCode(_ context.Context, url string) (int, error) {
	code, ok := m[url]
	if !ok {
		return 0, fmt.Errorf("dial %s: connection refused", url)
	}
	return code, nil
}

type fakeProcess struct {
	mu    sync.Mutex
	stops int
}

func (p *fakeProcess) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakeProcess) Output() string { return "" }

func (p *fakeProcess) stopped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// fakeToolchain replays build results in order; once exhausted builds pass.
type fakeToolchain struct {
	buildErrs []error
	builds    int
	starts    int
	proc      *fakeProcess
}

func (f *fakeToolchain) Build(context.Context) error {
	idx := f.builds
	f.builds++
	if idx < len(f.buildErrs) {
		return f.buildErrs[idx]
	}
	return nil
}

func (f *fakeToolchain) Start(context.Context) (toolchain.Process, error) {
	f.starts++
	if f.proc == nil {
		f.proc = &fakeProcess{}
	}
	return f.proc, nil
}

type fixedConfirmer struct {
	answer bool
	asked  int
}

func (c *fixedConfirmer) ConfirmSafeCode() (bool, error) {
	c.asked++
	return c.answer, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newRequests(completer *operationCompleter, reporter *recordingReporter) *taskrequest.Service {
	return taskrequest.New(completer, reporter, quietLogger())
}

func newGateway(t *testing.T, root string, journal *memoryJournal) *fs.Gateway {
	t.Helper()
	engine, err := policy.New([]policy.Rule{
		{Agent: BackendID, Operation: domain.FileOperationRead, Pattern: "**"},
		{Agent: BackendID, Operation: domain.FileOperationWrite, Pattern: "main.go"},
		{Agent: BackendID, Operation: domain.FileOperationWrite, Pattern: "schemas/api_schema.json"},
	})
	require.NoError(t, err)
	gw, err := fs.NewGateway(root, engine, journal)
	require.NoError(t, err)
	return gw
}
