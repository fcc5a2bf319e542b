package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewforge/internal/agent"
	"crewforge/internal/console"
	"crewforge/internal/domain"
	"crewforge/internal/fs"
	"crewforge/internal/policy"
	"crewforge/internal/probe"
	"crewforge/internal/store/sqlite"
	"crewforge/internal/taskrequest"
	"crewforge/internal/toolchain"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	replies map[string]string
	calls   map[string]int
}

func (c *scriptedCompleter) Complete(_ context.Context, messages []domain.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, reply := range c.replies {
		if strings.Contains(messages[0].Content, "FUNCTION "+name+"(") {
			c.calls[name]++
			return reply, nil
		}
	}
	return "", errors.New("unexpected prompt")
}

type silentReporter struct{}

func (silentReporter) AgentMessage(console.Kind, string, string) {}

type stubProcess struct{ stops int }

func (p *stubProcess) Stop() error    { p.stops++; return nil }
func (p *stubProcess) Output() string { return "" }

type stubToolchain struct {
	builds int
	proc   *stubProcess
}

func (s *stubToolchain) Build(context.Context) error {
	s.builds++
	return nil
}

func (s *stubToolchain) Start(context.Context) (toolchain.Process, error) {
	s.proc = &stubProcess{}
	return s.proc, nil
}

type hookConfirmer func() (bool, error)

func (h hookConfirmer) ConfirmSafeCode() (bool, error) { return h() }

type scenario struct {
	store     *sqlite.Store
	completer *scriptedCompleter
	tools     *stubToolchain
	root      string
	deps      Deps
}

func newScenario(t *testing.T, replies map[string]string) *scenario {
	t.Helper()
	ctx := context.Background()
	quiet := log.New(io.Discard, "", 0)

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "crewforge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))

	root := t.TempDir()
	templatePath := filepath.Join(t.TempDir(), "web_server.go.tmpl")
	require.NoError(t, os.WriteFile(templatePath, []byte("package main"), 0o644))

	engine, err := policy.New([]policy.Rule{
		{Agent: agent.BackendID, Operation: domain.FileOperationRead, Pattern: "**"},
		{Agent: agent.BackendID, Operation: domain.FileOperationWrite, Pattern: "main.go"},
		{Agent: agent.BackendID, Operation: domain.FileOperationWrite, Pattern: "schemas/api_schema.json"},
	})
	require.NoError(t, err)
	gateway, err := fs.NewGateway(root, engine, store)
	require.NoError(t, err)

	completer := &scriptedCompleter{replies: replies, calls: map[string]int{}}
	tools := &stubToolchain{}
	checker := probe.New(probe.DefaultTimeout)
	s := &scenario{
		store:     store,
		completer: completer,
		tools:     tools,
		root:      root,
		deps: Deps{
			Requests: taskrequest.New(completer, silentReporter{}, quiet),
			Store:    store,
			Architect: agent.ArchitectConfig{
				Checker:  checker,
				Reporter: silentReporter{},
			},
			Backend: agent.BackendConfig{
				Files:         gateway,
				Toolchain:     tools,
				Confirmer:     hookConfirmer(func() (bool, error) { return true, nil }),
				Checker:       checker,
				Reporter:      silentReporter{},
				TemplatePath:  templatePath,
				SourcePath:    "main.go",
				SchemaPath:    "schemas/api_schema.json",
				MaxBugRetries: 2,
			},
			Logger: quiet,
		},
	}
	return s
}

func TestFitnessTrackerEndToEnd(t *testing.T) {
	ctx := context.Background()
	worldTime := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["Europe/London"]`))
	}))
	defer worldTime.Close()
	generated := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer generated.Close()

	timezoneURL := worldTime.URL + "/api/timezone"
	s := newScenario(t, map[string]string{
		"convert_user_input_to_goal":    "build a website that tracks fitness progress with timezone information",
		"print_project_scope":           `{"is_crud_required": true, "is_user_login_and_logout": true, "is_external_urls_required": true}`,
		"print_site_urls":               fmt.Sprintf(`["%s"]`, timezoneURL),
		"print_backend_webserver_code":  "package main // initial",
		"print_improved_webserver_code": "package main // improved",
		"print_rest_api_endpoints": `[
			{"route": "/workouts", "method": "GET", "is_route_dynamic": "false", "request_body": null, "response": []},
			{"route": "/workouts/{id}", "method": "GET", "is_route_dynamic": "true", "request_body": null, "response": {}},
			{"route": "/workouts", "method": "POST", "is_route_dynamic": "false", "request_body": {"name": "string"}, "response": {}}
		]`,
	})
	s.deps.Backend.ServerAddr = generated.URL

	manager, err := New(ctx, "I need a website to track my fitness progress with timezone info", s.deps)
	require.NoError(t, err)
	runID := manager.RunID()

	// The snapshot taken at the gate is the one persisted after the architect.
	var snapshotAtGate domain.FactSheet
	manager.deps.Backend.Confirmer = hookConfirmer(func() (bool, error) {
		run, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return false, err
		}
		if err := json.Unmarshal(run.FactSheet, &snapshotAtGate); err != nil {
			return false, err
		}
		return true, nil
	})

	require.NoError(t, manager.ExecuteProject(ctx))

	sheet := manager.FactSheet()
	assert.Equal(t, "build a website that tracks fitness progress with timezone information", sheet.ProjectDescription)
	require.NotNil(t, sheet.ProjectScope)
	assert.Equal(t, domain.ProjectScope{RequiresCRUD: true, RequiresLogin: true, RequiresExternalURLs: true}, *sheet.ProjectScope)
	assert.Equal(t, []string{timezoneURL}, sheet.ExternalURLs)
	assert.Equal(t, "package main // improved", sheet.BackendCode)
	assert.Len(t, sheet.APIEndpointSchema, 3)
	assert.Len(t, agent.SmokeTestRoutes(sheet.APIEndpointSchema), 1)
	assert.Equal(t, 1, s.tools.builds)
	require.NotNil(t, s.tools.proc)
	assert.GreaterOrEqual(t, s.tools.proc.stops, 1)

	require.NotNil(t, snapshotAtGate.ProjectScope)
	assert.Empty(t, snapshotAtGate.BackendCode)
	assert.Nil(t, snapshotAtGate.APIEndpointSchema)

	run, err := s.store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFinished, run.Status)
	var stored domain.FactSheet
	require.NoError(t, json.Unmarshal(run.FactSheet, &stored))
	assert.Equal(t, sheet.BackendCode, stored.BackendCode)
	assert.Len(t, stored.APIEndpointSchema, 3)

	artifacts, err := s.store.ListRunArtifacts(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)

	changes, err := s.store.ListRunFileChanges(ctx, runID)
	require.NoError(t, err)
	assert.NotEmpty(t, changes)

	decisions, err := s.store.ListRunDecisions(ctx, runID, 0)
	require.NoError(t, err)
	assert.Equal(t, "agent_finished", decisions[0].Action)
}

func TestAgentErrorStopsRunByDefault(t *testing.T) {
	ctx := context.Background()
	s := newScenario(t, map[string]string{
		"convert_user_input_to_goal":   "build a todo app",
		"print_project_scope":          "not json",
		"print_backend_webserver_code": "package main",
	})

	manager, err := New(ctx, "todo app", s.deps)
	require.NoError(t, err)

	err = manager.ExecuteProject(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, taskrequest.ErrMalformedResponse))
	assert.Zero(t, s.completer.calls["print_backend_webserver_code"])

	run, err := s.store.GetRun(ctx, manager.RunID())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Contains(t, run.LastError, agent.ArchitectID)
}

func TestContinueOnAgentError(t *testing.T) {
	ctx := context.Background()
	generated := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer generated.Close()

	s := newScenario(t, map[string]string{
		"convert_user_input_to_goal":    "build a todo app",
		"print_project_scope":           "not json",
		"print_backend_webserver_code":  "package main",
		"print_improved_webserver_code": "package main // improved",
		"print_rest_api_endpoints":      `[{"route": "/todos", "method": "GET", "is_route_dynamic": "false", "request_body": null, "response": []}]`,
	})
	s.deps.ContinueOnAgentError = true
	s.deps.Backend.ServerAddr = generated.URL

	manager, err := New(ctx, "todo app", s.deps)
	require.NoError(t, err)

	err = manager.ExecuteProject(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, s.completer.calls["print_backend_webserver_code"])
	assert.Equal(t, "package main // improved", manager.FactSheet().BackendCode)
	assert.Nil(t, manager.FactSheet().ProjectScope)
}

func TestNewRejectsEmptyRequest(t *testing.T) {
	s := newScenario(t, map[string]string{})
	_, err := New(context.Background(), "   ", s.deps)
	assert.Error(t, err)
}
