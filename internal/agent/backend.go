package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"crewforge/internal/console"
	"crewforge/internal/domain"
	"crewforge/internal/prompts"
	"crewforge/internal/taskrequest"
	"crewforge/internal/toolchain"
)

const BackendID = "backend_developer"

type FileGateway interface {
	ReadFile(ctx context.Context, runID, agentID, relPath string) ([]byte, error)
	WriteFile(ctx context.Context, runID, agentID, relPath string, content []byte) error
}

type Toolchain interface {
	Build(ctx context.Context) error
	Start(ctx context.Context) (toolchain.Process, error)
}

type Confirmer interface {
	ConfirmSafeCode() (bool, error)
}

type BackendConfig struct {
	RunID        string
	Requests     *taskrequest.Service
	Files        FileGateway
	Toolchain    Toolchain
	Confirmer    Confirmer
	Checker      URLChecker
	Reporter     Reporter
	Journal      Journal
	Artifacts    ArtifactStore
	TemplatePath string
	SourcePath   string
	SchemaPath   string
	ServerAddr   string
	SettleDelay  time.Duration
	// MaxBugRetries is the number of rebuilds allowed after the first
	// failed build.
	MaxBugRetries int
	Logger        *log.Logger
}

// BackendDeveloper writes the web server source, builds it until it
// compiles and smoke tests its GET endpoints.
type BackendDeveloper struct {
	attrs    BasicAgent
	cfg      BackendConfig
	bugError string
	bugCount int
	builds   int
	logger   *log.Logger
}

func NewBackendDeveloper(cfg BackendConfig) *BackendDeveloper {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = nopReporter{}
	}
	if cfg.MaxBugRetries < 0 {
		cfg.MaxBugRetries = 0
	}
	return &BackendDeveloper{
		attrs:  newBasicAgent("Develop & Test backend code for webserver", "Backend Developer"),
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

func (b *BackendDeveloper) ID() string { return BackendID }

func (b *BackendDeveloper) Attributes() *BasicAgent { return &b.attrs }

func (b *BackendDeveloper) Builds() int { return b.builds }

func (b *BackendDeveloper) Execute(ctx context.Context, sheet *domain.FactSheet) error {
	for b.attrs.State != domain.AgentStateFinished {
		switch b.attrs.State {
		case domain.AgentStateDiscovery:
			if err := b.callInitialBackendCode(ctx, sheet); err != nil {
				return err
			}
			b.attrs.UpdateState(domain.AgentStateWorking)
		case domain.AgentStateWorking:
			var err error
			if b.bugCount == 0 {
				err = b.callImprovedBackendCode(ctx, sheet)
			} else {
				err = b.callFixCodeBugs(ctx, sheet)
			}
			if err != nil {
				return err
			}
			b.attrs.UpdateState(domain.AgentStateUnitTesting)
		case domain.AgentStateUnitTesting:
			if err := b.unitTest(ctx, sheet); err != nil {
				return err
			}
		default:
			b.attrs.UpdateState(domain.AgentStateFinished)
		}
	}
	return nil
}

func (b *BackendDeveloper) callInitialBackendCode(ctx context.Context, sheet *domain.FactSheet) error {
	template, err := os.ReadFile(b.cfg.TemplatePath)
	if err != nil {
		return fmt.Errorf("read code template: %w", err)
	}
	msgContext := fmt.Sprintf("CODE TEMPLATE: %s \n PROJECT DESCRIPTION: %s \n", template, sheet.ProjectDescription)
	return b.requestCode(ctx, sheet, msgContext, prompts.PrintBackendWebserverCode)
}

func (b *BackendDeveloper) callImprovedBackendCode(ctx context.Context, sheet *domain.FactSheet) error {
	msgContext := fmt.Sprintf("CODE TEMPLATE: %s \n PROJECT DESCRIPTION: %s \n", sheet.BackendCode, mustJSON(sheet))
	return b.requestCode(ctx, sheet, msgContext, prompts.PrintImprovedWebserverCode)
}

func (b *BackendDeveloper) callFixCodeBugs(ctx context.Context, sheet *domain.FactSheet) error {
	msgContext := fmt.Sprintf(
		"BROKEN CODE: %s \n ERROR BUGS: %s \n THIS FUNCTION ONLY OUTPUTS CODE. JUST OUTPUT THE CODE",
		sheet.BackendCode, b.bugError,
	)
	return b.requestCode(ctx, sheet, msgContext, prompts.PrintFixedCode)
}

// requestCode asks for a full source file and writes it over the configured
// source path.
func (b *BackendDeveloper) requestCode(ctx context.Context, sheet *domain.FactSheet, msgContext string, fn prompts.Function) error {
	text, err := b.cfg.Requests.Request(ctx, msgContext, b.attrs.Position, fn.Name, fn.Instruction)
	if err != nil {
		return fmt.Errorf("%s: %w", fn.Name, err)
	}
	code := taskrequest.StripFences(text)
	if err := b.cfg.Files.WriteFile(ctx, b.cfg.RunID, BackendID, b.cfg.SourcePath, []byte(code)); err != nil {
		return fmt.Errorf("save backend code: %w", err)
	}
	sheet.BackendCode = code
	logAction(ctx, b.cfg.Journal, b.cfg.RunID, BackendID, "backend_code_written", fn.Name, map[string]any{
		"path":      b.cfg.SourcePath,
		"size":      len(code),
		"bug_count": b.bugCount,
	})
	return nil
}

func (b *BackendDeveloper) unitTest(ctx context.Context, sheet *domain.FactSheet) error {
	b.report(console.UnitTest, "Backend Code Unit Testing: Requesting user input")
	ok, err := b.cfg.Confirmer.ConfirmSafeCode()
	if err != nil {
		return fmt.Errorf("confirm safe code: %w", err)
	}
	if !ok {
		logAction(ctx, b.cfg.Journal, b.cfg.RunID, BackendID, "unsafe_code_rejected", "operator vetoed execution", nil)
		return ErrUnsafeCodeRejected
	}

	b.report(console.UnitTest, "Backend Code Unit Testing: building project...")
	b.builds++
	if err := b.cfg.Toolchain.Build(ctx); err != nil {
		var buildErr *toolchain.BuildError
		if !errors.As(err, &buildErr) {
			return fmt.Errorf("build generated code: %w", err)
		}
		b.bugCount++
		b.bugError = buildErr.Output
		logAction(ctx, b.cfg.Journal, b.cfg.RunID, BackendID, "build_failed", "generated code did not compile", map[string]any{
			"bug_count": b.bugCount,
		})
		if b.bugCount > b.cfg.MaxBugRetries {
			b.report(console.Issue, "Backend Code Unit Testing: Too many bugs found in code")
			return fmt.Errorf("%w: %d failed builds", ErrBugCeilingExceeded, b.bugCount)
		}
		b.report(console.Issue, "Backend Code Unit Testing: There are bugs in the code")
		b.attrs.UpdateState(domain.AgentStateWorking)
		return nil
	}
	b.bugCount = 0
	b.bugError = ""
	b.report(console.Success, "Backend Code Unit Testing: Test server build successful...")

	routes, raw, err := b.callExtractRestAPIEndpoints(ctx)
	if err != nil {
		return err
	}
	if err := b.smokeTest(ctx, routes); err != nil {
		return err
	}

	if err := b.cfg.Files.WriteFile(ctx, b.cfg.RunID, BackendID, b.cfg.SchemaPath, raw); err != nil {
		return fmt.Errorf("save api endpoints: %w", err)
	}
	if err := recordArtifact(ctx, b.cfg.Artifacts, b.cfg.RunID, BackendID, "source", b.cfg.SourcePath, []byte(sheet.BackendCode)); err != nil {
		b.logger.Printf("backend artifact failed path=%s err=%v", b.cfg.SourcePath, err)
	}
	if err := recordArtifact(ctx, b.cfg.Artifacts, b.cfg.RunID, BackendID, "api_schema", b.cfg.SchemaPath, raw); err != nil {
		b.logger.Printf("backend artifact failed path=%s err=%v", b.cfg.SchemaPath, err)
	}
	sheet.APIEndpointSchema = routes
	b.report(console.Success, "Backend testing complete...")
	b.attrs.UpdateState(domain.AgentStateFinished)
	return nil
}

// callExtractRestAPIEndpoints reads the built source back from disk and asks
// for its endpoint schema. raw is the normalised schema document.
func (b *BackendDeveloper) callExtractRestAPIEndpoints(ctx context.Context) ([]domain.RouteObject, []byte, error) {
	code, err := b.cfg.Files.ReadFile(ctx, b.cfg.RunID, BackendID, b.cfg.SourcePath)
	if err != nil {
		return nil, nil, fmt.Errorf("read backend code: %w", err)
	}
	text, err := b.cfg.Requests.Request(
		ctx, fmt.Sprintf("CODE INPUT: %s", code), b.attrs.Position,
		prompts.PrintRestAPIEndpoints.Name, prompts.PrintRestAPIEndpoints.Instruction,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("extract api endpoints: %w", err)
	}
	routes, err := taskrequest.Decode[[]domain.RouteObject](text)
	if err != nil {
		return nil, nil, fmt.Errorf("extract api endpoints: %w", err)
	}
	raw, err := json.MarshalIndent(routes, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode api endpoints: %w", err)
	}
	return routes, raw, nil
}

// SmokeTestRoutes returns the routes that can be probed without a request
// body or path parameters.
func SmokeTestRoutes(routes []domain.RouteObject) []domain.RouteObject {
	var out []domain.RouteObject
	for _, r := range routes {
		if strings.EqualFold(r.Method, http.MethodGet) && !r.IsRouteDynamic.Bool() {
			out = append(out, r)
		}
	}
	return out
}

// smokeTest launches the built server and probes each candidate route. A
// non-200 answer is only reported. A connection error stops the server and
// ends the probing without failing the agent.
func (b *BackendDeveloper) smokeTest(ctx context.Context, routes []domain.RouteObject) error {
	candidates := SmokeTestRoutes(routes)
	if len(candidates) == 0 {
		b.report(console.UnitTest, "Backend Code Unit Testing: no GET endpoints to test")
		return nil
	}

	b.report(console.UnitTest, "Backend Code Unit Testing: Starting web server...")
	proc, err := b.cfg.Toolchain.Start(ctx)
	if err != nil {
		return fmt.Errorf("start generated server: %w", err)
	}
	defer func() {
		if err := proc.Stop(); err != nil {
			b.logger.Printf("stop generated server failed err=%v", err)
		}
	}()

	b.report(console.UnitTest, fmt.Sprintf("Backend Code Unit Testing: Launching tests on server in %s...", b.cfg.SettleDelay))
	if err := sleepCtx(ctx, b.cfg.SettleDelay); err != nil {
		return err
	}

	failures := 0
	for _, route := range candidates {
		b.report(console.UnitTest, fmt.Sprintf("Testing endpoint '%s'...", route.Route))
		code, err := b.cfg.Checker.StatusCode(ctx, joinURL(b.cfg.ServerAddr, route.Route))
		if err != nil {
			if stopErr := proc.Stop(); stopErr != nil {
				b.logger.Printf("stop generated server failed err=%v", stopErr)
			}
			b.report(console.Issue, fmt.Sprintf("Error checking backend %v", err))
			logAction(ctx, b.cfg.Journal, b.cfg.RunID, BackendID, "smoke_test_aborted", "server unreachable", map[string]any{
				"route": route.Route,
				"error": err.Error(),
			})
			return nil
		}
		if code != http.StatusOK {
			failures++
			b.report(console.Issue, fmt.Sprintf("WARNING: Failed to call backend url endpoint %s", route.Route))
		}
	}
	logAction(ctx, b.cfg.Journal, b.cfg.RunID, BackendID, "smoke_test_completed", "endpoints probed", map[string]any{
		"tested":   len(candidates),
		"failures": failures,
	})
	return nil
}

func (b *BackendDeveloper) report(kind console.Kind, statement string) {
	b.cfg.Reporter.AgentMessage(kind, b.attrs.Position, statement)
}

func joinURL(base, route string) string {
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return strings.TrimRight(base, "/") + route
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
