package agent

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"crewforge/internal/console"
	"crewforge/internal/domain"
	"crewforge/internal/prompts"
	"crewforge/internal/taskrequest"
)

const ArchitectID = "solution_architect"

type URLChecker interface {
	StatusCode(ctx context.Context, url string) (int, error)
}

type ArchitectConfig struct {
	RunID    string
	Requests *taskrequest.Service
	Checker  URLChecker
	Reporter Reporter
	Journal  Journal
	Logger   *log.Logger
}

// Architect derives the project scope and vets the external URLs the site
// will depend on.
type Architect struct {
	attrs    BasicAgent
	runID    string
	requests *taskrequest.Service
	checker  URLChecker
	reporter Reporter
	journal  Journal
	logger   *log.Logger
}

func NewArchitect(cfg ArchitectConfig) *Architect {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = nopReporter{}
	}
	return &Architect{
		attrs:    newBasicAgent("Gathers information and design solution for development", "Solution Architect"),
		runID:    cfg.RunID,
		requests: cfg.Requests,
		checker:  cfg.Checker,
		reporter: cfg.Reporter,
		journal:  cfg.Journal,
		logger:   cfg.Logger,
	}
}

func (a *Architect) ID() string { return ArchitectID }

func (a *Architect) Attributes() *BasicAgent { return &a.attrs }

func (a *Architect) Execute(ctx context.Context, sheet *domain.FactSheet) error {
	for a.attrs.State != domain.AgentStateFinished {
		switch a.attrs.State {
		case domain.AgentStateDiscovery:
			scope, err := a.callProjectScope(ctx, sheet)
			if err != nil {
				return err
			}
			if !scope.RequiresExternalURLs {
				a.attrs.UpdateState(domain.AgentStateFinished)
				continue
			}
			if err := a.callDetermineExternalURLs(ctx, sheet); err != nil {
				return err
			}
			a.attrs.UpdateState(domain.AgentStateUnitTesting)
		case domain.AgentStateUnitTesting:
			if err := a.testExternalURLs(ctx, sheet); err != nil {
				return err
			}
			a.attrs.UpdateState(domain.AgentStateFinished)
		default:
			a.attrs.UpdateState(domain.AgentStateFinished)
		}
	}
	return nil
}

func (a *Architect) callProjectScope(ctx context.Context, sheet *domain.FactSheet) (domain.ProjectScope, error) {
	scope, err := taskrequest.RequestDecoded[domain.ProjectScope](
		ctx, a.requests, sheet.ProjectDescription, a.attrs.Position,
		prompts.PrintProjectScope.Name, prompts.PrintProjectScope.Instruction,
	)
	if err != nil {
		return domain.ProjectScope{}, fmt.Errorf("determine project scope: %w", err)
	}
	sheet.ProjectScope = &scope
	logAction(ctx, a.journal, a.runID, ArchitectID, "project_scope_determined", "scope decoded from completion", scope)
	return scope, nil
}

func (a *Architect) callDetermineExternalURLs(ctx context.Context, sheet *domain.FactSheet) error {
	urls, err := taskrequest.RequestDecoded[[]string](
		ctx, a.requests, sheet.ProjectDescription, a.attrs.Position,
		prompts.PrintSiteURLs.Name, prompts.PrintSiteURLs.Instruction,
	)
	if err != nil {
		return fmt.Errorf("determine external urls: %w", err)
	}
	sheet.ExternalURLs = urls
	logAction(ctx, a.journal, a.runID, ArchitectID, "external_urls_proposed", "candidate urls decoded from completion", map[string]any{
		"count": len(urls),
	})
	return nil
}

// testExternalURLs keeps only the URLs that answer 200, in their original
// order.
func (a *Architect) testExternalURLs(ctx context.Context, sheet *domain.FactSheet) error {
	survivors := make([]string, 0, len(sheet.ExternalURLs))
	var excluded []string
	for _, url := range sheet.ExternalURLs {
		a.reporter.AgentMessage(console.UnitTest, a.attrs.Position, fmt.Sprintf("Testing URL Endpoint: %s", url))
		code, err := a.checker.StatusCode(ctx, url)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("test external urls: %w", ctxErr)
			}
			a.logger.Printf("url check failed url=%s err=%v", url, err)
			a.reporter.AgentMessage(console.Issue, a.attrs.Position, fmt.Sprintf("Error checking %s: %v", url, err))
			excluded = append(excluded, url)
		case code != http.StatusOK:
			a.reporter.AgentMessage(console.Issue, a.attrs.Position, fmt.Sprintf("Excluding %s: status %d", url, code))
			excluded = append(excluded, url)
		default:
			survivors = append(survivors, url)
		}
	}
	sheet.ExternalURLs = survivors
	logAction(ctx, a.journal, a.runID, ArchitectID, "external_urls_tested", "unreachable urls excluded", map[string]any{
		"kept":     len(survivors),
		"excluded": excluded,
	})
	return nil
}
