// Package orchestrator runs the project manager: it turns a user request
// into a project description and drives each worker agent over the shared
// fact sheet, one after another.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"crewforge/internal/agent"
	"crewforge/internal/domain"
	"crewforge/internal/prompts"
	"crewforge/internal/taskrequest"
)

const (
	managerID       = "project_manager"
	managerPosition = "Project Manager"
)

type Store interface {
	CreateRun(ctx context.Context, run domain.Run) error
	UpdateRunFactSheet(ctx context.Context, runID string, factSheet []byte) error
	FinishRun(ctx context.Context, runID string, status domain.RunStatus, lastError string) error
	LogDecision(ctx context.Context, entry domain.DecisionLog) error
	CreateArtifact(ctx context.Context, artifact domain.Artifact) error
}

// Deps carries the collaborators of a run. The agent configs are templates:
// the run id, task-request service and store are filled in per run.
type Deps struct {
	Requests  *taskrequest.Service
	Store     Store
	Architect agent.ArchitectConfig
	Backend   agent.BackendConfig
	// ContinueOnAgentError keeps running later agents after one fails.
	ContinueOnAgentError bool
	Logger               *log.Logger
}

type ManagingAgent struct {
	attrs         agent.BasicAgent
	runID         string
	sheet         *domain.FactSheet
	deps          Deps
	continueOnErr bool
	logger        *log.Logger
}

// New normalises userRequest into a project description with one completion
// and records the run.
func New(ctx context.Context, userRequest string, deps Deps) (*ManagingAgent, error) {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Requests == nil {
		return nil, fmt.Errorf("task-request service is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	userRequest = strings.TrimSpace(userRequest)
	if userRequest == "" {
		return nil, fmt.Errorf("user request is required")
	}

	description, err := deps.Requests.Request(
		ctx, userRequest, managerPosition,
		prompts.ConvertUserInputToGoal.Name, prompts.ConvertUserInputToGoal.Instruction,
	)
	if err != nil {
		return nil, fmt.Errorf("convert user request: %w", err)
	}

	m := &ManagingAgent{
		attrs: agent.BasicAgent{
			Objective: "Manage agents who build a website",
			Position:  managerPosition,
			State:     domain.AgentStateDiscovery,
		},
		runID:         uuid.NewString(),
		sheet:         domain.NewFactSheet(strings.TrimSpace(description)),
		deps:          deps,
		continueOnErr: deps.ContinueOnAgentError,
		logger:        deps.Logger,
	}

	now := time.Now().UTC()
	if err := deps.Store.CreateRun(ctx, domain.Run{
		ID:          m.runID,
		UserRequest: userRequest,
		Status:      domain.RunStatusRunning,
		FactSheet:   mustJSON(m.sheet),
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	m.logAction(ctx, "run_created", "project description derived from user request", map[string]any{
		"description": m.sheet.ProjectDescription,
	})
	m.logger.Printf("run created run_id=%s", m.runID)
	return m, nil
}

func (m *ManagingAgent) RunID() string { return m.runID }

func (m *ManagingAgent) FactSheet() *domain.FactSheet { return m.sheet }

func (m *ManagingAgent) Attributes() *agent.BasicAgent { return &m.attrs }

func (m *ManagingAgent) createAgents() []agent.Agent {
	architect := m.deps.Architect
	architect.RunID = m.runID
	architect.Requests = m.deps.Requests
	if architect.Journal == nil {
		architect.Journal = m.deps.Store
	}
	if architect.Logger == nil {
		architect.Logger = m.logger
	}

	backend := m.deps.Backend
	backend.RunID = m.runID
	backend.Requests = m.deps.Requests
	if backend.Journal == nil {
		backend.Journal = m.deps.Store
	}
	if backend.Artifacts == nil {
		backend.Artifacts = m.deps.Store
	}
	if backend.Logger == nil {
		backend.Logger = m.logger
	}

	return []agent.Agent{
		agent.NewArchitect(architect),
		agent.NewBackendDeveloper(backend),
	}
}

// ExecuteProject runs every agent to completion in order. The fact sheet
// snapshot is persisted after each agent. The first agent error stops the
// run unless ContinueOnAgentError is set; either way it is returned and the
// run is marked failed.
func (m *ManagingAgent) ExecuteProject(ctx context.Context) error {
	m.attrs.UpdateState(domain.AgentStateWorking)
	var firstErr error
	for _, a := range m.createAgents() {
		m.logAction(ctx, "agent_started", a.Attributes().Position, map[string]any{"agent": a.ID()})
		err := a.Execute(ctx, m.sheet)
		m.persistFactSheet(ctx)
		if err != nil {
			m.logger.Printf("agent failed run_id=%s agent=%s err=%v", m.runID, a.ID(), err)
			m.logAction(ctx, "agent_failed", err.Error(), map[string]any{"agent": a.ID()})
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", a.ID(), err)
			}
			if !m.continueOnErr || ctx.Err() != nil {
				break
			}
			continue
		}
		m.logAction(ctx, "agent_finished", a.Attributes().Position, map[string]any{"agent": a.ID()})
	}
	m.attrs.UpdateState(domain.AgentStateFinished)

	status, lastError := domain.RunStatusFinished, ""
	if firstErr != nil {
		status, lastError = domain.RunStatusFailed, firstErr.Error()
	}
	// The run outcome is recorded even when ctx is already canceled.
	finishCtx := context.WithoutCancel(ctx)
	if err := m.deps.Store.FinishRun(finishCtx, m.runID, status, lastError); err != nil {
		m.logger.Printf("finish run failed run_id=%s err=%v", m.runID, err)
		if firstErr == nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	m.logger.Printf("run finished run_id=%s status=%s", m.runID, status)
	return firstErr
}

func (m *ManagingAgent) persistFactSheet(ctx context.Context) {
	if err := m.deps.Store.UpdateRunFactSheet(context.WithoutCancel(ctx), m.runID, mustJSON(m.sheet)); err != nil {
		m.logger.Printf("persist fact sheet failed run_id=%s err=%v", m.runID, err)
	}
}

func (m *ManagingAgent) logAction(ctx context.Context, action, reason string, payload any) {
	raw := mustJSON(payload)
	if payload == nil {
		raw = []byte("{}")
	}
	if err := m.deps.Store.LogDecision(context.WithoutCancel(ctx), domain.DecisionLog{
		RunID:   m.runID,
		Actor:   managerID,
		Action:  action,
		Reason:  reason,
		Payload: raw,
	}); err != nil {
		m.logger.Printf("log decision failed run_id=%s action=%s err=%v", m.runID, action, err)
	}
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return raw
}
