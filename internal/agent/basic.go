// Package agent holds the worker agents driven by the project manager. Each
// agent runs a bounded state machine over the shared fact sheet.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crewforge/internal/console"
	"crewforge/internal/domain"
)

var (
	ErrUnsafeCodeRejected = errors.New("operator rejected running AI-written code")
	ErrBugCeilingExceeded = errors.New("too many bugs found in generated code")
)

type Agent interface {
	ID() string
	Attributes() *BasicAgent
	// Execute drives the agent until it reaches the finished state.
	Execute(ctx context.Context, sheet *domain.FactSheet) error
}

type BasicAgent struct {
	Objective string
	Position  string
	State     domain.AgentState
	Memory    []domain.Message
}

func newBasicAgent(objective, position string) BasicAgent {
	return BasicAgent{
		Objective: objective,
		Position:  position,
		State:     domain.AgentStateDiscovery,
	}
}

func (b *BasicAgent) UpdateState(state domain.AgentState) {
	b.State = state
}

type Reporter interface {
	AgentMessage(kind console.Kind, position, statement string)
}

type Journal interface {
	LogDecision(ctx context.Context, entry domain.DecisionLog) error
}

type ArtifactStore interface {
	CreateArtifact(ctx context.Context, artifact domain.Artifact) error
}

type nopReporter struct{}

func (nopReporter) AgentMessage(console.Kind, string, string) {}

func logAction(ctx context.Context, journal Journal, runID, actor, action, reason string, payload any) {
	if journal == nil || runID == "" || actor == "" || action == "" {
		return
	}
	raw := []byte("{}")
	if payload != nil {
		raw = mustJSON(payload)
	}
	_ = journal.LogDecision(ctx, domain.DecisionLog{
		RunID:   runID,
		Actor:   actor,
		Action:  action,
		Reason:  reason,
		Payload: raw,
	})
}

func recordArtifact(ctx context.Context, store ArtifactStore, runID, producer, kind, uri string, content []byte) error {
	if store == nil || runID == "" {
		return nil
	}
	sum := sha256.Sum256(content)
	err := store.CreateArtifact(ctx, domain.Artifact{
		ID:            uuid.NewString(),
		RunID:         runID,
		ProducerAgent: producer,
		Kind:          kind,
		URI:           uri,
		Checksum:      hex.EncodeToString(sum[:]),
		Metadata:      mustJSON(map[string]int{"size": len(content)}),
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record %s artifact: %w", kind, err)
	}
	return nil
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return raw
}
