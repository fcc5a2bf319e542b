package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crewforge/internal/domain"
)

var ErrForbiddenFileOperation = errors.New("file operation is forbidden by policy")

type Policy interface {
	CanFileOperation(ctx context.Context, runID, agentID string, operation domain.FileOperation, targetPath string) (bool, string, error)
}

type ChangeLogger interface {
	LogFileChange(ctx context.Context, entry domain.FileChangeLog) error
}

// Gateway confines agent file access to the project root. Every write and
// every denied access is recorded through the ChangeLogger.
type Gateway struct {
	root   string
	policy Policy
	logger ChangeLogger
}

func NewGateway(root string, policy Policy, logger ChangeLogger) (*Gateway, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create root path: %w", err)
	}
	return &Gateway{
		root:   absRoot,
		policy: policy,
		logger: logger,
	}, nil
}

func (g *Gateway) Root() string {
	return g.root
}

func (g *Gateway) WriteFile(ctx context.Context, runID, agentID, relPath string, content []byte) error {
	op := domain.FileOperationCreate
	absPath, normalized, err := g.resolve(relPath)
	if err != nil {
		_ = g.logChange(ctx, runID, agentID, op, relPath, false, err.Error())
		return err
	}
	if _, statErr := os.Stat(absPath); statErr == nil {
		op = domain.FileOperationWrite
	}

	allowed, reason, err := g.policy.CanFileOperation(ctx, runID, agentID, op, normalized)
	if err != nil {
		return fmt.Errorf("policy check write file: %w", err)
	}
	if !allowed {
		_ = g.logChange(ctx, runID, agentID, op, normalized, false, reason)
		return fmt.Errorf("%w: %s", ErrForbiddenFileOperation, reason)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(absPath, content, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	if err := g.logChange(ctx, runID, agentID, op, normalized, true, reason); err != nil {
		return fmt.Errorf("log file write: %w", err)
	}
	return nil
}

func (g *Gateway) ReadFile(ctx context.Context, runID, agentID, relPath string) ([]byte, error) {
	absPath, normalized, err := g.resolve(relPath)
	if err != nil {
		return nil, err
	}

	allowed, reason, err := g.policy.CanFileOperation(ctx, runID, agentID, domain.FileOperationRead, normalized)
	if err != nil {
		return nil, fmt.Errorf("policy check read file: %w", err)
	}
	if !allowed {
		_ = g.logChange(ctx, runID, agentID, domain.FileOperationRead, normalized, false, reason)
		return nil, fmt.Errorf("%w: %s", ErrForbiddenFileOperation, reason)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return content, nil
}

// logChange records one access decision. Denials ignore the result because
// the caller already returns the policy error.
func (g *Gateway) logChange(ctx context.Context, runID, agentID string, op domain.FileOperation, path string, allowed bool, reason string) error {
	return g.logger.LogFileChange(ctx, domain.FileChangeLog{
		RunID:     runID,
		AgentID:   agentID,
		Operation: op,
		Path:      path,
		Allowed:   allowed,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
}

func (g *Gateway) resolve(relPath string) (absolute string, normalized string, err error) {
	normalized = strings.ReplaceAll(strings.TrimSpace(relPath), "\\", "/")
	normalized = strings.TrimPrefix(normalized, "./")
	normalized = strings.TrimPrefix(normalized, "/")
	if normalized == "" || normalized == "." {
		return "", "", fmt.Errorf("invalid relative path %q", relPath)
	}

	absClean := filepath.Clean(filepath.Join(g.root, filepath.FromSlash(normalized)))
	rel, err := filepath.Rel(filepath.Clean(g.root), absClean)
	if err != nil {
		return "", "", fmt.Errorf("resolve relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == "." {
		return "", "", fmt.Errorf("path escapes workspace root: %q", relPath)
	}
	return absClean, filepath.ToSlash(rel), nil
}
