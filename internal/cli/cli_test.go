package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"crewforge/internal/config"
	"crewforge/internal/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewRootCmdHasSubcommands(t *testing.T) {
	root := NewRootCmd("")
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "runs", "show"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
	if root.Version != "dev" {
		t.Errorf("Version: got %q", root.Version)
	}
	for _, flag := range []string{"config", "env", "db", "quiet"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("expected --%s persistent flag", flag)
		}
	}
}

func TestRunRequiresCredentials(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "")
	t.Setenv(config.OrgEnv, "")
	dir := t.TempDir()

	_, err := execute(t, "run", "--env", filepath.Join(dir, "missing.env"), "--db", filepath.Join(dir, "db.sqlite"), "a todo app")
	if !errors.Is(err, config.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestRunsAndShow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "crewforge.db")

	out, err := execute(t, "runs", "--db", dbPath)
	if err != nil {
		t.Fatalf("runs on empty db: %v", err)
	}
	if !strings.Contains(out, "no runs recorded") {
		t.Fatalf("unexpected output %q", out)
	}

	ctx := context.Background()
	store, err := openStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.CreateRun(ctx, domain.Run{
		ID:          "run-42",
		UserRequest: "track fitness progress",
		FactSheet:   []byte(`{"project_description":"build a fitness tracker"}`),
	}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := store.LogDecision(ctx, domain.DecisionLog{RunID: "run-42", Actor: "project_manager", Action: "run_created", Reason: "test"}); err != nil {
		t.Fatalf("log decision: %v", err)
	}
	_ = store.Close()

	out, err = execute(t, "runs", "--db", dbPath)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "run-42") || !strings.Contains(out, "track fitness progress") {
		t.Fatalf("run missing from listing: %q", out)
	}

	out, err = execute(t, "show", "--db", dbPath, "--decisions", "run-42")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "build a fitness tracker") || !strings.Contains(out, "run_created") {
		t.Fatalf("unexpected show output %q", out)
	}

	if _, err := execute(t, "show", "--db", dbPath, "nope"); err == nil {
		t.Fatalf("expected error for unknown run")
	}
}

func TestPolicyRulesRejectsUnknownOperation(t *testing.T) {
	if _, err := policyRules([]config.PolicyRule{{Agent: "backend_developer", Operation: "delete", Pattern: "**"}}); err == nil {
		t.Fatalf("expected unknown operation error")
	}
	rules, err := policyRules([]config.PolicyRule{{Agent: "backend_developer", Operation: "Write", Pattern: "main.go"}})
	if err != nil {
		t.Fatalf("policy rules: %v", err)
	}
	if rules[0].Operation != domain.FileOperationWrite {
		t.Fatalf("unexpected operation %q", rules[0].Operation)
	}
}

func TestTrimTextKeepsRuneBoundary(t *testing.T) {
	got := trimText("построить сайт для фитнеса", 10)
	if !utf8.ValidString(got) {
		t.Fatalf("invalid utf-8: %q", got)
	}
	if got != "пос..." {
		t.Fatalf("got %q", got)
	}
	if got := trimText("  a   b  ", 10); got != "a b" {
		t.Fatalf("got %q", got)
	}
}
