package policy

import (
	"context"
	"testing"

	"crewforge/internal/domain"
)

func TestCanFileOperation(t *testing.T) {
	engine, err := New([]Rule{
		{Agent: "backend_developer", Operation: domain.FileOperationRead, Pattern: "**"},
		{Agent: "backend_developer", Operation: domain.FileOperationWrite, Pattern: "main.go"},
		{Agent: "backend_developer", Operation: domain.FileOperationWrite, Pattern: "schemas/*.json"},
		{Agent: "*", Operation: domain.FileOperationRead, Pattern: "README.md"},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	tests := []struct {
		name  string
		agent string
		op    domain.FileOperation
		path  string
		want  bool
	}{
		{name: "write source", agent: "backend_developer", op: domain.FileOperationWrite, path: "main.go", want: true},
		{name: "create source", agent: "backend_developer", op: domain.FileOperationCreate, path: "./main.go", want: true},
		{name: "write schema", agent: "backend_developer", op: domain.FileOperationWrite, path: "schemas/api_schema.json", want: true},
		{name: "schema glob does not cross dirs", agent: "backend_developer", op: domain.FileOperationWrite, path: "schemas/x/y.json", want: false},
		{name: "read anything", agent: "backend_developer", op: domain.FileOperationRead, path: "handlers/deep/file.go", want: true},
		{name: "write other file", agent: "backend_developer", op: domain.FileOperationWrite, path: "go.mod", want: false},
		{name: "other agent", agent: "solution_architect", op: domain.FileOperationWrite, path: "main.go", want: false},
		{name: "wildcard agent", agent: "solution_architect", op: domain.FileOperationRead, path: "README.md", want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, reason, err := engine.CanFileOperation(context.Background(), "run-1", tc.agent, tc.op, tc.path)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if got != tc.want {
				t.Fatalf("allowed=%t want=%t reason=%q", got, tc.want, reason)
			}
		})
	}
}

func TestNewRejectsBadPattern(t *testing.T) {
	if _, err := New([]Rule{{Agent: "a", Operation: domain.FileOperationRead, Pattern: "[unclosed"}}); err == nil {
		t.Fatalf("expected compile error")
	}
}
