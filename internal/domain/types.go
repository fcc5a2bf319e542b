package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role/content pair exchanged with the LLM.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChatCompletion struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type AgentState string

const (
	AgentStateDiscovery   AgentState = "discovery"
	AgentStateWorking     AgentState = "working"
	AgentStateUnitTesting AgentState = "unit_testing"
	AgentStateFinished    AgentState = "finished"
)

type ProjectScope struct {
	RequiresCRUD         bool `json:"is_crud_required"`
	RequiresLogin        bool `json:"is_user_login_and_logout"`
	RequiresExternalURLs bool `json:"is_external_urls_required"`
}

// BoolString is a boolean the model is asked to print as "true"/"false".
// A bare JSON boolean is accepted as well.
type BoolString string

func (b *BoolString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true", "false":
		*b = BoolString(data)
		return nil
	case "null":
		*b = "false"
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("is_route_dynamic: %w", err)
	}
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "true", "false":
		*b = BoolString(v)
		return nil
	default:
		return fmt.Errorf("is_route_dynamic: %q is not a boolean", s)
	}
}

func (b BoolString) Bool() bool {
	v, err := strconv.ParseBool(string(b))
	return err == nil && v
}

type RouteObject struct {
	IsRouteDynamic BoolString      `json:"is_route_dynamic"`
	Method         string          `json:"method"`
	RequestBody    json.RawMessage `json:"request_body"`
	Response       json.RawMessage `json:"response"`
	Route          string          `json:"route"`
}

// FactSheet is the project document threaded through every agent. A nil
// field has not been produced yet.
type FactSheet struct {
	ProjectDescription string        `json:"project_description"`
	ProjectScope       *ProjectScope `json:"project_scope"`
	ExternalURLs       []string      `json:"external_urls"`
	BackendCode        string        `json:"backend_code,omitempty"`
	APIEndpointSchema  []RouteObject `json:"api_endpoint_schema"`
}

func NewFactSheet(description string) *FactSheet {
	return &FactSheet{ProjectDescription: description}
}

type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
	RunStatusFailed   RunStatus = "failed"
)

type Run struct {
	ID          string          `json:"id"`
	UserRequest string          `json:"user_request"`
	Status      RunStatus       `json:"status"`
	FactSheet   json.RawMessage `json:"fact_sheet"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type FileOperation string

const (
	FileOperationRead   FileOperation = "read"
	FileOperationWrite  FileOperation = "write"
	FileOperationCreate FileOperation = "create"
)

type Artifact struct {
	ID            string          `json:"id"`
	RunID         string          `json:"run_id"`
	ProducerAgent string          `json:"producer_agent"`
	Kind          string          `json:"kind"`
	URI           string          `json:"uri"`
	Checksum      string          `json:"checksum"`
	Metadata      json.RawMessage `json:"metadata"`
	CreatedAt     time.Time       `json:"created_at"`
}

type DecisionLog struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type FileChangeLog struct {
	ID        int64         `json:"id"`
	RunID     string        `json:"run_id"`
	AgentID   string        `json:"agent_id"`
	Operation FileOperation `json:"operation"`
	Path      string        `json:"path"`
	Allowed   bool          `json:"allowed"`
	Reason    string        `json:"reason"`
	CreatedAt time.Time     `json:"created_at"`
}
