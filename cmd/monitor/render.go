package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"crewforge/internal/domain"
)

const managerActor = "project_manager"

func renderRunsTable(table *tview.Table, runs []domain.Run, selectedRunID string) {
	table.Clear()
	headers := []string{"Run", "Status", "Updated", "Request"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, r := range runs {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(shortID(r.ID)))
		table.SetCell(row, 1, tview.NewTableCell(string(r.Status)).SetTextColor(statusColor(r.Status)))
		table.SetCell(row, 2, tview.NewTableCell(r.UpdatedAt.Local().Format("15:04:05")))
		table.SetCell(row, 3, tview.NewTableCell(trimLine(r.UserRequest, 64)))
		if r.ID == selectedRunID {
			table.Select(row, 0)
		}
	}
}

func statusColor(status domain.RunStatus) tcell.Color {
	switch status {
	case domain.RunStatusFinished:
		return tcell.ColorGreen
	case domain.RunStatusFailed:
		return tcell.ColorRed
	default:
		return tcell.ColorYellow
	}
}

// renderFactSheet shows each fact sheet field, with the generated source
// reduced to its size.
func renderFactSheet(run domain.Run) string {
	var sheet domain.FactSheet
	if err := json.Unmarshal(run.FactSheet, &sheet); err != nil {
		return fmt.Sprintf("undecodable fact sheet: %v", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[::b]run[::-] %s  [::b]status[::-] %s\n", run.ID, run.Status)
	if run.LastError != "" {
		fmt.Fprintf(&b, "[red]error:[-] %s\n", tview.Escape(run.LastError))
	}
	fmt.Fprintf(&b, "\n[::b]project_description[::-]\n  %s\n", tview.Escape(sheet.ProjectDescription))

	b.WriteString("\n[::b]project_scope[::-]\n")
	if sheet.ProjectScope == nil {
		b.WriteString("  (pending)\n")
	} else {
		fmt.Fprintf(&b, "  crud=%t login=%t external_urls=%t\n",
			sheet.ProjectScope.RequiresCRUD, sheet.ProjectScope.RequiresLogin, sheet.ProjectScope.RequiresExternalURLs)
	}

	b.WriteString("\n[::b]external_urls[::-]\n")
	if sheet.ExternalURLs == nil {
		b.WriteString("  (pending)\n")
	}
	for _, u := range sheet.ExternalURLs {
		b.WriteString("  " + tview.Escape(u) + "\n")
	}

	b.WriteString("\n[::b]backend_code[::-]\n")
	if sheet.BackendCode == "" {
		b.WriteString("  (pending)\n")
	} else {
		fmt.Fprintf(&b, "  %d bytes, %d lines\n", len(sheet.BackendCode), strings.Count(sheet.BackendCode, "\n")+1)
	}

	b.WriteString("\n[::b]api_endpoint_schema[::-]\n")
	if sheet.APIEndpointSchema == nil {
		b.WriteString("  (pending)\n")
	}
	for _, r := range sheet.APIEndpointSchema {
		dynamic := ""
		if r.IsRouteDynamic.Bool() {
			dynamic = " (dynamic)"
		}
		fmt.Fprintf(&b, "  %-6s %s%s\n", strings.ToUpper(r.Method), tview.Escape(r.Route), dynamic)
	}
	return b.String()
}

func renderDecisions(items []domain.DecisionLog) string {
	if len(items) == 0 {
		return "No decisions"
	}
	var b strings.Builder
	for _, d := range items {
		b.WriteString(fmt.Sprintf(
			"[%s] %s %s\n  reason: %s\n",
			d.CreatedAt.Local().Format("15:04:05"),
			d.Actor,
			d.Action,
			tview.Escape(trimLine(d.Reason, 100)),
		))
		if detail := decisionPayloadSummary(d.Payload); detail != "" {
			b.WriteString("  payload: " + tview.Escape(trimLine(detail, 160)) + "\n")
		}
	}
	return b.String()
}

func renderArtifacts(artifacts []domain.Artifact, changes []domain.FileChangeLog) string {
	if len(artifacts) == 0 && len(changes) == 0 {
		return "No artifacts"
	}
	var b strings.Builder
	for _, a := range artifacts {
		fmt.Fprintf(&b, "%-10s %s  sha256=%s\n", a.Kind, a.URI, shortID(a.Checksum))
	}
	if len(changes) > 0 {
		b.WriteString("\n")
	}
	for _, c := range changes {
		mark := "[green]ok[-]"
		if !c.Allowed {
			mark = "[red]denied[-]"
		}
		fmt.Fprintf(&b, "[%s] %s %s %s %s\n", c.CreatedAt.Local().Format("15:04:05"), mark, c.Operation, c.Path, c.AgentID)
	}
	return b.String()
}

type agentStateLine struct {
	Agent      string
	State      string
	LastAction string
	LastAt     time.Time
}

// renderAgentStates derives one line per agent from the decision log, which
// is ordered newest first.
func renderAgentStates(decisions []domain.DecisionLog) string {
	lines := agentStates(decisions)
	if len(lines) == 0 {
		return "No agents started"
	}
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%-20s %-9s last=%s at %s\n", l.Agent, l.State, l.LastAction, l.LastAt.Local().Format("15:04:05"))
	}
	return b.String()
}

func agentStates(decisions []domain.DecisionLog) []agentStateLine {
	byAgent := map[string]*agentStateLine{}
	for i := len(decisions) - 1; i >= 0; i-- {
		d := decisions[i]
		agentID := d.Actor
		if d.Actor == managerActor {
			agentID = payloadString(d.Payload, "agent")
			if agentID == "" {
				continue
			}
		}
		line, ok := byAgent[agentID]
		if !ok {
			line = &agentStateLine{Agent: agentID, State: "running"}
			byAgent[agentID] = line
		}
		if state := classifyAgentState(d.Actor, d.Action); state != "" {
			line.State = state
		}
		line.LastAction = d.Action
		line.LastAt = d.CreatedAt
	}

	out := make([]agentStateLine, 0, len(byAgent))
	for _, l := range byAgent {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastAt.Equal(out[j].LastAt) {
			return out[i].LastAt.Before(out[j].LastAt)
		}
		return out[i].Agent < out[j].Agent
	})
	return out
}

func classifyAgentState(actor, action string) string {
	if actor != managerActor {
		switch action {
		case "build_failed":
			return "fixing"
		case "unsafe_code_rejected":
			return "vetoed"
		}
		return ""
	}
	switch action {
	case "agent_started":
		return "running"
	case "agent_finished":
		return "finished"
	case "agent_failed":
		return "failed"
	}
	return ""
}

func payloadString(payload []byte, key string) string {
	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err != nil {
		return ""
	}
	s, _ := kv[key].(string)
	return s
}

func decisionPayloadSummary(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "{}" {
		return ""
	}

	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err == nil {
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, kv[k]))
		}
		return strings.Join(parts, ", ")
	}
	return trimmed
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}

func combineErrors(errs ...error) error {
	var parts []string
	for _, err := range errs {
		if err == nil {
			continue
		}
		parts = append(parts, err.Error())
	}
	if len(parts) == 0 {
		return nil
	}
	return errors.New(strings.Join(parts, "; "))
}
