package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"crewforge/internal/domain"
	sqlitestore "crewforge/internal/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/crewforge.db", "sqlite database written by crewforge run")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "open run log: %v\n", err)
		os.Exit(1)
	}
	store, err := sqlitestore.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open run log: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migrate run log: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	runsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	runsTable.SetTitle("Runs (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	factSheetView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true)
	factSheetView.SetTitle("Fact Sheet").SetBorder(true)

	agentStateView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	agentStateView.SetTitle("Agent State").SetBorder(true)

	decisionsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	decisionsView.SetTitle("Decisions").SetBorder(true)

	artifactsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	artifactsView.SetTitle("Artifacts & File Changes").SetBorder(true)

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf("Reading %s | shortcuts: F10 quit, F5 refresh, Tab switch pane", *dbPath))

	rightTop := tview.NewFlex().
		AddItem(factSheetView, 0, 2, false).
		AddItem(artifactsView, 0, 1, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(rightTop, 0, 3, false).
		AddItem(agentStateView, 6, 0, false).
		AddItem(decisionsView, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(runsTable, 0, 1, true).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, true).
		AddItem(statusView, 3, 0, false)

	var selectedRunID atomic.Value
	selectedRunID.Store("")
	var lastRuns atomic.Value
	lastRuns.Store([]domain.Run(nil))
	var detailsVersion uint64

	refreshRuns := func() {
		runs, err := store.ListRuns(ctx, 200)
		if err != nil {
			app.QueueUpdateDraw(func() {
				runsTable.Clear()
				runsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			})
			return
		}
		lastRuns.Store(runs)
		selected := selectedRunID.Load().(string)
		app.QueueUpdateDraw(func() {
			renderRunsTable(runsTable, runs, selected)
		})
	}

	refreshDetailsAsync := func(runID string) {
		if runID == "" {
			return
		}
		version := atomic.AddUint64(&detailsVersion, 1)
		go func(selected string, v uint64) {
			run, runErr := store.GetRun(ctx, selected)
			decisions, decisionErr := store.ListRunDecisions(ctx, selected, 250)
			artifacts, artifactErr := store.ListRunArtifacts(ctx, selected)
			changes, changeErr := store.ListRunFileChanges(ctx, selected)

			if atomic.LoadUint64(&detailsVersion) != v {
				return
			}
			app.QueueUpdateDraw(func() {
				if selected != selectedRunID.Load().(string) {
					return
				}
				if runErr != nil {
					factSheetView.SetText(fmt.Sprintf("error: %v", runErr))
				} else {
					factSheetView.SetText(renderFactSheet(run))
				}
				if decisionErr != nil {
					decisionsView.SetText(fmt.Sprintf("error: %v", decisionErr))
					agentStateView.SetText("")
				} else {
					decisionsView.SetText(renderDecisions(decisions))
					agentStateView.SetText(renderAgentStates(decisions))
				}
				if err := combineErrors(artifactErr, changeErr); err != nil {
					artifactsView.SetText(fmt.Sprintf("error: %v", err))
				} else {
					artifactsView.SetText(renderArtifacts(artifacts, changes))
				}
			})
		}(runID, version)
	}

	runsTable.SetSelectedFunc(func(row, _ int) {
		runs := lastRuns.Load().([]domain.Run)
		if row <= 0 || row > len(runs) {
			return
		}
		selectedRunID.Store(runs[row-1].ID)
		refreshDetailsAsync(runs[row-1].ID)
	})

	panes := []tview.Primitive{runsTable, factSheetView, decisionsView}
	focused := 0
	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go func() {
				refreshRuns()
				refreshDetailsAsync(selectedRunID.Load().(string))
			}()
			statusView.SetText("Manual refresh requested")
			return nil
		case tcell.KeyTAB:
			focused = (focused + 1) % len(panes)
			app.SetFocus(panes[focused])
			return nil
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		refreshRuns()
		for {
			runs := lastRuns.Load().([]domain.Run)
			if selectedRunID.Load().(string) == "" && len(runs) > 0 {
				selectedRunID.Store(runs[0].ID)
			}
			refreshDetailsAsync(selectedRunID.Load().(string))
			<-ticker.C
			refreshRuns()
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}
