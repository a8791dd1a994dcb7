package notify_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flexbid/internal/adapters/notify"
	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/ports"
)

func makeResult() domain.Result {
	d := domain.NewDecisionVariables(2, 2, 1)
	d.Charge[0][0] = 4
	d.SOC[0][0] = 1
	d.ReserveChargeDown[1][1] = 2.5
	d.BidDown[1][1] = 17.25
	d.Shortage[1] = 0.5
	return domain.Result{
		RunID:        "0f8fad5b-d9cb-469f-a165-70867728950e",
		Strategy:     "lagrangian",
		StartT:       10,
		NTimeSteps:   2,
		LoadIDs:      []string{"ev-north", strings.Repeat("B", 30)},
		NScenarios:   4,
		Objective:    80,
		BaselineCost: 100,
		Decisions:    d,
		Iterations: []domain.Iteration{
			{N: 1, Upper: 90, Lower: 60, Gap: 0.3333, Step: 1, StepFactor: 2},
			{N: 2, Upper: 80, Lower: 79, Gap: 0.0125, Step: 0.5, StepFactor: 2},
		},
	}
}

func TestConsole_Report_Compact(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	require.NoError(t, c.Report(context.Background(), makeResult()))

	out := buf.String()
	assert.Contains(t, out, "[0f8fad5b] lagrangian 2 loads × 2 ptus, 4 scenarios")
	assert.Contains(t, out, "cost 80.00 vs direct 100.00")
	assert.Contains(t, out, "saves 20.00 (20.0%)")
	assert.Contains(t, out, "gap 1.25%")
	assert.Contains(t, out, "SHORT 0.500")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestConsole_Report_Tables(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	require.NoError(t, c.Report(context.Background(), makeResult()))

	out := buf.String()
	assert.Contains(t, out, "ev-north")
	assert.Contains(t, out, "4.000")
	assert.Contains(t, out, "17.250")
	// id largo truncado
	assert.Contains(t, out, "...")
	assert.Contains(t, out, "LAGRANGIAN BOUNDS (2 iterations)")
	assert.Contains(t, out, "33.33%")
	assert.Contains(t, out, "below its minimum SOC")
}

func TestConsole_Report_NoActivity(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)
	r := domain.Result{RunID: "abc", Strategy: "direct", Decisions: domain.NewDecisionVariables(1, 2, 1), LoadIDs: []string{"a"}}

	require.NoError(t, c.Report(context.Background(), r))
	assert.Contains(t, buf.String(), "no charging or reserve activity")
}

func TestConsole_PrintRuns(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	c.PrintRuns(nil)
	assert.Contains(t, buf.String(), "No runs found")

	buf.Reset()
	c.PrintRuns([]ports.RunSummary{
		{RunID: "run-1", Strategy: "stochastic", StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), Objective: 90, BaselineCost: 100},
		{RunID: "run-2", Strategy: "direct", StartedAt: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), Objective: 50, BaselineCost: 50},
	})
	out := buf.String()
	assert.Contains(t, out, "2026-03-01 12:00")
	assert.Contains(t, out, "2 runs, total savings 10.00")
}
