package notify

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/ports"
)

// minActivity: filas del programa por debajo no se imprimen.
const minActivity = 1e-4

// Console implementa ports.Reporter.
type Console struct {
	out   io.Writer
	table bool
	// maxRows limita las filas del programa; 0 = sin límite.
	maxRows int
}

var _ ports.Reporter = (*Console)(nil)

// NewConsole crea un reporter que escribe a stdout.
func NewConsole(table bool, maxRows int) *Console {
	return &Console{out: os.Stdout, table: table, maxRows: maxRows}
}

// NewConsoleWriter crea un reporter para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Report imprime el resultado en el modo configurado.
func (c *Console) Report(_ context.Context, r domain.Result) error {
	c.printSummary(r)
	if !c.table || r.Decisions == nil {
		return nil
	}
	c.printSchedule(r)
	if len(r.Iterations) > 0 {
		c.printIterations(r.Iterations)
	}
	c.printWarnings(r)
	return nil
}

// printSummary imprime lo esencial en una línea.
func (c *Console) printSummary(r domain.Result) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s %d loads × %d ptus, %d scenarios → cost %.2f vs direct %.2f",
		shortID(r.RunID), r.Strategy, len(r.LoadIDs), r.NTimeSteps, r.NScenarios,
		r.Objective, r.BaselineCost)
	if s := r.Savings(); s > 0 {
		fmt.Fprintf(&sb, " | saves %.2f (%.1f%%)", s, pct(s, r.BaselineCost))
	}
	if n := len(r.Iterations); n > 0 {
		fmt.Fprintf(&sb, " | LR %d it gap %.2f%%", n, r.Iterations[n-1].Gap*100)
	}
	if short := r.TotalShortage(); short > minActivity {
		fmt.Fprintf(&sb, " | SHORT %.3f MWh", short)
	}
	fmt.Fprintln(c.out, sb.String())
}

// printSchedule imprime el programa por carga y periodo con sus ofertas.
func (c *Console) printSchedule(r domain.Result) {
	d := r.Decisions
	table := tablewriter.NewWriter(c.out)
	table.Header("Load", "PTU", "Charge", "Disch", "SOC", "R down", "Bid down", "R up", "Bid up")

	rows := 0
	for e := range d.Charge {
		for t := range d.Charge[e] {
			down, up := d.Reserve(domain.Down, e, t), d.Reserve(domain.Up, e, t)
			if d.Charge[e][t] < minActivity && d.Discharge[e][t] < minActivity && down < minActivity && up < minActivity {
				continue
			}
			if c.maxRows > 0 && rows >= c.maxRows {
				continue
			}
			table.Append(
				loadLabel(r.LoadIDs, e),
				fmt.Sprintf("%d", r.StartT+t),
				fmt.Sprintf("%.3f", d.Charge[e][t]),
				fmt.Sprintf("%.3f", d.Discharge[e][t]),
				fmt.Sprintf("%.3f", cell(d.SOC, e, t)),
				fmt.Sprintf("%.3f", down),
				bidLabel(down, d.Bid(domain.Down, e, t)),
				fmt.Sprintf("%.3f", up),
				bidLabel(up, d.Bid(domain.Up, e, t)),
			)
			rows++
		}
	}
	if rows == 0 {
		fmt.Fprintln(c.out, "  no charging or reserve activity")
		return
	}
	table.Render()
	fmt.Fprintln(c.out, "  R = reserva comprometida (MW, máximo sobre escenarios) | Bid = precio único ofertado")
}

// printIterations imprime la serie de cotas de la descomposición.
func (c *Console) printIterations(its []domain.Iteration) {
	fmt.Fprintf(c.out, "\n=== LAGRANGIAN BOUNDS (%d iterations) ===\n", len(its))
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Upper", "Lower", "Gap", "Step", "Factor")
	for _, it := range its {
		table.Append(
			fmt.Sprintf("%d", it.N),
			fmt.Sprintf("%.4f", it.Upper),
			fmt.Sprintf("%.4f", it.Lower),
			fmt.Sprintf("%.2f%%", it.Gap*100),
			fmt.Sprintf("%.4g", it.Step),
			fmt.Sprintf("%.4g", it.StepFactor),
		)
	}
	table.Render()
}

// printWarnings lista las cargas con holguras activas.
func (c *Console) printWarnings(r domain.Result) {
	d := r.Decisions
	for e := range d.Shortage {
		if d.Shortage[e] > minActivity {
			fmt.Fprintf(c.out, "  ⚠ %s leaves %.3f MWh below its minimum SOC\n", loadLabel(r.LoadIDs, e), d.Shortage[e])
		}
	}
	for e := range d.Overflow {
		if d.Overflow[e] > minActivity {
			fmt.Fprintf(c.out, "  ⚠ %s exceeds battery limits by %.3f MWh\n", loadLabel(r.LoadIDs, e), d.Overflow[e])
		}
	}
}

// PrintRuns imprime el histórico de ejecuciones.
func (c *Console) PrintRuns(runs []ports.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(c.out, "No runs found")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Run", "Started", "Strategy", "Cost", "Direct", "Savings")
	var total float64
	for _, r := range runs {
		s := r.BaselineCost - r.Objective
		total += s
		table.Append(
			shortID(r.RunID),
			r.StartedAt.Format("2006-01-02 15:04"),
			r.Strategy,
			fmt.Sprintf("%.2f", r.Objective),
			fmt.Sprintf("%.2f", r.BaselineCost),
			fmt.Sprintf("%.2f", s),
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  %d runs, total savings %.2f\n", len(runs), total)
}

// --- helpers ---

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func loadLabel(ids []string, e int) string {
	if e < len(ids) && ids[e] != "" {
		return truncate(ids[e], 20)
	}
	return fmt.Sprintf("#%d", e)
}

func bidLabel(reserve, bid float64) string {
	if reserve < minActivity {
		return "-"
	}
	return fmt.Sprintf("%.3f", bid)
}

func cell(m [][]float64, e, t int) float64 {
	if e >= len(m) || t >= len(m[e]) {
		return 0
	}
	return m[e][t]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func pct(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / math.Abs(whole) * 100
}
