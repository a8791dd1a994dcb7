package mip

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
)

// WriteLP escribe el modelo en formato CPLEX LP, legible por HiGHS, CBC y
// Gurobi. Sirve para depurar modelos fuera del proceso.
func (m *Model) WriteLP(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "\\ %s\n", m.Name)
	fmt.Fprintln(bw, "Minimize")
	fmt.Fprintf(bw, " obj: %s\n", m.formatTerms(m.objective.Terms))
	if m.objective.Const != 0 {
		fmt.Fprintf(bw, "\\ objective constant %s\n", num(m.objective.Const))
	}

	fmt.Fprintln(bw, "Subject To")
	for i, c := range m.constraints {
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("c%d", i)
		}
		fmt.Fprintf(bw, " %s: %s %s %s\n", sanitize(name), m.formatTerms(c.Expr.Terms), c.Sense, num(c.RHS))
	}

	fmt.Fprintln(bw, "Bounds")
	for i, v := range m.vars {
		if v.Type == Binary && v.LB == 0 && v.UB == 1 {
			continue
		}
		name := m.varName(Var(i))
		switch {
		case v.LB == v.UB:
			fmt.Fprintf(bw, " %s = %s\n", name, num(v.LB))
		case math.IsInf(v.LB, -1) && math.IsInf(v.UB, 1):
			fmt.Fprintf(bw, " %s free\n", name)
		default:
			fmt.Fprintf(bw, " %s <= %s <= %s\n", bound(v.LB), name, bound(v.UB))
		}
	}

	var bins []string
	for i, v := range m.vars {
		if v.Type == Binary {
			bins = append(bins, m.varName(Var(i)))
		}
	}
	if len(bins) > 0 {
		fmt.Fprintln(bw, "Binaries")
		for _, b := range bins {
			fmt.Fprintf(bw, " %s\n", b)
		}
	}
	fmt.Fprintln(bw, "End")
	return bw.Flush()
}

func (m *Model) formatTerms(terms []Term) string {
	if len(terms) == 0 {
		return "0"
	}
	var sb strings.Builder
	for i, t := range terms {
		c := t.Coef
		switch {
		case i == 0 && c < 0:
			sb.WriteString("- ")
			c = -c
		case i > 0 && c < 0:
			sb.WriteString(" - ")
			c = -c
		case i > 0:
			sb.WriteString(" + ")
		}
		if c != 1 {
			sb.WriteString(num(c))
			sb.WriteByte(' ')
		}
		sb.WriteString(m.varName(t.Var))
	}
	return sb.String()
}

func (m *Model) varName(v Var) string {
	name := m.vars[v].Name
	if name == "" {
		return fmt.Sprintf("x%d", v)
	}
	return sanitize(name)
}

func num(x float64) string {
	return fmt.Sprintf("%.10g", x)
}

func bound(x float64) string {
	switch {
	case math.IsInf(x, 1):
		return "+inf"
	case math.IsInf(x, -1):
		return "-inf"
	}
	return num(x)
}

// sanitize sustituye los caracteres que el formato LP no admite en nombres.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ', r == ':', r == '+', r == '-', r == '*', r == '<', r == '>', r == '=':
			return '_'
		}
		return r
	}, name)
}
