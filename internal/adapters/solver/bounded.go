package solver

// bounded.go: simplex primal con cotas sobre una tabla densa.
//
// Cada fila recibe una holgura acotada (≤: [0,∞), ≥: (−∞,0], =: [0,0]) y las
// columnas conservan sus cotas, sin desdoblar las libres. Una columna no
// básica puede estar en cualquier punto de su intervalo: arranca en el valor
// más cercano a cero. La fase 1 minimiza la suma de artificiales de las filas
// que la base de holguras no satisface; en la fase 2 las artificiales quedan
// fijadas a cero.

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/alejandrodnm/flexbid/internal/mip"
)

const (
	pivotTol = 1e-9
	feasTol  = 1e-7
	dropTol  = 1e-12
	// blandAfter es el número de pivotes degenerados seguidos tras el que se
	// pasa a la regla de Bland.
	blandAfter = 50
)

var errLPNumerical = errors.New("lp relaxation numerically unstable")

// primalSimplex es el motor principal de las relajaciones. Los tests lo
// sustituyen para forzar el motor de respaldo.
var primalSimplex = solveBounded

type tableau struct {
	rows, cols int
	nStruct    int
	tab        *mat.Dense
	lb, ub     []float64
	x          []float64
	basis      []int // basis[i]: columna básica de la fila i
	pos        []int // pos[j]: fila de j si es básica, −1 si no
	d          []float64
	tol        float64

	iters, maxIters int
	degenerate      int
	bland           bool
	nz              []int
}

// solveBounded resuelve la relajación de m con las cotas dadas y devuelve el
// objetivo y los valores de las columnas del modelo.
func solveBounded(m *mip.Model, lb, ub []float64, tol float64) (float64, []float64, error) {
	n := m.NumVars()
	for j := 0; j < n; j++ {
		if ub[j] < lb[j]-tol {
			return 0, nil, errLPInfeasible
		}
	}
	cost := make([]float64, n)
	obj := m.Objective()
	for _, t := range obj.Terms {
		cost[t.Var] += t.Coef
	}
	if len(m.Constraints()) == 0 {
		return boundsOnly(cost, obj.Const, lb, ub, tol)
	}

	tb := newTableau(m, lb, ub, tol)

	// Fase 1.
	if tb.cols > tb.nStruct+tb.rows {
		phase1 := make([]float64, tb.cols)
		for j := tb.nStruct + tb.rows; j < tb.cols; j++ {
			phase1[j] = 1
		}
		if err := tb.optimize(phase1); err != nil {
			if errors.Is(err, errLPUnbounded) {
				return 0, nil, errLPNumerical
			}
			return 0, nil, err
		}
		var infeas float64
		for j := tb.nStruct + tb.rows; j < tb.cols; j++ {
			infeas += tb.x[j]
		}
		if infeas > 1e-6 {
			return 0, nil, errLPInfeasible
		}
		for j := tb.nStruct + tb.rows; j < tb.cols; j++ {
			tb.ub[j] = 0
			if tb.pos[j] < 0 {
				tb.x[j] = 0
			}
		}
	}

	// Fase 2.
	phase2 := make([]float64, tb.cols)
	copy(phase2, cost)
	if err := tb.optimize(phase2); err != nil {
		return 0, nil, err
	}

	x := make([]float64, n)
	copy(x, tb.x[:n])
	if v := m.Violation(func(v mip.Var) float64 { return x[v] }); v > 1e-5*(1+magnitude(m, x)) {
		return 0, nil, errLPNumerical
	}
	val := obj.Const
	for j, c := range cost {
		val += c * x[j]
	}
	return val, x, nil
}

// boundsOnly resuelve un modelo sin filas: cada columna va a su mejor cota.
func boundsOnly(cost []float64, c0 float64, lb, ub []float64, tol float64) (float64, []float64, error) {
	x := make([]float64, len(cost))
	val := c0
	for j, c := range cost {
		switch {
		case c < -tol:
			if math.IsInf(ub[j], 1) {
				return 0, nil, errLPUnbounded
			}
			x[j] = ub[j]
		case c > tol:
			if math.IsInf(lb[j], -1) {
				return 0, nil, errLPUnbounded
			}
			x[j] = lb[j]
		default:
			x[j] = clampTo(0, lb[j], ub[j])
		}
		val += c * x[j]
	}
	return val, x, nil
}

func newTableau(m *mip.Model, lb, ub []float64, tol float64) *tableau {
	n := m.NumVars()
	cons := m.Constraints()
	rows := len(cons)

	x0 := make([]float64, n)
	for j := range x0 {
		x0[j] = clampTo(0, lb[j], ub[j])
	}
	resid := make([]float64, rows)
	art := make([]int, rows)
	nArt := 0
	for i, c := range cons {
		r := c.RHS
		for _, t := range c.Expr.Terms {
			r -= t.Coef * x0[t.Var]
		}
		resid[i] = r
		lo, hi := slackBounds(c.Sense)
		art[i] = -1
		if r < lo-feasTol || r > hi+feasTol {
			art[i] = nArt
			nArt++
		}
	}

	cols := n + rows + nArt
	tb := &tableau{
		rows:     rows,
		cols:     cols,
		nStruct:  n,
		tab:      mat.NewDense(rows, cols, nil),
		lb:       make([]float64, cols),
		ub:       make([]float64, cols),
		x:        make([]float64, cols),
		basis:    make([]int, rows),
		pos:      make([]int, cols),
		d:        make([]float64, cols),
		tol:      tol,
		maxIters: 20*(rows+cols) + 1000,
	}
	copy(tb.lb, lb)
	copy(tb.ub, ub)
	copy(tb.x, x0)
	for j := range tb.pos {
		tb.pos[j] = -1
	}

	for i, c := range cons {
		row := tb.tab.RawRowView(i)
		for _, t := range c.Expr.Terms {
			row[t.Var] += t.Coef
		}
		s := n + i
		row[s] = 1
		tb.lb[s], tb.ub[s] = slackBounds(c.Sense)

		basic := s
		tb.x[s] = resid[i]
		if k := art[i]; k >= 0 {
			a := n + rows + k
			sv := clampTo(resid[i], tb.lb[s], tb.ub[s])
			delta := resid[i] - sv
			tb.x[s] = sv
			tb.lb[a], tb.ub[a] = 0, math.Inf(1)
			tb.x[a] = math.Abs(delta)
			row[a] = 1
			if delta < 0 {
				// fila normalizada para que la artificial tenga coeficiente 1
				for j := range row {
					row[j] = -row[j]
				}
				row[a] = 1
			}
			basic = a
		}
		tb.basis[i] = basic
		tb.pos[basic] = i
	}
	return tb
}

func slackBounds(sense mip.Sense) (float64, float64) {
	switch sense {
	case mip.LE:
		return 0, math.Inf(1)
	case mip.GE:
		return math.Inf(-1), 0
	}
	return 0, 0
}

func clampTo(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// magnitude es la escala de referencia para la tolerancia de verificación.
func magnitude(m *mip.Model, x []float64) float64 {
	s := 0.0
	for _, c := range m.Constraints() {
		s = math.Max(s, math.Abs(c.RHS))
	}
	for _, v := range x {
		s = math.Max(s, math.Abs(v))
	}
	return s
}

// optimize minimiza cost desde la base actual. Tras converger recalcula los
// costes reducidos una vez para descartar deriva numérica.
func (tb *tableau) optimize(cost []float64) error {
	for round := 0; round < 2; round++ {
		tb.reducedCosts(cost)
		tb.degenerate, tb.bland = 0, false
		if err := tb.iterate(); err != nil {
			return err
		}
	}
	return nil
}

func (tb *tableau) reducedCosts(cost []float64) {
	copy(tb.d, cost)
	for i, b := range tb.basis {
		cb := cost[b]
		if cb == 0 {
			continue
		}
		row := tb.tab.RawRowView(i)
		for j, a := range row {
			if a != 0 {
				tb.d[j] -= cb * a
			}
		}
	}
	for _, b := range tb.basis {
		tb.d[b] = 0
	}
}

func (tb *tableau) iterate() error {
	for {
		q, dir := tb.price()
		if q < 0 {
			return nil
		}
		if tb.iters >= tb.maxIters {
			return errLPNumerical
		}
		tb.iters++

		r, theta, atLower := tb.ratio(q, dir)
		if math.IsInf(theta, 1) {
			return errLPUnbounded
		}
		tb.step(q, dir, theta)
		if theta <= feasTol {
			tb.degenerate++
			if tb.degenerate > blandAfter {
				tb.bland = true
			}
		} else {
			tb.degenerate = 0
		}
		if r < 0 {
			// cambio de cota: q sigue no básica
			continue
		}
		leaving := tb.basis[r]
		if atLower {
			tb.x[leaving] = tb.lb[leaving]
		} else {
			tb.x[leaving] = tb.ub[leaving]
		}
		tb.pivot(r, q)
	}
}

// price elige la columna entrante y su sentido (+1 sube, −1 baja).
func (tb *tableau) price() (int, float64) {
	q, dir, best := -1, 0.0, 0.0
	for j := 0; j < tb.cols; j++ {
		if tb.pos[j] >= 0 || tb.ub[j]-tb.lb[j] <= tb.tol {
			continue
		}
		dj := tb.d[j]
		var s float64
		switch {
		case dj < -tb.tol && tb.x[j] < tb.ub[j]-feasTol:
			s = 1
		case dj > tb.tol && tb.x[j] > tb.lb[j]+feasTol:
			s = -1
		default:
			continue
		}
		if tb.bland {
			return j, s
		}
		if a := math.Abs(dj); a > best {
			q, dir, best = j, s, a
		}
	}
	return q, dir
}

// ratio devuelve la fila que sale (−1 si la entrante llega antes a su propia
// cota), el paso y si la saliente queda en su cota inferior.
func (tb *tableau) ratio(q int, dir float64) (int, float64, bool) {
	theta := tb.ub[q] - tb.x[q]
	if dir < 0 {
		theta = tb.x[q] - tb.lb[q]
	}
	r, atLower, bestAlpha := -1, false, 0.0

	for i := 0; i < tb.rows; i++ {
		alpha := dir * tb.tab.At(i, q)
		if math.Abs(alpha) <= pivotTol {
			continue
		}
		b := tb.basis[i]
		var lim float64
		lower := alpha > 0
		if lower {
			if math.IsInf(tb.lb[b], -1) {
				continue
			}
			lim = (tb.x[b] - tb.lb[b]) / alpha
		} else {
			if math.IsInf(tb.ub[b], 1) {
				continue
			}
			lim = (tb.ub[b] - tb.x[b]) / -alpha
		}
		lim = math.Max(lim, 0)

		switch {
		case lim < theta-dropTol:
		case r >= 0 && lim <= theta+dropTol:
			// empate: Bland prefiere el índice menor; si no, el pivote mayor
			if tb.bland {
				if b > tb.basis[r] {
					continue
				}
			} else if math.Abs(alpha) <= bestAlpha {
				continue
			}
		default:
			continue
		}
		theta, r, atLower, bestAlpha = lim, i, lower, math.Abs(alpha)
	}
	return r, theta, atLower
}

func (tb *tableau) step(q int, dir, theta float64) {
	if theta == 0 {
		return
	}
	tb.x[q] += dir * theta
	for i, b := range tb.basis {
		if a := tb.tab.At(i, q); a != 0 {
			tb.x[b] -= dir * theta * a
		}
	}
}

func (tb *tableau) pivot(r, q int) {
	prow := tb.tab.RawRowView(r)
	inv := 1 / prow[q]
	tb.nz = tb.nz[:0]
	for j, a := range prow {
		if a == 0 {
			continue
		}
		a *= inv
		if math.Abs(a) < dropTol {
			prow[j] = 0
			continue
		}
		prow[j] = a
		tb.nz = append(tb.nz, j)
	}
	prow[q] = 1

	for i := 0; i < tb.rows; i++ {
		if i == r {
			continue
		}
		row := tb.tab.RawRowView(i)
		f := row[q]
		if f == 0 {
			continue
		}
		for _, j := range tb.nz {
			v := row[j] - f*prow[j]
			if math.Abs(v) < dropTol {
				v = 0
			}
			row[j] = v
		}
		row[q] = 0
	}
	if f := tb.d[q]; f != 0 {
		for _, j := range tb.nz {
			tb.d[j] -= f * prow[j]
		}
	}
	tb.d[q] = 0

	leaving := tb.basis[r]
	tb.pos[leaving] = -1
	tb.basis[r] = q
	tb.pos[q] = r
}
