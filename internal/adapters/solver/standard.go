package solver

// standard.go: relajación LP de un nodo en forma estándar de gonum, motor de
// respaldo cuando el simplex acotado pierde estabilidad.
//
// lp.Simplex resuelve  min cᵀy  s.a.  A·y = b,  y ≥ 0.  Cada variable del
// modelo se reescribe como x = offset + Σ signo·y:
//   - cota inferior finita:        x = lb + y       (y ≤ ub−lb si ub es finita)
//   - sólo cota superior finita:   x = ub − y
//   - libre:                       x = y⁺ − y⁻
//   - fijada (lb == ub):           constante, sin columna
// Las filas ≤ y ≥ llevan holgura; las igualdades van sin holgura salvo que A
// resulte singular, en cuyo caso se reintenta partiéndolas en dos filas ≤.
// lp.Simplex envuelve los fallos de fase 1 con %s, así que los errores se
// reconocen también por su texto.

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/alejandrodnm/flexbid/internal/mip"
)

var (
	errLPInfeasible = errors.New("lp relaxation infeasible")
	errLPUnbounded  = errors.New("lp relaxation unbounded")
)

// lpSolve apunta al simplex de gonum. Los tests lo sustituyen para simular
// fallos numéricos del motor.
var lpSolve = lp.Simplex

type colRef struct {
	col  int
	sign float64
}

type sparseRow struct {
	coef  map[int]float64
	sense mip.Sense
	rhs   float64
}

// relaxation es la forma estándar de un nodo y la información para volver al
// espacio de variables del modelo.
type relaxation struct {
	nStruct  int
	offset   []float64
	cols     [][]colRef
	cost     []float64
	objConst float64
	rows     []sparseRow
}

func newRelaxation(m *mip.Model, lb, ub []float64, tol float64) (*relaxation, error) {
	n := m.NumVars()
	r := &relaxation{
		offset: make([]float64, n),
		cols:   make([][]colRef, n),
	}
	newCol := func(v int, sign float64) int {
		c := r.nStruct
		r.nStruct++
		r.cols[v] = append(r.cols[v], colRef{col: c, sign: sign})
		return c
	}

	var boundRows []sparseRow
	for v := 0; v < n; v++ {
		lo, hi := lb[v], ub[v]
		switch {
		case hi < lo-tol:
			return nil, errLPInfeasible
		case math.Abs(hi-lo) <= tol:
			r.offset[v] = lo
		case !math.IsInf(lo, -1):
			r.offset[v] = lo
			c := newCol(v, 1)
			if !math.IsInf(hi, 1) {
				boundRows = append(boundRows, sparseRow{coef: map[int]float64{c: 1}, sense: mip.LE, rhs: hi - lo})
			}
		case !math.IsInf(hi, 1):
			r.offset[v] = hi
			newCol(v, -1)
		default:
			newCol(v, 1)
			newCol(v, -1)
		}
	}

	r.cost = make([]float64, r.nStruct)
	obj := m.Objective()
	r.objConst = obj.Const
	for _, t := range obj.Terms {
		r.objConst += t.Coef * r.offset[t.Var]
		for _, cr := range r.cols[t.Var] {
			r.cost[cr.col] += t.Coef * cr.sign
		}
	}

	for _, c := range m.Constraints() {
		row := sparseRow{coef: make(map[int]float64, len(c.Expr.Terms)), sense: c.Sense, rhs: c.RHS}
		for _, t := range c.Expr.Terms {
			row.rhs -= t.Coef * r.offset[t.Var]
			for _, cr := range r.cols[t.Var] {
				row.coef[cr.col] += t.Coef * cr.sign
			}
		}
		for k, a := range row.coef {
			if math.Abs(a) < 1e-12 {
				delete(row.coef, k)
			}
		}
		if len(row.coef) == 0 {
			if !rowSatisfied(row.sense, row.rhs, tol) {
				return nil, errLPInfeasible
			}
			continue
		}
		r.rows = append(r.rows, row)
	}
	r.rows = append(r.rows, boundRows...)
	return r, nil
}

func rowSatisfied(sense mip.Sense, rhs, tol float64) bool {
	switch sense {
	case mip.LE:
		return 0 <= rhs+tol
	case mip.GE:
		return 0 >= rhs-tol
	}
	return math.Abs(rhs) <= tol
}

// solve resuelve la relajación y devuelve el objetivo y los valores en el
// espacio del modelo.
func (r *relaxation) solve(tol float64) (float64, []float64, error) {
	used := make([]bool, r.nStruct)
	for _, row := range r.rows {
		for c := range row.coef {
			used[c] = true
		}
	}
	// Una columna que no aparece en ninguna fila tiene cota superior infinita:
	// queda en 0 si su coste no es negativo.
	colIdx := make([]int, r.nStruct)
	nUsed := 0
	for c := 0; c < r.nStruct; c++ {
		if !used[c] {
			if r.cost[c] < -tol {
				return 0, nil, errLPUnbounded
			}
			colIdx[c] = -1
			continue
		}
		colIdx[c] = nUsed
		nUsed++
	}

	y := make([]float64, r.nStruct)
	obj := r.objConst
	if len(r.rows) > 0 {
		sol, val, err := r.simplex(colIdx, nUsed, false, tol)
		if isSingular(err) {
			sol, val, err = r.simplex(colIdx, nUsed, true, tol)
		}
		if err != nil {
			return 0, nil, err
		}
		for c := 0; c < r.nStruct; c++ {
			if colIdx[c] >= 0 {
				y[c] = sol[colIdx[c]]
			}
		}
		obj += val
	}

	x := make([]float64, len(r.offset))
	for v := range x {
		x[v] = r.offset[v]
		for _, cr := range r.cols[v] {
			x[v] += cr.sign * y[cr.col]
		}
	}
	return obj, x, nil
}

func (r *relaxation) simplex(colIdx []int, nUsed int, splitEq bool, tol float64) ([]float64, float64, error) {
	nRows := 0
	for _, row := range r.rows {
		nRows++
		if row.sense == mip.EQ && splitEq {
			nRows++
		}
	}
	nSlack := 0
	for _, row := range r.rows {
		switch {
		case row.sense != mip.EQ:
			nSlack++
		case splitEq:
			nSlack += 2
		}
	}
	nCols := nUsed + nSlack
	if nRows > nCols && !splitEq {
		// Más filas que columnas: A no puede tener rango completo.
		return r.simplex(colIdx, nUsed, true, tol)
	}

	A := mat.NewDense(nRows, nCols, nil)
	b := make([]float64, nRows)
	c := make([]float64, nCols)
	for k := range r.cost {
		if colIdx[k] >= 0 {
			c[colIdx[k]] = r.cost[k]
		}
	}

	i, slack := 0, nUsed
	put := func(row sparseRow, scale float64, withSlack bool) {
		for k, a := range row.coef {
			A.Set(i, colIdx[k], a*scale)
		}
		b[i] = row.rhs * scale
		if withSlack {
			A.Set(i, slack, 1)
			slack++
		}
		i++
	}
	for _, row := range r.rows {
		switch row.sense {
		case mip.LE:
			put(row, 1, true)
		case mip.GE:
			put(row, -1, true)
		case mip.EQ:
			if splitEq {
				put(row, 1, true)
				put(row, -1, true)
			} else {
				put(row, 1, false)
			}
		}
	}

	val, sol, err := lpSolve(c, A, b, tol, nil)
	switch {
	case matches(err, lp.ErrInfeasible):
		return nil, 0, errLPInfeasible
	case matches(err, lp.ErrUnbounded):
		return nil, 0, errLPUnbounded
	case isSingular(err) && !splitEq:
		return nil, 0, err
	case err != nil:
		return nil, 0, fmt.Errorf("simplex %dx%d: %w", nRows, nCols, err)
	}
	return sol, val, nil
}

func matches(err, target error) bool {
	return err != nil && (errors.Is(err, target) || strings.Contains(err.Error(), target.Error()))
}

func isSingular(err error) bool {
	return matches(err, lp.ErrSingular) || (err != nil && strings.Contains(err.Error(), "singular"))
}

// clampBounds sustituye las cotas infinitas por ±big.
func clampBounds(lb, ub []float64, big float64) ([]float64, []float64) {
	lo, hi := clone(lb), clone(ub)
	for j := range lo {
		if math.IsInf(lo[j], -1) {
			lo[j] = -big
		}
		if math.IsInf(hi[j], 1) {
			hi[j] = big
		}
	}
	return lo, hi
}
