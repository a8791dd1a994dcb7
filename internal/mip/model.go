// Package mip construye programas lineales enteros mixtos independientes del
// motor de resolución. Los adapters de solver consumen un *Model ya cerrado.
package mip

import (
	"fmt"
	"math"
)

// VarType es el dominio de una variable.
type VarType int

const (
	Continuous VarType = iota
	Binary
)

// Sense es el sentido de una restricción.
type Sense int

const (
	LE Sense = iota
	GE
	EQ
)

func (s Sense) String() string {
	switch s {
	case GE:
		return ">="
	case EQ:
		return "="
	}
	return "<="
}

// Var identifica una variable dentro de su Model.
type Var int

// NoVar es el valor de una variable ausente (p. ej. V2G desactivado).
const NoVar Var = -1

// Variable describe una columna del modelo.
type Variable struct {
	Name string
	Type VarType
	LB   float64
	UB   float64
}

// Term es coeficiente × variable.
type Term struct {
	Var  Var
	Coef float64
}

// Expr es una expresión lineal más una constante.
type Expr struct {
	Terms []Term
	Const float64
}

// Add suma coef·v a la expresión. NoVar y coeficientes nulos se ignoran.
func (e *Expr) Add(v Var, coef float64) *Expr {
	if v == NoVar || coef == 0 {
		return e
	}
	e.Terms = append(e.Terms, Term{Var: v, Coef: coef})
	return e
}

// AddConst suma una constante.
func (e *Expr) AddConst(c float64) *Expr {
	e.Const += c
	return e
}

// AddExpr suma scale·o.
func (e *Expr) AddExpr(o Expr, scale float64) *Expr {
	if scale == 0 {
		return e
	}
	for _, t := range o.Terms {
		e.Add(t.Var, t.Coef*scale)
	}
	e.Const += o.Const * scale
	return e
}

// Clone devuelve una copia independiente.
func (e Expr) Clone() Expr {
	out := Expr{Const: e.Const, Terms: make([]Term, len(e.Terms))}
	copy(out.Terms, e.Terms)
	return out
}

// Eval evalúa la expresión con los valores dados por value.
func (e Expr) Eval(value func(Var) float64) float64 {
	sum := e.Const
	for _, t := range e.Terms {
		sum += t.Coef * value(t.Var)
	}
	return sum
}

// Constraint es Expr (sense) RHS. La constante de Expr ya está movida al RHS.
type Constraint struct {
	Name  string
	Expr  Expr
	Sense Sense
	RHS   float64
}

// Model es un MIP de minimización.
type Model struct {
	Name        string
	vars        []Variable
	constraints []Constraint
	objective   Expr
	err         error
}

// NewModel crea un modelo vacío.
func NewModel(name string) *Model {
	return &Model{Name: name}
}

// NewVar añade una variable. Los binarios se acotan a [0,1] por defecto.
func (m *Model) NewVar(name string, typ VarType, lb, ub float64) Var {
	if typ == Binary {
		lb, ub = math.Max(lb, 0), math.Min(ub, 1)
	}
	m.vars = append(m.vars, Variable{Name: name, Type: typ, LB: lb, UB: ub})
	return Var(len(m.vars) - 1)
}

// NewBinary es atajo de NewVar(name, Binary, 0, 1).
func (m *Model) NewBinary(name string) Var {
	return m.NewVar(name, Binary, 0, 1)
}

// NewNonNeg es atajo de una continua en [0, +Inf).
func (m *Model) NewNonNeg(name string) Var {
	return m.NewVar(name, Continuous, 0, math.Inf(1))
}

// AddConstraint añade lhs (sense) rhs. Las filas vacías se descartan si se
// cumplen trivialmente; si son imposibles el error queda en Err.
func (m *Model) AddConstraint(name string, lhs Expr, sense Sense, rhs float64) {
	lhs = lhs.Clone()
	rhs -= lhs.Const
	lhs.Const = 0
	lhs.Terms = compact(lhs.Terms)
	if len(lhs.Terms) == 0 {
		if !satisfied(0, sense, rhs, 1e-9) && m.err == nil {
			m.err = fmt.Errorf("mip.AddConstraint: %s: empty row 0 %s %g", name, sense, rhs)
		}
		return
	}
	m.constraints = append(m.constraints, Constraint{Name: name, Expr: lhs, Sense: sense, RHS: rhs})
}

// Err devuelve el primer error de construcción, si lo hubo.
func (m *Model) Err() error { return m.err }

// Fix fija la variable al valor dado.
func (m *Model) Fix(v Var, value float64) {
	if v == NoVar {
		return
	}
	m.vars[v].LB, m.vars[v].UB = value, value
}

// SetBounds cambia las cotas de la variable.
func (m *Model) SetBounds(v Var, lb, ub float64) {
	if v == NoVar {
		return
	}
	m.vars[v].LB, m.vars[v].UB = lb, ub
}

// SetUpper reduce la cota superior de la variable.
func (m *Model) SetUpper(v Var, ub float64) {
	if v == NoVar {
		return
	}
	m.vars[v].UB = math.Min(m.vars[v].UB, ub)
}

// AddObjective suma coef·v a la función objetivo.
func (m *Model) AddObjective(v Var, coef float64) {
	m.objective.Add(v, coef)
}

// AddObjectiveExpr suma scale·e a la función objetivo.
func (m *Model) AddObjectiveExpr(e Expr, scale float64) {
	m.objective.AddExpr(e, scale)
}

// Variable devuelve la descripción de v.
func (m *Model) Variable(v Var) Variable { return m.vars[v] }

// Variables devuelve todas las columnas, indexadas por Var.
func (m *Model) Variables() []Variable { return m.vars }

// Constraints devuelve todas las filas.
func (m *Model) Constraints() []Constraint { return m.constraints }

// Objective devuelve la función objetivo.
func (m *Model) Objective() Expr { return m.objective }

// NumVars devuelve el número de columnas.
func (m *Model) NumVars() int { return len(m.vars) }

// NumIntegers devuelve el número de columnas binarias no fijadas.
func (m *Model) NumIntegers() int {
	n := 0
	for _, v := range m.vars {
		if v.Type == Binary && v.LB != v.UB {
			n++
		}
	}
	return n
}

// Violation devuelve la mayor violación de cotas o restricciones de una
// asignación. Útil para verificar soluciones en tests y en el checker.
func (m *Model) Violation(value func(Var) float64) float64 {
	worst := 0.0
	for i, v := range m.vars {
		x := value(Var(i))
		worst = math.Max(worst, v.LB-x)
		worst = math.Max(worst, x-v.UB)
	}
	for _, c := range m.constraints {
		lhs := c.Expr.Eval(value)
		switch c.Sense {
		case LE:
			worst = math.Max(worst, lhs-c.RHS)
		case GE:
			worst = math.Max(worst, c.RHS-lhs)
		case EQ:
			worst = math.Max(worst, math.Abs(lhs-c.RHS))
		}
	}
	return worst
}

func satisfied(lhs float64, sense Sense, rhs, tol float64) bool {
	switch sense {
	case LE:
		return lhs <= rhs+tol
	case GE:
		return lhs >= rhs-tol
	}
	return math.Abs(lhs-rhs) <= tol
}

// compact agrupa términos repetidos y elimina los nulos, preservando el orden
// de primera aparición.
func compact(terms []Term) []Term {
	pos := make(map[Var]int, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if i, ok := pos[t.Var]; ok {
			out[i].Coef += t.Coef
			continue
		}
		pos[t.Var] = len(out)
		out = append(out, t)
	}
	res := out[:0]
	for _, t := range out {
		if t.Coef != 0 {
			res = append(res, t)
		}
	}
	return res
}
