package program

import (
	"math"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/mip"
)

// marketBalance iguala el consumo neto de cada periodo a la compra day-ahead
// de su hora más la compra en desvíos: Σ_e(pc − pd) = pda[h(t)] + pimb[t].
type marketBalance struct{}

func (marketBalance) apply(pr *Program) {
	p, o, m := pr.p, pr.opts, pr.m

	if o.DayAhead && o.DayAheadFixed {
		for h, v := range pr.v.pda {
			m.Fix(v, cell1(p.Previous.DayAhead, h))
		}
	}
	separate := o.DayAhead && o.Imbalance && !o.DayAheadFixed && pr.shared == nil
	pr.v.sep = make([]mip.Var, p.NTimeSteps)

	for t := 0; t < p.NTimeSteps; t++ {
		pr.v.sep[t] = mip.NoVar
		pda, pimb := pr.v.pda[p.Hour(t)], pr.v.pimb[t]

		var bal mip.Expr
		var bigM float64
		for e := range p.Loads {
			lv := &pr.v.loads[e]
			bal.Add(lv.pc[t], 1).Add(lv.pd[t], -1)
			maxC, maxD := pr.speeds(e, t)
			bigM += math.Max(maxC, maxD)
		}
		bal.Add(pda, -1).Add(pimb, -1)
		m.AddConstraint(vname("balance", t), bal, mip.EQ, 0)

		if !separate || bigM == 0 {
			continue
		}
		// Ambas compras con el mismo signo: x = 1 compra, x = 0 vende.
		x := m.NewBinary(vname("daorimb", t))
		pr.v.sep[t] = x
		for _, v := range []mip.Var{pimb, pda} {
			var lo, hi mip.Expr
			lo.Add(v, 1).Add(x, -bigM)
			m.AddConstraint(vname("sep_lo", int(v), t), lo, mip.GE, -bigM)
			hi.Add(v, 1).Add(x, -bigM)
			m.AddConstraint(vname("sep_hi", int(v), t), hi, mip.LE, 0)
		}
	}
}

// gridCaps limita, por línea, periodo y escenario, el consumo de las cargas
// conectadas más su reserva a bajar.
type gridCaps struct{}

func (gridCaps) apply(pr *Program) {
	p, o, m := pr.p, pr.opts, pr.m
	nS := 1
	if o.Reserves {
		nS = p.NScenarios()
	}
	for line := 0; line < p.Grid.NLines(); line++ {
		for t := 0; t < p.NTimeSteps; t++ {
			capacity := p.Grid.Capacity(line, p.Abs(t))
			if math.IsInf(capacity, 1) {
				continue
			}
			for i := 0; i < nS; i++ {
				var ex mip.Expr
				for e, l := range p.Loads {
					if l.GridPosition != line {
						continue
					}
					lv := &pr.v.loads[e]
					ex.Add(lv.pc[t], 1).Add(lv.pd[t], -1)
					if o.Reserves {
						ex.AddExpr(lv.reserve(domain.Down, t, i), 1)
					}
				}
				m.AddConstraint(vname("grid", line, t, i), ex, mip.LE, capacity)
			}
		}
	}
}

func cell1(xs []float64, i int) float64 {
	if i < 0 || i >= len(xs) {
		return 0
	}
	return xs[i]
}

func cell2(m [][]float64, e, t int) float64 {
	if e < 0 || e >= len(m) {
		return 0
	}
	return cell1(m[e], t)
}
