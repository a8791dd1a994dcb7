package program

import (
	"strconv"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/mip"
)

// speeds devuelve la velocidad máxima de carga y de descarga de e en t.
func (pr *Program) speeds(e, t int) (maxC, maxD float64) {
	l, abs := pr.p.Loads[e], pr.p.Abs(t)
	maxC = l.ChargeSpeed(abs)
	if pr.opts.V2G {
		maxD = l.DischargeSpeed(abs)
	}
	return maxC, maxD
}

// naiveReserves acota la reserva de cada escenario por aceptación × velocidad.
// Una oferta aceptada compromete toda la capacidad restante del periodo.
type naiveReserves struct{}

func (naiveReserves) apply(pr *Program) {
	p, o, m := pr.p, pr.opts, pr.m
	nS := p.NScenarios()
	for e := range p.Loads {
		lv := &pr.v.loads[e]
		for t := 0; t < p.NTimeSteps; t++ {
			maxC, maxD := pr.speeds(e, t)
			available := p.Available(e, t)
			pc, pd, dir := lv.pc[t], lv.pd[t], lv.dir[t]
			for i := 0; i < nS; i++ {
				rcd, rcu := lv.rc[domain.Down][t][i], lv.rc[domain.Up][t][i]
				vd, vu := lv.v[domain.Down][t][i], lv.v[domain.Up][t][i]
				row := func(name string, sense mip.Sense, rhs float64, terms ...mip.Term) {
					var ex mip.Expr
					for _, tm := range terms {
						ex.Add(tm.Var, tm.Coef)
					}
					m.AddConstraint(vname(name, e, t, i), ex, sense, rhs)
				}

				row("n_cd_cap", mip.LE, maxC, mip.Term{Var: pc, Coef: 1}, mip.Term{Var: rcd, Coef: 1}, mip.Term{Var: dir, Coef: maxC})
				row("n_cd_acc", mip.LE, 0, mip.Term{Var: rcd, Coef: 1}, mip.Term{Var: vd, Coef: -maxC})
				if available {
					row("n_cd_full", mip.GE, 0, mip.Term{Var: rcd, Coef: 1}, mip.Term{Var: pc, Coef: 1}, mip.Term{Var: vd, Coef: -maxC})
				}
				row("n_cu_cap", mip.GE, 0, mip.Term{Var: pc, Coef: 1}, mip.Term{Var: rcu, Coef: -1})
				row("n_cu_acc", mip.LE, 0, mip.Term{Var: rcu, Coef: 1}, mip.Term{Var: vu, Coef: -maxC})
				row("n_cu_full", mip.GE, -maxC, mip.Term{Var: rcu, Coef: 1}, mip.Term{Var: pc, Coef: -1}, mip.Term{Var: vu, Coef: -maxC})

				if !o.V2G {
					continue
				}
				rdd, rdu := lv.rd[domain.Down][t][i], lv.rd[domain.Up][t][i]
				row("n_dd_cap", mip.GE, 0, mip.Term{Var: pd, Coef: 1}, mip.Term{Var: rdd, Coef: -1})
				row("n_dd_acc", mip.LE, 0, mip.Term{Var: rdd, Coef: 1}, mip.Term{Var: vd, Coef: -maxD})
				row("n_dd_full", mip.GE, -maxD, mip.Term{Var: rdd, Coef: 1}, mip.Term{Var: pd, Coef: -1}, mip.Term{Var: vd, Coef: -maxD})
				row("n_du_cap", mip.LE, 0, mip.Term{Var: pd, Coef: 1}, mip.Term{Var: rdu, Coef: 1}, mip.Term{Var: dir, Coef: -maxD})
				row("n_du_acc", mip.LE, 0, mip.Term{Var: rdu, Coef: 1}, mip.Term{Var: vu, Coef: -maxD})
				if available {
					row("n_du_full", mip.GE, 0, mip.Term{Var: rdu, Coef: 1}, mip.Term{Var: pd, Coef: 1}, mip.Term{Var: vu, Coef: -maxD})
				}
			}
		}
	}
}

// compactReserves impone la escalera de reservas con diferencias entre
// posiciones consecutivas del orden de aceptación. No exige compromiso
// total al ser llamada.
type compactReserves struct{}

func (compactReserves) apply(pr *Program) {
	p, o, m := pr.p, pr.opts, pr.m
	for e := range p.Loads {
		lv := &pr.v.loads[e]
		for t := 0; t < p.NTimeSteps; t++ {
			maxC, maxD := pr.speeds(e, t)
			abs := p.Abs(t)
			for _, side := range domain.Sides {
				a := pr.ord.Acceptance(side, abs)
				head := a[0]
				rc, v := lv.rc[side][t], lv.v[side][t]
				s := side.String()

				var h mip.Expr
				if side == domain.Down {
					h.Add(lv.pc[t], 1).Add(rc[head], 1).Add(lv.dir[t], maxC)
					m.AddConstraint(vname("c_head_c"+s, e, t), h, mip.LE, maxC)
				} else {
					h.Add(lv.pc[t], 1).Add(rc[head], -1)
					m.AddConstraint(vname("c_head_c"+s, e, t), h, mip.GE, 0)
				}
				staircase(m, vname("c_c"+s, e, t), rc, v, a, maxC)

				if !o.V2G {
					continue
				}
				rd := lv.rd[side][t]
				var hd mip.Expr
				if side == domain.Down {
					hd.Add(lv.pd[t], 1).Add(rd[head], -1)
					m.AddConstraint(vname("c_head_d"+s, e, t), hd, mip.GE, 0)
				} else {
					hd.Add(lv.pd[t], 1).Add(rd[head], 1).Add(lv.dir[t], -maxD)
					m.AddConstraint(vname("c_head_d"+s, e, t), hd, mip.LE, 0)
				}
				staircase(m, vname("c_d"+s, e, t), rd, v, a, maxD)
			}
		}
	}
}

// staircase añade, a lo largo del orden a:
//
//	r[a_k] − r[a_k+1] ≤ M·(v[a_k] − v[a_k+1])
//	r[a_k+1] ≤ r[a_k]
//	r[a_n−1] ≤ M·v[a_n−1]
func staircase(m *mip.Model, prefix string, r, v []mip.Var, a []int, bigM float64) {
	n := len(a)
	for k := 0; k < n-1; k++ {
		cur, next := a[k], a[k+1]
		var diff, mono mip.Expr
		diff.Add(r[cur], 1).Add(r[next], -1).Add(v[cur], -bigM).Add(v[next], bigM)
		m.AddConstraint(prefix+"_step_"+strconv.Itoa(k), diff, mip.LE, 0)
		mono.Add(r[next], 1).Add(r[cur], -1)
		m.AddConstraint(prefix+"_mono_"+strconv.Itoa(k), mono, mip.LE, 0)
	}
	var last mip.Expr
	last.Add(r[a[n-1]], 1).Add(v[a[n-1]], -bigM)
	m.AddConstraint(prefix+"_tail", last, mip.LE, 0)
}

// bidLogic hace la aceptación no creciente a lo largo del orden de
// aceptación, con igualdad entre escenarios del mismo precio.
type bidLogic struct{}

func (bidLogic) apply(pr *Program) {
	p, m := pr.p, pr.m
	n := p.NScenarios()
	for e := range p.Loads {
		lv := &pr.v.loads[e]
		for t := 0; t < p.NTimeSteps; t++ {
			abs := p.Abs(t)
			for _, side := range domain.Sides {
				a := pr.ord.Acceptance(side, abs)
				v := lv.v[side][t]
				for k := 0; k < n-1; k++ {
					var ex mip.Expr
					ex.Add(v[a[k+1]], 1).Add(v[a[k]], -1)
					sense := mip.LE
					if pr.ord.SettlementPrice(side, abs, a[k]) == pr.ord.SettlementPrice(side, abs, a[k+1]) {
						sense = mip.EQ
					}
					m.AddConstraint(vname("bid_"+side.String(), e, t, k), ex, sense, 0)
				}
			}
		}
	}
}
