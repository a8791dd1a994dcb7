package program

import (
	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/mip"
)

// fixedPeriod indica si el periodo t viene comprometido de la ventana anterior.
func (pr *Program) fixedPeriod(t int) bool {
	return pr.p.Previous != nil && t < pr.opts.FixedPTUs
}

// boundaries crea los indicadores de frontera f[side][t][k] y los enlaza con
// la aceptación de cada carga: f[k] ≥ v_e[a_k] − v_e[a_k+1] y
// f[n−1] ≥ v_e[a_n−1]. Por periodo añade Σ_k f ≤ K fuera de los periodos fijos.
type boundaries struct{}

func (boundaries) apply(pr *Program) {
	p, o, m := pr.p, pr.opts, pr.m
	n := p.NScenarios()
	for _, side := range domain.Sides {
		if !pr.needsBoundaries(side) {
			continue
		}
		s := side.String()
		pr.v.f[side] = newGrid(p.NTimeSteps, n, func(t, k int) mip.Var {
			f := m.NewBinary(vname("f"+s, t, k))
			if fixed := pr.fixedClusters[side]; fixed != nil {
				m.SetUpper(f, fixed[t][k])
			}
			return f
		})
		for t := 0; t < p.NTimeSteps; t++ {
			a := pr.ord.Acceptance(side, p.Abs(t))
			f := pr.v.f[side][t]
			for e := range p.Loads {
				v := pr.v.loads[e].v[side][t]
				for k := 0; k < n; k++ {
					var ex mip.Expr
					ex.Add(f[k], 1).Add(v[a[k]], -1)
					if k < n-1 {
						ex.Add(v[a[k+1]], 1)
					}
					m.AddConstraint(vname("fl"+s, e, t, k), ex, mip.GE, 0)
				}
			}
			if o.ClusterMethod != ClusterPerPeriod || o.Clusters(side) == 0 || pr.fixedPeriod(t) {
				continue
			}
			var sum mip.Expr
			for k := 0; k < n; k++ {
				sum.Add(f[k], 1)
			}
			m.AddConstraint(vname("fcap"+s, t), sum, mip.LE, float64(o.Clusters(side)))
		}
	}
}

// needsBoundaries indica si el lado necesita indicadores de frontera: para
// contar tramos por periodo, para el tamaño mínimo de oferta o porque el
// maestro lagrangiano los fija.
func (pr *Program) needsBoundaries(side domain.Side) bool {
	o := pr.opts
	if !o.Reserves || o.QuantityOnly {
		return false
	}
	if pr.fixedClusters[side] != nil {
		return true
	}
	if o.ClusterMethod == ClusterPerPeriod && o.Clusters(side) > 0 {
		return true
	}
	return pr.p.Market.MinBid > 0
}

// perLoadGroups asigna cada carga a uno de K grupos de aceptación para todo
// el horizonte: |v_e − g_c| ≤ 1 − x[e][c] y Σ_c x[e][c] = 1.
type perLoadGroups struct{}

func (perLoadGroups) apply(pr *Program) {
	p, o, m := pr.p, pr.opts, pr.m
	k := max(o.UClusters, o.DClusters)
	if k <= 0 {
		return
	}
	nT, nS := p.NTimeSteps, p.NScenarios()

	pr.v.group = make([][2][][]mip.Var, k)
	for c := range pr.v.group {
		for _, side := range domain.Sides {
			pr.v.group[c][side] = newGrid(nT, nS, func(t, i int) mip.Var {
				return m.NewBinary(vname("g"+side.String(), c, t, i))
			})
		}
	}
	pr.v.assign = make([][]mip.Var, len(p.Loads))
	for e := range p.Loads {
		pr.v.assign[e] = make([]mip.Var, k)
		var one mip.Expr
		for c := 0; c < k; c++ {
			pr.v.assign[e][c] = m.NewBinary(vname("x", e, c))
			one.Add(pr.v.assign[e][c], 1)
		}
		m.AddConstraint(vname("x_one", e), one, mip.EQ, 1)

		for c := 0; c < k; c++ {
			x := pr.v.assign[e][c]
			for _, side := range domain.Sides {
				s := side.String()
				for t := 0; t < nT; t++ {
					if pr.fixedPeriod(t) {
						continue
					}
					for i := 0; i < nS; i++ {
						v, g := pr.v.loads[e].v[side][t][i], pr.v.group[c][side][t][i]
						var up, down mip.Expr
						up.Add(v, 1).Add(g, -1).Add(x, 1)
						m.AddConstraint(vname("gl"+s, e, c, t, i), up, mip.LE, 1)
						down.Add(g, 1).Add(v, -1).Add(x, 1)
						m.AddConstraint(vname("gu"+s, e, c, t, i), down, mip.LE, 1)
					}
				}
			}
		}
	}
}

// minBid prohíbe una frontera salvo que la reserva agregada cambie allí al
// menos MinBid: MinBid·f[k] ≤ Σ_e (R_e[a_k] − R_e[a_k+1]).
type minBid struct{}

func (minBid) apply(pr *Program) {
	p, m := pr.p, pr.m
	size := p.Market.MinBid
	n := p.NScenarios()
	for _, side := range domain.Sides {
		if pr.v.f[side] == nil {
			continue
		}
		for t := 0; t < p.NTimeSteps; t++ {
			if pr.fixedPeriod(t) {
				continue
			}
			a := pr.ord.Acceptance(side, p.Abs(t))
			for k := 0; k < n; k++ {
				var ex mip.Expr
				ex.Add(pr.v.f[side][t][k], size)
				for e := range p.Loads {
					lv := &pr.v.loads[e]
					ex.AddExpr(lv.reserve(side, t, a[k]), -1)
					if k < n-1 {
						ex.AddExpr(lv.reserve(side, t, a[k+1]), 1)
					}
				}
				m.AddConstraint(vname("minbid_"+side.String(), t, k), ex, mip.LE, 0)
			}
		}
	}
}

// multiplierTerms añade al objetivo de un subproblema lagrangiano de una
// sola carga Σ_k λ[t][k]·(v[a_k] − v[a_k+1]) + λ[t][n−1]·v[a_n−1].
type multiplierTerms struct{}

func (multiplierTerms) apply(pr *Program) {
	p, m := pr.p, pr.m
	n := p.NScenarios()
	lv := &pr.v.loads[0]
	for _, side := range domain.Sides {
		lambda := pr.multipliers[side]
		if lambda == nil {
			continue
		}
		for t := 0; t < p.NTimeSteps; t++ {
			a := pr.ord.Acceptance(side, p.Abs(t))
			v := lv.v[side][t]
			for k := 0; k < n; k++ {
				m.AddObjective(v[a[k]], lambda[t][k])
				if k < n-1 {
					m.AddObjective(v[a[k+1]], -lambda[t][k])
				}
			}
		}
	}
}
