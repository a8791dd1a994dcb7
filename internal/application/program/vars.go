package program

import (
	"math"
	"strconv"
	"strings"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/mip"
)

// loadVars son las columnas de una carga.
type loadVars struct {
	pc  []mip.Var // [t]
	pd  []mip.Var // [t], NoVar sin V2G
	dir []mip.Var // [t] binaria de sentido (1 = descarga), NoVar sin V2G

	rc [2][][]mip.Var // [side][t][i]
	rd [2][][]mip.Var // [side][t][i], nil sin V2G
	v  [2][][]mip.Var // [side][t][i] aceptación

	soc   [][]mip.Var // [t][i], NoVar antes del primer periodo
	over  []mip.Var   // [i] exceso sobre la capacidad
	short []mip.Var   // [i] déficit a la salida
}

// reserve devuelve la expresión de la reserva total del lado en (t, i).
func (lv *loadVars) reserve(side domain.Side, t, i int) mip.Expr {
	var ex mip.Expr
	ex.Add(lv.rc[side][t][i], 1)
	if lv.rd[side] != nil {
		ex.Add(lv.rd[side][t][i], 1)
	}
	return ex
}

func (lv *loadVars) discharge(side domain.Side, t, i int) mip.Var {
	if lv.rd[side] == nil {
		return mip.NoVar
	}
	return lv.rd[side][t][i]
}

type variables struct {
	loads []loadVars
	pda   []mip.Var // [h]
	pimb  []mip.Var // [t]
	sep   []mip.Var // [t] separación day-ahead/desvío

	// f[side][t][k]: frontera de tramo en la posición k del orden de aceptación.
	f [2][][]mip.Var
	// Grupos por carga: group[c][side][t][i] y assign[e][c].
	group  [][2][][]mip.Var
	assign [][]mip.Var
}

// allocate crea todas las columnas del modelo.
type allocate struct{}

func (allocate) apply(pr *Program) {
	p, o, m := pr.p, pr.opts, pr.m
	nT, nS := p.NTimeSteps, p.NScenarios()

	pr.v.loads = make([]loadVars, len(p.Loads))
	for e, l := range p.Loads {
		lv := &pr.v.loads[e]
		lv.pc = make([]mip.Var, nT)
		lv.pd = make([]mip.Var, nT)
		lv.dir = make([]mip.Var, nT)
		for t := 0; t < nT; t++ {
			abs := p.Abs(t)
			lv.pc[t] = m.NewVar(vname("pc", e, t), mip.Continuous, 0, l.ChargeSpeed(abs))
			lv.pd[t], lv.dir[t] = mip.NoVar, mip.NoVar
			if o.V2G {
				lv.pd[t] = m.NewVar(vname("pd", e, t), mip.Continuous, 0, l.DischargeSpeed(abs))
				lv.dir[t] = m.NewBinary(vname("d", e, t))
				if !l.Available(abs) {
					m.Fix(lv.dir[t], 0)
				}
			}
		}

		if o.Reserves {
			for _, side := range domain.Sides {
				s := side.String()
				// la escalera ya limita cada reserva a la velocidad del periodo
				lv.rc[side] = newGrid(nT, nS, func(t, i int) mip.Var {
					return m.NewVar(vname("rc"+s, e, t, i), mip.Continuous, 0, l.ChargeSpeed(p.Abs(t)))
				})
				if o.V2G {
					lv.rd[side] = newGrid(nT, nS, func(t, i int) mip.Var {
						return m.NewVar(vname("rd"+s, e, t, i), mip.Continuous, 0, l.DischargeSpeed(p.Abs(t)))
					})
				}
				lv.v[side] = newGrid(nT, nS, func(t, i int) mip.Var {
					name := vname("v"+s, e, t, i)
					switch {
					case o.QuantityOnly:
						v := m.NewBinary(name)
						m.Fix(v, 1)
						return v
					case o.relaxed(t):
						return m.NewVar(name, mip.Continuous, 0, 1)
					}
					return m.NewBinary(name)
				})
			}
		}

		first := p.FirstPeriod(e)
		bound := pr.socBound(e)
		lv.soc = newGrid(nT, nS, func(t, i int) mip.Var {
			if t < first {
				return mip.NoVar
			}
			return m.NewVar(vname("soc", e, t, i), mip.Continuous, -bound, bound)
		})
		lv.over = make([]mip.Var, nS)
		lv.short = make([]mip.Var, nS)
		for i := 0; i < nS; i++ {
			lv.over[i] = m.NewNonNeg(vname("over", e, i))
			lv.short[i] = m.NewNonNeg(vname("short", e, i))
		}
	}

	nH := p.NHours()
	mb := pr.marketBounds()
	pr.v.pda = make([]mip.Var, nH)
	for h := range pr.v.pda {
		pr.v.pda[h] = mip.NoVar
		if o.DayAhead {
			pr.v.pda[h] = m.NewVar(vname("pda", h), mip.Continuous, -mb.Hour[h], mb.Hour[h])
		}
	}
	pr.v.pimb = make([]mip.Var, nT)
	for t := range pr.v.pimb {
		pr.v.pimb[t] = mip.NoVar
		if o.Imbalance {
			b := mb.Net[t]
			if o.DayAhead {
				b += mb.Hour[p.Hour(t)]
			}
			pr.v.pimb[t] = m.NewVar(vname("pimb", t), mip.Continuous, -b, b)
		}
	}
}

// MarketBounds acota las posiciones de mercado: Net[t] es la potencia neta que
// pueden mover las cargas en el periodo t y Hour[h] la posición day-ahead
// máxima de la hora h. Una hora sin cargas conectadas no opera.
type MarketBounds struct {
	Net  []float64
	Hour []float64
}

// MarketBounds devuelve las cotas de mercado de las cargas del programa.
func (pr *Program) MarketBounds() MarketBounds {
	p, o := pr.p, pr.opts
	mb := MarketBounds{Net: make([]float64, p.NTimeSteps), Hour: make([]float64, p.NHours())}
	for t := range mb.Net {
		for e := range p.Loads {
			maxC, maxD := pr.speeds(e, t)
			mb.Net[t] += math.Max(maxC, maxD)
		}
		h := p.Hour(t)
		mb.Hour[h] = math.Max(mb.Hour[h], mb.Net[t])
	}
	if o.DayAhead && o.DayAheadFixed && p.Previous != nil {
		for h := range mb.Hour {
			mb.Hour[h] = math.Abs(cell1(p.Previous.DayAhead, h))
		}
	}
	return mb
}

func (pr *Program) marketBounds() MarketBounds {
	if pr.shared != nil {
		return *pr.shared
	}
	return pr.MarketBounds()
}

// socBound acota el SOC de e por la energía que puede mover en el horizonte,
// reservas activadas incluidas.
func (pr *Program) socBound(e int) float64 {
	p, l := pr.p, pr.p.Loads[e]
	ptu, eta := p.Market.PTU, l.Eta()
	var prop float64
	if pr.opts.Reserves {
		for _, sc := range p.Market.Scenarios {
			for t := 0; t < p.NTimeSteps; t++ {
				for _, side := range domain.Sides {
					prop = math.Max(prop, math.Abs(sc.Proportion(side, p.Abs(t))))
				}
			}
		}
	}
	bound := math.Abs(l.ArrivalSOC) + l.Capacity
	for t := 0; t < p.NTimeSteps; t++ {
		maxC, maxD := pr.speeds(e, t)
		bound += ptu * (eta*maxC + maxD/eta) * (1 + 2*prop)
	}
	return bound
}

func newGrid(a, b int, f func(i, j int) mip.Var) [][]mip.Var {
	out := make([][]mip.Var, a)
	for i := range out {
		out[i] = make([]mip.Var, b)
		for j := range out[i] {
			out[i][j] = f(i, j)
		}
	}
	return out
}

// vname construye nombres de columna y fila del estilo "pc_0_3".
func vname(prefix string, idx ...int) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, i := range idx {
		b.WriteByte('_')
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}
