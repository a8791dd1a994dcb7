package program

import (
	"math"

	"github.com/alejandrodnm/flexbid/internal/domain"
)

// clampMargin separa la suma de reservas comprometidas de la velocidad máxima.
const clampMargin = 1e-5

// fixedPeriods fija aceptación y reservas de los primeros periodos a lo ya
// comprometido en Problem.Previous. La aceptación de cada escenario se deduce
// de la oferta enviada; la carga queda libre.
type fixedPeriods struct{}

func (fixedPeriods) apply(pr *Program) {
	p, o, m := pr.p, pr.opts, pr.m
	prev := p.Previous
	n := p.NScenarios()
	nFix := min(o.FixedPTUs, p.NTimeSteps)

	for e := range p.Loads {
		lv := &pr.v.loads[e]
		for t := 0; t < nFix; t++ {
			abs := p.Abs(t)
			maxC, maxD := pr.speeds(e, t)
			rcd, rcu := clampPair(cell2(prev.ReserveChargeDown, e, t), cell2(prev.ReserveChargeUp, e, t), maxC)
			rdd, rdu := clampPair(cell2(prev.ReserveDischargeDown, e, t), cell2(prev.ReserveDischargeUp, e, t), maxD)
			committed := [2][2]float64{{rcd, rdd}, {rcu, rdu}}
			bids := [2]float64{cell2(prev.BidDown, e, t), cell2(prev.BidUp, e, t)}

			for _, side := range domain.Sides {
				a := pr.ord.Acceptance(side, abs)
				top := pr.ord.SettlementPrice(side, abs, a[0])
				total := committed[side][0] + committed[side][1]
				for i := 0; i < n; i++ {
					price := pr.ord.SettlementPrice(side, abs, i)
					var acc float64
					if o.QuantityOnly || pr.ord.Accepts(side, price, bids[side]) || (total > 0 && price == top) {
						acc = 1
					}
					m.Fix(lv.v[side][t][i], acc)
					m.Fix(lv.rc[side][t][i], acc*committed[side][0])
					m.Fix(lv.discharge(side, t, i), acc*committed[side][1])
				}
			}
		}
	}
}

// clampPair recorta un par down/up comprometido para que quepa en limit.
func clampPair(down, up, limit float64) (float64, float64) {
	if down+up <= limit-clampMargin {
		return down, up
	}
	down = math.Max(0, limit-clampMargin-up)
	up = math.Min(up, math.Max(0, limit-clampMargin-down))
	return down, up
}
