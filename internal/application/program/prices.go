package program

import (
	"math"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/scenario"
)

// priceEps separa la oferta de los precios de los escenarios vecinos.
const priceEps = 1e-3

// deriveBids rellena BidDown/BidUp a partir de la aceptación leída.
func (pr *Program) deriveBids(d *domain.DecisionVariables) {
	p, o := pr.p, pr.opts
	for _, side := range domain.Sides {
		out := d.BidDown
		if side == domain.Up {
			out = d.BidUp
		}
		acc := d.Acceptance(side)
		for e := range p.Loads {
			for t := 0; t < p.NTimeSteps; t++ {
				abs := p.Abs(t)
				switch {
				case pr.bids[side] != nil:
					out[e][t] = cell1(pr.bids[side], abs)
				case o.CapacityPayment && o.QuantityOnly:
					out[e][t] = 0
				default:
					out[e][t] = DeriveBid(pr.ord, side, abs, acc[e][t])
				}
			}
		}
	}
}

// DeriveBid devuelve el precio único que reproduce el patrón de aceptación
// acc (por escenario) en el periodo absoluto t. Una oferta a bajar sin pago
// por capacidad se acepta con precios bajos; el resto, con precios altos.
func DeriveBid(o *scenario.Ordering, side domain.Side, t int, acc []float64) float64 {
	n := len(acc)
	if n == 0 {
		return 0
	}
	hi, lo := math.Inf(-1), math.Inf(1)
	for i := 0; i < n; i++ {
		price := o.SettlementPrice(side, t, i)
		hi, lo = math.Max(hi, price), math.Min(lo, price)
	}
	sup, inf := hi+priceEps, lo-priceEps

	upper, lower := math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		price := o.SettlementPrice(side, t, i)
		accepted := acc[i] > acceptedThreshold
		if o.Ascending(side) {
			if accepted {
				upper = math.Min(upper, sup)
				lower = math.Max(lower, price)
			} else {
				upper = math.Min(upper, price-priceEps)
				lower = math.Max(lower, inf-priceEps)
			}
			continue
		}
		if accepted {
			upper = math.Min(upper, price)
			lower = math.Max(lower, inf)
		} else {
			upper = math.Min(upper, sup+priceEps)
			lower = math.Max(lower, price+priceEps)
		}
	}
	return math.Max(lower, upper)
}

// extractClusters agrupa, por lado, periodo y posición del orden de
// aceptación, las cargas cuya aceptación cae en esa posición con un cambio de
// reserva apreciable.
func extractClusters(o *scenario.Ordering, p domain.Problem, d *domain.DecisionVariables, reserves [2][][][]float64) []domain.Cluster {
	const minStep = 1e-3
	var out []domain.Cluster
	n := p.NScenarios()
	for _, side := range domain.Sides {
		acc := d.Acceptance(side)
		for t := 0; t < p.NTimeSteps; t++ {
			a := o.Acceptance(side, p.Abs(t))
			for k := 0; k < n; k++ {
				var loads []int
				for e := range p.Loads {
					if !dropsAt(acc[e][t], a, k) {
						continue
					}
					step := reserves[side][e][t][a[k]]
					if k < n-1 {
						step -= reserves[side][e][t][a[k+1]]
					}
					if step > minStep {
						loads = append(loads, e)
					}
				}
				if len(loads) > 0 {
					out = append(out, domain.Cluster{Side: side, Period: t, Position: k, Loads: loads})
				}
			}
		}
	}
	return out
}

// dropsAt indica si la aceptación cae de 1 a 0 tras la posición k del orden a.
func dropsAt(acc []float64, a []int, k int) bool {
	if acc[a[k]] <= acceptedThreshold {
		return false
	}
	return k == len(a)-1 || acc[a[k+1]] <= acceptedThreshold
}
