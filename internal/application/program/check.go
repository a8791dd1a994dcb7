package program

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/scenario"
)

const (
	powerTol  = 1e-3
	energyTol = 1e-4
)

// Check verifica una solución del programa contra su propio problema.
func (pr *Program) Check(d *domain.DecisionVariables) error {
	return Check(pr.p, pr.opts, pr.ord, d)
}

// Check verifica los invariantes numéricos de d: límites de potencia, no
// cargar sin estar conectado, continuidad del SOC, aceptación monótona y
// número de tramos por periodo. Devuelve ErrNumericAssertion en la primera
// violación.
func Check(p domain.Problem, o Options, ord *scenario.Ordering, d *domain.DecisionVariables) error {
	if ord == nil {
		ord = scenario.NewOrdering(p.Market.Scenarios, o.CapacityPayment)
	}
	violation := func(format string, args ...any) error {
		return fmt.Errorf("program.Check: "+format+": %w", append(args, domain.ErrNumericAssertion)...)
	}

	for e, l := range p.Loads {
		for t := 0; t < p.NTimeSteps; t++ {
			abs := p.Abs(t)
			maxC, maxD := l.ChargeSpeed(abs), 0.0
			if o.V2G {
				maxD = l.DischargeSpeed(abs)
			}
			if c := d.Charge[e][t] + d.ReserveChargeDown[e][t]; c > maxC+powerTol {
				return violation("load %q t=%d: charge plus down reserve %.4f above %.4f", l.ID, t, c, maxC)
			}
			if dc := d.Discharge[e][t] + d.ReserveDischargeUp[e][t]; dc > maxD+powerTol {
				return violation("load %q t=%d: discharge plus up reserve %.4f above %.4f", l.ID, t, dc, maxD)
			}
			if !l.Available(abs) && d.Charge[e][t] > powerTol {
				return violation("load %q t=%d: charging %.4f while disconnected", l.ID, t, d.Charge[e][t])
			}
		}
		if err := checkSOC(p, o, d, e); err != nil {
			return err
		}
	}

	if d.AcceptDown == nil || o.Deterministic {
		return nil
	}
	n := p.NScenarios()
	for _, side := range domain.Sides {
		acc := d.Acceptance(side)
		for t := 0; t < p.NTimeSteps; t++ {
			if o.relaxed(t) {
				continue
			}
			a := ord.Acceptance(side, p.Abs(t))
			bounds := make(map[int]bool)
			for e, l := range p.Loads {
				for k := 0; k < n-1; k++ {
					if acc[e][t][a[k+1]] > acc[e][t][a[k]]+powerTol {
						return violation("load %q t=%d %s: acceptance increases along the acceptance order at %d", l.ID, t, side, k)
					}
				}
				for k := 0; k < n; k++ {
					if dropsAt(acc[e][t], a, k) {
						bounds[k] = true
					}
				}
			}
			if o.clustersOn(side) && (p.Previous == nil || t >= o.FixedPTUs) && len(bounds) > o.clusterCap(side) {
				return violation("t=%d %s: %d price tiers above cap %d", t, side, len(bounds), o.clusterCap(side))
			}
		}
	}
	return nil
}

// checkSOC recalcula el SOC esperado a partir del programa y lo compara con el
// leído del solver en los periodos posteriores a la llegada.
func checkSOC(p domain.Problem, o Options, d *domain.DecisionVariables, e int) error {
	if len(d.SOC) <= e {
		return nil
	}
	l := p.Loads[e]
	eta := l.Eta()
	var etaD float64
	if o.V2G {
		etaD = 1 / eta
	}
	ptu := p.Market.PTU
	tol := energyTol * math.Max(1, l.Capacity)

	for t := p.FirstPeriod(e) + 1; t < p.NTimeSteps; t++ {
		if o.relaxed(t) {
			continue
		}
		abs := p.Abs(t)
		delta := ptu * (eta*d.Charge[e][t] - etaD*d.Discharge[e][t])
		if o.Reserves && d.AcceptDown != nil {
			for i, sc := range p.Market.Scenarios {
				down := d.AcceptDown[e][t][i] * sc.Proportion(domain.Down, abs) *
					(eta*d.ReserveChargeDown[e][t] + etaD*d.ReserveDischargeDown[e][t])
				up := d.AcceptUp[e][t][i] * sc.Proportion(domain.Up, abs) *
					(eta*d.ReserveChargeUp[e][t] + etaD*d.ReserveDischargeUp[e][t])
				delta += sc.Probability * ptu * (down - up)
			}
		}
		want := d.SOC[e][t-1] + delta
		if diff := math.Abs(d.SOC[e][t] - want); diff > tol {
			return fmt.Errorf("program.Check: load %q t=%d: soc %.5f, recomputed %.5f: %w",
				l.ID, t, d.SOC[e][t], want, domain.ErrNumericAssertion)
		}
	}
	return nil
}
