package scenario

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/alejandrodnm/flexbid/internal/domain"
)

// DistanceKind selecciona la métrica entre escenarios.
type DistanceKind string

const (
	DistanceRMS  DistanceKind = "rms"
	DistanceCost DistanceKind = "cost"
)

// RMSDistance devuelve la matriz de distancias RMS normalizadas por varianza
// sobre las series de precio y proporción de activación de ambos lados, en
// los periodos absolutos [from, to). Las series sin dispersión se ignoran.
func RMSDistance(set domain.ScenarioSet, from, to int) [][]float64 {
	series := []func(domain.Scenario, int) float64{
		func(s domain.Scenario, t int) float64 { return s.Price(domain.Down, t) },
		func(s domain.Scenario, t int) float64 { return s.Price(domain.Up, t) },
		func(s domain.Scenario, t int) float64 { return s.Proportion(domain.Down, t) },
		func(s domain.Scenario, t int) float64 { return s.Proportion(domain.Up, t) },
	}

	n := len(set)
	sigma := make([]float64, len(series))
	for k, f := range series {
		var xs []float64
		for _, sc := range set {
			for t := from; t < to; t++ {
				xs = append(xs, f(sc, t))
			}
		}
		if len(xs) > 1 {
			sigma[k] = stat.StdDev(xs, nil)
		}
	}

	d := square(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var sum float64
			for k, f := range series {
				if sigma[k] == 0 || math.IsNaN(sigma[k]) {
					continue
				}
				for t := from; t < to; t++ {
					diff := (f(set[i], t) - f(set[j], t)) / sigma[k]
					sum += diff * diff
				}
			}
			d[i][j] = math.Sqrt(sum)
			d[j][i] = d[i][j]
		}
	}
	return d
}

// CostDistance mide la diferencia entre escenarios por el coste de cargar
// cada carga en los periodos de desvío más baratos de cada escenario.
func CostDistance(p domain.Problem) [][]float64 {
	set := p.Market.Scenarios
	cost := make([]float64, len(set))
	for i, sc := range set {
		cost[i] = GreedyChargingCost(p, sc)
	}
	d := square(len(set))
	for i := range set {
		for j := range set {
			d[i][j] = math.Abs(cost[i] - cost[j])
		}
	}
	return d
}

// GreedyChargingCost es el coste de cubrir el SOC mínimo de cada carga
// cargando a máxima velocidad en sus periodos con precio de desvío más bajo.
func GreedyChargingCost(p domain.Problem, sc domain.Scenario) float64 {
	var total float64
	for e, l := range p.Loads {
		need := (l.MinSOC - l.ArrivalSOC) / l.Eta()
		if need <= 0 {
			continue
		}
		var periods []int
		for t := p.FirstPeriod(e); t < p.EndPeriod(e); t++ {
			if p.Available(e, t) {
				periods = append(periods, t)
			}
		}
		slices.SortStableFunc(periods, func(a, b int) int {
			pa, pb := sc.ImbalancePrice(p.Abs(a)), sc.ImbalancePrice(p.Abs(b))
			switch {
			case pa < pb:
				return -1
			case pa > pb:
				return 1
			}
			return 0
		})
		for _, t := range periods {
			if need <= 0 {
				break
			}
			energy := math.Min(need, l.MaxCharge*p.Market.PTU)
			total += energy * sc.ImbalancePrice(p.Abs(t))
			need -= energy
		}
	}
	return total
}

func square(n int) [][]float64 {
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	return d
}
