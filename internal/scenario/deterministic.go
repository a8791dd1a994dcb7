package scenario

import (
	"math"

	"github.com/alejandrodnm/flexbid/internal/domain"
)

// Collapsed es el conjunto de un único escenario esperado que usa la variante
// determinista, junto con las ofertas de precio fijadas por cuantil.
type Collapsed struct {
	Set domain.ScenarioSet
	// Ofertas por periodo absoluto; sólo [from, to) está relleno.
	BidDown []float64
	BidUp   []float64
}

// QuantileBid devuelve la oferta que se acepta con probabilidad deseada chi:
// el precio del escenario en la posición cuantil del ranking descendente.
// Con chi ≈ 1 se oferta a un precio que siempre se acepta.
func QuantileBid(o *Ordering, side domain.Side, t int, chi float64) float64 {
	capacity := o.CapacityPayment()
	if chi >= 1-1e-3 {
		switch {
		case capacity:
			return 0
		case side == domain.Down:
			return 1000
		}
		return -1000
	}
	n := o.Len()
	k := int(math.Floor(chi * float64(n-1)))
	if side == domain.Down && !capacity {
		k = int(math.Floor((1 - chi) * float64(n-1)))
	}
	return o.SettlementPrice(side, t, o.Rank(side, t)[k])
}

// Collapse reduce set a un único escenario esperado para las probabilidades de
// aceptación chiDown y chiUp en los periodos absolutos [from, to):
//   - proporción de activación: E[prop]·chi
//   - precio de la energía activada: esperanza condicionada a aceptación
//   - pago por capacidad: esperanza condicionada a aceptación, por chi
//
// Los campos Down/Up del escenario resultante contienen el precio de la
// energía activada también con pago por capacidad.
func Collapse(set domain.ScenarioSet, capacityPayment bool, chiDown, chiUp float64, from, to int) Collapsed {
	o := NewOrdering(set, capacityPayment)
	sc := domain.Scenario{
		Probability: 1,
		Down:        make([]float64, to),
		Up:          make([]float64, to),
		CapDown:     make([]float64, to),
		CapUp:       make([]float64, to),
		Imbalance:   make([]float64, to),
		PropDown:    make([]float64, to),
		PropUp:      make([]float64, to),
	}
	c := Collapsed{BidDown: make([]float64, to), BidUp: make([]float64, to)}

	for t := from; t < to; t++ {
		sc.Imbalance[t] = set.Expected(func(s domain.Scenario) float64 { return s.ImbalancePrice(t) })
		for _, side := range domain.Sides {
			chi := chiDown
			if side == domain.Up {
				chi = chiUp
			}
			bid := QuantileBid(o, side, t, chi)
			accepted := func(i int) bool { return o.Accepts(side, o.SettlementPrice(side, t, i), bid) }

			energy := conditional(set, accepted, bid, func(s domain.Scenario) float64 {
				if capacityPayment {
					return s.ImbalancePrice(t)
				}
				return s.Price(side, t)
			})
			prop := chi * set.Expected(func(s domain.Scenario) float64 { return s.Proportion(side, t) })
			var capPay float64
			if capacityPayment {
				capPay = chi * conditional(set, accepted, bid, func(s domain.Scenario) float64 {
					return s.CapacityPayment(side, t)
				})
			}

			if side == domain.Down {
				sc.Down[t], sc.PropDown[t], sc.CapDown[t], c.BidDown[t] = energy, prop, capPay, bid
			} else {
				sc.Up[t], sc.PropUp[t], sc.CapUp[t], c.BidUp[t] = energy, prop, capPay, bid
			}
		}
	}
	c.Set = domain.ScenarioSet{sc}
	return c
}

// conditional es E[f | accepted]; sin masa aceptada devuelve fallback.
func conditional(set domain.ScenarioSet, accepted func(int) bool, fallback float64, f func(domain.Scenario) float64) float64 {
	var sum, mass float64
	for i, s := range set {
		if accepted(i) {
			sum += s.Probability * f(s)
			mass += s.Probability
		}
	}
	if mass == 0 {
		return fallback
	}
	return sum / mass
}
