package domain

import (
	"fmt"
	"math"
)

// Side distingue la reserva a bajar (down: consumir más) de la reserva a subir
// (up: consumir menos).
type Side int

const (
	Down Side = iota
	Up
)

func (s Side) String() string {
	if s == Up {
		return "up"
	}
	return "down"
}

// Sides lista ambos lados en orden estable.
var Sides = [2]Side{Down, Up}

// Scenario es una realización hipotética de precios con probabilidad Probability.
// Todas las series se indexan por periodo absoluto.
type Scenario struct {
	Probability float64
	Down        []float64 // precio de regulación a bajar
	Up          []float64 // precio de regulación a subir
	CapDown     []float64 // pago por capacidad a bajar
	CapUp       []float64 // pago por capacidad a subir
	Imbalance   []float64
	PropDown    []float64 // fracción de la reserva a bajar que se activa si se acepta
	PropUp      []float64
}

// Price devuelve el precio de regulación del lado en el periodo absoluto t.
func (s Scenario) Price(side Side, t int) float64 {
	if side == Up {
		return at(s.Up, t)
	}
	return at(s.Down, t)
}

// CapacityPayment devuelve el pago por capacidad del lado en t.
func (s Scenario) CapacityPayment(side Side, t int) float64 {
	if side == Up {
		return at(s.CapUp, t)
	}
	return at(s.CapDown, t)
}

// Proportion devuelve la proporción de activación del lado en t.
func (s Scenario) Proportion(side Side, t int) float64 {
	if side == Up {
		return at(s.PropUp, t)
	}
	return at(s.PropDown, t)
}

// ImbalancePrice devuelve el precio de desvío en t.
func (s Scenario) ImbalancePrice(t int) float64 { return at(s.Imbalance, t) }

func at(xs []float64, t int) float64 {
	if t < 0 || t >= len(xs) {
		return 0
	}
	return xs[t]
}

// ScenarioSet es el conjunto de escenarios de un problema.
type ScenarioSet []Scenario

// Len devuelve el número de escenarios.
func (s ScenarioSet) Len() int { return len(s) }

// Equiprobable asigna probabilidad 1/N a cada escenario.
func (s ScenarioSet) Equiprobable() {
	for i := range s {
		s[i].Probability = 1 / float64(len(s))
	}
}

// Expected devuelve la esperanza de f sobre el conjunto.
func (s ScenarioSet) Expected(f func(Scenario) float64) float64 {
	var sum float64
	for _, sc := range s {
		sum += sc.Probability * f(sc)
	}
	return sum
}

// Subset copia los escenarios en los índices dados, en ese orden.
func (s ScenarioSet) Subset(idx []int) ScenarioSet {
	out := make(ScenarioSet, len(idx))
	for k, i := range idx {
		out[k] = s[i]
	}
	return out
}

// Validate comprueba que las probabilidades suman 1 y que las series que
// requieren los mercados activos cubren los periodos absolutos [0, to).
func (s ScenarioSet) Validate(to int, needImbalance, needReserves, needCapacity bool) error {
	if len(s) == 0 {
		return fmt.Errorf("scenario set: empty: %w", ErrInvalidConfiguration)
	}
	var sum float64
	for i, sc := range s {
		if sc.Probability < 0 {
			return fmt.Errorf("scenario %d: negative probability: %w", i, ErrInvalidConfiguration)
		}
		sum += sc.Probability
		var series []namedSeries
		if needImbalance {
			series = append(series, namedSeries{"imbalance", sc.Imbalance})
		}
		if needReserves {
			series = append(series,
				namedSeries{"down", sc.Down}, namedSeries{"up", sc.Up},
				namedSeries{"prop_down", sc.PropDown}, namedSeries{"prop_up", sc.PropUp})
		}
		if needCapacity {
			series = append(series, namedSeries{"cap_down", sc.CapDown}, namedSeries{"cap_up", sc.CapUp})
		}
		for _, ns := range series {
			if len(ns.values) < to {
				return fmt.Errorf("scenario %d: %s series covers %d periods, need %d: %w",
					i, ns.name, len(ns.values), to, ErrInvalidConfiguration)
			}
		}
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("scenario set: probabilities sum to %.6f: %w", sum, ErrInvalidConfiguration)
	}
	return nil
}

type namedSeries struct {
	name   string
	values []float64
}
