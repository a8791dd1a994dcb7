package domain

import "fmt"

// Problem es la entrada inmutable de una optimización: una ventana de
// NTimeSteps periodos que empieza en el periodo absoluto StartT.
type Problem struct {
	Loads      []Load
	Grid       Grid
	Market     Market
	StartT     int
	NTimeSteps int
	// Previous contiene las decisiones ya comprometidas, alineadas con esta
	// ventana (ver DecisionVariables.Shift). nil si no hay historia.
	Previous *DecisionVariables
}

// Abs convierte un periodo de la ventana en periodo absoluto.
func (p Problem) Abs(t int) int { return p.StartT + t }

// NScenarios devuelve el número de escenarios.
func (p Problem) NScenarios() int { return p.Market.Scenarios.Len() }

// NHours devuelve el número de horas day-ahead de la ventana.
func (p Problem) NHours() int { return p.Market.NHours(p.StartT, p.NTimeSteps) }

// Hour devuelve la hora de la ventana que contiene el periodo t.
func (p Problem) Hour(t int) int { return p.Market.PTUtoH(p.StartT, t) }

// Available indica si la carga e está conectada en el periodo t de la ventana.
func (p Problem) Available(e, t int) bool { return p.Loads[e].Available(p.Abs(t)) }

// FirstPeriod es el primer periodo de la ventana con estado de carga propio de
// la carga e: la llegada, o 0 si ya llegó antes de la ventana.
func (p Problem) FirstPeriod(e int) int {
	return max(0, p.Loads[e].Arrival-p.StartT)
}

// EndPeriod es el periodo (exclusivo) de salida de la carga e dentro de la ventana.
// Un valor <= 0 indica que la carga ya no participa.
func (p Problem) EndPeriod(e int) int {
	return min(p.NTimeSteps, p.Loads[e].Departure-p.StartT)
}

// WithArrivalSOC devuelve una copia del problema con los SOC de llegada dados.
// Es el punto de entrada del horizonte rodante entre pasos.
func (p Problem) WithArrivalSOC(soc []float64) Problem {
	loads := make([]Load, len(p.Loads))
	copy(loads, p.Loads)
	for e := range loads {
		if e < len(soc) {
			loads[e].ArrivalSOC = soc[e]
		}
	}
	p.Loads = loads
	return p
}

// WithScenarios devuelve una copia del problema con otro conjunto de escenarios.
func (p Problem) WithScenarios(set ScenarioSet) Problem {
	p.Market.Scenarios = set
	return p
}

// Validate comprueba la coherencia de la ventana y de las cargas.
func (p Problem) Validate() error {
	if p.NTimeSteps <= 0 {
		return fmt.Errorf("problem: %d time steps: %w", p.NTimeSteps, ErrInvalidConfiguration)
	}
	if p.StartT < 0 {
		return fmt.Errorf("problem: negative start %d: %w", p.StartT, ErrInvalidConfiguration)
	}
	if len(p.Loads) == 0 {
		return fmt.Errorf("problem: no loads: %w", ErrInvalidConfiguration)
	}
	if err := p.Market.Validate(); err != nil {
		return err
	}
	for _, l := range p.Loads {
		if err := l.Validate(); err != nil {
			return err
		}
		if p.Grid.NLines() > 0 && (l.GridPosition < 0 || l.GridPosition >= p.Grid.NLines()) {
			return fmt.Errorf("load %q: grid position %d outside %d lines: %w",
				l.ID, l.GridPosition, p.Grid.NLines(), ErrInvalidConfiguration)
		}
	}
	return nil
}
