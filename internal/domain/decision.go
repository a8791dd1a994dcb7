package domain

import "slices"

// DecisionVariables es la solución de una optimización. Las matrices por
// carga se indexan [carga][periodo de ventana]; las reservas son las
// comprometidas (máximo sobre escenarios), no las de cada escenario.
type DecisionVariables struct {
	Charge               [][]float64 // pc, MW
	Discharge            [][]float64 // pd, MW
	ReserveChargeDown    [][]float64 // rcd
	ReserveChargeUp      [][]float64 // rcu
	ReserveDischargeDown [][]float64 // rdd
	ReserveDischargeUp   [][]float64 // rdu
	BidDown              [][]float64
	BidUp                [][]float64
	// SOC esperado al final de cada periodo (MWh).
	SOC [][]float64

	DayAhead  []float64 // por hora de ventana
	Imbalance []float64 // por periodo

	// Magnitud de las holguras blandas por carga (MWh).
	Shortage []float64
	Overflow []float64

	Cost float64

	// Extras por escenario; nil cuando la estrategia no los produce.
	AcceptDown [][][]float64 // [carga][periodo][escenario]
	AcceptUp   [][][]float64
	Clusters   []Cluster
}

// Cluster es el conjunto de cargas cuya aceptación cambia en la misma frontera
// del orden de aceptación de un periodo.
type Cluster struct {
	Side     Side
	Period   int
	Position int // posición k en el orden de aceptación
	Loads    []int
}

// NewDecisionVariables reserva una solución vacía.
func NewDecisionVariables(nLoads, nT, nHours int) *DecisionVariables {
	return &DecisionVariables{
		Charge:               grid2(nLoads, nT),
		Discharge:            grid2(nLoads, nT),
		ReserveChargeDown:    grid2(nLoads, nT),
		ReserveChargeUp:      grid2(nLoads, nT),
		ReserveDischargeDown: grid2(nLoads, nT),
		ReserveDischargeUp:   grid2(nLoads, nT),
		BidDown:              grid2(nLoads, nT),
		BidUp:                grid2(nLoads, nT),
		SOC:                  grid2(nLoads, nT),
		DayAhead:             make([]float64, nHours),
		Imbalance:            make([]float64, nT),
		Shortage:             make([]float64, nLoads),
		Overflow:             make([]float64, nLoads),
	}
}

// WithAcceptance reserva las matrices de aceptación por escenario.
func (d *DecisionVariables) WithAcceptance(nScenarios int) *DecisionVariables {
	nLoads, nT := len(d.Charge), d.NTimeSteps()
	d.AcceptDown = grid3(nLoads, nT, nScenarios)
	d.AcceptUp = grid3(nLoads, nT, nScenarios)
	return d
}

// NTimeSteps devuelve el número de periodos de la solución.
func (d *DecisionVariables) NTimeSteps() int { return len(d.Imbalance) }

// NLoads devuelve el número de cargas.
func (d *DecisionVariables) NLoads() int { return len(d.Charge) }

// Reserve devuelve la reserva total comprometida del lado en (e, t).
func (d *DecisionVariables) Reserve(side Side, e, t int) float64 {
	if side == Up {
		return d.ReserveChargeUp[e][t] + d.ReserveDischargeUp[e][t]
	}
	return d.ReserveChargeDown[e][t] + d.ReserveDischargeDown[e][t]
}

// Bid devuelve el precio de oferta del lado en (e, t).
func (d *DecisionVariables) Bid(side Side, e, t int) float64 {
	if side == Up {
		return d.BidUp[e][t]
	}
	return d.BidDown[e][t]
}

// Acceptance devuelve la matriz de aceptación del lado, o nil.
func (d *DecisionVariables) Acceptance(side Side) [][][]float64 {
	if side == Up {
		return d.AcceptUp
	}
	return d.AcceptDown
}

// Shift desplaza la solución n periodos y hours horas hacia delante,
// rellenando el final con ceros, para reutilizarla como Problem.Previous en el
// siguiente paso del horizonte rodante. Las longitudes no cambian.
func (d *DecisionVariables) Shift(n, hours int) {
	for _, m := range [][][]float64{
		d.Charge, d.Discharge,
		d.ReserveChargeDown, d.ReserveChargeUp,
		d.ReserveDischargeDown, d.ReserveDischargeUp,
		d.BidDown, d.BidUp, d.SOC,
	} {
		for _, row := range m {
			shift(row, n)
		}
	}
	for _, acc := range [][][][]float64{d.AcceptDown, d.AcceptUp} {
		for e := range acc {
			for t := range acc[e] {
				if t+n < len(acc[e]) {
					copy(acc[e][t], acc[e][t+n])
				} else {
					clear(acc[e][t])
				}
			}
		}
	}
	shift(d.Imbalance, n)
	shift(d.DayAhead, hours)
	d.Clusters = nil
}

// ForLoad devuelve una copia con sólo la carga e. Las series de mercado
// (day-ahead, desvío) se copian tal cual.
func (d *DecisionVariables) ForLoad(e int) *DecisionVariables {
	row := func(m [][]float64) [][]float64 {
		if e >= len(m) {
			return [][]float64{make([]float64, d.NTimeSteps())}
		}
		return [][]float64{slices.Clone(m[e])}
	}
	out := &DecisionVariables{
		Charge:               row(d.Charge),
		Discharge:            row(d.Discharge),
		ReserveChargeDown:    row(d.ReserveChargeDown),
		ReserveChargeUp:      row(d.ReserveChargeUp),
		ReserveDischargeDown: row(d.ReserveDischargeDown),
		ReserveDischargeUp:   row(d.ReserveDischargeUp),
		BidDown:              row(d.BidDown),
		BidUp:                row(d.BidUp),
		SOC:                  row(d.SOC),
		DayAhead:             slices.Clone(d.DayAhead),
		Imbalance:            slices.Clone(d.Imbalance),
		Shortage:             []float64{at(d.Shortage, e)},
		Overflow:             []float64{at(d.Overflow, e)},
	}
	return out
}

func shift(xs []float64, n int) {
	if n <= 0 {
		return
	}
	if n >= len(xs) {
		clear(xs)
		return
	}
	copy(xs, xs[n:])
	clear(xs[len(xs)-n:])
}

func grid2(a, b int) [][]float64 {
	out := make([][]float64, a)
	for i := range out {
		out[i] = make([]float64, b)
	}
	return out
}

func grid3(a, b, c int) [][][]float64 {
	out := make([][][]float64, a)
	for i := range out {
		out[i] = grid2(b, c)
	}
	return out
}
