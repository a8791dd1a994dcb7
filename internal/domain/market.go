package domain

import (
	"fmt"
	"math"
)

// Market agrupa los datos de mercado de un problema.
type Market struct {
	// PTU es la longitud del periodo en fracción de hora (0.25 = 15 min).
	PTU float64
	// DayAhead es el precio day-ahead por hora absoluta.
	DayAhead  []float64
	Scenarios ScenarioSet
	// MinBid es el tamaño mínimo de una oferta de reserva (MW). 0 = sin mínimo.
	MinBid float64
}

// PTUtoH mapea el periodo t de la ventana que empieza en startT al índice de
// hora dentro de la ventana.
func (m Market) PTUtoH(startT, t int) int {
	return m.absHour(startT+t) - m.absHour(startT)
}

// NHours devuelve el número de horas que cubren n periodos desde startT.
func (m Market) NHours(startT, n int) int {
	if n <= 0 {
		return 0
	}
	return m.PTUtoH(startT, n-1) + 1
}

// DayAheadPrice devuelve el precio day-ahead de la hora h de la ventana.
func (m Market) DayAheadPrice(startT, h int) float64 {
	return at(m.DayAhead, m.absHour(startT)+h)
}

func (m Market) absHour(t int) int {
	return int(math.Floor(float64(t)*m.PTU + 1e-9))
}

// Validate comprueba la longitud del PTU.
func (m Market) Validate() error {
	if m.PTU <= 0 || m.PTU > 1 {
		return fmt.Errorf("market: ptu %.3f outside (0,1]: %w", m.PTU, ErrInvalidConfiguration)
	}
	return nil
}

// Grid contiene la capacidad de cada línea por periodo absoluto.
// Una Grid sin líneas no impone límites.
type Grid struct {
	Lines [][]float64
}

// NLines devuelve el número de líneas.
func (g Grid) NLines() int { return len(g.Lines) }

// Capacity devuelve la capacidad de la línea p en el periodo absoluto t.
// Fuera de rango devuelve +Inf.
func (g Grid) Capacity(p, t int) float64 {
	if p < 0 || p >= len(g.Lines) || t < 0 || t >= len(g.Lines[p]) {
		return math.Inf(1)
	}
	return g.Lines[p][t]
}
