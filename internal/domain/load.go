package domain

import "fmt"

// DefaultEfficiency se usa cuando una carga no declara su eficiencia de carga.
const DefaultEfficiency = 0.9

// Load es una carga flexible (EV o batería estacionaria).
// Los periodos son PTUs absolutos; Departure es exclusivo.
type Load struct {
	ID           string
	Arrival      int
	Departure    int
	ArrivalSOC   float64 // MWh
	MinSOC       float64 // MWh requeridos a la salida
	Capacity     float64 // MWh
	MaxCharge    float64 // MW
	MaxDischarge float64 // MW
	GridPosition int     // índice de línea en Grid
	Efficiency   float64 // η, 0 = DefaultEfficiency
}

// Available devuelve true si la carga está conectada en el periodo absoluto t.
func (l Load) Available(t int) bool {
	return t >= l.Arrival && t < l.Departure
}

// ChargeSpeed es la velocidad máxima de carga en t, o 0 si no está conectada.
func (l Load) ChargeSpeed(t int) float64 {
	if !l.Available(t) {
		return 0
	}
	return l.MaxCharge
}

// DischargeSpeed es la velocidad máxima de descarga en t, o 0 si no está conectada.
func (l Load) DischargeSpeed(t int) float64 {
	if !l.Available(t) {
		return 0
	}
	return l.MaxDischarge
}

// Eta devuelve la eficiencia efectiva de carga.
func (l Load) Eta() float64 {
	if l.Efficiency <= 0 {
		return DefaultEfficiency
	}
	return l.Efficiency
}

// Validate comprueba la coherencia interna de la carga.
func (l Load) Validate() error {
	switch {
	case l.Departure < l.Arrival:
		return fmt.Errorf("load %q: departure %d before arrival %d: %w", l.ID, l.Departure, l.Arrival, ErrInvalidConfiguration)
	case l.Capacity < 0 || l.MaxCharge < 0 || l.MaxDischarge < 0:
		return fmt.Errorf("load %q: negative capacity or speed: %w", l.ID, ErrInvalidConfiguration)
	case l.Efficiency > 1:
		return fmt.Errorf("load %q: efficiency %.3f above 1: %w", l.ID, l.Efficiency, ErrInvalidConfiguration)
	}
	return nil
}
