// Package program construye y resuelve el programa estocástico de carga y
// ofertas de reserva. Las variantes del modelo se componen a partir de
// estrategias independientes seleccionadas por Options.
package program

import (
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/flexbid/internal/domain"
)

// ReserveModel selecciona la codificación de aceptación de ofertas.
type ReserveModel string

const (
	ReserveCompact ReserveModel = "compact"
	ReserveNaive   ReserveModel = "naive"
)

// ClusterMethod selecciona cómo se cuentan los tramos de precio.
type ClusterMethod string

const (
	ClusterNone      ClusterMethod = "none"
	ClusterPerPeriod ClusterMethod = "per_period"
	ClusterPerLoad   ClusterMethod = "per_load"
)

// ClearancePaidAsCleared es el único modo de liquidación soportado.
const ClearancePaidAsCleared = "paid_as_cleared"

// Options describe los mercados activos y la variante del modelo.
type Options struct {
	Reserves        bool
	CapacityPayment bool
	DayAhead        bool
	// DayAheadFixed fija la compra day-ahead a Problem.Previous.DayAhead.
	DayAheadFixed bool
	Imbalance     bool
	V2G           bool
	// QuantityOnly oferta sólo cantidad: toda reserva ofertada se acepta.
	QuantityOnly bool
	Grid         bool

	// FixedPTUs son los primeros periodos ya comprometidos en Problem.Previous.
	FixedPTUs int

	UClusters     int
	DClusters     int
	ClusterMethod ClusterMethod
	ReserveModel  ReserveModel

	ShortagePenalty    float64
	BatteryDegradation float64
	// RelaxedBinaryAfter: la aceptación de los periodos t > RelaxedBinaryAfter
	// es continua en [0,1]. Negativo = nunca.
	RelaxedBinaryAfter int
	Clearance          string

	// Deterministic usa precios de energía de regulación también con pago por
	// capacidad y toma las ofertas del cuantil (ver NewDeterministic).
	Deterministic bool

	TimeLimit time.Duration
	MIPGap    float64
	// SavePath, si no está vacío, guarda el modelo en formato LP antes de resolver.
	SavePath string
}

// DefaultOptions devuelve la configuración por defecto del modelo.
func DefaultOptions() Options {
	return Options{
		Reserves:           true,
		Imbalance:          true,
		ClusterMethod:      ClusterNone,
		ReserveModel:       ReserveCompact,
		ShortagePenalty:    1000,
		RelaxedBinaryAfter: -1,
		Clearance:          ClearancePaidAsCleared,
	}
}

// Clusters devuelve el número máximo de tramos del lado; 0 = sin límite.
func (o Options) Clusters(side domain.Side) int {
	if side == domain.Up {
		return o.UClusters
	}
	return o.DClusters
}

// Validate comprueba que la combinación de opciones es resoluble.
func (o Options) Validate() error {
	if c := normalizeClearance(o.Clearance); c != "" && c != ClearancePaidAsCleared {
		return fmt.Errorf("program: clearance %q not supported: %w", o.Clearance, domain.ErrInvalidConfiguration)
	}
	if !o.DayAhead && !o.Imbalance {
		return fmt.Errorf("program: no energy market enabled: %w", domain.ErrInvalidConfiguration)
	}
	switch o.ReserveModel {
	case "", ReserveCompact, ReserveNaive:
	default:
		return fmt.Errorf("program: reserve model %q: %w", o.ReserveModel, domain.ErrInvalidConfiguration)
	}
	switch o.ClusterMethod {
	case "", ClusterNone, ClusterPerPeriod, ClusterPerLoad:
	default:
		return fmt.Errorf("program: cluster method %q: %w", o.ClusterMethod, domain.ErrInvalidConfiguration)
	}
	if o.UClusters < 0 || o.DClusters < 0 || o.FixedPTUs < 0 {
		return fmt.Errorf("program: negative cluster count or fixed periods: %w", domain.ErrInvalidConfiguration)
	}
	if o.ShortagePenalty < 0 || o.BatteryDegradation < 0 || o.MIPGap < 0 {
		return fmt.Errorf("program: negative penalty, degradation or gap: %w", domain.ErrInvalidConfiguration)
	}
	return nil
}

// normalizeClearance acepta "paid as cleared" y variantes con guiones.
func normalizeClearance(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// relaxed indica si la aceptación del periodo t es continua.
func (o Options) relaxed(t int) bool {
	return o.RelaxedBinaryAfter >= 0 && t > o.RelaxedBinaryAfter
}

// clustersOn indica si el lado tiene contador de tramos.
func (o Options) clustersOn(side domain.Side) bool {
	if !o.Reserves || o.QuantityOnly {
		return false
	}
	return o.clusterCap(side) > 0
}

// clusterCap es el número de tramos efectivo del lado. Con grupos por carga
// cada lado admite tantos patrones como grupos hay.
func (o Options) clusterCap(side domain.Side) int {
	switch o.ClusterMethod {
	case ClusterPerPeriod:
		return o.Clusters(side)
	case ClusterPerLoad:
		return max(o.UClusters, o.DClusters)
	}
	return 0
}
