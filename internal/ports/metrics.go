package ports

import "time"

// Metrics recoge métricas operativas del planner y de los solvers.
type Metrics interface {
	ObserveSolve(strategy, status string, d time.Duration)
	ObserveIteration(upper, lower, gap float64)
	ObserveNodes(n int)
}

// NopMetrics descarta todas las observaciones.
type NopMetrics struct{}

func (NopMetrics) ObserveSolve(string, string, time.Duration) {}
func (NopMetrics) ObserveIteration(float64, float64, float64) {}
func (NopMetrics) ObserveNodes(int)                           {}
