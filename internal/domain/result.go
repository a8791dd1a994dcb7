package domain

import "time"

// Iteration es un punto de la serie de la descomposición lagrangiana.
type Iteration struct {
	N          int
	Upper      float64 // mejor cota superior hasta ahora
	Lower      float64 // cota inferior de esta iteración
	Gap        float64 // (Upper-Lower)/|Upper|
	Step       float64
	StepFactor float64
}

// Result es el registro completo de una ejecución del planner.
type Result struct {
	RunID        string
	Strategy     string
	StartedAt    time.Time
	Duration     time.Duration
	StartT       int
	NTimeSteps   int
	LoadIDs      []string
	NScenarios   int
	Objective    float64
	BaselineCost float64
	Decisions    *DecisionVariables
	Iterations   []Iteration
}

// Savings devuelve el ahorro frente a la carga directa.
func (r Result) Savings() float64 {
	return r.BaselineCost - r.Objective
}

// TotalShortage suma la energía que faltó a la salida en todas las cargas.
func (r Result) TotalShortage() float64 {
	if r.Decisions == nil {
		return 0
	}
	var sum float64
	for _, s := range r.Decisions.Shortage {
		sum += s
	}
	return sum
}
