package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/flexbid/internal/domain"
)

// RunSummary es la fila resumida de una ejecución persistida.
type RunSummary struct {
	RunID        string
	Strategy     string
	StartedAt    time.Time
	Objective    float64
	BaselineCost float64
}

// ResultStore persiste los resultados de cada ejecución del planner.
type ResultStore interface {
	// SaveResult persiste la ejecución completa: resumen, programa, ofertas y serie LR.
	SaveResult(ctx context.Context, r domain.Result) error

	// GetResult reconstruye una ejecución por su ID.
	GetResult(ctx context.Context, runID string) (domain.Result, error)

	// ListRuns devuelve las ejecuciones iniciadas en el rango dado, más recientes primero.
	ListRuns(ctx context.Context, from, to time.Time) ([]RunSummary, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
