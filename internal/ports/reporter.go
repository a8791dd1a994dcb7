package ports

import (
	"context"

	"github.com/alejandrodnm/flexbid/internal/domain"
)

// Reporter presenta el resultado de una ejecución al usuario.
type Reporter interface {
	// Report muestra el resumen, el programa de carga, las ofertas y la serie LR.
	// En la implementación de consola, imprime tablas formateadas.
	Report(ctx context.Context, r domain.Result) error
}
