// Package scenario ordena y reduce conjuntos de escenarios de precios.
package scenario

import (
	"slices"
	"sync"

	"github.com/alejandrodnm/flexbid/internal/domain"
)

type orderKey struct {
	side domain.Side
	t    int
}

// Ordering ordena los escenarios de cada periodo por precio de liquidación.
// Es seguro para uso concurrente; los subproblemas lagrangianos lo comparten.
type Ordering struct {
	capacityPayment bool

	mu   sync.Mutex
	set  domain.ScenarioSet
	rank map[orderKey][]int
}

// NewOrdering crea un Ordering sobre set. Con capacityPayment el precio de
// liquidación es el pago por capacidad; si no, el precio de regulación.
func NewOrdering(set domain.ScenarioSet, capacityPayment bool) *Ordering {
	return &Ordering{
		capacityPayment: capacityPayment,
		set:             set,
		rank:            make(map[orderKey][]int),
	}
}

// Reset sustituye el conjunto de escenarios e invalida la caché.
func (o *Ordering) Reset(set domain.ScenarioSet) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.set = set
	o.rank = make(map[orderKey][]int)
}

// CapacityPayment indica qué precio se usa para ordenar.
func (o *Ordering) CapacityPayment() bool { return o.capacityPayment }

// Len devuelve el número de escenarios.
func (o *Ordering) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.set)
}

// SettlementPrice devuelve el precio de liquidación del escenario i en el
// periodo absoluto t.
func (o *Ordering) SettlementPrice(side domain.Side, t, i int) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.price(side, t, i)
}

func (o *Ordering) price(side domain.Side, t, i int) float64 {
	if o.capacityPayment {
		return o.set[i].CapacityPayment(side, t)
	}
	return o.set[i].Price(side, t)
}

// Rank devuelve los índices de escenario ordenados por precio de liquidación
// descendente en el periodo absoluto t. Los empates se resuelven por índice.
// El slice devuelto no debe modificarse.
func (o *Ordering) Rank(side domain.Side, t int) []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := orderKey{side, t}
	if r, ok := o.rank[key]; ok {
		return r
	}
	r := make([]int, len(o.set))
	for i := range r {
		r[i] = i
	}
	slices.SortStableFunc(r, func(a, b int) int {
		pa, pb := o.price(side, t, a), o.price(side, t, b)
		switch {
		case pa > pb:
			return -1
		case pa < pb:
			return 1
		}
		return 0
	})
	o.rank[key] = r
	return r
}

// Acceptance devuelve el orden a lo largo del cual la aceptación de una oferta
// es no creciente. Una oferta a bajar sin pago por capacidad se activa cuando
// el precio está por debajo de la oferta, así que su orden es el inverso del
// ranking; en el resto de casos coincide con Rank.
func (o *Ordering) Acceptance(side domain.Side, t int) []int {
	r := o.Rank(side, t)
	if side == domain.Up || o.capacityPayment {
		return r
	}
	rev := slices.Clone(r)
	slices.Reverse(rev)
	return rev
}

// Ascending indica si los precios crecen a lo largo del orden de aceptación.
func (o *Ordering) Ascending(side domain.Side) bool {
	return side == domain.Down && !o.capacityPayment
}

// Accepts indica si una oferta a precio bid se acepta con precio de
// liquidación price.
func (o *Ordering) Accepts(side domain.Side, price, bid float64) bool {
	if o.Ascending(side) {
		return price <= bid
	}
	return price >= bid
}
