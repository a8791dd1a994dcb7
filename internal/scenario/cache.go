package scenario

import "sync"

type cacheKey struct {
	total, target int
}

// SelectionCache guarda reducciones por (escenarios totales, objetivo).
// Pertenece a quien lo crea (el planner, por petición); no hay caché global.
type SelectionCache struct {
	mu sync.Mutex
	m  map[cacheKey]Selection
}

// NewSelectionCache crea una caché vacía.
func NewSelectionCache() *SelectionCache {
	return &SelectionCache{m: make(map[cacheKey]Selection)}
}

// Get devuelve la selección guardada para (total, target).
func (c *SelectionCache) Get(total, target int) (Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[cacheKey{total, target}]
	return s, ok
}

// GetOrCompute devuelve la selección guardada o la calcula con compute y la
// guarda si no hubo error. El segundo valor indica acierto de caché.
func (c *SelectionCache) GetOrCompute(total, target int, compute func() (Selection, error)) (Selection, bool, error) {
	if s, ok := c.Get(total, target); ok {
		return s, true, nil
	}
	s, err := compute()
	if err != nil {
		return Selection{}, false, err
	}
	c.mu.Lock()
	c.m[cacheKey{total, target}] = s
	c.mu.Unlock()
	return s, false, nil
}

// Len devuelve el número de entradas.
func (c *SelectionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
