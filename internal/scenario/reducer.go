package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/ports"
)

// Method selecciona el algoritmo de reducción.
type Method string

const (
	MethodNone        Method = "none"
	MethodFastForward Method = "fast_forward"
	MethodRandom      Method = "random"
	MethodMoment      Method = "moment"
)

// Selection es el resultado de una reducción: índices del conjunto original,
// en orden creciente, y su probabilidad reasignada.
type Selection struct {
	Indices       []int
	Probabilities []float64
}

// Apply construye el conjunto reducido.
func (s Selection) Apply(set domain.ScenarioSet) domain.ScenarioSet {
	out := set.Subset(s.Indices)
	for k := range out {
		out[k].Probability = s.Probabilities[k]
	}
	return out
}

// Reducer reduce un conjunto de escenarios a un tamaño objetivo.
type Reducer struct {
	Method   Method
	Distance DistanceKind
	Seed     uint64
	// Solvers sólo se usa con MethodMoment.
	Solvers ports.SolverFactory
}

// Reduce elige target escenarios del problema. target >= N devuelve el
// conjunto completo.
func (r Reducer) Reduce(ctx context.Context, p domain.Problem, target int) (Selection, error) {
	set := p.Market.Scenarios
	n := len(set)
	if target <= 0 {
		return Selection{}, fmt.Errorf("scenario.Reduce: target %d: %w", target, domain.ErrInvalidConfiguration)
	}
	if target >= n || r.Method == MethodNone || r.Method == "" {
		return identity(set), nil
	}

	from, to := p.StartT, p.StartT+p.NTimeSteps
	switch r.Method {
	case MethodFastForward:
		var d [][]float64
		switch r.Distance {
		case DistanceCost:
			d = CostDistance(p)
		case DistanceRMS, "":
			d = RMSDistance(set, from, to)
		default:
			return Selection{}, fmt.Errorf("scenario.Reduce: distance %q: %w", r.Distance, domain.ErrInvalidConfiguration)
		}
		return FastForward(set, d, target), nil
	case MethodRandom:
		return RandomSubset(set, target, r.Seed), nil
	case MethodMoment:
		sel, err := MomentMatching(ctx, r.Solvers, set, target, from, to)
		if err != nil {
			slog.Warn("scenario: moment matching failed, falling back to random subset", "err", err)
			return RandomSubset(set, target, r.Seed), nil
		}
		return sel, nil
	}
	return Selection{}, fmt.Errorf("scenario.Reduce: method %q: %w", r.Method, domain.ErrInvalidConfiguration)
}

func identity(set domain.ScenarioSet) Selection {
	sel := Selection{Indices: make([]int, len(set)), Probabilities: make([]float64, len(set))}
	for i, sc := range set {
		sel.Indices[i] = i
		sel.Probabilities[i] = sc.Probability
	}
	return sel
}

// FastForward aplica la selección hacia delante. En cada paso elige el
// candidato u no seleccionado que minimiza Σ_k p_k·d(k,u) sobre los k no
// seleccionados (empates al índice menor) y actualiza
// d(k,u) = min(d(k,u), d(k,w)). Los no seleccionados ceden su probabilidad al
// seleccionado más cercano según las distancias originales.
func FastForward(set domain.ScenarioSet, dist [][]float64, target int) Selection {
	n := len(set)
	target = min(target, n)
	d := square(n)
	for i := range d {
		copy(d[i], dist[i])
	}

	selected := make([]bool, n)
	for range target {
		w, best := -1, math.Inf(1)
		for u := 0; u < n; u++ {
			if selected[u] {
				continue
			}
			var score float64
			for k := 0; k < n; k++ {
				if !selected[k] && k != u {
					score += set[k].Probability * d[k][u]
				}
			}
			if score < best {
				w, best = u, score
			}
		}
		selected[w] = true
		for k := 0; k < n; k++ {
			if selected[k] {
				continue
			}
			for u := 0; u < n; u++ {
				if !selected[u] {
					d[k][u] = math.Min(d[k][u], d[k][w])
				}
			}
		}
	}

	sel := Selection{}
	pos := make(map[int]int, target)
	for i := 0; i < n; i++ {
		if selected[i] {
			pos[i] = len(sel.Indices)
			sel.Indices = append(sel.Indices, i)
			sel.Probabilities = append(sel.Probabilities, set[i].Probability)
		}
	}
	for i := 0; i < n; i++ {
		if selected[i] {
			continue
		}
		nearest, best := -1, math.Inf(1)
		for _, s := range sel.Indices {
			if dist[i][s] < best {
				nearest, best = s, dist[i][s]
			}
		}
		sel.Probabilities[pos[nearest]] += set[i].Probability
	}
	return sel
}

// RandomSubset elige target escenarios al azar de forma determinista dada la
// semilla y renormaliza sus probabilidades.
func RandomSubset(set domain.ScenarioSet, target int, seed uint64) Selection {
	n := len(set)
	target = min(target, n)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	idx := rng.Perm(n)[:target]
	slices.Sort(idx)
	return renormalized(set, idx)
}

func renormalized(set domain.ScenarioSet, idx []int) Selection {
	sel := Selection{Indices: idx, Probabilities: make([]float64, len(idx))}
	var total float64
	for _, i := range idx {
		total += set[i].Probability
	}
	for k, i := range idx {
		if total > 0 {
			sel.Probabilities[k] = set[i].Probability / total
		} else {
			sel.Probabilities[k] = 1 / float64(len(idx))
		}
	}
	return sel
}
