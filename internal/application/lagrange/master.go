package lagrange

import (
	"math"
	"sort"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/scenario"
)

// multipliers[side][e][t][k] relaja f[t][k] >= drop_e(k) para cada carga.
type multipliers [2][][][]float64

func newMultipliers(active [2]bool, nLoads, nT, nS int) multipliers {
	var lm multipliers
	for _, side := range domain.Sides {
		if !active[side] {
			continue
		}
		lm[side] = make([][][]float64, nLoads)
		for e := range lm[side] {
			lm[side][e] = grid(nT, nS)
		}
	}
	return lm
}

func grid(a, b int) [][]float64 {
	out := make([][]float64, a)
	for i := range out {
		out[i] = make([]float64, b)
	}
	return out
}

// master resuelve el maestro relajado de forma cerrada: en cada periodo abre
// las K fronteras de mayor suma de multiplicadores. Los periodos fijados
// quedan abiertos por completo. Devuelve el patrón f[side][t][k] y el término
// -Σ f·Σλ que completa la cota inferior.
func master(lm multipliers, caps [2]int, fixed func(t int) bool, nT, nS int) ([2][][]float64, float64) {
	var f [2][][]float64
	var penalty float64
	for _, side := range domain.Sides {
		if lm[side] == nil {
			continue
		}
		f[side] = grid(nT, nS)
		for t := 0; t < nT; t++ {
			summ := make([]float64, nS)
			for e := range lm[side] {
				for k := 0; k < nS; k++ {
					summ[k] += lm[side][e][t][k]
				}
			}
			if fixed(t) {
				for k := range f[side][t] {
					f[side][t][k] = 1
					penalty += summ[k]
				}
				continue
			}
			for _, k := range topK(summ, caps[side]) {
				f[side][t][k] = 1
				penalty += summ[k]
			}
		}
	}
	return f, -penalty
}

// topK devuelve las posiciones de los k mayores valores; los empates se
// resuelven por posición.
func topK(xs []float64, k int) []int {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] > xs[idx[b]] })
	return idx[:min(k, len(idx))]
}

// drop es 1 si la aceptación de la carga cae tras la posición k del orden a.
func drop(acc []float64, a []int, k int) float64 {
	if k == len(a)-1 {
		return acc[a[k]]
	}
	return acc[a[k]] - acc[a[k+1]]
}

// subgradient calcula g = drop_e(k) - f[k] para cada multiplicador activo.
func subgradient(lm multipliers, subs []subResult, f [2][][]float64, ord *scenario.Ordering, p domain.Problem) multipliers {
	var g multipliers
	for _, side := range domain.Sides {
		if lm[side] == nil {
			continue
		}
		g[side] = make([][][]float64, len(subs))
		for e, sub := range subs {
			g[side][e] = grid(p.NTimeSteps, p.NScenarios())
			for t := 0; t < p.NTimeSteps; t++ {
				a := ord.Acceptance(side, p.Abs(t))
				for k := range a {
					g[side][e][t][k] = drop(sub.accept[side][t], a, k) - f[side][t][k]
				}
			}
		}
	}
	return g
}

// update aplica un paso de subgradiente con momento sobre lm y devuelve el
// paso usado y la dirección para la siguiente iteración.
func update(lm multipliers, g, prev multipliers, o Options, factor, upper, lower float64) (float64, multipliers) {
	var dir multipliers
	var norm float64
	for _, side := range domain.Sides {
		if g[side] == nil {
			continue
		}
		dir[side] = make([][][]float64, len(g[side]))
		for e := range g[side] {
			dir[side][e] = make([][]float64, len(g[side][e]))
			for t := range g[side][e] {
				row := make([]float64, len(g[side][e][t]))
				for k, gk := range g[side][e][t] {
					row[k] = gk
					if prev[side] != nil {
						row[k] += o.Momentum * prev[side][e][t][k]
					}
					norm += row[k] * row[k]
				}
				dir[side][e][t] = row
			}
		}
	}
	if norm == 0 {
		return 0, dir
	}
	step := factor * math.Max(0, upper-lower) / norm
	if o.MaxStep > 0 {
		step = math.Min(step, o.MaxStep)
	}
	for _, side := range domain.Sides {
		for e := range dir[side] {
			for t := range dir[side][e] {
				for k, s := range dir[side][e][t] {
					lm[side][e][t][k] = math.Max(0, lm[side][e][t][k]+step*s)
				}
			}
		}
	}
	return step, dir
}
