// Package instance carga instancias de problema desde YAML.
package instance

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/flexbid/internal/domain"
)

// File es la forma en disco de una instancia.
type File struct {
	StartT     int         `yaml:"start_t"`
	NTimeSteps int         `yaml:"n_time_steps"`
	PTU        float64     `yaml:"ptu"` // fracción de hora; 0 = 0.25
	MinBid     float64     `yaml:"min_bid"`
	DayAhead   []float64   `yaml:"day_ahead"`
	Grid       [][]float64 `yaml:"grid"`
	Loads      []LoadSpec  `yaml:"loads"`

	// ScenariosFile, si está, se carga y sustituye a Scenarios. Las rutas
	// relativas se resuelven primero junto al fichero de la instancia.
	ScenariosFile string         `yaml:"scenarios_file"`
	Scenarios     []ScenarioSpec `yaml:"scenarios"`
}

// LoadSpec describe una carga.
type LoadSpec struct {
	ID           string  `yaml:"id"`
	Arrival      int     `yaml:"arrival"`
	Departure    int     `yaml:"departure"`
	ArrivalSOC   float64 `yaml:"arrival_soc"`
	MinSOC       float64 `yaml:"min_soc"`
	Capacity     float64 `yaml:"capacity"`
	MaxCharge    float64 `yaml:"max_charge"`
	MaxDischarge float64 `yaml:"max_discharge"`
	GridPosition int     `yaml:"grid_position"`
	Efficiency   float64 `yaml:"efficiency"`
}

// ScenarioSpec describe un escenario. Sin probabilidades, el conjunto se
// trata como equiprobable.
type ScenarioSpec struct {
	Probability float64   `yaml:"probability"`
	Down        []float64 `yaml:"down"`
	Up          []float64 `yaml:"up"`
	CapDown     []float64 `yaml:"cap_down"`
	CapUp       []float64 `yaml:"cap_up"`
	Imbalance   []float64 `yaml:"imbalance"`
	PropDown    []float64 `yaml:"prop_down"`
	PropUp      []float64 `yaml:"prop_up"`
}

type scenariosWrapper struct {
	Scenarios []ScenarioSpec `yaml:"scenarios"`
}

// Load lee y convierte la instancia en path.
func Load(path string) (domain.Problem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Problem{}, fmt.Errorf("instance.Load: read %q: %w", path, err)
	}
	f, err := decode(raw)
	if err != nil {
		return domain.Problem{}, fmt.Errorf("instance.Load: %q: %w", path, err)
	}
	if f.ScenariosFile != "" {
		set, err := loadScenarios(resolve(path, f.ScenariosFile))
		if err != nil {
			return domain.Problem{}, fmt.Errorf("instance.Load: %w", err)
		}
		f.Scenarios = set
	}
	return f.Problem()
}

// Parse convierte una instancia ya leída. scenarios_file no se resuelve.
func Parse(raw []byte) (domain.Problem, error) {
	f, err := decode(raw)
	if err != nil {
		return domain.Problem{}, fmt.Errorf("instance.Parse: %w", err)
	}
	return f.Problem()
}

func decode(raw []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse YAML: %v: %w", err, domain.ErrInvalidConfiguration)
	}
	return &f, nil
}

func loadScenarios(path string) ([]ScenarioSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios %q: %w", path, err)
	}
	var w scenariosWrapper
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("parse scenarios %q: %v: %w", path, err, domain.ErrInvalidConfiguration)
	}
	return w.Scenarios, nil
}

// resolve interpreta rel respecto al directorio de base si existe ahí; si no,
// respecto al directorio de trabajo.
func resolve(base, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	cand := filepath.Join(filepath.Dir(base), rel)
	if _, err := os.Stat(cand); err == nil {
		return cand
	}
	return rel
}

// Problem convierte el fichero en un domain.Problem validado.
func (f *File) Problem() (domain.Problem, error) {
	ptu := f.PTU
	if ptu == 0 {
		ptu = 0.25
	}
	p := domain.Problem{
		StartT:     f.StartT,
		NTimeSteps: f.NTimeSteps,
		Grid:       domain.Grid{Lines: f.Grid},
		Market: domain.Market{
			PTU:      ptu,
			DayAhead: f.DayAhead,
			MinBid:   f.MinBid,
		},
	}
	for i, l := range f.Loads {
		id := l.ID
		if id == "" {
			id = fmt.Sprintf("load-%d", i)
		}
		p.Loads = append(p.Loads, domain.Load{
			ID:           id,
			Arrival:      l.Arrival,
			Departure:    l.Departure,
			ArrivalSOC:   l.ArrivalSOC,
			MinSOC:       l.MinSOC,
			Capacity:     l.Capacity,
			MaxCharge:    l.MaxCharge,
			MaxDischarge: l.MaxDischarge,
			GridPosition: l.GridPosition,
			Efficiency:   l.Efficiency,
		})
	}

	set := make(domain.ScenarioSet, len(f.Scenarios))
	var total float64
	for i, s := range f.Scenarios {
		set[i] = domain.Scenario{
			Probability: s.Probability,
			Down:        s.Down,
			Up:          s.Up,
			CapDown:     s.CapDown,
			CapUp:       s.CapUp,
			Imbalance:   s.Imbalance,
			PropDown:    s.PropDown,
			PropUp:      s.PropUp,
		}
		total += s.Probability
	}
	if len(set) > 0 && total == 0 {
		set.Equiprobable()
	} else if len(set) > 0 && math.Abs(total-1) > 1e-6 {
		return domain.Problem{}, fmt.Errorf("instance: scenario probabilities sum to %.6f: %w", total, domain.ErrInvalidConfiguration)
	}
	p.Market.Scenarios = set

	if err := p.Validate(); err != nil {
		return domain.Problem{}, fmt.Errorf("instance: %w", err)
	}
	return p, nil
}
