package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/flexbid/internal/domain"
)

// Config es la configuración completa de flexbid.
type Config struct {
	Problem  ProblemConfig  `yaml:"problem"`
	Solver   SolverConfig   `yaml:"solver"`
	Lagrange LagrangeConfig `yaml:"lagrange"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ProblemConfig selecciona mercados, variante del modelo y estrategia.
type ProblemConfig struct {
	Strategy string `yaml:"strategy"` // stochastic | deterministic | lagrangian | direct

	Scenarios         int    `yaml:"scenarios"` // objetivo tras la reducción; 0 = todos
	Reduction         string `yaml:"reduction"` // none | fast_forward | random | moment
	ReductionDistance string `yaml:"reduction_distance"`
	Seed              uint64 `yaml:"seed"`

	UClusters     int    `yaml:"u_clusters"`
	DClusters     int    `yaml:"d_clusters"`
	ClusterMethod string `yaml:"cluster_method"` // none | per_period | per_load
	ReserveModel  string `yaml:"reserve_model"`  // compact | naive

	MinBid             float64 `yaml:"min_bid"`
	ShortagePenalty    float64 `yaml:"shortage_penalty"`
	BatteryDegradation float64 `yaml:"battery_degradation"`
	FixedPTUs          int     `yaml:"fixed_ptus"`
	RelaxedBinaryAfter int     `yaml:"relaxed_binary_after"` // <0 = nunca
	DesiredAcceptance  float64 `yaml:"desired_acceptance"`   // χ de la variante determinista

	DayAhead        bool   `yaml:"day_ahead"`
	DayAheadFixed   bool   `yaml:"day_ahead_fixed"`
	Imbalance       bool   `yaml:"imbalance"`
	CapacityPayment bool   `yaml:"capacity_payment"`
	Reserves        bool   `yaml:"reserves"`
	Clearance       string `yaml:"clearance"`
	V2G             bool   `yaml:"v2g"`
	QuantityOnly    bool   `yaml:"quantity_only"`
	Grid            bool   `yaml:"grid"`
	Check           bool   `yaml:"check"`
}

// SolverConfig controla el motor MIP y el pool de handles.
type SolverConfig struct {
	TimeLimitSeconds float64 `yaml:"time_limit_seconds"` // 0 = sin límite
	MIPGap           float64 `yaml:"mip_gap"`
	MaxNodes         int     `yaml:"max_nodes"`
	SavePath         string  `yaml:"save_path"`
	PoolSize         int     `yaml:"pool_size"`
	AcquireRate      float64 `yaml:"acquire_rate"` // adquisiciones/s; 0 = sin límite
	Tolerance        float64 `yaml:"tolerance"`
}

// LagrangeConfig controla el bucle de subgradiente.
type LagrangeConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	GapThreshold  float64 `yaml:"gap_threshold"`
	StepFactor    float64 `yaml:"step_factor"`
	Momentum      float64 `yaml:"momentum"`
	MaxStep       float64 `yaml:"max_step"`
	Patience      int     `yaml:"patience"`
	Decay         float64 `yaml:"decay"`
	StallLimit    int     `yaml:"stall_limit"`
	Workers       int     `yaml:"workers"` // 0 = NumCPU
}

// StorageConfig controla dónde se persisten los resultados.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// MetricsConfig controla el endpoint de Prometheus.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío = sin endpoint
}

// SolveTimeLimit devuelve el límite por resolución como time.Duration.
func (c *Config) SolveTimeLimit() time.Duration {
	return time.Duration(c.Solver.TimeLimitSeconds * float64(time.Second))
}

// Default devuelve la configuración base sobre la que se aplica el YAML.
// Los booleanos que por defecto están activos sólo pueden fijarse aquí.
func Default() Config {
	return Config{
		Problem: ProblemConfig{
			Imbalance:          true,
			Reserves:           true,
			Check:              true,
			RelaxedBinaryAfter: -1,
		},
	}
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %v: %w", err, domain.ErrInvalidConfiguration)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("FLEXBID_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("FLEXBID_STRATEGY"); v != "" {
		cfg.Problem.Strategy = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	p := &cfg.Problem
	for _, v := range []*string{&p.Strategy, &p.Reduction, &p.ReductionDistance, &p.ClusterMethod, &p.ReserveModel, &cfg.Log.Level, &cfg.Log.Format} {
		*v = strings.ToLower(strings.TrimSpace(*v))
	}
	if p.Strategy == "" {
		p.Strategy = "stochastic"
	}
	if p.Reduction == "" {
		p.Reduction = "fast_forward"
	}
	if p.ReductionDistance == "" {
		p.ReductionDistance = "rms"
	}
	if p.ClusterMethod == "" {
		p.ClusterMethod = "none"
	}
	if p.ReserveModel == "" {
		p.ReserveModel = "compact"
	}
	if p.Clearance == "" {
		p.Clearance = "paid_as_cleared"
	}
	if p.ShortagePenalty <= 0 {
		p.ShortagePenalty = 1000
	}
	if p.DesiredAcceptance <= 0 {
		p.DesiredAcceptance = 0.5
	}

	if cfg.Solver.PoolSize <= 0 {
		cfg.Solver.PoolSize = 4
	}

	l := &cfg.Lagrange
	if l.MaxIterations <= 0 {
		l.MaxIterations = 50
	}
	if l.GapThreshold <= 0 {
		l.GapThreshold = 0.01
	}
	if l.StepFactor <= 0 {
		l.StepFactor = 2
	}
	if l.MaxStep <= 0 {
		l.MaxStep = 1000
	}
	if l.Patience <= 0 {
		l.Patience = 3
	}
	if l.Decay <= 1 {
		l.Decay = 2
	}
	if l.StallLimit <= 0 {
		l.StallLimit = 15
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "flexbid.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate comprueba los valores que setDefaults no puede corregir.
func (c *Config) Validate() error {
	p := c.Problem
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("config: "+format+": %w", append(args, domain.ErrInvalidConfiguration)...)
	}
	if !oneOf(p.Strategy, "stochastic", "deterministic", "lagrangian", "direct") {
		return invalid("problem.strategy %q", p.Strategy)
	}
	if !oneOf(p.Reduction, "none", "fast_forward", "random", "moment") {
		return invalid("problem.reduction %q", p.Reduction)
	}
	if !oneOf(p.ReductionDistance, "rms", "cost") {
		return invalid("problem.reduction_distance %q", p.ReductionDistance)
	}
	if !oneOf(p.ClusterMethod, "none", "per_period", "per_load") {
		return invalid("problem.cluster_method %q", p.ClusterMethod)
	}
	if !oneOf(p.ReserveModel, "compact", "naive") {
		return invalid("problem.reserve_model %q", p.ReserveModel)
	}
	if p.Scenarios < 0 || p.UClusters < 0 || p.DClusters < 0 || p.FixedPTUs < 0 || p.MinBid < 0 {
		return invalid("problem: negative count")
	}
	if p.DesiredAcceptance > 1 {
		return invalid("problem.desired_acceptance %.3f above 1", p.DesiredAcceptance)
	}
	if !p.DayAhead && !p.Imbalance {
		return invalid("problem: no energy market (day_ahead and imbalance both off)")
	}
	if c.Solver.MIPGap < 0 || c.Solver.TimeLimitSeconds < 0 || c.Solver.AcquireRate < 0 {
		return invalid("solver: negative limit")
	}
	if c.Lagrange.Momentum < 0 || c.Lagrange.Momentum >= 1 {
		return invalid("lagrange.momentum %.3f outside [0,1)", c.Lagrange.Momentum)
	}
	if !oneOf(c.Log.Level, "debug", "info", "warn", "error") {
		return invalid("log.level %q", c.Log.Level)
	}
	if !oneOf(c.Log.Format, "text", "json") {
		return invalid("log.format %q", c.Log.Format)
	}
	return nil
}

func oneOf(v string, opts ...string) bool {
	for _, o := range opts {
		if v == o {
			return true
		}
	}
	return false
}
