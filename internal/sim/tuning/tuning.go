package tuning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelpath.ai/schemas"
)

type Tuning struct {
	Search   Search             `yaml:"search" json:"search"`
	Path     Path               `yaml:"path" json:"path"`
	Bias     Bias               `yaml:"bias" json:"bias"`
	Failures Failures           `yaml:"failures" json:"failures"`
	Recovery Recovery           `yaml:"recovery" json:"recovery"`
	Corridor Corridor           `yaml:"corridor" json:"corridor"`
	World    World              `yaml:"world" json:"world"`
	Movement map[string]float64 `yaml:"movement" json:"movement"`
}

type Phase struct {
	Epsilon    float64 `yaml:"epsilon" json:"epsilon"`
	DurationMs int     `yaml:"duration_ms" json:"duration_ms"`
}

type Search struct {
	PrimaryTimeoutMs int       `yaml:"primary_timeout_ms" json:"primary_timeout_ms"`
	FailureTimeoutMs int       `yaml:"failure_timeout_ms" json:"failure_timeout_ms"`
	Phases           []Phase   `yaml:"phases" json:"phases"`
	ProgressPhases   int       `yaml:"progress_phases" json:"progress_phases"`
	MinImprovement   float64   `yaml:"min_improvement" json:"min_improvement"`
	Coefficients     []float64 `yaml:"coefficients" json:"coefficients"`
	MinPartialDist   float64   `yaml:"min_partial_dist" json:"min_partial_dist"`
	MaxUnloaded      int       `yaml:"max_unloaded" json:"max_unloaded"`
	CheckEvery       int       `yaml:"check_every" json:"check_every"`
	MaxNodes         int       `yaml:"max_nodes" json:"max_nodes"`
}

type Path struct {
	CutoffMinLength     int     `yaml:"cutoff_min_length" json:"cutoff_min_length"`
	CutoffFactor        float64 `yaml:"cutoff_factor" json:"cutoff_factor"`
	SpliceOverlapCutoff bool    `yaml:"splice_overlap_cutoff" json:"splice_overlap_cutoff"`
}

type Bias struct {
	BacktrackCoefficient float64 `yaml:"backtrack_coefficient" json:"backtrack_coefficient"`
}

type Failures struct {
	WindowMs       int     `yaml:"window_ms" json:"window_ms"`
	PenaltyBase    float64 `yaml:"penalty_base" json:"penalty_base"`
	MaxPenalty     float64 `yaml:"max_penalty" json:"max_penalty"`
	MaxAttempts    int     `yaml:"max_attempts" json:"max_attempts"`
	CleanupEveryMs int     `yaml:"cleanup_every_ms" json:"cleanup_every_ms"`
}

type Recovery struct {
	MaxRetries       int     `yaml:"max_retries" json:"max_retries"`
	ReconnectEnabled bool    `yaml:"reconnect_enabled" json:"reconnect_enabled"`
	Lookbehind       int     `yaml:"lookbehind" json:"lookbehind"`
	Lookahead        int     `yaml:"lookahead" json:"lookahead"`
	Margin           float64 `yaml:"margin" json:"margin"`
	BaseNodes        int     `yaml:"base_nodes" json:"base_nodes"`
	NodesPerBlock    int     `yaml:"nodes_per_block" json:"nodes_per_block"`
	TimeoutMs        int     `yaml:"timeout_ms" json:"timeout_ms"`
}

type Corridor struct {
	Buffer     int `yaml:"buffer" json:"buffer"`
	Lookbehind int `yaml:"lookbehind" json:"lookbehind"`
	Lookahead  int `yaml:"lookahead" json:"lookahead"`
}

// World describes the synthetic bench world.
type World struct {
	MinY             int `yaml:"min_y" json:"min_y"`
	MaxY             int `yaml:"max_y" json:"max_y"`
	GroundY          int `yaml:"ground_y" json:"ground_y"`
	BoundaryR        int `yaml:"boundary_r" json:"boundary_r"`
	HillPermille     int `yaml:"hill_permille" json:"hill_permille"`
	SpawnClearRadius int `yaml:"spawn_clear_radius" json:"spawn_clear_radius"`
}

func Defaults() Tuning {
	return Tuning{
		Search: Search{
			PrimaryTimeoutMs: 500,
			FailureTimeoutMs: 2000,
			Phases: []Phase{
				{Epsilon: 1, DurationMs: 150},
				{Epsilon: 3, DurationMs: 150},
				{Epsilon: 10, DurationMs: 200},
				{Epsilon: 30, DurationMs: 500},
				{Epsilon: 100, DurationMs: 1000},
			},
			ProgressPhases: 3,
			MinImprovement: 0.01,
			Coefficients:   []float64{1.5, 2, 2.5, 3, 4, 5, 10},
			MinPartialDist: 5,
			MaxUnloaded:    50,
			CheckEvery:     64,
		},
		Path: Path{
			CutoffMinLength:     30,
			CutoffFactor:        0.9,
			SpliceOverlapCutoff: true,
		},
		Bias: Bias{BacktrackCoefficient: 0.5},
		Failures: Failures{
			WindowMs:       30_000,
			PenaltyBase:    2,
			MaxPenalty:     64,
			MaxAttempts:    5,
			CleanupEveryMs: 10_000,
		},
		Recovery: Recovery{
			MaxRetries:       3,
			ReconnectEnabled: true,
			Lookbehind:       5,
			Lookahead:        20,
			Margin:           2,
			BaseNodes:        2000,
			NodesPerBlock:    200,
			TimeoutMs:        100,
		},
		Corridor: Corridor{Buffer: 1, Lookbehind: 2, Lookahead: 4},
		World: World{
			MinY:             -64,
			MaxY:             320,
			GroundY:          64,
			HillPermille:     120,
			SpawnClearRadius: 3,
		},
	}
}

// Load reads a tuning file over the defaults and validates the result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := Validate(t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("tuning.schema.json", bytes.NewReader(schemas.Tuning)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("tuning.schema.json")
	})
	return schema, schemaErr
}

// Validate checks t against the embedded tuning schema.
func Validate(t Tuning) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile tuning schema: %w", err)
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return s.Validate(doc)
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (s Search) PrimaryTimeout() time.Duration { return ms(s.PrimaryTimeoutMs) }
func (s Search) FailureTimeout() time.Duration { return ms(s.FailureTimeoutMs) }
func (p Phase) Duration() time.Duration        { return ms(p.DurationMs) }
func (f Failures) Window() time.Duration       { return ms(f.WindowMs) }
func (f Failures) CleanupEvery() time.Duration { return ms(f.CleanupEveryMs) }
func (r Recovery) Timeout() time.Duration      { return ms(r.TimeoutMs) }
