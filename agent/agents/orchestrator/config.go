package orchestrator

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	memoryx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/memory"
	optimizerx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/optimizer"
	performancex "github.com/tanpawarit/Chative-Learning-Coordinator/agent/performance"
	unitsx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/units"
	"gopkg.in/yaml.v3"
)

//go:embed units.default.yaml
var defaultUnitTable []byte

// Config is loaded with the COORDINATOR prefix.
type Config struct {
	ID              string `envconfig:"ID" default:"main"`
	UnitsFile       string `split_words:"true"`
	SeenCapacity    int    `split_words:"true" default:"100000"`
	RecentDecisions int    `split_words:"true" default:"10000"`
	InsightsTopN    int    `split_words:"true" default:"5"`
	NotifyURL       string `split_words:"true"`

	Tracker   performancex.Config `envconfig:"TRACKER"`
	Memory    memoryx.Config      `envconfig:"MEMORY"`
	Optimizer optimizerx.Config   `envconfig:"OPTIMIZER"`
}

func DefaultConfig() Config {
	return Config{
		ID:              "main",
		SeenCapacity:    100_000,
		RecentDecisions: 10_000,
		InsightsTopN:    5,
		Tracker: performancex.Config{
			Alpha: performancex.DefaultAlpha,
			Prior: performancex.DefaultPrior,
		},
		Memory: memoryx.Config{
			HistoryCapacity: memoryx.DefaultHistoryCapacity,
			TrendBuckets:    memoryx.DefaultTrendBuckets,
			TrendBucket:     memoryx.DefaultTrendBucket,
		},
		Optimizer: optimizerx.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: coordinator id is required", contractx.ErrConfiguration)
	}
	if c.SeenCapacity <= 0 {
		return fmt.Errorf("%w: seen capacity must be > 0", contractx.ErrConfiguration)
	}
	if c.RecentDecisions <= 0 {
		return fmt.Errorf("%w: recent decisions must be > 0", contractx.ErrConfiguration)
	}
	return nil
}

// UnitTable lists the units to serve and their starting routing parameters.
type UnitTable struct {
	Fallback contractx.UnitID `yaml:"fallback"`
	Units    []UnitEntry      `yaml:"units"`
}

type UnitEntry struct {
	ID        contractx.UnitID   `yaml:"id"`
	Weight    float64            `yaml:"weight"`
	Threshold float64            `yaml:"threshold"`
	Affinity  map[string]float64 `yaml:"affinity,omitempty"`
}

func DefaultUnitTable() UnitTable {
	t, err := ParseUnitTable(defaultUnitTable)
	if err != nil {
		panic(fmt.Sprintf("embedded unit table: %v", err))
	}
	return t
}

// LoadUnitTable reads a YAML unit table; an empty path yields the built-in one.
func LoadUnitTable(path string) (UnitTable, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultUnitTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return UnitTable{}, fmt.Errorf("%w: read unit table: %v", contractx.ErrConfiguration, err)
	}
	return ParseUnitTable(data)
}

func ParseUnitTable(data []byte) (UnitTable, error) {
	var t UnitTable
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return UnitTable{}, fmt.Errorf("%w: parse unit table: %v", contractx.ErrConfiguration, err)
	}
	if len(t.Units) == 0 {
		return UnitTable{}, contractx.ErrNoUnitsRegistered
	}
	return t, nil
}

// Build instantiates the units and the first published parameters.
func (t UnitTable) Build(opts ...unitsx.Option) (*unitsx.Registry, *contractx.RouterParameters, error) {
	list := make([]contractx.DecisionUnit, 0, len(t.Units))
	params := &contractx.RouterParameters{
		Version:    1,
		Weights:    make(map[contractx.UnitID]float64, len(t.Units)),
		Thresholds: make(map[contractx.UnitID]float64, len(t.Units)),
		Fallback:   t.Fallback,
	}

	for _, entry := range t.Units {
		unitOpts := append([]unitsx.Option{unitsx.WithAffinity(entry.Affinity)}, opts...)
		unit, ok := unitsx.New(entry.ID, unitOpts...)
		if !ok {
			return nil, nil, fmt.Errorf("%w: unknown unit %q", contractx.ErrConfiguration, entry.ID)
		}
		list = append(list, unit)
		params.Weights[entry.ID] = entry.Weight
		params.Thresholds[entry.ID] = entry.Threshold
	}

	registry, err := unitsx.NewRegistry(list...)
	if err != nil {
		return nil, nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	return registry, params, nil
}

func (t UnitTable) IDs() []contractx.UnitID {
	ids := make([]contractx.UnitID, 0, len(t.Units))
	for _, entry := range t.Units {
		ids = append(ids, entry.ID)
	}
	return ids
}
