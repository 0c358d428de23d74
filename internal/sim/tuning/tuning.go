package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`
	MaxHoldingDepth    int `yaml:"max_holding_depth" json:"max_holding_depth"`

	Contamination Contamination `yaml:"contamination" json:"contamination"`
}

// Contamination holds the per-event factors handed to the engine. Fields ending
// in _equalize or _loose are Equalize weights and must lie in [0,1]; the rest
// are non-negative scale factors.
type Contamination struct {
	ZombieDeathAdd      float64 `yaml:"zombie_death_add" json:"zombie_death_add"`
	FireReduction       float64 `yaml:"fire_reduction" json:"fire_reduction"`
	MeleeEqualize       float64 `yaml:"melee_equalize" json:"melee_equalize"`
	RecipeTransfer      float64 `yaml:"recipe_transfer" json:"recipe_transfer"`
	ProduceEqualize     float64 `yaml:"produce_equalize" json:"produce_equalize"`
	BenchEqualize       float64 `yaml:"bench_equalize" json:"bench_equalize"`
	WorkerTransfer      float64 `yaml:"worker_transfer" json:"worker_transfer"`
	IngestTransfer      float64 `yaml:"ingest_transfer" json:"ingest_transfer"`
	GeneralTransfer     float64 `yaml:"general_transfer" json:"general_transfer"`
	MedicineTransfer    float64 `yaml:"medicine_transfer" json:"medicine_transfer"`
	TendEqualizeWorst   float64 `yaml:"tend_equalize_worst" json:"tend_equalize_worst"`
	TendEqualizeBest    float64 `yaml:"tend_equalize_best" json:"tend_equalize_best"`
	RestEqualize        float64 `yaml:"rest_equalize" json:"rest_equalize"`
	CarryEqualize       float64 `yaml:"carry_equalize" json:"carry_equalize"`
	WastePackAdd        float64 `yaml:"waste_pack_add" json:"waste_pack_add"`
	FloorAdd            float64 `yaml:"floor_add" json:"floor_add"`
	DisassembleTransfer float64 `yaml:"disassemble_transfer" json:"disassemble_transfer"`
	CellFactor          float64 `yaml:"cell_factor" json:"cell_factor"`
	EnterCellAdd        float64 `yaml:"enter_cell_add" json:"enter_cell_add"`
	EnterCellLoose      float64 `yaml:"enter_cell_loose" json:"enter_cell_loose"`
	FilthTransfer       float64 `yaml:"filth_transfer" json:"filth_transfer"`
	LeavingsTransfer    float64 `yaml:"leavings_transfer" json:"leavings_transfer"`
	BloodEqualize       float64 `yaml:"blood_equalize" json:"blood_equalize"`
	FilthEqualize       float64 `yaml:"filth_equalize" json:"filth_equalize"`
	PollutionAdd        float64 `yaml:"pollution_add" json:"pollution_add"`
	SnowAdd             float64 `yaml:"snow_add" json:"snow_add"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         10,
		SnapshotEveryTicks: 3000,
		MaxHoldingDepth:    64,
		Contamination: Contamination{
			ZombieDeathAdd:      0.1,
			FireReduction:       0.01,
			MeleeEqualize:       0.1,
			RecipeTransfer:      0.5,
			ProduceEqualize:     0.1,
			BenchEqualize:       0.05,
			WorkerTransfer:      0.05,
			IngestTransfer:      0.25,
			GeneralTransfer:     0.5,
			MedicineTransfer:    0.1,
			TendEqualizeWorst:   0.2,
			TendEqualizeBest:    0.02,
			RestEqualize:        0.01,
			CarryEqualize:       0.05,
			WastePackAdd:        0.5,
			FloorAdd:            0.1,
			DisassembleTransfer: 0.5,
			CellFactor:          0.5,
			EnterCellAdd:        0.01,
			EnterCellLoose:      0.001,
			FilthTransfer:       0.1,
			LeavingsTransfer:    0.5,
			BloodEqualize:       0.2,
			FilthEqualize:       0.05,
			PollutionAdd:        0.1,
			SnowAdd:             0.05,
		},
	}
}

// Factors returns every contamination factor keyed by its yaml name.
func (c Contamination) Factors() map[string]float64 {
	return map[string]float64{
		"zombie_death_add":     c.ZombieDeathAdd,
		"fire_reduction":       c.FireReduction,
		"melee_equalize":       c.MeleeEqualize,
		"recipe_transfer":      c.RecipeTransfer,
		"produce_equalize":     c.ProduceEqualize,
		"bench_equalize":       c.BenchEqualize,
		"worker_transfer":      c.WorkerTransfer,
		"ingest_transfer":      c.IngestTransfer,
		"general_transfer":     c.GeneralTransfer,
		"medicine_transfer":    c.MedicineTransfer,
		"tend_equalize_worst":  c.TendEqualizeWorst,
		"tend_equalize_best":   c.TendEqualizeBest,
		"rest_equalize":        c.RestEqualize,
		"carry_equalize":       c.CarryEqualize,
		"waste_pack_add":       c.WastePackAdd,
		"floor_add":            c.FloorAdd,
		"disassemble_transfer": c.DisassembleTransfer,
		"cell_factor":          c.CellFactor,
		"enter_cell_add":       c.EnterCellAdd,
		"enter_cell_loose":     c.EnterCellLoose,
		"filth_transfer":       c.FilthTransfer,
		"leavings_transfer":    c.LeavingsTransfer,
		"blood_equalize":       c.BloodEqualize,
		"filth_equalize":       c.FilthEqualize,
		"pollution_add":        c.PollutionAdd,
		"snow_add":             c.SnowAdd,
	}
}

func (c Contamination) Factor(key string) (float64, bool) {
	v, ok := c.Factors()[key]
	return v, ok
}

// TendWeight interpolates the tend equalize weight by doctor skill (0..20).
func (c Contamination) TendWeight(skill int) float64 {
	f := float64(skill) / 20
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return c.TendEqualizeWorst + (c.TendEqualizeBest-c.TendEqualizeWorst)*f
}

func isWeightKey(key string) bool {
	return hasSuffix(key, "_equalize") || hasSuffix(key, "_loose") ||
		key == "tend_equalize_worst" || key == "tend_equalize_best"
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// Validate rejects factors the engine would accept but clamp into surprising
// results: weights outside [0,1], negative or non-finite factors.
func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0, got %d", t.TickRateHz)
	}
	if t.SnapshotEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks must be >= 0, got %d", t.SnapshotEveryTicks)
	}
	factors := t.Contamination.Factors()
	keys := make([]string, 0, len(factors))
	for k := range factors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := factors[k]
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("contamination.%s must be a non-negative number, got %v", k, v)
		}
		if isWeightKey(k) && v > 1 {
			return fmt.Errorf("contamination.%s is a weight and must be <= 1, got %v", k, v)
		}
	}
	return nil
}

// Load reads tuning.yaml over Defaults, checks it against the embedded schema
// and validates the result. Keys missing from the file keep their defaults.
func Load(path string) (Tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Tuning, error) {
	if err := validateSchema(raw); err != nil {
		return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
	}
	t := Defaults()
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// JSON is a stable rendering of the applied values, recorded in the index.
func (t Tuning) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

// Digest is the hex sha256 of JSON. Clients compare it to tell tunings apart.
func (t Tuning) Digest() string {
	sum := sha256.Sum256(t.JSON())
	return hex.EncodeToString(sum[:])
}
