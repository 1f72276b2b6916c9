package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/tickbar/internal/types"
	"github.com/rxtech-lab/tickbar/pkg/errors"
)

// Negative spread policies.
const (
	NegativeSpreadAbort = "abort"
	NegativeSpreadDrop  = "drop"
)

// CSVInput points the pipeline at a delimited tick file.
type CSVInput struct {
	Path string `yaml:"path" json:"path" jsonschema:"title=Path,description=Path to the raw tick CSV file" validate:"required"`
}

// FrameConfig is one bar_frames entry. Time frames carry a duration unit
// ("1m", "5m", "1h"); tick frames carry a block size.
type FrameConfig struct {
	Type  string `yaml:"type" json:"type" jsonschema:"title=Type,description=Frame kind,enum=time,enum=tick" validate:"required,oneof=time tick"`
	Unit  string `yaml:"unit,omitempty" json:"unit,omitempty" jsonschema:"title=Unit,description=Window width for time frames (e.g. 1m)"`
	Count int    `yaml:"count,omitempty" json:"count,omitempty" jsonschema:"title=Count,description=Block size for tick frames"`
}

// Config enumerates every recognized option of a pipeline run. Unknown keys
// in the YAML input are rejected at decode time; defaults are applied before
// validation, and the fully resolved struct is embedded into the manifest.
type Config struct {
	Symbol    string        `yaml:"symbol" json:"symbol" jsonschema:"title=Symbol,description=Instrument symbol (e.g. EURUSD)" validate:"required"`
	OutDir    string        `yaml:"out_dir" json:"out_dir" jsonschema:"title=Output Directory,description=Directory under which the per-run output directory is created" validate:"required"`
	CSV       *CSVInput     `yaml:"csv,omitempty" json:"csv,omitempty" jsonschema:"title=CSV Input"`
	Demo      bool          `yaml:"demo,omitempty" json:"demo" jsonschema:"title=Demo Mode,description=Generate a deterministic synthetic tick stream instead of reading a CSV"`
	BarFrames []FrameConfig `yaml:"bar_frames" json:"bar_frames" jsonschema:"title=Bar Frames" validate:"required,min=1,dive"`

	MaxMissingGapSeconds int     `yaml:"max_missing_gap_seconds" json:"max_missing_gap_seconds" jsonschema:"title=Max Missing Gap Seconds,description=Inter-tick gaps above this threshold are flagged,default=60" validate:"min=1"`
	MaxFlaggedGapRatio   float64 `yaml:"max_flagged_gap_ratio" json:"max_flagged_gap_ratio" jsonschema:"title=Max Flagged Gap Ratio,description=Run fails with GAP_EXCESS when flagged gap duration exceeds this fraction of the series span,default=0.5" validate:"gt=0,lte=1"`
	TrimWeekend          *bool   `yaml:"trim_weekend,omitempty" json:"trim_weekend" jsonschema:"title=Trim Weekend,description=Exclude the Saturday/Sunday UTC window from gap accounting and bar emission,default=true"`

	PriceBasis           string `yaml:"price_basis" json:"price_basis" jsonschema:"title=Price Basis,enum=mid,enum=bid,enum=ask,default=mid" validate:"oneof=mid bid ask"`
	Seed                 int64  `yaml:"seed" json:"seed" jsonschema:"title=Seed,description=Seed for the demo generator,default=42"`
	StrictSortedInput    bool   `yaml:"strict_sorted_input" json:"strict_sorted_input" jsonschema:"title=Strict Sorted Input,description=Fail with UNSORTED_INPUT when the raw rows required reordering"`
	NegativeSpreadPolicy string `yaml:"negative_spread_policy" json:"negative_spread_policy" jsonschema:"title=Negative Spread Policy,enum=abort,enum=drop,default=abort" validate:"oneof=abort drop"`
	Dedup                *bool  `yaml:"dedup,omitempty" json:"dedup" jsonschema:"title=Dedup,description=Drop exact (timestamp bid ask) duplicates,default=true"`

	RunID string `yaml:"run_id,omitempty" json:"run_id,omitempty" jsonschema:"title=Run ID,description=Optional UUID for the run directory; random when omitted"`
}

// DefaultConfig returns a Config with every optional knob at its default.
func DefaultConfig() Config {
	trimWeekend := true
	dedup := true

	return Config{
		MaxMissingGapSeconds: 60,
		MaxFlaggedGapRatio:   0.5,
		TrimWeekend:          &trimWeekend,
		PriceBasis:           string(types.PriceBasisMid),
		Seed:                 42,
		NegativeSpreadPolicy: NegativeSpreadAbort,
		Dedup:                &dedup,
	}
}

// LoadConfig reads and strictly decodes a YAML config file. Unknown or
// malformed keys fail with CONFIG_ERROR before any processing begins.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeConfig, err, "failed to read config file %s", path)
	}

	return ParseConfig(data)
}

// ParseConfig strictly decodes YAML config bytes.
func ParseConfig(data []byte) (Config, error) {
	cfg := Config{}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeConfig, "malformed or unknown configuration key", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.MaxMissingGapSeconds == 0 {
		c.MaxMissingGapSeconds = defaults.MaxMissingGapSeconds
	}

	if c.MaxFlaggedGapRatio == 0 {
		c.MaxFlaggedGapRatio = defaults.MaxFlaggedGapRatio
	}

	if c.TrimWeekend == nil {
		c.TrimWeekend = defaults.TrimWeekend
	}

	if c.PriceBasis == "" {
		c.PriceBasis = defaults.PriceBasis
	}

	if c.Seed == 0 {
		c.Seed = defaults.Seed
	}

	if c.NegativeSpreadPolicy == "" {
		c.NegativeSpreadPolicy = defaults.NegativeSpreadPolicy
	}

	if c.Dedup == nil {
		c.Dedup = defaults.Dedup
	}
}

// Validate checks field constraints and cross-field consistency. Frame
// errors surface as BAR_SPEC_INVALID, everything else as CONFIG_ERROR.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeConfig, "invalid configuration", err)
	}

	if c.Demo == (c.CSV != nil) {
		return errors.New(errors.ErrCodeConfig, "exactly one of csv.path or demo must be set")
	}

	if c.RunID != "" {
		if _, err := uuid.Parse(c.RunID); err != nil {
			return errors.Wrapf(errors.ErrCodeConfig, err, "run_id %q is not a valid UUID", c.RunID)
		}
	}

	if _, err := c.BarSpecs(); err != nil {
		return err
	}

	return nil
}

// BarSpecs converts the configured frames into validated BarSpecs.
// Duplicate frame labels are rejected since frames map 1:1 to output files.
func (c Config) BarSpecs() ([]types.BarSpec, error) {
	specs := make([]types.BarSpec, 0, len(c.BarFrames))
	seen := make(map[string]bool, len(c.BarFrames))

	for i, frame := range c.BarFrames {
		var spec types.BarSpec

		switch frame.Type {
		case string(types.BarKindTime):
			unit, err := time.ParseDuration(frame.Unit)
			if err != nil {
				return nil, errors.Wrapf(errors.ErrCodeBarSpecInvalid, err, "bar_frames[%d]: unrecognized unit %q", i, frame.Unit)
			}

			spec = types.BarSpec{Kind: types.BarKindTime, Unit: unit}
		case string(types.BarKindTickCount):
			spec = types.BarSpec{Kind: types.BarKindTickCount, Count: frame.Count}
		default:
			return nil, errors.Newf(errors.ErrCodeBarSpecInvalid, "bar_frames[%d]: unrecognized type %q", i, frame.Type)
		}

		if err := spec.Validate(); err != nil {
			return nil, err
		}

		label := spec.Frame()
		if seen[label] {
			return nil, errors.Newf(errors.ErrCodeBarSpecInvalid, "bar_frames[%d]: duplicate frame %q", i, label)
		}

		seen[label] = true
		specs = append(specs, spec)
	}

	return specs, nil
}

// GapThresholdNs returns the flagged-gap threshold in nanoseconds.
func (c Config) GapThresholdNs() int64 {
	return int64(c.MaxMissingGapSeconds) * int64(time.Second)
}

// TrimWeekendEnabled reports the resolved trim_weekend setting.
func (c Config) TrimWeekendEnabled() bool {
	return c.TrimWeekend != nil && *c.TrimWeekend
}

// DedupEnabled reports the resolved dedup setting.
func (c Config) DedupEnabled() bool {
	return c.Dedup != nil && *c.Dedup
}

// Basis returns the configured price basis.
func (c Config) Basis() types.PriceBasis {
	return types.PriceBasis(c.PriceBasis)
}

// ResolvedJSON serializes the fully resolved config for the manifest.
func (c Config) ResolvedJSON() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resolved config: %w", err)
	}

	return data, nil
}

// GenerateSchema generates a JSON schema for the Config.
func (c *Config) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}

	schema := reflector.Reflect(c)
	schema.Title = "tickbar-ingest-config"
	schema.Description = "Configuration schema for the tick-to-bar ingest pipeline"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON generates a JSON schema string for the Config.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schema := c.GenerateSchema()

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}
