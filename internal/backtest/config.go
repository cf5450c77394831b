// Package backtest wires the candle source, account, execution engine and
// strategy together and walks a historical range bar by bar.
package backtest

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v3"

	"github.com/opentradelab/turtle-backtest/internal/strategy"
	"github.com/opentradelab/turtle-backtest/pkg/errors"
)

// Config describes one backtest run.
type Config struct {
	Currency       string                   `yaml:"currency" json:"currency" jsonschema:"title=Currency,description=Quote currency of the market" validate:"required"`
	Asset          string                   `yaml:"asset" json:"asset" jsonschema:"title=Asset,description=Asset being traded" validate:"required"`
	IntervalHours  int                      `yaml:"interval_hours" json:"interval_hours" jsonschema:"title=Interval Hours,description=Candle bucket width in hours,minimum=1" validate:"required,gt=0"`
	From           time.Time                `yaml:"from" json:"from" jsonschema:"title=From,description=Start of the walked range" validate:"required"`
	To             time.Time                `yaml:"to" json:"to" jsonschema:"title=To,description=End of the walked range" validate:"required"`
	InitialCapital float64                  `yaml:"initial_capital" json:"initial_capital" jsonschema:"title=Initial Capital,description=Starting deposit in the quote currency,minimum=0" validate:"required,gt=0"`
	FeePct         optional.Option[float64] `yaml:"fee_pct" json:"fee_pct" jsonschema:"title=Fee Percentage,description=Exchange commission as a fraction; defaults to 0.0025"`
	SlippagePct    optional.Option[float64] `yaml:"slippage_pct" json:"slippage_pct" jsonschema:"title=Slippage Percentage,description=Market order slippage as a fraction; defaults to 0.0005"`
	Strategy       strategy.TurtleConfig    `yaml:"strategy" json:"strategy" jsonschema:"title=Strategy,description=Turtle strategy parameters"`
}

// UnmarshalYAML implements custom unmarshaling for Config so optional rates
// parse from plain scalars and absent strategy keys get defaults.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawConfig struct {
		Currency       string                 `yaml:"currency"`
		Asset          string                 `yaml:"asset"`
		IntervalHours  int                    `yaml:"interval_hours"`
		From           time.Time              `yaml:"from"`
		To             time.Time              `yaml:"to"`
		InitialCapital float64                `yaml:"initial_capital"`
		FeePct         *float64               `yaml:"fee_pct"`
		SlippagePct    *float64               `yaml:"slippage_pct"`
		Strategy       *strategy.TurtleConfig `yaml:"strategy"`
	}

	raw := rawConfig{}
	if err := unmarshal(&raw); err != nil {
		return err
	}

	c.Currency = raw.Currency
	c.Asset = raw.Asset
	c.IntervalHours = raw.IntervalHours
	c.From = raw.From
	c.To = raw.To
	c.InitialCapital = raw.InitialCapital

	if raw.FeePct != nil {
		c.FeePct = optional.Some(*raw.FeePct)
	}

	if raw.SlippagePct != nil {
		c.SlippagePct = optional.Some(*raw.SlippagePct)
	}

	if raw.Strategy != nil {
		c.Strategy = *raw.Strategy
	} else {
		c.Strategy = strategy.DefaultTurtleConfig()
	}

	return nil
}

// ParseConfig parses and validates a YAML run configuration.
func ParseConfig(data []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeBacktestConfigError, "failed to parse run configuration", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks the run configuration before anything is opened.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeBacktestConfigError, "invalid run configuration", err)
	}

	if !c.From.Before(c.To) {
		return errors.Newf(errors.ErrCodeBacktestConfigError, "from %s must be before to %s", c.From, c.To)
	}

	return c.Strategy.Validate()
}

// GenerateSchema generates a JSON schema for the run configuration.
func (c *Config) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[float64]" {
				return &jsonschema.Schema{
					Type: "number",
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)
	schema.Title = "backtest-config"
	schema.Description = "Configuration schema for a backtest run"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON renders the schema as an indented JSON string.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schemaBytes, err := json.MarshalIndent(c.GenerateSchema(), "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}
