package main

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const (
	SourceStdin    = "stdin"
	SourcePostgres = "postgres"

	SinkStdout = "stdout"
	SinkKafka  = "kafka"
	SinkNats   = "nats"
)

var (
	ErrUnknownSource = errors.New("unknown source")
	ErrUnknownSink   = errors.New("unknown sink")
)

type FieldsConfiguration struct {
	Tracked []string `toml:"tracked"`
}

type OutputConfiguration struct {
	Shape        Shape        `toml:"shape" env:"SHAPE"`
	UpdateLookup UpdateLookup `toml:"update_lookup" env:"UPDATE_LOOKUP"`
}

type PostgresConfiguration struct {
	Host            string   `toml:"host" env:"HOST"`
	Port            string   `toml:"port" env:"PORT"`
	User            string   `toml:"user" env:"USER"`
	Password        string   `toml:"password" env:"PASSWORD"`
	Database        string   `toml:"database" env:"DATABASE"`
	PublicationName string   `toml:"publication" env:"PUBLICATION"`
	SlotName        string   `toml:"slot" env:"SLOT"`
	Schemas         []string `toml:"schemas" env:"SCHEMAS"`
	Tables          []string `toml:"tables" env:"TABLES"`
}

type KafkaConfiguration struct {
	Brokers []string `toml:"brokers" env:"BROKERS"`
	Topic   string   `toml:"topic" env:"TOPIC"`
}

type NatsConfiguration struct {
	URL     string `toml:"url" env:"URL"`
	Subject string `toml:"subject" env:"SUBJECT"`
}

type SinkConfiguration struct {
	Type  string             `toml:"type" env:"TYPE"`
	Kafka KafkaConfiguration `toml:"kafka" envPrefix:"KAFKA_"`
	Nats  NatsConfiguration  `toml:"nats" envPrefix:"NATS_"`
}

type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose" env:"VERBOSE"`
	Format  string `toml:"format" env:"FORMAT"`
}

type PrometheusConfiguration struct {
	Address string `toml:"address" env:"ADDRESS"`
}

type Configuration struct {
	Source     string                  `toml:"source" env:"SOURCE"`
	Fields     FieldsConfiguration     `toml:"fields"`
	Output     OutputConfiguration     `toml:"output" envPrefix:"OUTPUT_"`
	Postgres   PostgresConfiguration   `toml:"postgres" envPrefix:"PG_"`
	Sink       SinkConfiguration       `toml:"sink" envPrefix:"SINK_"`
	Logging    LoggingConfiguration    `toml:"logging" envPrefix:"LOG_"`
	Prometheus PrometheusConfiguration `toml:"prometheus" envPrefix:"METRICS_"`
}

const envPrefix = "HOLDING_CDC_"

func DefaultConfiguration() Configuration {
	return Configuration{
		Source: SourceStdin,
		Fields: FieldsConfiguration{
			Tracked: append([]string(nil), DefaultTrackedFields...),
		},
		Output: OutputConfiguration{
			Shape:        ShapeCompat,
			UpdateLookup: LookupLiteral,
		},
		Postgres: PostgresConfiguration{
			Host:     "127.0.0.1",
			Port:     "5432",
			User:     "postgres",
			Database: "postgres",
			SlotName: "holding_cdc_parse",
			Schemas:  []string{"public"},
			Tables:   []string{"holdings"},
		},
		Sink: SinkConfiguration{
			Type: SinkStdout,
		},
		Logging: LoggingConfiguration{
			Format: "console",
		},
	}
}

// LoadConfiguration reads defaults, then the TOML file at path when set,
// then HOLDING_CDC_* environment variables.
func LoadConfiguration(path string) (Configuration, error) {
	config := DefaultConfiguration()

	if path != "" {
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return config, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: envPrefix}); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}

	return config, nil
}

func (c Configuration) Validate() error {
	if len(c.Fields.Tracked) == 0 {
		return errors.New("at least one tracked field is required")
	}

	switch c.Source {
	case SourceStdin:
	case SourcePostgres:
		if c.Postgres.PublicationName == "" {
			return errors.New("postgres source requires a publication name")
		}
		if c.Postgres.SlotName == "" {
			return errors.New("postgres source requires a slot name")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSource, c.Source)
	}

	switch c.Sink.Type {
	case SinkStdout, SinkKafka, SinkNats:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSink, c.Sink.Type)
	}

	switch c.Output.Shape {
	case ShapeCompat, ShapeNormalized:
	default:
		return fmt.Errorf("unknown output shape %q", c.Output.Shape)
	}

	switch c.Output.UpdateLookup {
	case LookupLiteral, LookupKeyed:
	default:
		return fmt.Errorf("unknown update lookup %q", c.Output.UpdateLookup)
	}

	return nil
}
