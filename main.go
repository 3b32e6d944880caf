package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"holding-cdc-parse/logger"
	"holding-cdc-parse/sink"
	"holding-cdc-parse/telemetry"

	"github.com/segmentio/kafka-go"
)

var (
	configPath, source, sinkType, shape, updateLookup, metricsAddr string
	host, port, user, password, dbName, publicationName, slotName  string
	verbose                                                        bool
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a TOML config file")
	flag.StringVar(&source, "source", "", "envelope source: stdin or postgres")
	flag.StringVar(&sinkType, "sink", "", "record sink: stdout, kafka or nats")
	flag.StringVar(&shape, "shape", "", "output layout: compat or normalized")
	flag.StringVar(&updateLookup, "update-lookup", "", "update old/new lookup: literal or keyed")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flag.BoolVar(&verbose, "verbose", false, "debug logging")
	flag.StringVar(&host, "host", "", "postgres host")
	flag.StringVar(&port, "port", "", "postgres port")
	flag.StringVar(&user, "user", "", "postgres user")
	flag.StringVar(&password, "password", "", "postgres password")
	flag.StringVar(&dbName, "db", "", "postgres database name")
	flag.StringVar(&publicationName, "pubname", "", "publication name created via CREATE PUBLICATION {name} FOR TABLE holdings")
	flag.StringVar(&slotName, "slotName", "", "slot name")
	flag.Parse()

	logger.Init(false, "console")
	ctx := context.Background()

	config, err := configure(configPath)
	if err != nil {
		logger.ErrorWith(ctx, err).Msg("invalid configuration")
		os.Exit(2)
	}

	logger.Init(config.Logging.Verbose, config.Logging.Format)

	if err := run(ctx, config); err != nil {
		logger.ErrorWith(ctx, err).Msg("holding-cdc-parse failed")
		os.Exit(1)
	}
}

// configure loads the file at path, applies command-line overrides and
// validates the result.
func configure(path string) (Configuration, error) {
	config, err := LoadConfiguration(path)
	if err != nil {
		return Configuration{}, err
	}
	applyFlags(&config)
	if err := config.Validate(); err != nil {
		return Configuration{}, err
	}
	return config, nil
}

func applyFlags(config *Configuration) {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&config.Source, source)
	setString(&config.Sink.Type, sinkType)
	setString((*string)(&config.Output.Shape), shape)
	setString((*string)(&config.Output.UpdateLookup), updateLookup)
	setString(&config.Prometheus.Address, metricsAddr)
	setString(&config.Postgres.Host, host)
	setString(&config.Postgres.Port, port)
	setString(&config.Postgres.User, user)
	setString(&config.Postgres.Password, password)
	setString(&config.Postgres.Database, dbName)
	setString(&config.Postgres.PublicationName, publicationName)
	setString(&config.Postgres.SlotName, slotName)
	if verbose {
		config.Logging.Verbose = true
	}
}

func run(ctx context.Context, config Configuration) error {
	if config.Prometheus.Address != "" {
		telemetry.Initialize()
		go serveMetrics(ctx, config.Prometheus.Address)
	}

	out, err := openSink(config.Sink)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.ErrorWith(ctx, err).Msg("close sink error")
		}
	}()

	stream := NewStream(
		NewExtractor(config.Fields.Tracked, nil, config.Output.UpdateLookup),
		NewFormatter(config.Output.Shape),
		out,
	)

	switch config.Source {
	case SourcePostgres:
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		filter, err := NewRelationFilter(config.Postgres.Schemas, config.Postgres.Tables)
		if err != nil {
			return err
		}
		pg := config.Postgres
		replicator := NewReplicator(
			NewReplicateDSN(pg.Database, pg.User, pg.Password, pg.Host, pg.Port),
			pg.SlotName,
			pg.PublicationName,
			filter,
		)
		return replicator.BeginReplication(ctx, stream.Emit)
	default:
		return stream.Run(ctx, os.Stdin)
	}
}

func openSink(config SinkConfiguration) (sink.Sink, error) {
	switch config.Type {
	case SinkStdout:
		return sink.NewWriterSink(os.Stdout), nil
	case SinkKafka:
		return sink.NewKafkaSink(sink.KafkaConfig{
			Brokers:          config.Kafka.Brokers,
			Topic:            config.Kafka.Topic,
			RequiredAcks:     kafka.RequireAll,
			AutoCreateTopics: true,
		})
	case SinkNats:
		return sink.NewNatsSink(config.Nats.URL, config.Nats.Subject)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSink, config.Type)
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	logger.Info(ctx).Str("addr", addr).Msg("serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.ErrorWith(ctx, err).Msg("metrics server error")
	}
}
