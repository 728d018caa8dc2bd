package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bwmarrin/snowflake"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kgantsov/s3lease/internal/lease"
	"github.com/kgantsov/s3lease/internal/server"
	"github.com/kgantsov/s3lease/internal/storage"
)

type Config struct {
	HTTPAddr       string
	Backend        string
	Bucket         string
	NodeID         int64
	RequestTimeout time.Duration

	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	DataDir string

	LogLevel string
	LogFile  string
}

// Command line parameters
var configFile string
var httpAddr string
var backend string
var bucket string

func init() {
	flag.StringVar(&configFile, "config", "", "Path to a YAML config file")
	flag.StringVar(&httpAddr, "haddr", "", "Set the HTTP bind port, overrides config")
	flag.StringVar(&backend, "backend", "", "Set the storage backend (s3 or badger), overrides config")
	flag.StringVar(&bucket, "bucket", "", "Set the bucket holding lease objects, overrides config")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] \n", os.Args[0])
		flag.PrintDefaults()
	}
}

// applyFlagOverrides layers explicitly passed flags on top of whatever viper
// resolved from defaults, environment and config file.
func (cfg *Config) applyFlagOverrides() {
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if bucket != "" {
		cfg.Bucket = bucket
	}
}

func loadConfig() (*Config, error) {
	viper.SetDefault("http_addr", "8080")
	viper.SetDefault("backend", "s3")
	viper.SetDefault("bucket", "leases")
	viper.SetDefault("node_id", 1)
	viper.SetDefault("request_timeout", lease.DefaultRequestTimeout)
	viper.SetDefault("s3_region", "us-east-1")
	viper.SetDefault("s3_endpoint", "")
	viper.SetDefault("s3_access_key", "")
	viper.SetDefault("s3_secret_key", "")
	viper.SetDefault("data_dir", "./data")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_file", "")

	viper.SetEnvPrefix("S3LEASE")
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	return &Config{
		HTTPAddr:       viper.GetString("http_addr"),
		Backend:        viper.GetString("backend"),
		Bucket:         viper.GetString("bucket"),
		NodeID:         viper.GetInt64("node_id"),
		RequestTimeout: viper.GetDuration("request_timeout"),
		S3Region:       viper.GetString("s3_region"),
		S3Endpoint:     viper.GetString("s3_endpoint"),
		S3AccessKey:    viper.GetString("s3_access_key"),
		S3SecretKey:    viper.GetString("s3_secret_key"),
		DataDir:        viper.GetString("data_dir"),
		LogLevel:       viper.GetString("log_level"),
		LogFile:        viper.GetString("log_file"),
	}, nil
}

func configureLogger(cfg *Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile != "" {
		log.Logger = log.Output(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		})
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func newObjectStore(ctx context.Context, cfg *Config) (storage.ObjectStore, error) {
	switch cfg.Backend {
	case "s3":
		opts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.S3Region),
		}
		if cfg.S3AccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
			))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}

		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3Endpoint)
				o.UsePathStyle = true
			}
		})
		return storage.NewS3Storage(client, cfg.Bucket, cfg.S3Region), nil
	case "badger":
		db, err := badger.Open(badger.DefaultOptions(cfg.DataDir))
		if err != nil {
			return nil, fmt.Errorf("open badger at %s: %w", cfg.DataDir, err)
		}
		return storage.NewBadgerStorage(db), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.applyFlagOverrides()

	configureLogger(cfg)

	store, err := newObjectStore(context.Background(), cfg)
	if err != nil {
		log.Fatal().Msgf("Failed to create %s object store: %s", cfg.Backend, err)
	}
	defer store.Close()

	idGenerator, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		log.Fatal().Msgf("Failed to create snowflake node: %s", err)
	}

	client := lease.NewClient(store, lease.WithRequestTimeout(cfg.RequestTimeout))

	h := server.New(cfg.HTTPAddr, client, idGenerator)
	go func() {
		if err := h.Start(); err != nil {
			log.Error().Msgf("Failed to start HTTP service: %s", err)
		}
	}()

	log.Info().Msgf("s3lease started successfully, listening on http://localhost:%s", cfg.HTTPAddr)

	terminate := make(chan os.Signal, 1)
	signal.Notify(terminate, os.Interrupt)
	<-terminate

	if err := h.Close(); err != nil {
		log.Error().Msgf("Failed to stop HTTP service: %s", err)
	}
	log.Info().Msg("s3lease exiting")
}
