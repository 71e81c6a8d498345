// Package common provides shared utilities for the multishot CLI commands.
//
// It contains the YAML file configuration shared by the aggregator and site
// binaries, NumPy matrix loading for site data, and logger construction.
package common

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/MRN-Code/multishot/protocol"
	"github.com/MRN-Code/multishot/services"
)

// Config is the YAML file configuration shared by the service binaries.
// The run section must be identical across the aggregator and every site.
type Config struct {
	HTTPAddr string                   `yaml:"http_addr"`
	Run      protocol.RunConfig       `yaml:"run"`
	Postgres *services.PostgresConfig `yaml:"postgres"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{HTTPAddr: ":8090"}
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// NewStore opens the configured round store. Without a postgres section the
// history is kept in memory only.
func NewStore(cfg *Config, log hclog.Logger) (services.RunStore, error) {
	if cfg.Postgres == nil {
		log.Info("no postgres configured, keeping history in memory")
		return services.NewInMemoryStore(), nil
	}

	store, err := services.NewPostgresStore(cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	log.Info("postgres store connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	return store, nil
}

// LoadMatrix reads a NumPy .npy file into row-major float64 rows.
func LoadMatrix(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var m mat.Dense
	if err := r.Read(&m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	rowCount, colCount := m.Dims()
	rows := make([][]float64, rowCount)
	for i := 0; i < rowCount; i++ {
		row := make([]float64, colCount)
		mat.Row(row, i, &m)
		rows[i] = row
	}
	return rows, nil
}

// NewLogger constructs the root logger for a service binary.
func NewLogger(name, level string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  name,
		Level: hclog.LevelFromString(level),
	})
}
