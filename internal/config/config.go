package config

import (
	"io/fs"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Databases Databases         `mapstructure:"databases"`
	Bootstrap BootstrapSettings `mapstructure:"bootstrap"`
	Sweep     SweepSettings     `mapstructure:"sweep"`
	Log       LogSettings       `mapstructure:"log"`
}

// Databases holds one DSN per supported backend.
type Databases struct {
	Postgres string `mapstructure:"postgres"`
	MySQL    string `mapstructure:"mysql"`
	Mongo    string `mapstructure:"mongo"`
}

type BootstrapSettings struct {
	Prefix     string        `mapstructure:"prefix"`
	Timeout    time.Duration `mapstructure:"timeout"`
	OpTimeout  time.Duration `mapstructure:"op_timeout"`
	SchemaFile string        `mapstructure:"schema_file"`
}

type SweepSettings struct {
	Schedule string `mapstructure:"schedule"`
}

type LogSettings struct {
	Level string `mapstructure:"level"`
}

// DSN returns the connection string configured for a backend.
func (d Databases) DSN(backend string) (string, error) {
	var dsn string
	switch backend {
	case "postgres":
		dsn = d.Postgres
	case "mysql":
		dsn = d.MySQL
	case "mongo":
		dsn = d.Mongo
	default:
		return "", errors.Errorf("unsupported database type: %s", backend)
	}
	if dsn == "" {
		return "", errors.Errorf("no DSN configured for %s (databases.%s or CODIN_DATABASES_%s)", backend, backend, strings.ToUpper(backend))
	}
	return dsn, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("databases.mongo", "mongodb://localhost:27017")
	v.SetDefault("databases.postgres", "")
	v.SetDefault("databases.mysql", "")
	v.SetDefault("bootstrap.prefix", "codin-")
	v.SetDefault("bootstrap.timeout", 2*time.Minute)
	v.SetDefault("bootstrap.op_timeout", 30*time.Second)
	v.SetDefault("bootstrap.schema_file", "")
	v.SetDefault("sweep.schedule", "@every 1m")
	v.SetDefault("log.level", "info")
}

// LoadConfig reads the YAML file at path, if present, and applies CODIN_*
// environment overrides on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CODIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, errors.Wrapf(err, "read config %s", path)
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if config.Bootstrap.Timeout <= 0 {
		return nil, errors.Errorf("bootstrap.timeout must be positive, got %s", config.Bootstrap.Timeout)
	}
	if config.Bootstrap.OpTimeout <= 0 {
		return nil, errors.Errorf("bootstrap.op_timeout must be positive, got %s", config.Bootstrap.OpTimeout)
	}

	return config, nil
}
