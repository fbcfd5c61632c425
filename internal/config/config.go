package config

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	ServerAddr       string        `mapstructure:"SERVER_ADDR" validate:"min=2"`
	GinMode          string        `mapstructure:"GIN_MODE" validate:"oneof=debug release test"`
	DataDir          string        `mapstructure:"DATA_DIR" validate:"min=1"`
	StorageMode      string        `mapstructure:"STORAGE_MODE" validate:"oneof=memory bbolt sqlite"`
	IDPrefix         string        `mapstructure:"ID_PREFIX"`
	SnapshotInterval time.Duration `mapstructure:"SNAPSHOT_INTERVAL" validate:"nonzero_duration"`
	SnapshotTimeout  time.Duration `mapstructure:"SNAPSHOT_TIMEOUT" validate:"nonzero_duration"`
	ShutdownTimeout  time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"nonzero_duration"`
}

type ClientConfig struct {
	// RemoteMode is "http" to talk to a taskpulse server or "local" to run
	// the remote in-process over a file store in DataDir.
	RemoteMode     string        `mapstructure:"REMOTE_MODE" validate:"oneof=http local"`
	ServerURL      string        `mapstructure:"SERVER_URL" validate:"required_if=RemoteMode http"`
	OwnerID        string        `mapstructure:"OWNER_ID"`
	DataDir        string        `mapstructure:"DATA_DIR" validate:"min=1"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT" validate:"nonzero_duration"`
	Workers        int           `mapstructure:"WORKERS" validate:"min=1,max=256"`
	QueueSize      int           `mapstructure:"QUEUE_SIZE" validate:"min=1"`
	LogFile        string        `mapstructure:"LOG_FILE"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("nonzero_duration", func(fl validator.FieldLevel) bool {
		if d, ok := fl.Field().Interface().(time.Duration); ok {
			return d > 0
		}
		return false
	})
	return v
}

func (c *ServerConfig) Validate() error {
	return newValidator().Struct(c)
}

func (c *ClientConfig) Validate() error {
	return newValidator().Struct(c)
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_ADDR", ":8081")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("DATA_DIR", "./data/server")
	v.SetDefault("STORAGE_MODE", "bbolt")
	v.SetDefault("ID_PREFIX", "")
	v.SetDefault("SNAPSHOT_INTERVAL", 6*time.Hour)
	v.SetDefault("SNAPSHOT_TIMEOUT", time.Minute)
	v.SetDefault("SHUTDOWN_TIMEOUT", 30*time.Second)
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("REMOTE_MODE", "http")
	v.SetDefault("SERVER_URL", "http://localhost:8081")
	v.SetDefault("OWNER_ID", "")
	v.SetDefault("DATA_DIR", "./data/client")
	v.SetDefault("REQUEST_TIMEOUT", 15*time.Second)
	v.SetDefault("WORKERS", 4)
	v.SetDefault("QUEUE_SIZE", 64)
	v.SetDefault("LOG_FILE", "taskpulse.log")
}

// LoadServerConfig reads name.ext from the first path holding it, then the
// environment. A missing file leaves the defaults in place.
func LoadServerConfig(name, ext string, paths ...string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := load(cfg, setServerDefaults, name, ext, paths...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadClientConfig(name, ext string, paths ...string) (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := load(cfg, setClientDefaults, name, ext, paths...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(cfg any, defaults func(*viper.Viper), name, ext string, paths ...string) error {
	v := viper.New()
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	v.SetConfigName(name)
	v.SetConfigType(ext)
	v.AutomaticEnv()
	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}
	return v.Unmarshal(cfg)
}
