package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	EngineBadger = "badger"
	EngineBolt   = "bolt"

	TransportTCP = "tcp"
	TransportUDP = "udp"
)

type Config struct {
	Server    Server    `toml:"server"`
	RPC       RPC       `toml:"rpc"`
	HTTP      HTTP      `toml:"http"`
	Storage   Storage   `toml:"storage"`
	Bag       Bag       `toml:"bag"`
	RateLimit RateLimit `toml:"rate_limit"`
}

type Server struct {
	Name            string        `toml:"name" validate:"required"`
	LogLevel        slog.Level    `toml:"log_level"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" validate:"gt=0"`
}

type RPC struct {
	Address      string        `toml:"address" validate:"required"`
	Transport    string        `toml:"transport" validate:"oneof=tcp udp"`
	WriteTimeout time.Duration `toml:"write_timeout" validate:"gte=0"`
	MaxFrameSize uint32        `toml:"max_frame_size" validate:"gt=0"`
}

type HTTP struct {
	Enabled      bool          `toml:"enabled"`
	Address      string        `toml:"address" validate:"required_if=Enabled true"`
	ReadTimeout  time.Duration `toml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `toml:"write_timeout" validate:"gte=0"`
}

type Storage struct {
	Engine   string     `toml:"engine" validate:"oneof=badger bolt"`
	Path     string     `toml:"path" validate:"required_unless=InMemory true"`
	InMemory bool       `toml:"in_memory"`
	LogLevel slog.Level `toml:"log_level"`
}

// Bag holds the take timings and the configuration the bag starts with
// before any producer sets one.
type Bag struct {
	PollInterval time.Duration `toml:"poll_interval" validate:"gt=0"`
	TakeTimeout  time.Duration `toml:"take_timeout" validate:"gt=0"`
	RangeCeiling int64         `toml:"range_ceiling" validate:"gt=0"`
	BatchSize    int64         `toml:"batch_size" validate:"gt=0"`
	// TasksKey is the queue whose takes advance the task cursor.
	TasksKey string `toml:"tasks_key" validate:"required"`
}

type RateLimit struct {
	Enabled bool    `toml:"enabled"`
	Rate    float64 `toml:"rate" validate:"required_if=Enabled true,gte=0"`
	Burst   int     `toml:"burst" validate:"required_if=Enabled true,gte=0"`
}

// Default returns a configuration that serves an in-memory bag on port
// 2099.
func Default() Config {
	return Config{
		Server: Server{
			Name:            "TaskBag",
			LogLevel:        slog.LevelInfo,
			ShutdownTimeout: 5 * time.Second,
		},
		RPC: RPC{
			Address:      ":2099",
			Transport:    TransportTCP,
			WriteTimeout: 10 * time.Second,
			MaxFrameSize: 16 << 20,
		},
		HTTP: HTTP{
			Enabled:      true,
			Address:      ":2100",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Storage: Storage{
			Engine:   EngineBadger,
			InMemory: true,
			LogLevel: slog.LevelWarn,
		},
		Bag: Bag{
			PollInterval: time.Second,
			TakeTimeout:  30 * time.Second,
			RangeCeiling: 100,
			BatchSize:    10,
			TasksKey:     "tasks",
		},
		RateLimit: RateLimit{
			Rate:  50,
			Burst: 100,
		},
	}
}

// New reads the TOML file at path on top of the defaults. An empty path
// yields the defaults.
func New(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading file: %w", err)
		}
		if err = toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("unmarshal: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	err := validate.Struct(c)
	if err == nil {
		if c.Storage.Engine == EngineBolt && c.Storage.InMemory {
			return errors.New("storage.in_memory is not supported by the bolt engine")
		}
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errList := make([]error, 0, len(verrs))
	for _, e := range verrs {
		errList = append(errList, fmt.Errorf(
			"key=%q, value=\"%v\", failed %q validation",
			strings.TrimPrefix(e.Namespace(), "Config."),
			e.Value(),
			e.ActualTag(),
		))
	}
	return errors.Join(errList...)
}
