package configuration

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var singleton = sync.OnceValues(func() (*Configuration, error) {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		return nil, err
	}
	return c, nil
})

// LoadEnv loads the env files that exist and reports how many were found.
// Missing files are not an error; the environment may carry everything.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// SourceOptions is the legacy MySQL store connection.
type SourceOptions struct {
	Opts     string `env:"SOURCE_DSN"`
	Name     string `env:"SOURCE_DB_NAME" envDefault:"otoedi_v2"`
	Host     string `env:"SOURCE_DB_HOST" envDefault:"localhost"`
	Port     string `env:"SOURCE_DB_PORT" envDefault:"3306"`
	User     string `env:"SOURCE_DB_USER" envDefault:"root"`
	Password string `env:"SOURCE_DB_PASSWORD" envDefault:""`
}

// ConnectionString builds a go-sql-driver DSN. parseTime stays off so the
// legacy zero-date sentinels scan as text.
func (s *SourceOptions) ConnectionString() string {
	if s.Opts != "" {
		return s.Opts
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s", s.User, s.Password, s.Host, s.Port, s.Name)
}

// TargetOptions is the v3 Postgres store connection.
type TargetOptions struct {
	Opts     string `env:"TARGET_DSN"`
	Name     string `env:"TARGET_DB_NAME" envDefault:"otoedi_v3"`
	Host     string `env:"TARGET_DB_HOST" envDefault:"localhost"`
	Port     string `env:"TARGET_DB_PORT" envDefault:"5432"`
	User     string `env:"TARGET_DB_USER" envDefault:"postgres"`
	Password string `env:"TARGET_DB_PASSWORD" envDefault:"postgres"`
}

func (t *TargetOptions) ConnectionString() string {
	if t.Opts != "" {
		return t.Opts
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		t.Host, t.Port, t.User, t.Name, t.Password,
	)
}

type Configuration struct {
	Source SourceOptions
	Target TargetOptions

	// CloneSourceDSN points at the store cloned from; the clone writes into
	// Target.
	CloneSourceDSN string `env:"CLONE_SOURCE_DSN"`

	Mode     string `env:"MIGRATION_MODE" envDefault:"strict"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

// Use returns the process-wide configuration, loading it on first call.
func Use() (*Configuration, error) {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	if _, err := LoadEnv(envFiles); err != nil {
		return err
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	return c.validate()
}

func (c *Configuration) validate() error {
	mode := strings.ToLower(strings.TrimSpace(c.Mode))
	if mode == "" {
		mode = "strict"
	}
	switch mode {
	case "strict", "lenient":
	default:
		return fmt.Errorf("invalid MIGRATION_MODE=%q (expected strict|lenient)", c.Mode)
	}
	c.Mode = mode
	return nil
}
