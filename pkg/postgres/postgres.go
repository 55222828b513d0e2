package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormprom "gorm.io/plugin/prometheus"
	"moul.io/zapgorm2"

	"github.com/opengovern/componentci/pkg/koanf"
)

type Config struct {
	Host    string
	Port    string
	User    string
	Passwd  string
	DB      string
	SSLMode string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// ConnectAttempts bounds the pings made before NewClient gives up.
	ConnectAttempts int
}

func FromKoanf(p koanf.Postgres) *Config {
	return &Config{
		Host:    p.Host,
		Port:    p.Port,
		User:    p.Username,
		Passwd:  p.Password,
		DB:      p.DB,
		SSLMode: p.SSLMode,
	}
}

func (cfg *Config) validate() error {
	var errs []error
	for name, v := range map[string]string{
		"host":     cfg.Host,
		"port":     cfg.Port,
		"user":     cfg.User,
		"password": cfg.Passwd,
		"db":       cfg.DB,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("postgres %s is empty", name))
		}
	}
	return errors.Join(errs...)
}

func (cfg *Config) withDefaults() Config {
	c := *cfg
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 10
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 5
	}
	return c
}

// DSN renders the config as a postgres URL with all times in UTC.
func (cfg *Config) DSN() string {
	c := cfg.withDefaults()
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	q.Set("TimeZone", "UTC")
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Passwd),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.DB,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// NewClient opens a gorm connection pool, waits for the server to answer and
// exports the pool statistics as gorm_dbstats_* collectors.
func NewClient(cfg *Config, logger *zap.Logger) (*gorm.DB, error) {
	if cfg == nil {
		return nil, errors.New("cfg is nil")
	}
	if logger == nil {
		return nil, errors.New("logger is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := cfg.withDefaults()

	gormLogger := zapgorm2.New(logger.Named("gorm"))
	gormLogger.IgnoreRecordNotFoundError = true
	gormLogger.SetAsDefault()

	orm, err := gorm.Open(postgres.Open(c.DSN()), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}

	db, err := orm.DB()
	if err != nil {
		return nil, fmt.Errorf("raw db: %w", err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)

	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			break
		}
		if attempt >= c.ConnectAttempts {
			return nil, fmt.Errorf("ping db after %d attempts: %w", attempt, err)
		}
		logger.Warn("postgres not ready", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Duration(attempt) * time.Second)
	}

	metrics := gormprom.New(gormprom.Config{DBName: c.DB})
	if err := metrics.Initialize(orm); err != nil {
		return nil, fmt.Errorf("init gorm prometheus: %w", err)
	}
	for _, collector := range metrics.Collectors {
		var are prometheus.AlreadyRegisteredError
		if err := prometheus.Register(collector); err != nil && !errors.As(err, &are) {
			logger.Warn("failed to register gorm collector", zap.Error(err))
		}
	}

	return orm, nil
}
