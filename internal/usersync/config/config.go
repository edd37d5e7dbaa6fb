package config

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	KeyAPIBaseURL       = "API_BASE_URL"
	KeyAPIKey           = "API_KEY"
	KeyAPIUsersPath     = "API_USERS_PATH"
	KeyAPIMethod        = "API_METHOD"
	KeyAPIRecordsPath   = "API_RECORDS_PATH"
	KeyMongoURI         = "MONGO_URI"
	KeyDBName           = "DB_NAME"
	KeyCollectionName   = "COLLECTION_NAME"
	KeyMaxRetries       = "MAX_RETRIES"
	KeyBackoffBase      = "BACKOFF_BASE"
	KeyBackoffMax       = "BACKOFF_MAX"
	KeyBackoffJitter    = "BACKOFF_JITTER"
	KeyRequestTimeout   = "REQUEST_TIMEOUT"
	KeyFailureTolerance = "FAILURE_TOLERANCE"
	KeySyncInterval     = "SYNC_INTERVAL"
	KeyStatusAddr       = "STATUS_ADDR"
	KeyLogLevel         = "LOG_LEVEL"
)

// placeholderPrefix marks values copied from an example env file that were
// never filled in.
const placeholderPrefix = "your_"

// Config is read once at startup and never mutated afterwards.
type Config struct {
	APIBaseURL     string `env:"API_BASE_URL" validate:"required,http_url"`
	APIKey         string `env:"API_KEY" validate:"required"`
	APIUsersPath   string `env:"API_USERS_PATH"`
	APIMethod      string `env:"API_METHOD" validate:"oneof=GET POST"`
	APIRecordsPath string `env:"API_RECORDS_PATH"`

	MongoURI       string `env:"MONGO_URI" validate:"required,startswith=mongodb"`
	DBName         string `env:"DB_NAME" validate:"required"`
	CollectionName string `env:"COLLECTION_NAME" validate:"required"`

	MaxRetries     int           `env:"MAX_RETRIES" validate:"gte=0"`
	BackoffBase    time.Duration `env:"BACKOFF_BASE" validate:"gte=0"`
	BackoffMax     time.Duration `env:"BACKOFF_MAX" validate:"gte=0"`
	BackoffJitter  float64       `env:"BACKOFF_JITTER" validate:"gte=0,lte=1"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" validate:"gt=0"`

	FailureTolerance int           `env:"FAILURE_TOLERANCE" validate:"gte=0"`
	SyncInterval     time.Duration `env:"SYNC_INTERVAL" validate:"gte=0"`
	StatusAddr       string        `env:"STATUS_ADDR"`
	LogLevel         string        `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
}

// ConfigError names the offending key. Load joins one per bad key.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

// NewEnvViper returns a viper instance reading from the process environment.
func NewEnvViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyAPIUsersPath, "/users")
	v.SetDefault(KeyAPIMethod, http.MethodGet)
	v.SetDefault(KeyCollectionName, "users")
	v.SetDefault(KeyMaxRetries, "3")
	v.SetDefault(KeyBackoffBase, "1")
	v.SetDefault(KeyBackoffMax, "30")
	v.SetDefault(KeyBackoffJitter, "0")
	v.SetDefault(KeyRequestTimeout, "30")
	v.SetDefault(KeyFailureTolerance, "0")
	v.SetDefault(KeySyncInterval, "0")
	v.SetDefault(KeyLogLevel, "info")
}

// Load builds and validates a Config from v. Every problem is reported,
// joined, as *ConfigError values.
func Load(v *viper.Viper) (*Config, error) {
	var errs []error
	str := func(key string) string {
		return strings.TrimSpace(v.GetString(key))
	}

	cfg := &Config{
		APIBaseURL:     strings.TrimSuffix(str(KeyAPIBaseURL), "/"),
		APIKey:         str(KeyAPIKey),
		APIUsersPath:   str(KeyAPIUsersPath),
		APIMethod:      strings.ToUpper(str(KeyAPIMethod)),
		APIRecordsPath: str(KeyAPIRecordsPath),
		MongoURI:       str(KeyMongoURI),
		DBName:         str(KeyDBName),
		CollectionName: str(KeyCollectionName),
		StatusAddr:     str(KeyStatusAddr),
		LogLevel:       strings.ToLower(str(KeyLogLevel)),
	}
	if cfg.APIUsersPath != "" && !strings.HasPrefix(cfg.APIUsersPath, "/") {
		cfg.APIUsersPath = "/" + cfg.APIUsersPath
	}

	intVal := func(key string, dst *int) {
		n, err := strconv.Atoi(str(key))
		if err != nil {
			errs = append(errs, &ConfigError{Key: key, Message: fmt.Sprintf("invalid integer %q", str(key))})
			return
		}
		*dst = n
	}
	durVal := func(key string, dst *time.Duration) {
		d, err := parseSeconds(str(key))
		if err != nil {
			errs = append(errs, &ConfigError{Key: key, Message: err.Error()})
			return
		}
		*dst = d
	}

	intVal(KeyMaxRetries, &cfg.MaxRetries)
	intVal(KeyFailureTolerance, &cfg.FailureTolerance)
	durVal(KeyBackoffBase, &cfg.BackoffBase)
	durVal(KeyBackoffMax, &cfg.BackoffMax)
	durVal(KeyRequestTimeout, &cfg.RequestTimeout)
	durVal(KeySyncInterval, &cfg.SyncInterval)

	if jitter, err := strconv.ParseFloat(str(KeyBackoffJitter), 64); err != nil {
		errs = append(errs, &ConfigError{Key: KeyBackoffJitter, Message: fmt.Sprintf("invalid number %q", str(KeyBackoffJitter))})
	} else {
		cfg.BackoffJitter = jitter
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	required := map[string]string{
		KeyAPIBaseURL:     c.APIBaseURL,
		KeyAPIKey:         c.APIKey,
		KeyMongoURI:       c.MongoURI,
		KeyDBName:         c.DBName,
		KeyCollectionName: c.CollectionName,
	}
	placeholders := make(map[string]bool)
	for key, value := range required {
		if strings.HasPrefix(value, placeholderPrefix) {
			placeholders[key] = true
		}
	}

	err := configValidator().Struct(c)
	var validationErrors validator.ValidationErrors
	if err != nil && !errors.As(err, &validationErrors) {
		return err
	}
	for _, fe := range validationErrors {
		if placeholders[fe.Field()] {
			continue
		}
		errs = append(errs, &ConfigError{Key: fe.Field(), Message: describe(fe)})
	}
	for _, key := range slices.Sorted(maps.Keys(placeholders)) {
		errs = append(errs, &ConfigError{Key: key, Message: "is required (placeholder value)"})
	}

	if c.BackoffMax > 0 && c.BackoffMax < c.BackoffBase {
		errs = append(errs, &ConfigError{Key: KeyBackoffMax, Message: "must not be less than " + KeyBackoffBase})
	}

	return errors.Join(errs...)
}

// Endpoint is the full URL fetched on each attempt.
func (c *Config) Endpoint() string {
	return c.APIBaseURL + c.APIUsersPath
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "http_url", "startswith":
		return fmt.Sprintf("invalid value %q", fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed on the '%s' tag", fe.Tag())
	}
}

var (
	cfgValidate     *validator.Validate
	cfgValidateOnce sync.Once
)

func configValidator() *validator.Validate {
	cfgValidateOnce.Do(func() {
		cfgValidate = validator.New()
		cfgValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			return fld.Tag.Get("env")
		})
	})
	return cfgValidate
}

// parseSeconds accepts plain seconds ("1.5") or a Go duration ("1500ms").
func parseSeconds(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("empty value")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
