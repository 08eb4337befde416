package config

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/spf13/viper"
)

// AppConfig holds the configuration for the application.
// Tags used:
// - mapstructure: used by viper to unmarshal
// - default: default value to set if missing
// - required: if "true", error if missing
type AppConfig struct {
	// Environment specifies the runtime environment (e.g., development, production).
	Environment string `mapstructure:"APP_ENV" default:"development"`
	// LogLevel defines the logging verbosity (e.g., debug, info, error).
	LogLevel string `mapstructure:"LOG_LEVEL" default:"info"`
	// ServerPort is the port where the server will listen.
	ServerPort int `mapstructure:"SERVER_PORT" default:"8080"`

	// Database holds the storage connection configuration.
	Database DatabaseConfig `mapstructure:",squash"`

	// Redis holds the status cache configuration.
	Redis RedisConfig `mapstructure:",squash"`

	// SFEx holds the SF Express carrier credentials.
	SFEx SFExConfig `mapstructure:",squash"`

	// EMSPost holds the EMS postal carrier credentials.
	EMSPost EMSPostConfig `mapstructure:",squash"`

	// Scheduler holds the background sync settings.
	Scheduler SchedulerConfig `mapstructure:",squash"`
}

// DatabaseConfig holds the storage connection details.
type DatabaseConfig struct {
	// DSN is the database connection string.
	DSN string `mapstructure:"DB_DSN" required:"true"`
}

// RedisConfig holds the status cache connection details.
type RedisConfig struct {
	// URL is the redis connection URL. Empty disables the status cache.
	URL string `mapstructure:"REDIS_URL"`
	// StatusTTLSeconds is how long a cached status projection stays valid.
	StatusTTLSeconds int `mapstructure:"REDIS_STATUS_TTL_SECONDS" default:"120"`
}

// SFExConfig holds the SF Express open API credentials. The carrier is
// inactive until both PartnerID and CheckWord are set.
type SFExConfig struct {
	// BaseURL is the API endpoint.
	BaseURL string `mapstructure:"SFEX_BASE_URL" default:"https://sfapi.sf-express.com"`
	// PartnerID is the partner identifier sent with every request.
	PartnerID string `mapstructure:"SFEX_PARTNER_ID"`
	// CheckWord is the shared secret used to sign request digests.
	CheckWord string `mapstructure:"SFEX_CHECK_WORD"`
}

// EMSPostConfig holds the EMS postal open API credentials. The carrier
// is inactive until both AppKey and AppSecret are set.
type EMSPostConfig struct {
	// BaseURL is the API endpoint.
	BaseURL string `mapstructure:"EMSPOST_BASE_URL" default:"https://api.ems.com.cn"`
	// AppKey is the application key exchanged for bearer tokens.
	AppKey string `mapstructure:"EMSPOST_APP_KEY"`
	// AppSecret is the application secret exchanged for bearer tokens.
	AppSecret string `mapstructure:"EMSPOST_APP_SECRET"`
}

// SchedulerConfig holds the background sync settings.
type SchedulerConfig struct {
	// IntervalSeconds is the pause between sync ticks.
	IntervalSeconds int `mapstructure:"SYNC_INTERVAL_SECONDS" default:"300"`
	// CarrierTimeoutSeconds bounds each outbound carrier call.
	CarrierTimeoutSeconds int `mapstructure:"CARRIER_TIMEOUT_SECONDS" default:"20"`
}

// Load loads configuration from .env files and environment variables.
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	v.AutomaticEnv()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config AppConfig

	if err := processTags(v, &config); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := validateRequired(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// processTags iterates over the struct fields and sets default values in Viper.
func processTags(v *viper.Viper, config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := processTags(v, val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		key := field.Tag.Get("mapstructure")
		defaultValue := field.Tag.Get("default")

		if key != "" {
			v.BindEnv(key)
		}

		if key != "" && defaultValue != "" {
			v.SetDefault(key, defaultValue)
		}
	}
	return nil
}

// validateRequired checks if fields marked as required have non-zero values.
func validateRequired(config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := validateRequired(val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		required := field.Tag.Get("required")
		if required == "true" {
			value := val.Field(i)
			if isZero(value) {
				key := field.Tag.Get("mapstructure")
				return fmt.Errorf("missing required configuration: %s", key)
			}
		}
	}
	return nil
}

// isZero checks if a reflect.Value is the zero value for its type.
func isZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.String() == ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	default:
		return v.IsZero()
	}
}
