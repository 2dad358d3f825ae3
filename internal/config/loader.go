package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/payrollx/payrun/internal/support/exception"
	"github.com/payrollx/payrun/internal/support/logger"
)

const moduleName = "config"

// envPrefix is the prefix for environment variable overrides
// (e.g. PAYRUN_SETTLEMENT_MAX_RETRIES overrides payrun.settlement.max_retries).
const envPrefix = "PAYRUN"

// LoadConfig loads configuration in three layers: defaults from NewConfig,
// the YAML file at path (if any), and environment variable overrides.
// A .env file at envFilePath (or the working directory) is loaded first so
// its variables participate in the override pass.
func LoadConfig(path, envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, exception.NewSettlementError(moduleName, fmt.Sprintf("failed to read config file %s", path), err, false)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, exception.NewSettlementError(moduleName, fmt.Sprintf("failed to unmarshal config file %s", path), err, false)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, exception.NewSettlementError(moduleName, "failed to apply environment variable overrides", err, false)
	}

	logger.SetLogLevel(cfg.Payrun.System.Logging.Level)
	return cfg, nil
}

// applyEnvOverrides collects PAYRUN_* environment variables matching the
// config schema into a nested map keyed by yaml tags, then binds them over
// the config with weak typing so string values convert to numbers and bools.
func applyEnvOverrides(cfg *Config) error {
	overrides := collectEnvOverrides(reflect.TypeOf(cfg.Payrun), envPrefix)
	if len(overrides) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg.Payrun,
		WeaklyTypedInput: true,
		TagName:          "yaml",
		// Inline-embedded structs (e.g. the signer client settings) bind at
		// the parent level, matching the yaml inline tag.
		Squash: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	return decoder.Decode(overrides)
}

// collectEnvOverrides walks the config struct type, derives the expected
// environment variable name for each leaf field from its yaml tag chain, and
// returns the values found in the environment as a nested map.
func collectEnvOverrides(t reflect.Type, prefix string) map[string]interface{} {
	result := make(map[string]interface{})
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if tag == "-" {
			continue
		}

		fieldType := field.Type
		if fieldType.Kind() == reflect.Ptr {
			fieldType = fieldType.Elem()
		}

		// Inline-embedded structs keep the parent's env prefix.
		if tag == "" && field.Anonymous && fieldType.Kind() == reflect.Struct {
			for k, v := range collectEnvOverrides(fieldType, prefix) {
				result[k] = v
			}
			continue
		}
		if tag == "" {
			continue
		}

		envKey := prefix + "_" + strings.ToUpper(tag)
		if fieldType.Kind() == reflect.Struct {
			nested := collectEnvOverrides(fieldType, envKey)
			if len(nested) > 0 {
				result[tag] = nested
			}
			continue
		}
		if val, ok := os.LookupEnv(envKey); ok {
			result[tag] = val
		}
	}
	return result
}
