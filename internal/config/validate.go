package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validate      *validator.Validate
)

func structValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("toml"), ",")
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

// Validate ensures the configuration is usable. Errors name the offending
// key the way it is spelled in the config file.
func (c *Config) Validate() error {
	err := structValidator().Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validate config: %w", err)
	}
	return describeFieldError(fieldErrs[0])
}

func describeFieldError(fe validator.FieldError) error {
	key := fe.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s must be set", key)
	case "lte":
		return fmt.Errorf("%s must not exceed %s", key, fe.Param())
	case "oneof":
		return fmt.Errorf("%s: unsupported value %q (want one of %s)", key, fmt.Sprint(fe.Value()), strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Errorf("%s: failed %q check", key, fe.Tag())
	}
}

// LockTimeout returns the ledger lock wait as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Ledger.LockTimeoutSeconds) * time.Second
}

// SubmitTimeout returns the scheduler submission timeout as a duration.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Slurm.SubmitTimeoutSeconds) * time.Second
}
