package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"coachflow/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})

	// scheme=amqp amqps accepts a URL whose scheme is one of the listed ones.
	_ = v.RegisterValidation("scheme", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		if err != nil {
			return false
		}
		for _, s := range strings.Fields(fl.Param()) {
			if u.Scheme == s {
				return true
			}
		}
		return false
	})

	return v
}

// ValidateStatic checks cfg without touching the network. Optional sections
// are only checked when configured; broker settings only for the selected
// broker.
func ValidateStatic(cfg *Config) error {
	v := newValidator()
	var errs []error

	check := func(prefix string, section interface{}) {
		errs = append(errs, structErrors(v, prefix, section)...)
	}

	check("", cfg)

	switch cfg.Broker.Type {
	case constants.BrokerTypeRabbitMQ:
		check("broker.rabbitmq", cfg.Broker.RabbitMQ)
	case constants.BrokerTypeKafka:
		check("broker.kafka", cfg.Broker.Kafka)
		check("scheduler", cfg.Scheduler)
		if cfg.Database.Redis.Host == "" {
			errs = append(errs, &ValidationError{
				Field:   "database.redis.host",
				Message: "Redis is required for delayed actions with the kafka broker",
			})
		}
		if r := cfg.Broker.Kafka.Retry; r.MaxInterval > 0 && r.MaxInterval < r.InitialInterval {
			errs = append(errs, &ValidationError{
				Field:   "broker.kafka.retry.max_interval",
				Message: "must be greater than or equal to initial_interval",
			})
		}
	}

	if pg := cfg.Database.Postgres; pg.Host != "" || pg.Port > 0 {
		check("database.postgres", pg)
	}
	if rd := cfg.Database.Redis; rd.Host != "" || rd.Port > 0 {
		check("database.redis", rd)
	}

	if cfg.Engine.DispatchLog && cfg.Database.Postgres.Host == "" {
		errs = append(errs, &ValidationError{
			Field:   "engine.dispatch_log",
			Message: "dispatch log requires database.postgres",
		})
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func structErrors(v *validator.Validate, prefix string, section interface{}) []error {
	err := v.Struct(section)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []error{err}
	}

	out := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		// Namespace starts with the root type name.
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if prefix != "" {
			field = prefix + "." + field
		}
		out = append(out, &ValidationError{Field: field, Message: describe(fe)})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return fmt.Sprintf("is required when %s is not set", strings.ToLower(fe.Param()))
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "scheme":
		return fmt.Sprintf("must use one of the schemes [%s]", fe.Param())
	case "min", "max", "gt", "gte":
		return fmt.Sprintf("must be %s %s, got %v", fe.Tag(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
