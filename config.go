package swiftstream

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// DefaultChannelCapacity bounds the number of parsed records in flight between
// the worker and the consumer.
const DefaultChannelCapacity = 1000

// MaxChannelCapacity is the largest accepted ChannelCapacity.
const MaxChannelCapacity = 1 << 20

// TrimMode selects which rows have surrounding whitespace removed.
type TrimMode string

const (
	TrimNone    TrimMode = "none"
	TrimHeaders TrimMode = "headers"
	TrimFields  TrimMode = "fields"
	TrimAll     TrimMode = "all"
)

func (m TrimMode) headers() bool { return m == TrimHeaders || m == TrimAll }
func (m TrimMode) fields() bool  { return m == TrimFields || m == TrimAll }

// Shape selects the Record variant an engine yields.
type Shape string

const (
	ShapeMap  Shape = "map"
	ShapeList Shape = "list"
)

// Config holds every option that affects how a source is read.
type Config struct {
	HasHeaders      bool     `yaml:"has_headers" mapstructure:"has_headers"`
	Delimiter       string   `yaml:"delimiter" mapstructure:"delimiter" validate:"len=1"`
	QuoteChar       string   `yaml:"quote_char" mapstructure:"quote_char" validate:"len=1"`
	NullString      *string  `yaml:"null_string" mapstructure:"null_string"`
	Flexible        bool     `yaml:"flexible" mapstructure:"flexible"`
	FlexibleDefault *string  `yaml:"flexible_default" mapstructure:"flexible_default"`
	Trim            TrimMode `yaml:"trim" mapstructure:"trim" validate:"oneof=none headers fields all"`
	IgnoreNullBytes bool     `yaml:"ignore_null_bytes" mapstructure:"ignore_null_bytes"`
	Lossy           bool     `yaml:"lossy" mapstructure:"lossy"`
	ChannelCapacity int      `yaml:"channel_capacity" mapstructure:"channel_capacity" validate:"gte=1,lte=1048576"`
	Shape           Shape    `yaml:"shape" mapstructure:"shape" validate:"oneof=map list"`
}

// DefaultConfig returns the configuration used when no options are supplied.
func DefaultConfig() Config {
	return Config{
		HasHeaders:      true,
		Delimiter:       ",",
		QuoteChar:       `"`,
		Trim:            TrimNone,
		ChannelCapacity: DefaultChannelCapacity,
		Shape:           ShapeMap,
	}
}

// ApplyDefaults fills zero-valued options that have a non-zero default.
// Booleans are left alone.
func (c *Config) ApplyDefaults() {
	if c.Delimiter == "" {
		c.Delimiter = ","
	}
	if c.QuoteChar == "" {
		c.QuoteChar = `"`
	}
	if c.Trim == "" {
		c.Trim = TrimNone
	}
	if c.ChannelCapacity == 0 {
		c.ChannelCapacity = DefaultChannelCapacity
	}
	if c.Shape == "" {
		c.Shape = ShapeMap
	}
}

// Validate checks struct constraints and the consistency rules between options.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); !ok {
			return ConfigurationError("config", err.Error())
		}
		fields := make([]string, 0, len(verrs))
		messages := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
			messages = append(messages, fe.Field()+": "+formatValidationError(fe))
		}
		cerr := ConfigurationError(fields[0], strings.Join(messages, "; "))
		return cerr.WithDetail("fields", fields)
	}

	if err := checkSingleByte("delimiter", c.Delimiter); err != nil {
		return err
	}
	if err := checkSingleByte("quote_char", c.QuoteChar); err != nil {
		return err
	}
	if c.Delimiter == c.QuoteChar {
		return ConfigurationError("quote_char", "must differ from delimiter")
	}
	if c.ChannelCapacity > MaxChannelCapacity {
		return ConfigurationError("channel_capacity", fmt.Sprintf("must be at most %d", MaxChannelCapacity))
	}
	if c.FlexibleDefault != nil && !c.Flexible {
		return ConfigurationError("flexible_default", "requires flexible=true")
	}
	return nil
}

func (c *Config) delimiter() byte { return c.Delimiter[0] }
func (c *Config) quote() byte     { return c.QuoteChar[0] }

// checkSingleByte rejects characters the byte-oriented tokenizer cannot split on.
func checkSingleByte(field, v string) error {
	if len(v) != 1 || v[0] >= 0x80 {
		return ConfigurationError(field, fmt.Sprintf("must be a single ASCII character (got %q)", v))
	}
	if v[0] == '\n' || v[0] == '\r' {
		return ConfigurationError(field, "must not be a line terminator")
	}
	return nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the singleton validator instance.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report option names the way they appear in config files.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok && len(verrs) > 0 {
		*target = verrs
	}
	return ok && len(verrs) > 0
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "len":
		return "must be exactly " + e.Param() + " character"
	case "gte":
		return "must be at least " + e.Param()
	case "lte":
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of [" + e.Param() + "]"
	default:
		return "failed " + e.Tag() + " validation"
	}
}
