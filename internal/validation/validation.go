package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	entsync "github.com/hyperengineering/entsync/internal/sync"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// AddAll appends every error in errs.
func (c *Collector) AddAll(errs []ValidationError) {
	c.errors = append(c.errors, errs...)
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// MaxIdentifierLength bounds table and column names.
const MaxIdentifierLength = 64

// ValidateIdentifier returns an error unless value is a lower-case SQL
// identifier safe to interpolate into generated statements.
func ValidateIdentifier(field, value string) *ValidationError {
	if len(value) > MaxIdentifierLength || !identifierPattern.MatchString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be a lower-case identifier ([a-z_][a-z0-9_]*)",
		}
	}
	return nil
}

// MaxKeyLength bounds string primary key values.
const MaxKeyLength = 255

// ValidateKeyValue returns an error unless value can serve as a primary key
// column value: a non-empty string or a number.
func ValidateKeyValue(field string, value any) *ValidationError {
	switch v := value.(type) {
	case string:
		if err := ValidateRequired(field, v); err != nil {
			return err
		}
		if err := ValidateMaxLength(field, v, MaxKeyLength); err != nil {
			return err
		}
		return ValidateNoNullBytes(field, v)
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return nil
	}
	return &ValidationError{
		Field:   field,
		Message: "must be a string or number",
	}
}

// ValidatePayloadText walks a payload and checks every string it contains,
// including strings nested in arrays and objects, for UTF-8 validity and
// null bytes. Errors are reported in field name order.
func ValidatePayloadText(payload map[string]any) []ValidationError {
	c := &Collector{}
	fields := make([]string, 0, len(payload))
	for f := range payload {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		walkText(c, f, payload[f])
	}
	return c.Errors()
}

func walkText(c *Collector, field string, value any) {
	switch v := value.(type) {
	case string:
		if err := ValidateUTF8(field, v); err != nil {
			c.Add(err)
			return
		}
		c.Add(ValidateNoNullBytes(field, v))
	case []any:
		for i, item := range v {
			walkText(c, fmt.Sprintf("%s[%d]", field, i), item)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkText(c, field+"."+k, v[k])
		}
	}
}

// Limits bounds the size of one sync request.
type Limits struct {
	MaxOperations int
	MaxPayloads   int
}

// ValidateSyncRequest checks request-level bounds of a sync batch: it must
// not be empty and must stay within the operation and payload limits.
// Zero limits are unbounded. Per-operation checks belong to the writer.
func ValidateSyncRequest(ops []entsync.Operation, limits Limits) []ValidationError {
	c := &Collector{}

	if len(ops) == 0 {
		c.Add(&ValidationError{Field: "operations", Message: "must contain at least one operation"})
		return c.Errors()
	}
	if limits.MaxOperations > 0 && len(ops) > limits.MaxOperations {
		c.Add(&ValidationError{
			Field:   "operations",
			Message: fmt.Sprintf("exceeds maximum of %d operations", limits.MaxOperations),
		})
	}

	payloads := 0
	for _, op := range ops {
		payloads += len(op.Payload)
	}
	if limits.MaxPayloads > 0 && payloads > limits.MaxPayloads {
		c.Add(&ValidationError{
			Field:   "operations",
			Message: fmt.Sprintf("exceeds maximum of %d payloads (got %d)", limits.MaxPayloads, payloads),
		})
	}

	return c.Errors()
}

// FromOperationErrors flattens writer operation errors into field errors
// addressed as operations[i].payload[j].field.
func FromOperationErrors(errs entsync.OperationErrors) []ValidationError {
	out := make([]ValidationError, 0, len(errs.Errors))
	for _, e := range errs.Errors {
		field := fmt.Sprintf("operations[%d]", e.Index)
		if e.Payload >= 0 && e.Entity != "" {
			field += fmt.Sprintf(".payload[%d]", e.Payload)
		}
		if e.Field != "" {
			field += "." + e.Field
		}
		out = append(out, ValidationError{Field: field, Message: e.Message})
	}
	return out
}
