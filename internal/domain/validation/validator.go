package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Conte777/tgvault/internal/domain/upsert"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Severity grades a field violation
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// DefaultMaxSamples caps offending records kept per reference violation
const DefaultMaxSamples = 5

const referenceChunk = 500

// FieldViolation is one failed field rule
type FieldViolation struct {
	Index    int
	Field    string
	Rule     string
	Param    string
	Value    any
	Severity Severity
}

// ReferenceViolation lists values absent from the referenced table
type ReferenceViolation struct {
	Field         string
	Table         string
	Column        string
	MissingValues []int64
	Count         int
	Samples       []any
}

// Result is the structured outcome of validating one batch
type Result struct {
	Valid               bool
	Checked             int
	ValidRecords        int
	FieldViolations     []FieldViolation
	ReferenceViolations []ReferenceViolation
	Elapsed             time.Duration
}

// reference describes a foreign-key style link of a record type
type reference[T any] struct {
	field   string
	table   string
	column  string
	extract func(T) (int64, bool)
}

// Validator checks batches against field rules and parent tables
type Validator struct {
	db         *gorm.DB
	validate   *validator.Validate
	maxSamples int
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// New creates a validator
func New(db *gorm.DB, m *metrics.Metrics, logger zerolog.Logger) *Validator {
	return &Validator{
		db:         db,
		validate:   validator.New(),
		maxSamples: DefaultMaxSamples,
		metrics:    m,
		logger:     logger.With().Str("component", "validator").Logger(),
	}
}

// ValidateUsers checks user records against their field rules
func (v *Validator) ValidateUsers(ctx context.Context, records []upsert.UserRecord) Result {
	return run(ctx, v, records, nil)
}

// ValidateMessages checks message records against field rules and their
// sender and channel references
func (v *Validator) ValidateMessages(ctx context.Context, records []upsert.MessageRecord) Result {
	return run(ctx, v, records, []reference[upsert.MessageRecord]{
		{
			field:  "SenderID",
			table:  "users",
			column: "id",
			extract: func(r upsert.MessageRecord) (int64, bool) {
				if r.SenderID == nil {
					return 0, false
				}
				return *r.SenderID, true
			},
		},
		{
			field:   "ChannelID",
			table:   "monitored_channels",
			column:  "id",
			extract: func(r upsert.MessageRecord) (int64, bool) { return r.ChannelID, r.ChannelID > 0 },
		},
	})
}

// ValidateMedia checks media records against field rules and their owning message
func (v *Validator) ValidateMedia(ctx context.Context, records []upsert.MediaRecord) Result {
	return run(ctx, v, records, []reference[upsert.MediaRecord]{
		{
			field:   "MessageID",
			table:   "messages",
			column:  "id",
			extract: func(r upsert.MediaRecord) (int64, bool) { return r.MessageID, r.MessageID > 0 },
		},
	})
}

// PrecheckUsers validates and logs; it never blocks the write
func (v *Validator) PrecheckUsers(ctx context.Context, records []upsert.UserRecord) {
	v.report("users", v.ValidateUsers(ctx, records))
}

// PrecheckMessages validates and logs; it never blocks the write
func (v *Validator) PrecheckMessages(ctx context.Context, records []upsert.MessageRecord) {
	v.report("messages", v.ValidateMessages(ctx, records))
}

func (v *Validator) report(batch string, res Result) {
	v.metrics.RecordValidationViolations("field", len(res.FieldViolations))
	for _, ref := range res.ReferenceViolations {
		v.metrics.RecordValidationViolations("reference", ref.Count)
	}
	if res.Valid {
		return
	}

	evt := v.logger.Warn().
		Str("batch", batch).
		Int("checked", res.Checked).
		Int("valid", res.ValidRecords).
		Int("field_violations", len(res.FieldViolations)).
		Dur("elapsed", res.Elapsed)
	for _, ref := range res.ReferenceViolations {
		evt = evt.Interface(ref.Field+"_missing", ref.MissingValues)
	}
	evt.Msg("Batch failed advisory validation, writing anyway")
}

func run[T any](ctx context.Context, v *Validator, records []T, refs []reference[T]) Result {
	start := time.Now()
	res := Result{Checked: len(records)}
	invalid := make(map[int]bool)

	for i, rec := range records {
		for _, fv := range v.checkFields(i, rec) {
			res.FieldViolations = append(res.FieldViolations, fv)
			if fv.Severity == SeverityError {
				invalid[i] = true
			}
		}
	}

	for _, ref := range refs {
		rv, offenders, err := checkReference(ctx, v, records, ref)
		if err != nil {
			v.logger.Warn().Err(err).Str("table", ref.table).Msg("Reference check skipped")
			continue
		}
		if rv == nil {
			continue
		}
		for _, i := range offenders {
			invalid[i] = true
		}
		res.ReferenceViolations = append(res.ReferenceViolations, *rv)
	}

	res.ValidRecords = len(records) - len(invalid)
	res.Valid = len(invalid) == 0 && len(res.FieldViolations) == 0
	res.Elapsed = time.Since(start)
	return res
}

func (v *Validator) checkFields(index int, rec any) []FieldViolation {
	err := v.validate.Struct(rec)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldViolation{{Index: index, Rule: "invalid", Severity: SeverityError, Value: err.Error()}}
	}

	out := make([]FieldViolation, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldViolation{
			Index:    index,
			Field:    fe.Field(),
			Rule:     fe.Tag(),
			Param:    fe.Param(),
			Value:    fe.Value(),
			Severity: severityOf(fe.Tag()),
		})
	}
	return out
}

func severityOf(rule string) Severity {
	switch rule {
	case "max", "min", "len":
		return SeverityWarning
	default:
		return SeverityError
	}
}

func checkReference[T any](ctx context.Context, v *Validator, records []T, ref reference[T]) (*ReferenceViolation, []int, error) {
	byValue := make(map[int64][]int)
	var values []int64
	for i, rec := range records {
		val, ok := ref.extract(rec)
		if !ok {
			continue
		}
		if _, seen := byValue[val]; !seen {
			values = append(values, val)
		}
		byValue[val] = append(byValue[val], i)
	}
	if len(values) == 0 {
		return nil, nil, nil
	}

	found, err := v.existingKeys(ctx, ref.table, ref.column, values)
	if err != nil {
		return nil, nil, err
	}

	rv := &ReferenceViolation{Field: ref.field, Table: ref.table, Column: ref.column}
	var offenders []int
	for _, val := range values {
		if found[val] {
			continue
		}
		rv.MissingValues = append(rv.MissingValues, val)
		for _, i := range byValue[val] {
			offenders = append(offenders, i)
			rv.Count++
			if len(rv.Samples) < v.maxSamples {
				rv.Samples = append(rv.Samples, records[i])
			}
		}
	}
	if rv.Count == 0 {
		return nil, nil, nil
	}
	return rv, offenders, nil
}

func (v *Validator) existingKeys(ctx context.Context, table, column string, values []int64) (map[int64]bool, error) {
	sqlDB, err := v.db.DB()
	if err != nil {
		return nil, err
	}
	x := sqlx.NewDb(sqlDB, v.db.Dialector.Name())

	found := make(map[int64]bool, len(values))
	for start := 0; start < len(values); start += referenceChunk {
		end := min(start+referenceChunk, len(values))

		query, args, err := sqlx.In(
			fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (?)", column, table, column),
			values[start:end],
		)
		if err != nil {
			return nil, err
		}

		var keys []int64
		if err := x.SelectContext(ctx, &keys, x.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("lookup %s.%s: %w", table, column, err)
		}
		for _, k := range keys {
			found[k] = true
		}
	}
	return found, nil
}
