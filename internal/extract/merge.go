package extract

import (
	"github.com/nugget/stagehand/internal/validate"
	"github.com/nugget/stagehand/internal/vars"
)

// MergeOptions controls [Merge]. The zero value is a plain
// right-biased union.
type MergeOptions struct {
	// ProtectExisting keeps any non-nil value in existing, the empty
	// string included, ignoring the incoming value for that key. Only
	// nil marks a variable as unknown.
	ProtectExisting bool

	// ValidateBeforeMerge re-checks every incoming value and drops the
	// ones the validator rejects. Accepted values are replaced by their
	// normalized form.
	ValidateBeforeMerge bool

	// Validator used when ValidateBeforeMerge is set. Nil means a
	// default set with default business hours.
	Validator *validate.Set
}

// Merge combines existing and extracted into a new map. Neither input
// is modified.
func Merge(existing, extracted vars.Map, opts MergeOptions) vars.Map {
	out := existing.Clone()

	validator := opts.Validator
	if opts.ValidateBeforeMerge && validator == nil {
		validator = validate.NewSet(validate.DefaultBusinessHours())
	}

	for k, v := range extracted {
		if old, ok := existing[k]; opts.ProtectExisting && ok && old != nil {
			continue
		}
		if opts.ValidateBeforeMerge {
			check := validator.Check(k, v)
			if !check.Valid {
				continue
			}
			v = check.Normalized
		}
		out[k] = v
	}
	return out
}
