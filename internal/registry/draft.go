package registry

import (
	"errors"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rafaeljc/featuregate/internal/ruleengine"
	"github.com/rafaeljc/featuregate/internal/store"
)

// Defaults applied to fields a Draft leaves unset.
const (
	DefaultEnabled           = true
	DefaultRolloutPercentage = 100
)

// Draft holds the caller-supplied fields of a new flag.
// Nil pointers take the defaults.
type Draft struct {
	Name              string
	Description       string
	Enabled           *bool
	RolloutPercentage *int
	TargetRoles       []string
	TargetUsers       []string
	Metadata          map[string]string
	CreatedBy         string
}

// Patch is a partial update. Nil fields are left untouched; a non-nil
// pointer to an empty slice clears the list.
type Patch struct {
	Name              *string
	Description       *string
	Enabled           *bool
	RolloutPercentage *int
	TargetRoles       *[]string
	TargetUsers       *[]string
	Metadata          *map[string]string

	// ExpectedVersion, when set, makes the update fail with ConflictError
	// unless the stored flag is still at this version.
	ExpectedVersion *int64
}

// rules mirrors the mutable record fields with their constraints.
// The json tags name the fields in ValidationError.
type rules struct {
	Name              string            `json:"name" validate:"required,max=128"`
	Description       string            `json:"description" validate:"max=2048"`
	RolloutPercentage int               `json:"rollout_percentage" validate:"min=0,max=100"`
	TargetRoles       []string          `json:"target_roles" validate:"max=64,dive,max=128"`
	TargetUsers       []string          `json:"target_users" validate:"max=10000,dive,max=256"`
	Metadata          map[string]string `json:"metadata" validate:"max=64,dive,keys,required,max=128,endkeys,max=1024"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// check validates a normalized record and reports the first offending field.
func check(v *validator.Validate, f *store.Flag) error {
	err := v.Struct(rules{
		Name:              f.Name,
		Description:       f.Description,
		RolloutPercentage: f.RolloutPercentage,
		TargetRoles:       f.TargetRoles,
		TargetUsers:       f.TargetUsers,
		Metadata:          f.Metadata,
	})
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: "flag", Reason: err.Error()}
	}

	fe := verrs[0]
	field, _, _ := strings.Cut(fe.Field(), "[")
	return &ValidationError{Field: field, Reason: describe(fe)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map {
			return "must have at most " + fe.Param() + " entries"
		}
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// normalize trims the name and cleans the targeting lists in place:
// entries are trimmed, blanks dropped, duplicates removed, first occurrence kept.
func normalize(f *store.Flag) {
	f.Name = strings.TrimSpace(f.Name)
	f.Description = strings.TrimSpace(f.Description)
	f.TargetRoles = cleanList(f.TargetRoles)
	f.TargetUsers = cleanList(f.TargetUsers)
	if f.Metadata == nil {
		f.Metadata = map[string]string{}
	} else {
		f.Metadata = maps.Clone(f.Metadata)
	}
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// apply copies the set fields of p onto f.
func (p Patch) apply(f *store.Flag) {
	if p.Name != nil {
		f.Name = *p.Name
	}
	if p.Description != nil {
		f.Description = *p.Description
	}
	if p.Enabled != nil {
		f.Enabled = *p.Enabled
	}
	if p.RolloutPercentage != nil {
		f.RolloutPercentage = *p.RolloutPercentage
	}
	if p.TargetRoles != nil {
		f.TargetRoles = slices.Clone(*p.TargetRoles)
	}
	if p.TargetUsers != nil {
		f.TargetUsers = slices.Clone(*p.TargetUsers)
	}
	if p.Metadata != nil {
		f.Metadata = maps.Clone(*p.Metadata)
	}
}

// Spec converts a stored record into the evaluation input.
func Spec(f *store.Flag) ruleengine.FlagSpec {
	return ruleengine.FlagSpec{
		ID:                f.ID,
		Name:              f.Name,
		Enabled:           f.Enabled,
		RolloutPercentage: f.RolloutPercentage,
		TargetRoles:       f.TargetRoles,
		TargetUsers:       f.TargetUsers,
	}
}
