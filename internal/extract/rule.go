package extract

import (
	"fmt"

	"github.com/maltedev/expert-scraper/internal/models"
)

type HonorificMode string

const (
	HonorificNone HonorificMode = ""
	// HonorificSplit moves a recognised title into the title field.
	HonorificSplit HonorificMode = "split"
	// HonorificRequired also rejects values without a recognised title.
	HonorificRequired HonorificMode = "required"
)

// FieldRule describes how one profile field is read from a detail page.
type FieldRule struct {
	Field string `yaml:"field"`
	// Selectors are tried in order; the first one matching anything wins.
	Selectors []string `yaml:"selectors"`
	// Attr reads an attribute instead of the element text.
	Attr string `yaml:"attr,omitempty"`
	// All joins every match instead of taking the first.
	All bool `yaml:"all,omitempty"`
	// Children collects the text of descendants of each match.
	Children string `yaml:"children,omitempty"`
	// Exclude drops matches that contain an element matching it.
	Exclude string `yaml:"exclude,omitempty"`
	// Contains keeps only matches whose text contains it.
	Contains string `yaml:"contains,omitempty"`
	// Label turns the matches into label/value pairs (dt, dd) and reads the
	// value following the label containing this text.
	Label string `yaml:"label,omitempty"`
	// Append adds to a value an earlier rule already set.
	Append    bool   `yaml:"append,omitempty"`
	Separator string `yaml:"separator,omitempty"`

	TrimPrefix  []string `yaml:"trim_prefix,omitempty"`
	CountryCode string   `yaml:"country_code,omitempty"`
	// Click is clicked before reading, e.g. a contact modal button.
	Click string `yaml:"click,omitempty"`
	// Split distributes <br> separated parts of the first match across fields.
	Split []string `yaml:"split,omitempty"`
	// SplitSingle receives the value when only one part is present.
	SplitSingle string        `yaml:"split_single,omitempty"`
	Honorific   HonorificMode `yaml:"honorific,omitempty"`
}

func (r FieldRule) Validate() error {
	if len(r.Selectors) == 0 {
		return fmt.Errorf("rule %q has no selectors", r.Field)
	}

	if len(r.Split) > 0 {
		for _, f := range append([]string{r.SplitSingle}, r.Split...) {
			if f != "" && !models.KnownField(f) {
				return fmt.Errorf("rule split target %q is not a profile field", f)
			}
		}
		return nil
	}

	if !models.KnownField(r.Field) {
		return fmt.Errorf("rule field %q is not a profile field", r.Field)
	}

	switch r.Honorific {
	case HonorificNone, HonorificSplit, HonorificRequired:
	default:
		return fmt.Errorf("rule %q has unknown honorific mode %q", r.Field, r.Honorific)
	}
	return nil
}

func (r FieldRule) separator() string {
	if r.Separator == "" {
		return "\n"
	}
	return r.Separator
}

func (r FieldRule) targets(field string) bool {
	if r.Field == field {
		return true
	}
	for _, f := range r.Split {
		if f == field {
			return true
		}
	}
	return r.SplitSingle == field
}
