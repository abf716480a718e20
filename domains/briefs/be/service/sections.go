package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Section names, in display order.
const (
	SectionIdentity    = "identity"
	SectionAudience    = "audience"
	SectionOfferings   = "offerings"
	SectionPositioning = "positioning"
	SectionOperations  = "operations"
	SectionGoals       = "goals"
	SectionProof       = "proof"
)

// SectionNames lists every section a brief can carry.
var SectionNames = []string{
	SectionIdentity,
	SectionAudience,
	SectionOfferings,
	SectionPositioning,
	SectionOperations,
	SectionGoals,
	SectionProof,
}

// Section statuses and brief completion statuses.
const (
	StatusDraft    = "draft"
	StatusReady    = "ready"
	StatusComplete = "complete"
)

// Section is one typed part of a brief. Ready reports whether its required content is present.
type Section interface {
	Ready() bool
}

type Identity struct {
	BusinessName string `json:"businessName,omitempty" validate:"max=200"`
	Tagline      string `json:"tagline,omitempty" validate:"max=300"`
	Description  string `json:"description,omitempty" validate:"max=4000"`
	Industry     string `json:"industry,omitempty" validate:"max=200"`
	Website      string `json:"website,omitempty" validate:"omitempty,url,max=500"`
	Location     string `json:"location,omitempty" validate:"max=200"`
}

func (s Identity) Ready() bool {
	return filled(s.BusinessName) && filled(s.Tagline)
}

type Audience struct {
	PrimarySegment    string   `json:"primarySegment,omitempty" validate:"max=300"`
	SecondarySegments []string `json:"secondarySegments,omitempty" validate:"max=20,dive,max=300"`
	PainPoints        []string `json:"painPoints,omitempty" validate:"max=20,dive,max=500"`
	Demographics      string   `json:"demographics,omitempty" validate:"max=2000"`
}

func (s Audience) Ready() bool {
	return filled(s.PrimarySegment) && anyFilled(s.PainPoints)
}

type Offering struct {
	Name        string   `json:"name,omitempty" validate:"max=200"`
	Description string   `json:"description,omitempty" validate:"max=2000"`
	Price       *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	Currency    string   `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
}

type Offerings struct {
	Items []Offering `json:"items,omitempty" validate:"max=50,dive"`
}

func (s Offerings) Ready() bool {
	for _, item := range s.Items {
		if filled(item.Name) {
			return true
		}
	}
	return false
}

type Positioning struct {
	ValueProposition string   `json:"valueProposition,omitempty" validate:"max=1000"`
	Differentiators  []string `json:"differentiators,omitempty" validate:"max=20,dive,max=500"`
	Competitors      []string `json:"competitors,omitempty" validate:"max=50,dive,max=200"`
}

func (s Positioning) Ready() bool {
	return filled(s.ValueProposition) && anyFilled(s.Differentiators)
}

type Operations struct {
	Channels []string `json:"channels,omitempty" validate:"max=20,dive,max=200"`
	Tools    []string `json:"tools,omitempty" validate:"max=50,dive,max=200"`
	TeamSize *int     `json:"teamSize,omitempty" validate:"omitempty,gte=0,lte=1000000"`
	Hours    string   `json:"hours,omitempty" validate:"max=500"`
}

func (s Operations) Ready() bool {
	return anyFilled(s.Channels)
}

type Goals struct {
	ShortTerm []string `json:"shortTerm,omitempty" validate:"max=20,dive,max=500"`
	LongTerm  []string `json:"longTerm,omitempty" validate:"max=20,dive,max=500"`
	Metrics   []string `json:"metrics,omitempty" validate:"max=20,dive,max=300"`
}

func (s Goals) Ready() bool {
	return anyFilled(s.ShortTerm) || anyFilled(s.LongTerm)
}

type Testimonial struct {
	Quote  string `json:"quote" validate:"required,max=2000"`
	Author string `json:"author,omitempty" validate:"max=200"`
}

type CaseStudy struct {
	Title   string `json:"title" validate:"required,max=300"`
	Summary string `json:"summary,omitempty" validate:"max=4000"`
	URL     string `json:"url,omitempty" validate:"omitempty,url,max=500"`
}

type Proof struct {
	Testimonials   []Testimonial `json:"testimonials,omitempty" validate:"max=50,dive"`
	CaseStudies    []CaseStudy   `json:"caseStudies,omitempty" validate:"max=50,dive"`
	Certifications []string      `json:"certifications,omitempty" validate:"max=50,dive,max=200"`
}

func (s Proof) Ready() bool {
	return len(s.Testimonials) > 0 || len(s.CaseStudies) > 0
}

func newSection(name string) (Section, bool) {
	switch name {
	case SectionIdentity:
		return &Identity{}, true
	case SectionAudience:
		return &Audience{}, true
	case SectionOfferings:
		return &Offerings{}, true
	case SectionPositioning:
		return &Positioning{}, true
	case SectionOperations:
		return &Operations{}, true
	case SectionGoals:
		return &Goals{}, true
	case SectionProof:
		return &Proof{}, true
	default:
		return nil, false
	}
}

// decodeSection strictly decodes and validates raw into the section type registered for name.
// It returns the canonical encoding of the section alongside any field errors.
func decodeSection(validate *validator.Validate, name string, raw json.RawMessage, fieldErrors FieldErrors) (Section, json.RawMessage) {
	prefix := "sections." + name
	section, ok := newSection(name)
	if !ok {
		fieldErrors.add(prefix, fmt.Sprintf("unknown section %q", name))
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(section); err != nil {
		fieldErrors.add(prefix, decodeMessage(err))
		return nil, nil
	}

	if err := validate.Struct(section); err != nil {
		var validationErrs validator.ValidationErrors
		if !errors.As(err, &validationErrs) {
			fieldErrors.add(prefix, err.Error())
			return nil, nil
		}
		for _, fe := range validationErrs {
			fieldErrors.add(prefix+"."+sectionFieldPath(fe), sectionMessage(fe))
		}
		return nil, nil
	}

	canonical, err := json.Marshal(section)
	if err != nil {
		fieldErrors.add(prefix, err.Error())
		return nil, nil
	}
	return section, canonical
}

func decodeMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("%s must be %s", typeErr.Field, typeErr.Type.String())
	}
	msg := err.Error()
	if field, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		return "unknown field " + field
	}
	return msg
}

// sectionFieldPath drops the struct name from the validator namespace ("Identity.website" → "website").
func sectionFieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func sectionMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "url":
		return fe.Field() + " must be a valid URL"
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
	}
}

func filled(value string) bool {
	return strings.TrimSpace(value) != ""
}

func anyFilled(values []string) bool {
	for _, v := range values {
		if filled(v) {
			return true
		}
	}
	return false
}
