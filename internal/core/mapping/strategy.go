// Package mapping resolves business profile values for arbitrary form
// controls. Resolution is a pure function of the profile, the descriptor and
// the injected tables.
package mapping

import (
	"strings"

	"dirsubmit/internal/core/heuristics"
	"dirsubmit/internal/core/model"
	"dirsubmit/internal/platform/automation"
)

// locationOrder fixes the synonym pass order so results never depend on map iteration.
var locationOrder = []heuristics.ProfileField{
	heuristics.FieldCity,
	heuristics.FieldState,
	heuristics.FieldZip,
	heuristics.FieldCountry,
}

// Value is a resolved control value.
type Value struct {
	Field heuristics.ProfileField
	// Text is the value typed or the option value selected.
	Text string
	// Checked is set for consent checkboxes.
	Checked bool
}

// Strategy maps profiles onto form controls.
type Strategy struct {
	tables heuristics.Tables
}

func New(tables heuristics.Tables) *Strategy {
	return &Strategy{tables: tables}
}

// Map returns the value to enter into d, or false when nothing applies.
func (s *Strategy) Map(p model.BusinessProfile, d automation.FieldDescriptor) (Value, bool) {
	switch d.Kind {
	case automation.KindCheckbox:
		return s.consent(d)
	case automation.KindSelect:
		return s.selectOption(p, d)
	case automation.KindPassword:
		if p.Password == "" {
			return Value{}, false
		}
		return Value{Field: heuristics.FieldPassword, Text: p.Password}, true
	}
	if !d.Kind.Fillable() {
		return Value{}, false
	}

	field, ok := s.fieldFor(d)
	if !ok {
		if d.Kind == automation.KindEmail && p.Email != "" {
			return Value{Field: heuristics.FieldEmail, Text: p.Email}, true
		}
		return Value{}, false
	}
	text := s.resolve(p, field)
	if text == "" {
		return Value{}, false
	}
	return Value{Field: field, Text: text}, true
}

func (s *Strategy) consent(d automation.FieldDescriptor) (Value, bool) {
	for _, attr := range []string{strings.ToLower(d.ID), strings.ToLower(d.Name)} {
		if attr == "" {
			continue
		}
		for _, tok := range s.tables.ConsentTokens {
			if strings.Contains(attr, tok) {
				return Value{Text: "true", Checked: true}, true
			}
		}
	}
	return Value{}, false
}

func (s *Strategy) selectOption(p model.BusinessProfile, d automation.FieldDescriptor) (Value, bool) {
	field, ok := s.fieldFor(d)
	if !ok {
		return Value{}, false
	}
	want := strings.ToLower(strings.TrimSpace(s.resolve(p, field)))
	if want == "" {
		return Value{}, false
	}
	for _, opt := range d.Options {
		if strings.Contains(strings.ToLower(opt.Label), want) {
			return Value{Field: field, Text: opt.Value}, true
		}
	}
	if field != heuristics.FieldCategory {
		return Value{}, false
	}
	for _, opt := range d.Options {
		if !s.isPlaceholderOption(opt) {
			return Value{Field: field, Text: opt.Value}, true
		}
	}
	return Value{}, false
}

func (s *Strategy) isPlaceholderOption(opt automation.Option) bool {
	v := strings.TrimSpace(opt.Value)
	for _, p := range s.tables.PlaceholderOptionValues {
		if v == p {
			return true
		}
	}
	return false
}

// fieldFor runs the key table (exact then substring, per attribute) and
// falls back to the location synonym pass.
func (s *Strategy) fieldFor(d automation.FieldDescriptor) (heuristics.ProfileField, bool) {
	attrs := attributes(d)
	for _, attr := range attrs {
		for _, fk := range s.tables.FieldKeys {
			if attr == fk.Key {
				return fk.Field, true
			}
		}
		for _, fk := range s.tables.FieldKeys {
			if strings.Contains(attr, fk.Key) {
				return fk.Field, true
			}
		}
	}
	for _, field := range locationOrder {
		for _, syn := range s.tables.LocationSynonyms[field] {
			for _, attr := range attrs {
				if strings.Contains(attr, syn) {
					return field, true
				}
			}
		}
	}
	return "", false
}

func attributes(d automation.FieldDescriptor) []string {
	raw := []string{d.Name, d.ID, d.Placeholder, d.Label}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if v := strings.ToLower(strings.TrimSpace(r)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s *Strategy) resolve(p model.BusinessProfile, field heuristics.ProfileField) string {
	switch field {
	case heuristics.FieldCompanyName:
		return p.CompanyName
	case heuristics.FieldWebsite:
		return p.WebsiteURL
	case heuristics.FieldEmail:
		return p.Email
	case heuristics.FieldPhone:
		return p.Phone
	case heuristics.FieldPassword:
		return p.Password
	case heuristics.FieldDescription:
		return p.BusinessDescription
	case heuristics.FieldCategory:
		return p.BusinessCategory
	case heuristics.FieldKeywords:
		kws := make([]string, 0, len(p.Keywords))
		for _, k := range p.Keywords {
			if k = strings.TrimSpace(k); k != "" {
				kws = append(kws, k)
			}
		}
		return strings.Join(kws, s.tables.KeywordSeparator)
	case heuristics.FieldAddress:
		return p.Address
	case heuristics.FieldCity:
		return p.Location.City
	case heuristics.FieldState:
		return p.Location.State
	case heuristics.FieldCountry:
		return p.Location.Country
	case heuristics.FieldZip:
		return p.Location.Zip
	case heuristics.FieldFounder:
		return p.FounderName
	case heuristics.FieldFacebook, heuristics.FieldTwitter, heuristics.FieldLinkedIn, heuristics.FieldInstagram:
		return p.SocialMediaLinks[string(field)]
	}
	return ""
}
