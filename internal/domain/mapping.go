package domain

import (
	"strings"
	"time"
)

// InternationalCountry is the sentinel country code for mappings that apply in every jurisdiction.
const InternationalCountry = "INTL"

// CreditUnit is the measure a mapping grants credit in.
type CreditUnit string

const (
	CreditUnitHours  CreditUnit = "hours"
	CreditUnitPoints CreditUnit = "points"
)

// ValidationMethod records how completion is evidenced for a mapping.
type ValidationMethod string

const (
	ValidationQuiz       ValidationMethod = "quiz"
	ValidationAttendance ValidationMethod = "attendance"
	ValidationOther      ValidationMethod = "other"
)

// CreditMapping describes the credit an activity confers in one jurisdiction.
// A mapping declares at most one of AllowedStates or ExcludedStates; with neither it covers the whole country.
type CreditMapping struct {
	ID               string
	ActivityID       string
	Unit             CreditUnit
	Amount           float64
	Category         string
	Structured       bool
	Country          string
	AllowedStates    []string
	ExcludedStates   []string
	ValidationMethod ValidationMethod
	Active           bool
	CreatedAt        time.Time
}

// Jurisdiction identifies where a learner practises.
type Jurisdiction struct {
	Country string
	State   string
}

// Normalize upper-cases and trims the mapping's codes in place.
func (m *CreditMapping) Normalize() {
	m.Country = normalizeCode(m.Country)
	m.AllowedStates = normalizeCodes(m.AllowedStates)
	m.ExcludedStates = normalizeCodes(m.ExcludedStates)
	m.Category = strings.ToLower(strings.TrimSpace(m.Category))
}

// Validate checks a mapping before it is stored.
func (m CreditMapping) Validate() error {
	if len(m.AllowedStates) > 0 && len(m.ExcludedStates) > 0 {
		return ErrAmbiguousMapping
	}
	if m.Country == "" {
		return validationf("country is required")
	}
	if m.Country != InternationalCountry && len(m.Country) != 2 {
		return validationf("country must be an ISO 3166-1 alpha-2 code or %s", InternationalCountry)
	}
	if m.Country == InternationalCountry && (len(m.AllowedStates) > 0 || len(m.ExcludedStates) > 0) {
		return validationf("%s mappings cannot be restricted by state", InternationalCountry)
	}
	if !(m.Amount > 0) {
		return validationf("credit amount must be positive")
	}
	switch m.Unit {
	case CreditUnitHours, CreditUnitPoints:
	default:
		return validationf("unknown credit unit %q", m.Unit)
	}
	switch m.ValidationMethod {
	case ValidationQuiz, ValidationAttendance, ValidationOther:
	default:
		return validationf("unknown validation method %q", m.ValidationMethod)
	}
	if m.Category == "" {
		return validationf("credit category is required")
	}
	return nil
}

// ResolveCredit returns the mappings that apply to a learner in the given jurisdiction.
// An empty result is a valid outcome: the activity confers no credit there.
func ResolveCredit(mappings []CreditMapping, where Jurisdiction) []CreditMapping {
	country := normalizeCode(where.Country)
	state := normalizeCode(where.State)

	out := make([]CreditMapping, 0, len(mappings))
	for _, m := range mappings {
		if !m.Active {
			continue
		}
		mappingCountry := normalizeCode(m.Country)
		if mappingCountry == InternationalCountry {
			out = append(out, m)
			continue
		}
		if mappingCountry != country {
			continue
		}
		if len(m.AllowedStates) > 0 && !containsCode(m.AllowedStates, state) {
			continue
		}
		if len(m.ExcludedStates) > 0 && containsCode(m.ExcludedStates, state) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func containsCode(codes []string, code string) bool {
	if code == "" {
		return false
	}
	for _, c := range codes {
		if normalizeCode(c) == code {
			return true
		}
	}
	return false
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func normalizeCodes(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	out := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		n := normalizeCode(c)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
