package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func mappingIDs(ms []CreditMapping) []string {
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestResolveCreditJurisdictions(t *testing.T) {
	mappings := []CreditMapping{
		{ID: "us-all", Country: "US", Active: true},
		{ID: "us-allow", Country: "US", AllowedStates: []string{"CA", "NY"}, Active: true},
		{ID: "us-deny", Country: "US", ExcludedStates: []string{"TX"}, Active: true},
		{ID: "intl", Country: InternationalCountry, Active: true},
		{ID: "gb", Country: "GB", Active: true},
		{ID: "retired", Country: "US", Active: false},
	}

	cases := []struct {
		name  string
		where Jurisdiction
		want  []string
	}{
		{name: "allowed state", where: Jurisdiction{Country: "US", State: "CA"}, want: []string{"us-all", "us-allow", "us-deny", "intl"}},
		{name: "excluded state", where: Jurisdiction{Country: "US", State: "TX"}, want: []string{"us-all", "intl"}},
		{name: "no state", where: Jurisdiction{Country: "US"}, want: []string{"us-all", "us-deny", "intl"}},
		{name: "lower case input", where: Jurisdiction{Country: "us", State: "ny"}, want: []string{"us-all", "us-allow", "us-deny", "intl"}},
		{name: "other country", where: Jurisdiction{Country: "GB"}, want: []string{"intl", "gb"}},
		{name: "unmapped country", where: Jurisdiction{Country: "FR"}, want: []string{"intl"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, mappingIDs(ResolveCredit(mappings, tc.where)))
		})
	}
}

func TestResolveCreditEmptyIsNotAnError(t *testing.T) {
	got := ResolveCredit([]CreditMapping{{ID: "ca", Country: "CA", Active: true}}, Jurisdiction{Country: "US"})
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestCreditMappingValidate(t *testing.T) {
	valid := CreditMapping{
		Unit:             CreditUnitHours,
		Amount:           1.5,
		Category:         "ethics",
		Country:          "US",
		ValidationMethod: ValidationQuiz,
	}
	require.NoError(t, valid.Validate())

	ambiguous := valid
	ambiguous.AllowedStates = []string{"CA"}
	ambiguous.ExcludedStates = []string{"TX"}
	require.ErrorIs(t, ambiguous.Validate(), ErrAmbiguousMapping)

	intlScoped := valid
	intlScoped.Country = InternationalCountry
	intlScoped.AllowedStates = []string{"CA"}
	require.ErrorIs(t, intlScoped.Validate(), ErrValidation)

	noAmount := valid
	noAmount.Amount = 0
	require.ErrorIs(t, noAmount.Validate(), ErrValidation)

	badCountry := valid
	badCountry.Country = "USA"
	require.ErrorIs(t, badCountry.Validate(), ErrValidation)

	badUnit := valid
	badUnit.Unit = "minutes"
	err := badUnit.Validate()
	require.True(t, errors.Is(err, ErrValidation))
}

func TestCreditMappingNormalize(t *testing.T) {
	m := CreditMapping{Country: " us ", AllowedStates: []string{"ca", "CA", " ny", ""}, Category: " Ethics "}
	m.Normalize()
	require.Equal(t, "US", m.Country)
	require.Equal(t, []string{"CA", "NY"}, m.AllowedStates)
	require.Equal(t, "ethics", m.Category)
}
