package payterms

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bizcore/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type expected struct {
	days   int
	amount string
}

func requirePlan(t *testing.T, plan Plan, want ...expected) {
	t.Helper()
	require.Len(t, plan.Installments, len(want))
	for i, w := range want {
		require.Equal(t, w.days, plan.Installments[i].OffsetDays, "installment %d offset", i)
		require.True(t, dec(w.amount).Equal(plan.Installments[i].Amount),
			"installment %d amount: want %s got %s", i, w.amount, plan.Installments[i].Amount)
	}
}

func TestParseSeriesAbsorbsRemainderInLastInstallment(t *testing.T) {
	plan := Parse("30/60/90", dec("1000.00"))
	requirePlan(t, plan, expected{30, "333.33"}, expected{60, "333.33"}, expected{90, "333.34"})
	require.Nil(t, plan.Warning)
	require.True(t, plan.Total().Equal(dec("1000.00")))
}

func TestParseImmediateTerms(t *testing.T) {
	for _, term := range []string{"vista", "À VISTA", "a vista", "Antecipado", "0", "pagamento antecipado"} {
		plan := Parse(term, dec("500.00"))
		requirePlan(t, plan, expected{0, "500.00"})
		require.False(t, plan.Fallback(), term)
	}
}

func TestParseSingleOffsetGrammars(t *testing.T) {
	cases := map[string]int{
		"28DDL":    28,
		"28 ddl":   28,
		"45 dias":  45,
		"1dia":     1,
		" 60Dias ": 60,
		"15":       15,
	}
	for term, days := range cases {
		plan := Parse(term, dec("999.99"))
		requirePlan(t, plan, expected{days, "999.99"})
		require.Nil(t, plan.Warning, term)
	}
}

func TestParseSeriesVariants(t *testing.T) {
	plan := Parse("30, 60 dias", dec("100"))
	requirePlan(t, plan, expected{30, "50"}, expected{60, "50"})

	plan = Parse("28/56/84 DDL", dec("0.10"))
	requirePlan(t, plan, expected{28, "0.03"}, expected{56, "0.03"}, expected{84, "0.04"})
}

func TestParseUnknownTermFallsBackWithWarning(t *testing.T) {
	plan := Parse("boleto quinzenal", dec("250.50"))
	requirePlan(t, plan, expected{DefaultOffsetDays, "250.50"})
	require.True(t, plan.Fallback())
	require.True(t, errors.Is(plan.Warning, shared.ErrParseFallback))

	var warning *FallbackWarning
	require.ErrorAs(t, plan.Warning, &warning)
	require.Equal(t, "boleto quinzenal", warning.Term)
}

func TestParseUnusableOffsetsFallBackWithWarning(t *testing.T) {
	for _, term := range []string{
		"99999999999999999999 dias",
		"99999999999999999999",
		"99999999999999999999ddl",
		"30/99999999999999999999",
		"9999999999 dias",
		"30/60/3651",
		"28 ddl fora mes",
	} {
		plan := Parse(term, dec("1000"))
		requirePlan(t, plan, expected{DefaultOffsetDays, "1000"})
		require.True(t, errors.Is(plan.Warning, shared.ErrParseFallback), term)
	}
}

func TestParseAcceptsMaxOffset(t *testing.T) {
	plan := Parse("3650 dias", dec("10"))
	requirePlan(t, plan, expected{MaxOffsetDays, "10"})
	require.Nil(t, plan.Warning)
}

func TestParseBlankTermIsImmediate(t *testing.T) {
	plan := Parse("   ", dec("42"))
	requirePlan(t, plan, expected{0, "42"})
	require.Nil(t, plan.Warning)
}

func TestSplitEmptyOffsets(t *testing.T) {
	require.Nil(t, Split(dec("10"), nil))
}

func TestNormalizeFoldsAccents(t *testing.T) {
	require.Equal(t, "a vista", Normalize("  À Vista "))
	require.Equal(t, "30 dias", Normalize("30 DIAS"))
}
