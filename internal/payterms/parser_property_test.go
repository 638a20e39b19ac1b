package payterms

import (
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// Property: for "N1/.../Nk" and total T, len(plan)==k and sum(plan)==T.
func TestSeriesPlanSumsExactly(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("installments add up to the total", prop.ForAll(
		func(offsets []int, cents int64) bool {
			if len(offsets) < 2 {
				return true
			}
			tokens := make([]string, len(offsets))
			for i, o := range offsets {
				tokens[i] = strconv.Itoa(o)
			}
			total := decimal.New(cents, -2)
			plan := Parse(strings.Join(tokens, "/"), total)
			if len(plan.Installments) != len(offsets) || plan.Warning != nil {
				return false
			}
			for i, inst := range plan.Installments {
				if inst.OffsetDays != offsets[i] || inst.OffsetDays < 0 {
					return false
				}
			}
			return plan.Total().Equal(total)
		},
		gen.SliceOf(gen.IntRange(0, 720)),
		gen.Int64Range(0, 1_000_000_000),
	))

	properties.TestingRun(t)
}
