// Package payterms turns free-text commercial payment terms into installment
// schedules whose amounts always add up to the document total.
package payterms

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/bizcore/internal/shared"
)

// DefaultOffsetDays is used when a term cannot be understood.
const DefaultOffsetDays = 30

// MaxOffsetDays bounds a single offset; larger values are treated as unrecognised.
const MaxOffsetDays = 3650

// Installment is one scheduled payment.
type Installment struct {
	OffsetDays int
	Amount     decimal.Decimal
}

// Plan is the ordered schedule derived from a term.
type Plan struct {
	Term         string
	Installments []Installment
	// Warning is set when the term was not recognised and the default plan was used.
	Warning error
}

// Fallback reports whether the plan was produced by the default rule.
func (p Plan) Fallback() bool {
	return p.Warning != nil
}

// Total sums the installment amounts.
func (p Plan) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, inst := range p.Installments {
		sum = sum.Add(inst.Amount)
	}
	return sum
}

// FallbackWarning describes an unrecognised term.
type FallbackWarning struct {
	Term  string
	Total decimal.Decimal
}

func (w *FallbackWarning) Error() string {
	return fmt.Sprintf("payment term %q not recognised, using %d days", w.Term, DefaultOffsetDays)
}

// Is matches shared.ErrParseFallback.
func (w *FallbackWarning) Is(target error) bool {
	return target == shared.ErrParseFallback
}

var (
	dueDaysPattern = regexp.MustCompile(`^(\d+)\s*ddl$`)
	daysPattern    = regexp.MustCompile(`^(\d+)\s*dias?$`)
	seriesPattern  = regexp.MustCompile(`^(\d+(?:\s*[/,]\s*\d+)+)\s*(?:dias?|ddl)?$`)
	barePattern    = regexp.MustCompile(`^\d+$`)
	seriesSplit    = regexp.MustCompile(`\s*[/,]\s*`)
)

// Parse builds the installment plan for term over total. It never fails; an
// unknown term, or one whose offsets are not usable, yields a single
// installment at DefaultOffsetDays with Warning set.
func Parse(term string, total decimal.Decimal) Plan {
	plan := Plan{Term: term}
	normalized := Normalize(term)

	switch {
	case normalized == "":
		plan.Installments = single(0, total)
		return plan
	case strings.Contains(normalized, "vista") || strings.Contains(normalized, "antecipado") || normalized == "0":
		plan.Installments = single(0, total)
		return plan
	}

	if offsets, ok := parseOffsets(normalized); ok {
		plan.Installments = Split(total, offsets)
		return plan
	}
	plan.Installments = single(DefaultOffsetDays, total)
	plan.Warning = &FallbackWarning{Term: term, Total: total}
	return plan
}

func parseOffsets(normalized string) ([]int, bool) {
	var tokens []string
	switch {
	case dueDaysPattern.MatchString(normalized):
		tokens = dueDaysPattern.FindStringSubmatch(normalized)[1:2]
	case daysPattern.MatchString(normalized):
		tokens = daysPattern.FindStringSubmatch(normalized)[1:2]
	case seriesPattern.MatchString(normalized):
		tokens = seriesSplit.Split(seriesPattern.FindStringSubmatch(normalized)[1], -1)
	case barePattern.MatchString(normalized):
		tokens = []string{normalized}
	default:
		return nil, false
	}
	offsets := make([]int, 0, len(tokens))
	for _, token := range tokens {
		days, ok := atoi(token)
		if !ok {
			return nil, false
		}
		offsets = append(offsets, days)
	}
	return offsets, true
}

// Split spreads total across the offsets. Every installment but the last is
// total/n rounded down to cents; the last takes the remainder.
func Split(total decimal.Decimal, offsets []int) []Installment {
	if len(offsets) == 0 {
		return nil
	}
	n := int64(len(offsets))
	per := total.Div(decimal.NewFromInt(n)).RoundFloor(2)
	out := make([]Installment, len(offsets))
	for i, days := range offsets {
		out[i] = Installment{OffsetDays: days, Amount: per}
	}
	out[len(out)-1].Amount = total.Sub(per.Mul(decimal.NewFromInt(n - 1)))
	return out
}

// Normalize trims, lower-cases and strips diacritics so "À Vista" matches "a vista".
func Normalize(term string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, term)
	if err != nil {
		folded = term
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

func single(days int, total decimal.Decimal) []Installment {
	return []Installment{{OffsetDays: days, Amount: total}}
}

// atoi accepts offsets in [0, MaxOffsetDays].
func atoi(s string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 || v > MaxOffsetDays {
		return 0, false
	}
	return v, true
}
