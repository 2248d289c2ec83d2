// Command habitat-check validates the static habitat tables: distinctiveness
// bands, condition and strategic multipliers, and the substitution hierarchy.
// It exits non-zero when a table entry is missing or out of range.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"

	"offsetcore/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	exitFunc(run(os.Stdout, os.Stderr))
}

func run(out, errOut io.Writer) int {
	problems := checkTables()
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintln(errOut, p)
		}
		fmt.Fprintf(errOut, "habitat-check: %d problem(s)\n", len(problems))
		return 1
	}
	fmt.Fprintf(out, "habitat-check: %d habitat types ok\n", len(domain.AllHabitatTypes()))
	return 0
}

var conditions = []domain.Condition{
	domain.ConditionGood,
	domain.ConditionModerate,
	domain.ConditionPoor,
	domain.ConditionNotApplicable,
}

var significances = []domain.StrategicSignificance{
	domain.SignificanceLow,
	domain.SignificanceMedium,
	domain.SignificanceHigh,
	domain.SignificanceVeryHigh,
}

func checkTables() []string {
	var problems []string
	for _, t := range domain.AllHabitatTypes() {
		if !domain.ValidHabitatType(t) {
			problems = append(problems, fmt.Sprintf("habitat %q not recognised by ValidHabitatType", t))
		}
		if domain.Distinctiveness(t) < 0 {
			problems = append(problems, fmt.Sprintf("habitat %q has negative distinctiveness", t))
		}
		problems = append(problems, checkSubstitutes(t)...)
	}
	for _, c := range conditions {
		if m := domain.ConditionMultiplier(c); m.LessThanOrEqual(decimal.Zero) {
			problems = append(problems, fmt.Sprintf("condition %q multiplier %s is not positive", c, m))
		}
	}
	for _, s := range significances {
		if m := domain.StrategicMultiplier(s); m.LessThan(decimal.NewFromInt(1)) {
			problems = append(problems, fmt.Sprintf("significance %q multiplier %s is below 1", s, m))
		}
	}
	for _, t := range domain.DefaultOffsetHabitats {
		if !domain.ValidHabitatType(t) {
			problems = append(problems, fmt.Sprintf("default offset habitat %q is not a known type", t))
		}
	}
	return problems
}

// checkSubstitutes verifies the substitution list for t references only known
// habitat types and keeps t substitutable by itself.
func checkSubstitutes(t domain.HabitatType) []string {
	var problems []string
	subs := domain.AcceptableOffsetsFor(t)
	if len(subs) == 0 {
		problems = append(problems, fmt.Sprintf("habitat %q has an empty substitution list", t))
		return problems
	}
	self := false
	for _, sub := range subs {
		if !domain.ValidHabitatType(sub) {
			problems = append(problems, fmt.Sprintf("habitat %q lists unknown substitute %q", t, sub))
		}
		if sub == t {
			self = true
		}
	}
	if !self {
		problems = append(problems, fmt.Sprintf("habitat %q cannot be offset by itself", t))
	}
	return problems
}
