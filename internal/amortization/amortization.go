// Package amortization computes level-payment installment schedules.
//
// Generate is pure: it performs no I/O and never touches the clock. All
// monetary figures are decimal and rounded to two places, half away from
// zero (half-up for the positive amounts produced here).
package amortization

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Frequency names the spacing between installments.
type Frequency string

const (
	Monthly  Frequency = "MONTHLY"
	Biweekly Frequency = "BIWEEKLY"
	Weekly   Frequency = "WEEKLY"
	OneTime  Frequency = "ONE_TIME"
	Custom   Frequency = "CUSTOM"
	// Minute spaces installments one minute apart so payment flows can be
	// exercised end to end without waiting days.
	Minute Frequency = "MINUTE"
)

// ErrInvalidPlan is wrapped by every validation failure from Generate.
var ErrInvalidPlan = errors.New("invalid schedule plan")

const (
	moneyPlaces = 2
	// working precision for the periodic rate and compounding
	ratePlaces = 18
)

var (
	hundred     = decimal.NewFromInt(100)
	daysPerYear = decimal.NewFromInt(365)
	minsPerYear = decimal.NewFromInt(365 * 24 * 60)
)

// Plan holds the inputs of one schedule.
type Plan struct {
	Principal         decimal.Decimal
	AnnualRatePercent decimal.Decimal
	InstallmentCount  int
	StartDate         time.Time
	Frequency         Frequency
	// IntervalDays is required for Custom and ignored otherwise.
	IntervalDays    int
	GracePeriodDays int
}

// Installment is one generated row. Number is 1-based.
type Installment struct {
	Number          int
	Amount          decimal.Decimal
	PrincipalAmount decimal.Decimal
	InterestAmount  decimal.Decimal
	DueDate         time.Time
	GracePeriodEnd  time.Time
}

// interval is the spacing of a frequency: whole days, or a sub-day duration
// for Minute.
type interval struct {
	days int
	sub  time.Duration
}

func (iv interval) after(start time.Time, i int) time.Time {
	if iv.sub > 0 {
		return start.Add(time.Duration(i) * iv.sub)
	}
	return start.AddDate(0, 0, i*iv.days)
}

// periodsPerYear maps the common intervals onto calendar periods; anything
// else divides the year evenly.
func (iv interval) periodsPerYear() decimal.Decimal {
	if iv.sub > 0 {
		return minsPerYear.Div(decimal.NewFromFloat(iv.sub.Minutes()))
	}
	switch iv.days {
	case 30:
		return decimal.NewFromInt(12)
	case 14:
		return decimal.NewFromInt(26)
	case 7:
		return decimal.NewFromInt(52)
	}
	return daysPerYear.DivRound(decimal.NewFromInt(int64(iv.days)), ratePlaces)
}

func intervalFor(p Plan) (interval, error) {
	switch p.Frequency {
	case Monthly, "":
		return interval{days: 30}, nil
	case Biweekly:
		return interval{days: 14}, nil
	case Weekly:
		return interval{days: 7}, nil
	case OneTime:
		return interval{}, nil
	case Minute:
		return interval{sub: time.Minute}, nil
	case Custom:
		if p.IntervalDays <= 0 {
			return interval{}, fmt.Errorf("%w: custom frequency needs a positive interval", ErrInvalidPlan)
		}
		return interval{days: p.IntervalDays}, nil
	}
	return interval{}, fmt.Errorf("%w: unknown frequency %q", ErrInvalidPlan, p.Frequency)
}

func (p Plan) validate() error {
	switch {
	case !p.Principal.IsPositive():
		return fmt.Errorf("%w: principal must be positive", ErrInvalidPlan)
	case p.InstallmentCount < 1:
		return fmt.Errorf("%w: installment count must be at least 1", ErrInvalidPlan)
	case p.AnnualRatePercent.IsNegative():
		return fmt.Errorf("%w: rate must not be negative", ErrInvalidPlan)
	case p.GracePeriodDays < 0:
		return fmt.Errorf("%w: grace period must not be negative", ErrInvalidPlan)
	case p.StartDate.IsZero():
		return fmt.Errorf("%w: start date is required", ErrInvalidPlan)
	}
	return nil
}

// Generate returns the ordered installments of p.
func Generate(p Plan) ([]Installment, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	iv, err := intervalFor(p)
	if err != nil {
		return nil, err
	}
	grace := func(due time.Time) time.Time { return due.AddDate(0, 0, p.GracePeriodDays) }

	if p.InstallmentCount == 1 || p.Frequency == OneTime {
		amt := p.Principal.Round(moneyPlaces)
		return []Installment{{
			Number:          1,
			Amount:          amt,
			PrincipalAmount: amt,
			InterestAmount:  decimal.Zero,
			DueDate:         p.StartDate,
			GracePeriodEnd:  grace(p.StartDate),
		}}, nil
	}

	n := p.InstallmentCount
	r := p.AnnualRatePercent.Div(hundred).DivRound(iv.periodsPerYear(), ratePlaces)
	payment := levelPayment(p.Principal, r, n).Round(moneyPlaces)

	out := make([]Installment, 0, n)
	remaining := p.Principal
	for i := 1; i <= n; i++ {
		interest := remaining.Mul(r).Round(moneyPlaces)
		principal := payment.Sub(interest)
		remaining = remaining.Sub(principal)
		due := iv.after(p.StartDate, i)
		out = append(out, Installment{
			Number:          i,
			Amount:          payment,
			PrincipalAmount: principal,
			InterestAmount:  interest,
			DueDate:         due,
			GracePeriodEnd:  grace(due),
		})
	}
	return out, nil
}

// levelPayment is the annuity payment P·r·(1+r)^n / ((1+r)^n − 1), or P/n
// for an interest-free plan.
func levelPayment(principal, r decimal.Decimal, n int) decimal.Decimal {
	if r.IsZero() {
		return principal.DivRound(decimal.NewFromInt(int64(n)), ratePlaces)
	}
	growth := decimal.NewFromInt(1)
	base := decimal.NewFromInt(1).Add(r)
	for i := 0; i < n; i++ {
		growth = growth.Mul(base).Round(ratePlaces)
	}
	return principal.Mul(r).Mul(growth).DivRound(growth.Sub(decimal.NewFromInt(1)), ratePlaces)
}

// Total sums the amounts of a schedule.
func Total(insts []Installment) decimal.Decimal {
	sum := decimal.Zero
	for _, inst := range insts {
		sum = sum.Add(inst.Amount)
	}
	return sum
}
