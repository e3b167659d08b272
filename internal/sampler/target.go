package sampler

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Target is either an absolute row count or a proportion of the dataset.
type Target struct {
	count    int
	fraction float64
}

func Count(n int) Target { return Target{count: n} }

func Fraction(p float64) Target { return Target{fraction: p} }

func (t Target) IsFraction() bool { return t.count == 0 && t.fraction != 0 }

func (t Target) Count() int { return t.count }

func (t Target) Fraction() float64 { return t.fraction }

func (t Target) String() string {
	if t.IsFraction() {
		return strconv.FormatFloat(t.fraction, 'g', -1, 64)
	}
	return strconv.Itoa(t.count)
}

// ParseTarget reads "70000" as a count and "0.25" or "1e-1" as a proportion.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, ".eE") {
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
		}
		t := Fraction(p)
		return t, t.Validate()
	}

	n, err := strconv.Atoi(strings.ReplaceAll(s, "_", ""))
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
	}
	t := Count(n)
	return t, t.Validate()
}

// Validate reports whether t is a positive count or a proportion in (0,1].
func (t Target) Validate() error {
	if t.IsFraction() {
		if math.IsNaN(t.fraction) || t.fraction <= 0 || t.fraction > 1 {
			return fmt.Errorf("%w: proportion %v outside (0,1]", ErrInvalidTarget, t.fraction)
		}
		return nil
	}
	if t.count <= 0 {
		return fmt.Errorf("%w: count %d must be positive", ErrInvalidTarget, t.count)
	}
	return nil
}

// size returns the number of rows the target selects out of total.
func (t Target) size(total int) (int, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if !t.IsFraction() {
		if t.count > total {
			return 0, fmt.Errorf("%w: count %d exceeds dataset size %d", ErrInvalidTarget, t.count, total)
		}
		return t.count, nil
	}
	// The epsilon absorbs binary rounding, e.g. 0.7*100 = 70.00000000000001.
	n := int(math.Ceil(t.fraction*float64(total) - 1e-9))
	return max(1, min(n, total)), nil
}
