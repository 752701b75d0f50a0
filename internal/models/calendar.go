package models

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Periods is the fiscal calendar order.
var Periods = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// Quarters is the quarterly calendar order.
var Quarters = []string{"Q1", "Q2", "Q3", "Q4"}

var monthNames = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// NormalizePeriod maps a period name onto Periods or Quarters. Case and
// surrounding space are ignored and full month names are accepted.
func NormalizePeriod(period string) (string, bool) {
	p := strings.ToLower(strings.TrimSpace(period))
	if len(p) == 2 && p[0] == 'q' && p[1] >= '1' && p[1] <= '4' {
		return Quarters[p[1]-'1'], true
	}
	for i, name := range monthNames {
		if p == name || p == name[:3] || (i == 8 && p == "sept") {
			return Periods[i], true
		}
	}
	return "", false
}

// IsQuarter reports whether period names a quarter.
func IsQuarter(period string) bool {
	p, ok := NormalizePeriod(period)
	return ok && p[0] == 'Q'
}

// PeriodIndex returns the zero based position of period within its own
// calendar (months or quarters), or -1.
func PeriodIndex(period string) int {
	p, ok := NormalizePeriod(period)
	if !ok {
		return -1
	}
	calendar := Periods
	if p[0] == 'Q' {
		calendar = Quarters
	}
	for i, c := range calendar {
		if c == p {
			return i
		}
	}
	return -1
}

// PeriodKey orders (year, period) pairs chronologically. A quarter sorts
// right after its last month; unrecognized periods sort first in their year.
func PeriodKey(year int, period string) int {
	idx := PeriodIndex(period)
	switch {
	case idx < 0:
		return year * 1000
	case IsQuarter(period):
		return year*1000 + (idx*3+3)*10 + 5
	default:
		return year*1000 + (idx+1)*10
	}
}

// NextPeriod returns the period following (year, period), staying in the
// same calendar. Q4 and Dec roll into the next year.
func NextPeriod(year int, period string) (int, string) {
	calendar := Periods
	if IsQuarter(period) {
		calendar = Quarters
	}
	idx := PeriodIndex(period)
	if idx < 0 || idx == len(calendar)-1 {
		return year + 1, calendar[0]
	}
	return year, calendar[idx+1]
}

// PeriodTotal is the summed amount for one fiscal period.
type PeriodTotal struct {
	Year   int
	Period string
	Amount float64
}

func (p PeriodTotal) Label() string {
	return p.Period + " FY" + twoDigit(p.Year)
}

// TotalsByPeriod sums rows per (year, period) in chronological order.
func TotalsByPeriod(rows []Row) []PeriodTotal {
	totals, _ := SummarizePeriods(rows)
	return totals
}

// SummarizePeriods sums rows per canonical (year, period) in chronological
// order. A series holds one granularity: when months and quarters are mixed
// the minority calendar is left out (months win a tie). It returns how many
// rows were left out, either for an unrecognized period name or for
// belonging to the other calendar.
func SummarizePeriods(rows []Row) ([]PeriodTotal, int) {
	months, quarters, skipped := 0, 0, 0
	for _, r := range rows {
		switch {
		case PeriodIndex(r.Period) < 0:
			skipped++
		case IsQuarter(r.Period):
			quarters++
		default:
			months++
		}
	}
	useQuarters := quarters > months

	sums := make(map[int]*PeriodTotal)
	for _, r := range rows {
		p, ok := NormalizePeriod(r.Period)
		if !ok {
			continue
		}
		if IsQuarter(p) != useQuarters {
			skipped++
			continue
		}
		key := PeriodKey(r.Year, p)
		pt, ok := sums[key]
		if !ok {
			pt = &PeriodTotal{Year: r.Year, Period: p}
			sums[key] = pt
		}
		pt.Amount += r.Amount
	}
	keys := make([]int, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]PeriodTotal, len(keys))
	for i, k := range keys {
		out[i] = *sums[k]
	}
	return out, skipped
}

// UnrecognizedPeriods counts rows whose period name is neither a month nor
// a quarter.
func UnrecognizedPeriods(rows []Row) int {
	n := 0
	for _, r := range rows {
		if _, ok := NormalizePeriod(r.Period); !ok {
			n++
		}
	}
	return n
}

var (
	fyPattern   = regexp.MustCompile(`(?i)\bfy\s*'?(\d{2}|\d{4})\b`)
	yearPattern = regexp.MustCompile(`\b(20\d{2})\b`)
)

// DetectFiscalYear extracts "FY24", "FY 2024" or a bare "2024" from text.
func DetectFiscalYear(text string, fallback int) int {
	if m := fyPattern.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		if y < 100 {
			y += 2000
		}
		return y
	}
	if m := yearPattern.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		return y
	}
	return fallback
}

func twoDigit(year int) string {
	s := strconv.Itoa(year % 100)
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
