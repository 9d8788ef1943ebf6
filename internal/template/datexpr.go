package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var relativeDateRe = regexp.MustCompile(`^(yyyy-MM-dd|yyyyMMdd)(?:([+-])(\d+)([dMy]))?$`)

// RelativeDate is a parsed ${format[+-Nunit]} expression.
type RelativeDate struct {
	Format string // yyyy-MM-dd or yyyyMMdd
	Amount int    // signed offset
	Unit   byte   // 'd', 'M' or 'y'; 0 when unshifted
}

// ParseRelativeDate parses the body of a relative-date expression
// (without the ${ } delimiters).
func ParseRelativeDate(expr string) (RelativeDate, bool) {
	m := relativeDateRe.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return RelativeDate{}, false
	}
	rd := RelativeDate{Format: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[3])
		if err != nil {
			return RelativeDate{}, false
		}
		if m[2] == "-" {
			n = -n
		}
		rd.Amount = n
		rd.Unit = m[4][0]
	}
	return rd, true
}

// Eval renders the expression relative to now.
func (r RelativeDate) Eval(now time.Time) string {
	return FormatDate(Shift(now, r.Amount, r.Unit), r.Format)
}

// Shift moves t by amount units. Month and year shifts clamp to the last
// day of the target month, so Jan 31 + 1M is Feb 28 (or 29).
func Shift(t time.Time, amount int, unit byte) time.Time {
	switch unit {
	case 'd':
		return t.AddDate(0, 0, amount)
	case 'M':
		return addMonths(t, amount)
	case 'y':
		return addMonths(t, amount*12)
	default:
		return t
	}
}

func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// ExpandRelativeDates replaces every ${...} in s whose body is a
// relative-date expression. Other placeholders are left untouched.
func ExpandRelativeDates(s string, now time.Time) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	rest := s
	for {
		i := strings.Index(rest, "${")
		if i < 0 {
			b.WriteString(rest)
			break
		}
		j := strings.IndexByte(rest[i:], '}')
		if j < 0 {
			b.WriteString(rest)
			break
		}
		body := rest[i+2 : i+j]
		b.WriteString(rest[:i])
		if rd, ok := ParseRelativeDate(body); ok {
			b.WriteString(rd.Eval(now))
		} else {
			b.WriteString(rest[i : i+j+1])
		}
		rest = rest[i+j+1:]
	}
	return b.String()
}

// javaLayout maps date pattern letters to Go reference layout elements,
// longest first.
var javaLayout = []struct{ pattern, layout string }{
	{"yyyy", "2006"},
	{"yy", "06"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"M", "1"},
	{"dd", "02"},
	{"d", "2"},
	{"HH", "15"},
	{"hh", "03"},
	{"mm", "04"},
	{"ss", "05"},
	{"SSS", ".000"},
	{"a", "PM"},
}

// FormatDate renders t with a yyyy-MM-dd style pattern. Only the pattern
// letters are given to time.Format, one element at a time, so any other
// text (digits, Go reference values such as 2006) is written as is. Text
// between single quotes is literal too, and '' is a quote.
func FormatDate(t time.Time, pattern string) string {
	var b strings.Builder
	quoted := false
	for i := 0; i < len(pattern); {
		if strings.HasPrefix(pattern[i:], "''") {
			b.WriteByte('\'')
			i += 2
			continue
		}
		if pattern[i] == '\'' {
			quoted = !quoted
			i++
			continue
		}
		if !quoted {
			if n := writeElement(&b, t, pattern[i:]); n > 0 {
				i += n
				continue
			}
		}
		b.WriteByte(pattern[i])
		i++
	}
	return b.String()
}

// writeElement formats the pattern element s starts with and returns its
// length, or 0 when s does not start with one.
func writeElement(b *strings.Builder, t time.Time, s string) int {
	for _, jl := range javaLayout {
		if strings.HasPrefix(s, jl.pattern) {
			// Go only knows fractional seconds after a dot.
			b.WriteString(strings.TrimPrefix(t.Format(jl.layout), "."))
			return len(jl.pattern)
		}
	}
	return 0
}

// dateInputLayouts are accepted for date_picker values.
var dateInputLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
	time.DateOnly,
	"20060102",
}

// ParseDate parses an ISO-8601 date or timestamp. Values carrying a zone
// are converted into loc; bare dates are taken to be in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateInputLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
