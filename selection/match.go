package selection

import (
	"strconv"
	"strings"
)

// Record exposes named fields of an index row to Match.
type Record interface {
	Field(name string) (string, bool)
}

// Match reports whether r satisfies the expression.
//
// AND binds tighter than OR, as in SQL. LIKE is a case-insensitive substring
// match. Ordering operators compare numerically when both sides parse as
// integers and lexically otherwise. A field missing from r never matches.
func (e *Expression) Match(r Record) bool {
	if e.IsEmpty() {
		return true
	}

	group := e.predicate(0, r)
	for i, j := range e.joiners {
		next := e.predicate(i+1, r)
		if j == "OR" {
			if group {
				return true
			}
			group = next
			continue
		}
		group = group && next
	}
	return group
}

func (e *Expression) predicate(i int, r Record) bool {
	got, ok := r.Field(e.fields[i])
	if !ok {
		return false
	}
	want := e.values[i]

	op := e.operators[i]
	if op == opLike {
		return strings.Contains(strings.ToLower(got), strings.ToLower(want))
	}

	c := compare(got, want)
	switch op {
	case "=":
		return c == 0
	case "!=", "<>":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func compare(a, b string) int {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// Map is a Record backed by a map.
type Map map[string]string

// Field implements Record.
func (m Map) Field(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}
