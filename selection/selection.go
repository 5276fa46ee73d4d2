// Package selection builds filter expressions used to query the cache index.
//
// An Expression is a list of field/operator/value predicates combined with
// AND/OR joiners. It renders to a predicate with positional placeholders plus
// the ordered list of values to bind, so raw values never end up in the
// predicate text. Index backends without a query language evaluate the same
// Expression with Match.
package selection

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedQuery is returned when the expression invariants are violated.
var ErrMalformedQuery = errors.New("malformed query")

const (
	defaultOperator = "="
	defaultJoiner   = "AND"

	opLike = "LIKE"
)

var supportedOperators = map[string]struct{}{
	"=":    {},
	"!=":   {},
	"<>":   {},
	"<":    {},
	"<=":   {},
	">":    {},
	">=":   {},
	opLike: {},
}

// Expression is a validated selection over index records.
type Expression struct {
	fields    []string
	values    []string
	operators []string
	joiners   []string
}

// Build validates the given predicate parts and returns the expression.
//
// operators and joiners are optional: nil means "=" for every field and AND
// between every pair of predicates. Both fields and values being empty yields
// an expression matching every record.
func Build(fields, values, operators, joiners []string) (*Expression, error) {
	if len(fields) != len(values) {
		return nil, fmt.Errorf("%w: fields / values length mismatch: %d != %d", ErrMalformedQuery, len(fields), len(values))
	}
	if operators != nil && len(operators) != len(fields) {
		return nil, fmt.Errorf("%w: fields / operators length mismatch: %d != %d", ErrMalformedQuery, len(fields), len(operators))
	}
	if joiners != nil && len(joiners) != max(len(fields)-1, 0) {
		return nil, fmt.Errorf("%w: joiners must have %d elements, got %d", ErrMalformedQuery, max(len(fields)-1, 0), len(joiners))
	}

	e := &Expression{
		fields:    make([]string, len(fields)),
		values:    make([]string, len(values)),
		operators: make([]string, len(fields)),
		joiners:   make([]string, max(len(fields)-1, 0)),
	}
	copy(e.values, values)

	for i, f := range fields {
		f = strings.TrimSpace(f)
		if !isIdentifier(f) {
			return nil, fmt.Errorf("%w: invalid field name %q", ErrMalformedQuery, fields[i])
		}
		e.fields[i] = f

		op := defaultOperator
		if operators != nil {
			op = strings.ToUpper(strings.TrimSpace(operators[i]))
		}
		if _, ok := supportedOperators[op]; !ok {
			return nil, fmt.Errorf("%w: unsupported operator %q for field %q", ErrMalformedQuery, operators[i], f)
		}
		e.operators[i] = op
	}

	for i := range e.joiners {
		j := defaultJoiner
		if joiners != nil {
			j = strings.ToUpper(strings.TrimSpace(joiners[i]))
		}
		if j != "AND" && j != "OR" {
			return nil, fmt.Errorf("%w: unsupported joiner %q", ErrMalformedQuery, joiners[i])
		}
		e.joiners[i] = j
	}

	return e, nil
}

// MustBuild is like Build but panics on error. It is meant for
// expressions built from constants.
func MustBuild(fields, values, operators, joiners []string) *Expression {
	e, err := Build(fields, values, operators, joiners)
	if err != nil {
		panic(fmt.Sprintf("BUG: %s", err))
	}
	return e
}

// Equals is a shortcut for a single equality predicate.
func Equals(field, value string) (*Expression, error) {
	return Build([]string{field}, []string{value}, nil, nil)
}

// Predicate returns the textual predicate with '?' placeholders.
// It returns an empty string for an empty expression.
func (e *Expression) Predicate() string {
	if e == nil || len(e.fields) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, f := range e.fields {
		if e.operators[i] == opLike {
			sb.WriteString(f)
			sb.WriteString(" LIKE '%' || ? || '%'")
		} else {
			sb.WriteString(f)
			sb.WriteString(e.operators[i])
			sb.WriteString("?")
		}
		if i < len(e.joiners) {
			sb.WriteString(" ")
			sb.WriteString(e.joiners[i])
			sb.WriteString(" ")
		}
	}
	return sb.String()
}

// Args returns the values to bind to the predicate placeholders, in order.
func (e *Expression) Args() []string {
	if e == nil {
		return nil
	}
	args := make([]string, len(e.values))
	copy(args, e.values)
	return args
}

// IsEmpty reports whether the expression has no predicates.
func (e *Expression) IsEmpty() bool {
	return e == nil || len(e.fields) == 0
}

// String implements fmt.Stringer.
func (e *Expression) String() string {
	if e.IsEmpty() {
		return "<all>"
	}
	return fmt.Sprintf("%s %q", e.Predicate(), e.values)
}

func isIdentifier(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
