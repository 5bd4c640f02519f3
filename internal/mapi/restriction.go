package mapi

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Relop is a relational operator for property restrictions.
type Relop int

const (
	RelopLT Relop = iota
	RelopLE
	RelopGT
	RelopGE
	RelopEQ
	RelopNE
)

func (op Relop) String() string {
	switch op {
	case RelopLT:
		return "<"
	case RelopLE:
		return "<="
	case RelopGT:
		return ">"
	case RelopGE:
		return ">="
	case RelopEQ:
		return "=="
	case RelopNE:
		return "!="
	default:
		return "?"
	}
}

// Restriction filters table rows.
type Restriction interface {
	Match(p Props) bool
}

// And matches when every child matches.
type And []Restriction

func (r And) Match(p Props) bool {
	for _, c := range r {
		if !c.Match(p) {
			return false
		}
	}
	return true
}

// Or matches when any child matches.
type Or []Restriction

func (r Or) Match(p Props) bool {
	for _, c := range r {
		if c.Match(p) {
			return true
		}
	}
	return false
}

// Not inverts its child.
type Not struct {
	R Restriction
}

func (r Not) Match(p Props) bool {
	return !r.R.Match(p)
}

// Exist matches rows where Prop is set.
type Exist struct {
	Prop string
}

func (r Exist) Match(p Props) bool {
	_, ok := p[r.Prop]
	return ok
}

// Property compares a row value against Value. Comparisons on a missing
// property or across incompatible types never match.
type Property struct {
	Op    Relop
	Prop  string
	Value any
}

func (r Property) Match(p Props) bool {
	v, ok := p[r.Prop]
	if !ok {
		return false
	}
	c, ok := compare(v, r.Value)
	if !ok {
		return false
	}
	switch r.Op {
	case RelopLT:
		return c < 0
	case RelopLE:
		return c <= 0
	case RelopGT:
		return c > 0
	case RelopGE:
		return c >= 0
	case RelopEQ:
		return c == 0
	case RelopNE:
		return c != 0
	default:
		return false
	}
}

func (r Property) String() string {
	return fmt.Sprintf("%s %s %v", r.Prop, r.Op, r.Value)
}

// Content matches string properties containing Substring. String slices
// (categories) match when any element contains it.
type Content struct {
	Prop       string
	Substring  string
	IgnoreCase bool
}

func (r Content) Match(p Props) bool {
	needle := r.Substring
	if r.IgnoreCase {
		needle = strings.ToLower(needle)
	}
	contains := func(s string) bool {
		if r.IgnoreCase {
			s = strings.ToLower(s)
		}
		return strings.Contains(s, needle)
	}
	switch v := p[r.Prop].(type) {
	case string:
		return contains(v)
	case []string:
		return slices.ContainsFunc(v, contains)
	default:
		return false
	}
}

// compare returns -1, 0, 1 and whether a and b are comparable.
func compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(av), string(bv)), true
	}
	ai, aok := toInt64(a)
	bi, bok := toInt64(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case ai < bi:
		return -1, true
	case ai > bi:
		return 1, true
	default:
		return 0, true
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}

// SortOrder is one column of a table sort.
type SortOrder struct {
	Prop       string
	Descending bool
}

// CompareRows orders two rows by the given sort columns. Rows missing a
// sort column sort first.
func CompareRows(a, b Props, order []SortOrder) int {
	for _, s := range order {
		av, aok := a[s.Prop]
		bv, bok := b[s.Prop]
		var c int
		switch {
		case !aok && !bok:
			c = 0
		case !aok:
			c = -1
		case !bok:
			c = 1
		default:
			c, _ = compare(av, bv)
		}
		if s.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}
