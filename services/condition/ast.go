// Package condition implements the restricted expression language used to
// scope governance rules. Expressions use CEL syntax but only a small subset
// is accepted: literals, field references, comparisons, boolean connectives
// and list membership. Parsed expressions are interpreted, never compiled.
package condition

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NodeKind tags the variant held by an Expr
type NodeKind int

const (
	NodeLiteral NodeKind = iota
	NodeField
	NodeCompare
	NodeAnd
	NodeOr
	NodeNot
	NodeIn
)

// CompareOp is a binary comparison operator
type CompareOp string

const (
	OpEq CompareOp = "=="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// ValueKind is the runtime type of a Value
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	}
	return "unknown"
}

// Value is a literal or a bound field value
type Value struct {
	Kind ValueKind
	Bool bool
	Num  decimal.Decimal
	Str  string
	List []Value
}

// Null is the absent value
var Null = Value{Kind: KindNull}

// Bool wraps a boolean
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Number wraps a decimal
func Number(d decimal.Decimal) Value { return Value{Kind: KindNumber, Num: d} }

// String wraps a string
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Strings wraps a list of strings
func Strings(items []string) Value {
	list := make([]Value, len(items))
	for i, s := range items {
		list[i] = String(s)
	}
	return Value{Kind: KindList, List: list}
}

// OptionalString maps an empty string to Null
func OptionalString(s string) Value {
	if s == "" {
		return Null
	}
	return String(s)
}

// Equal reports deep equality. Values of different kinds are never equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindNumber:
		return v.Num.Equal(o.Num)
	case KindString:
		return v.Str == o.Str
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindNumber:
		return v.Num.String()
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "?"
}

// Expr is one node of a parsed condition
type Expr struct {
	Kind    NodeKind
	Literal Value     // NodeLiteral
	Field   string    // NodeField
	Op      CompareOp // NodeCompare
	Left    *Expr     // NodeCompare, NodeAnd, NodeOr, NodeIn (element)
	Right   *Expr     // NodeCompare, NodeAnd, NodeOr, NodeIn (collection)
	Operand *Expr     // NodeNot
}

// Fields lists the field references used by the expression, in order of appearance
func (e *Expr) Fields() []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(*Expr)
	walk = func(n *Expr) {
		if n == nil {
			return
		}
		if n.Kind == NodeField && !seen[n.Field] {
			seen[n.Field] = true
			out = append(out, n.Field)
		}
		walk(n.Left)
		walk(n.Right)
		walk(n.Operand)
	}
	walk(e)
	return out
}

func (e *Expr) String() string {
	switch e.Kind {
	case NodeLiteral:
		return e.Literal.String()
	case NodeField:
		return e.Field
	case NodeCompare:
		return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
	case NodeAnd:
		return fmt.Sprintf("(%s && %s)", e.Left, e.Right)
	case NodeOr:
		return fmt.Sprintf("(%s || %s)", e.Left, e.Right)
	case NodeNot:
		return fmt.Sprintf("!%s", e.Operand)
	case NodeIn:
		return fmt.Sprintf("(%s in %s)", e.Left, e.Right)
	}
	return "?"
}
