package condition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
	"github.com/shopspring/decimal"
)

// ErrEmptyExpression is returned when parsing blank source
var ErrEmptyExpression = errors.New("expression required")

// ParseError describes why a condition was rejected
type ParseError struct {
	Source string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid condition %q: %s", e.Source, e.Reason)
}

var compareOps = map[string]CompareOp{
	operators.Equals:        OpEq,
	operators.NotEquals:     OpNe,
	operators.Less:          OpLt,
	operators.LessEquals:    OpLe,
	operators.Greater:       OpGt,
	operators.GreaterEquals: OpGe,
}

// Parse turns CEL-syntax source into a restricted expression tree.
// Only the syntax front end of CEL is used; nothing is type-checked or run by CEL.
func Parse(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, ErrEmptyExpression
	}

	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}
	parsed, issues := env.Parse(src)
	if issues != nil && issues.Err() != nil {
		return nil, &ParseError{Source: src, Reason: issues.Err().Error()}
	}

	p := &parser{src: src}
	root, err := p.convert(parsed.NativeRep().Expr())
	if err != nil {
		return nil, err
	}
	return root, nil
}

type parser struct {
	src string
}

func (p *parser) fail(format string, args ...interface{}) error {
	return &ParseError{Source: p.src, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) convert(e ast.Expr) (*Expr, error) {
	switch e.Kind() {
	case ast.LiteralKind:
		v, err := p.literal(e)
		if err != nil {
			return nil, err
		}
		return &Expr{Kind: NodeLiteral, Literal: v}, nil

	case ast.SelectKind:
		field, err := p.fieldPath(e)
		if err != nil {
			return nil, err
		}
		return &Expr{Kind: NodeField, Field: field}, nil

	case ast.IdentKind:
		return nil, p.fail("bare identifier %q, expected one of %s", e.AsIdent(), strings.Join(DeclaredFields(), ", "))

	case ast.ListKind:
		v, err := p.list(e)
		if err != nil {
			return nil, err
		}
		return &Expr{Kind: NodeLiteral, Literal: v}, nil

	case ast.CallKind:
		return p.call(e)
	}
	return nil, p.fail("unsupported construct")
}

func (p *parser) call(e ast.Expr) (*Expr, error) {
	call := e.AsCall()
	if call.IsMemberFunction() {
		return nil, p.fail("method calls are not allowed (%s)", call.FunctionName())
	}
	fn := call.FunctionName()
	args := call.Args()

	if op, ok := compareOps[fn]; ok {
		left, right, err := p.pair(args)
		if err != nil {
			return nil, err
		}
		return &Expr{Kind: NodeCompare, Op: op, Left: left, Right: right}, nil
	}

	switch fn {
	case operators.LogicalAnd, operators.LogicalOr:
		kind := NodeAnd
		if fn == operators.LogicalOr {
			kind = NodeOr
		}
		if len(args) < 2 {
			return nil, p.fail("%s expects at least two operands", fn)
		}
		acc, err := p.convert(args[0])
		if err != nil {
			return nil, err
		}
		for _, arg := range args[1:] {
			next, err := p.convert(arg)
			if err != nil {
				return nil, err
			}
			acc = &Expr{Kind: kind, Left: acc, Right: next}
		}
		return acc, nil

	case operators.LogicalNot:
		if len(args) != 1 {
			return nil, p.fail("negation expects one operand")
		}
		operand, err := p.convert(args[0])
		if err != nil {
			return nil, err
		}
		return &Expr{Kind: NodeNot, Operand: operand}, nil

	case operators.In:
		elem, coll, err := p.pair(args)
		if err != nil {
			return nil, err
		}
		if coll.Kind == NodeLiteral && coll.Literal.Kind != KindList {
			return nil, p.fail("right side of 'in' must be a list")
		}
		return &Expr{Kind: NodeIn, Left: elem, Right: coll}, nil

	case operators.Negate:
		if len(args) != 1 || args[0].Kind() != ast.LiteralKind {
			return nil, p.fail("unary minus applies to number literals only")
		}
		v, err := p.literal(args[0])
		if err != nil {
			return nil, err
		}
		if v.Kind != KindNumber {
			return nil, p.fail("unary minus applies to number literals only")
		}
		return &Expr{Kind: NodeLiteral, Literal: Number(v.Num.Neg())}, nil
	}

	return nil, p.fail("function or operator %q is not allowed", fn)
}

func (p *parser) pair(args []ast.Expr) (*Expr, *Expr, error) {
	if len(args) != 2 {
		return nil, nil, p.fail("binary operator expects two operands")
	}
	left, err := p.convert(args[0])
	if err != nil {
		return nil, nil, err
	}
	right, err := p.convert(args[1])
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func (p *parser) fieldPath(e ast.Expr) (string, error) {
	sel := e.AsSelect()
	if sel.IsTestOnly() {
		return "", p.fail("has() is not allowed")
	}
	operand := sel.Operand()
	if operand.Kind() != ast.IdentKind {
		return "", p.fail("field references must have the form subject.<name> or user.<name>")
	}
	field := operand.AsIdent() + "." + sel.FieldName()
	if !IsDeclared(field) {
		return "", p.fail("unknown field %q", field)
	}
	return field, nil
}

func (p *parser) literal(e ast.Expr) (Value, error) {
	switch v := e.AsLiteral().(type) {
	case types.String:
		return String(string(v)), nil
	case types.Int:
		return Number(decimal.NewFromInt(int64(v))), nil
	case types.Uint:
		return Number(decimal.RequireFromString(strconv.FormatUint(uint64(v), 10))), nil
	case types.Double:
		return Number(decimal.NewFromFloat(float64(v))), nil
	case types.Bool:
		return Bool(bool(v)), nil
	case types.Null:
		return Null, nil
	}
	return Value{}, p.fail("unsupported literal type")
}

func (p *parser) list(e ast.Expr) (Value, error) {
	elems := e.AsList().Elements()
	items := make([]Value, 0, len(elems))
	for _, elem := range elems {
		node, err := p.convert(elem)
		if err != nil {
			return Value{}, err
		}
		if node.Kind != NodeLiteral || node.Literal.Kind == KindList {
			return Value{}, p.fail("list elements must be scalar literals")
		}
		items = append(items, node.Literal)
	}
	return Value{Kind: KindList, List: items}, nil
}
