package condition

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// EvalError reports a runtime failure while interpreting a condition
type EvalError struct {
	Expr   string
	Reason string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("condition %s: %s", e.Expr, e.Reason)
}

// Evaluator interprets conditions against bindings. Parsed trees are cached by
// source text, so each distinct expression is parsed once per process.
type Evaluator struct {
	failClosed bool
	programs   sync.Map // source -> *Expr
	logger     *zap.Logger
}

// NewEvaluator creates an evaluator. With failClosed a condition that cannot be
// evaluated counts as true (the rule applies); otherwise as false.
func NewEvaluator(failClosed bool, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		failClosed: failClosed,
		logger:     logger,
	}
}

// FailClosed reports the configured failure policy
func (e *Evaluator) FailClosed() bool {
	return e.failClosed
}

// Compile parses src, reusing an earlier parse of the same source
func (e *Evaluator) Compile(src string) (*Expr, error) {
	if cached, ok := e.programs.Load(src); ok {
		return cached.(*Expr), nil
	}
	expr, err := Parse(src)
	if err != nil {
		return nil, err
	}
	actual, _ := e.programs.LoadOrStore(src, expr)
	return actual.(*Expr), nil
}

// Eval parses and interprets src, returning any parse or runtime failure
func (e *Evaluator) Eval(src string, b Bindings) (bool, error) {
	expr, err := e.Compile(src)
	if err != nil {
		return false, err
	}
	return EvalExpr(expr, b)
}

// Evaluate interprets src and never fails: errors resolve through the failure policy
func (e *Evaluator) Evaluate(ctx context.Context, src string, b Bindings) bool {
	ok, err := e.Eval(src, b)
	if err != nil {
		e.logger.Warn("condition evaluation failed",
			zap.String("expr", src),
			zap.Bool("fail_closed", e.failClosed),
			zap.Error(err),
		)
		return e.failClosed
	}
	return ok
}

// EvalExpr interprets a parsed tree. The result must be a boolean.
func EvalExpr(expr *Expr, b Bindings) (bool, error) {
	v, err := eval(expr, b)
	if err != nil {
		return false, err
	}
	if v.Kind != KindBool {
		return false, &EvalError{Expr: expr.String(), Reason: fmt.Sprintf("result is %s, not bool", v.Kind)}
	}
	return v.Bool, nil
}

func eval(n *Expr, b Bindings) (Value, error) {
	switch n.Kind {
	case NodeLiteral:
		return n.Literal, nil

	case NodeField:
		return b.Lookup(n.Field), nil

	case NodeNot:
		v, err := evalBool(n.Operand, b)
		if err != nil {
			return Value{}, err
		}
		return Bool(!v), nil

	case NodeAnd:
		left, err := evalBool(n.Left, b)
		if err != nil {
			return Value{}, err
		}
		if !left {
			return Bool(false), nil
		}
		right, err := evalBool(n.Right, b)
		if err != nil {
			return Value{}, err
		}
		return Bool(right), nil

	case NodeOr:
		left, err := evalBool(n.Left, b)
		if err != nil {
			return Value{}, err
		}
		if left {
			return Bool(true), nil
		}
		right, err := evalBool(n.Right, b)
		if err != nil {
			return Value{}, err
		}
		return Bool(right), nil

	case NodeCompare:
		left, err := eval(n.Left, b)
		if err != nil {
			return Value{}, err
		}
		right, err := eval(n.Right, b)
		if err != nil {
			return Value{}, err
		}
		return compare(n, left, right)

	case NodeIn:
		elem, err := eval(n.Left, b)
		if err != nil {
			return Value{}, err
		}
		coll, err := eval(n.Right, b)
		if err != nil {
			return Value{}, err
		}
		if coll.Kind != KindList {
			return Value{}, &EvalError{Expr: n.String(), Reason: fmt.Sprintf("'in' needs a list, got %s", coll.Kind)}
		}
		for _, item := range coll.List {
			if item.Equal(elem) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	}
	return Value{}, &EvalError{Expr: n.String(), Reason: "unknown node"}
}

func evalBool(n *Expr, b Bindings) (bool, error) {
	v, err := eval(n, b)
	if err != nil {
		return false, err
	}
	if v.Kind != KindBool {
		return false, &EvalError{Expr: n.String(), Reason: fmt.Sprintf("expected bool, got %s", v.Kind)}
	}
	return v.Bool, nil
}

func compare(n *Expr, left, right Value) (Value, error) {
	switch n.Op {
	case OpEq:
		return Bool(left.Equal(right)), nil
	case OpNe:
		return Bool(!left.Equal(right)), nil
	}

	if left.Kind != right.Kind {
		return Value{}, &EvalError{Expr: n.String(), Reason: fmt.Sprintf("cannot order %s and %s", left.Kind, right.Kind)}
	}

	var cmp int
	switch left.Kind {
	case KindNumber:
		cmp = left.Num.Cmp(right.Num)
	case KindString:
		switch {
		case left.Str < right.Str:
			cmp = -1
		case left.Str > right.Str:
			cmp = 1
		}
	default:
		return Value{}, &EvalError{Expr: n.String(), Reason: fmt.Sprintf("%s values are not ordered", left.Kind)}
	}

	switch n.Op {
	case OpLt:
		return Bool(cmp < 0), nil
	case OpLe:
		return Bool(cmp <= 0), nil
	case OpGt:
		return Bool(cmp > 0), nil
	case OpGe:
		return Bool(cmp >= 0), nil
	}
	return Value{}, &EvalError{Expr: n.String(), Reason: fmt.Sprintf("unknown operator %s", n.Op)}
}
