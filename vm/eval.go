package vm

import (
	"strings"

	"daemondb/internal/dbutil"
	"daemondb/record"
	"daemondb/sql/ast"
)

// rowContext maps a bare column name to the current cursor row's value,
// refreshed by the executor every time a cursor advances; the evaluator
// resolves every ColumnRef against it.
type rowContext map[string]record.Value

// eval recursively evaluates expr against the current row context and
// register bank, with NULL-propagating, three-valued-logic semantics.
func eval(expr ast.Expr, ctx rowContext, regs []record.Value) (record.Value, error) {
	switch e := expr.(type) {
	case ast.Literal:
		return literalValue(e), nil
	case ast.ParenExpr:
		return eval(e.Expr, ctx, regs)
	case ast.ColumnRef:
		v, ok := ctx[e.Name]
		if !ok {
			return record.Value{}, dbutil.New(dbutil.KindColumnNotFound, "column %q not found", e.Name)
		}
		return v, nil
	case ast.UnaryExpr:
		return evalUnary(e, ctx, regs)
	case ast.BinaryExpr:
		return evalBinary(e, ctx, regs)
	case ast.CallExpr:
		return record.Value{}, dbutil.New(dbutil.KindInternal, "vm: aggregate call %s cannot be evaluated as a scalar expression", e.Name)
	default:
		return record.Value{}, dbutil.New(dbutil.KindInternal, "vm: unhandled expression type %T", e)
	}
}

func literalValue(lit ast.Literal) record.Value {
	switch lit.Kind {
	case ast.LitInt:
		return record.NewInt(lit.Int)
	case ast.LitReal:
		return record.NewReal(lit.Real)
	case ast.LitText:
		return record.NewText(lit.Text)
	case ast.LitBool:
		if lit.Bool {
			return record.NewInt(1)
		}
		return record.NewInt(0)
	default:
		return record.NewNull()
	}
}

func evalUnary(e ast.UnaryExpr, ctx rowContext, regs []record.Value) (record.Value, error) {
	v, err := eval(e.Expr, ctx, regs)
	if err != nil {
		return record.Value{}, err
	}
	switch strings.ToUpper(e.Op) {
	case "-":
		if v.IsNull() {
			return record.NewNull(), nil
		}
		switch v.Kind() {
		case record.Integer:
			return record.NewInt(-v.Int()), nil
		case record.Real:
			return record.NewReal(-v.Real()), nil
		default:
			return record.Value{}, dbutil.New(dbutil.KindType, "cannot negate a %v value", v.Kind())
		}
	case "NOT":
		if v.IsNull() {
			return record.NewNull(), nil
		}
		if v.Truthy() {
			return record.NewInt(0), nil
		}
		return record.NewInt(1), nil
	default:
		return record.Value{}, dbutil.New(dbutil.KindInternal, "vm: unknown unary operator %q", e.Op)
	}
}

func evalBinary(e ast.BinaryExpr, ctx rowContext, regs []record.Value) (record.Value, error) {
	op := strings.ToUpper(e.Op)

	// AND/OR short-circuit per SQL three-valued logic rather than the
	// NULL-propagates-unconditionally rule arithmetic/comparison use.
	if op == "AND" || op == "OR" {
		return evalLogical(op, e, ctx, regs)
	}

	left, err := eval(e.Left, ctx, regs)
	if err != nil {
		return record.Value{}, err
	}
	right, err := eval(e.Right, ctx, regs)
	if err != nil {
		return record.Value{}, err
	}

	switch op {
	case "+", "-", "*", "/", "%":
		return evalArith(op, left, right)
	case "=", "!=", "<>", "<", "<=", ">", ">=":
		return evalCompare(op, left, right)
	default:
		return record.Value{}, dbutil.New(dbutil.KindInternal, "vm: unknown binary operator %q", e.Op)
	}
}

func evalLogical(op string, e ast.BinaryExpr, ctx rowContext, regs []record.Value) (record.Value, error) {
	left, err := eval(e.Left, ctx, regs)
	if err != nil {
		return record.Value{}, err
	}
	if op == "AND" && !left.IsNull() && !left.Truthy() {
		return record.NewInt(0), nil
	}
	if op == "OR" && !left.IsNull() && left.Truthy() {
		return record.NewInt(1), nil
	}

	right, err := eval(e.Right, ctx, regs)
	if err != nil {
		return record.Value{}, err
	}
	if left.IsNull() && right.IsNull() {
		return record.NewNull(), nil
	}
	if op == "AND" {
		if right.IsNull() {
			if !left.IsNull() && !left.Truthy() {
				return record.NewInt(0), nil
			}
			return record.NewNull(), nil
		}
		if left.IsNull() {
			if !right.Truthy() {
				return record.NewInt(0), nil
			}
			return record.NewNull(), nil
		}
		return boolValue(left.Truthy() && right.Truthy()), nil
	}
	// OR
	if right.IsNull() {
		if !left.IsNull() && left.Truthy() {
			return record.NewInt(1), nil
		}
		return record.NewNull(), nil
	}
	if left.IsNull() {
		if right.Truthy() {
			return record.NewInt(1), nil
		}
		return record.NewNull(), nil
	}
	return boolValue(left.Truthy() || right.Truthy()), nil
}

func boolValue(b bool) record.Value {
	if b {
		return record.NewInt(1)
	}
	return record.NewInt(0)
}

func isNumeric(k record.Kind) bool { return k == record.Integer || k == record.Real }

// coerceNumeric accepts Integer/Real unchanged and rejects everything
// else; Text never coerces to a number, for arithmetic or for
// comparison.
func coerceNumeric(v record.Value) (record.Value, bool) {
	if isNumeric(v.Kind()) {
		return v, true
	}
	return record.Value{}, false
}

func evalArith(op string, left, right record.Value) (record.Value, error) {
	if left.IsNull() || right.IsNull() {
		return record.NewNull(), nil
	}
	l, lok := coerceNumeric(left)
	r, rok := coerceNumeric(right)
	if !lok || !rok {
		return record.Value{}, dbutil.New(dbutil.KindType, "arithmetic %s requires numeric operands, got %v and %v", op, left.Kind(), right.Kind())
	}

	if l.Kind() == record.Integer && r.Kind() == record.Integer {
		a, b := l.Int(), r.Int()
		switch op {
		case "+":
			sum := a + b
			if (b > 0 && sum < a) || (b < 0 && sum > a) {
				return record.Value{}, dbutil.New(dbutil.KindType, "integer overflow in %d + %d", a, b)
			}
			return record.NewInt(sum), nil
		case "-":
			diff := a - b
			if (b < 0 && diff < a) || (b > 0 && diff > a) {
				return record.Value{}, dbutil.New(dbutil.KindType, "integer overflow in %d - %d", a, b)
			}
			return record.NewInt(diff), nil
		case "*":
			if a != 0 && b != 0 {
				prod := a * b
				if prod/b != a {
					return record.Value{}, dbutil.New(dbutil.KindType, "integer overflow in %d * %d", a, b)
				}
				return record.NewInt(prod), nil
			}
			return record.NewInt(0), nil
		case "/":
			if b == 0 {
				return record.Value{}, dbutil.New(dbutil.KindType, "division by zero")
			}
			return record.NewInt(a / b), nil
		case "%":
			if b == 0 {
				return record.Value{}, dbutil.New(dbutil.KindType, "modulo by zero")
			}
			return record.NewInt(a % b), nil
		}
	}

	af, bf := l.AsFloat(), r.AsFloat()
	switch op {
	case "+":
		return record.NewReal(af + bf), nil
	case "-":
		return record.NewReal(af - bf), nil
	case "*":
		return record.NewReal(af * bf), nil
	case "/":
		if bf == 0 {
			return record.Value{}, dbutil.New(dbutil.KindType, "division by zero")
		}
		return record.NewReal(af / bf), nil
	case "%":
		return record.Value{}, dbutil.New(dbutil.KindType, "modulo requires integer operands")
	}
	return record.Value{}, dbutil.New(dbutil.KindInternal, "vm: unreachable arithmetic operator %q", op)
}

func evalCompare(op string, left, right record.Value) (record.Value, error) {
	if left.IsNull() || right.IsNull() {
		return record.NewNull(), nil
	}
	if left.Kind() == record.Text && isNumeric(right.Kind()) || right.Kind() == record.Text && isNumeric(left.Kind()) {
		return record.Value{}, dbutil.New(dbutil.KindType, "cannot compare %v with %v", left.Kind(), right.Kind())
	}

	cmp := record.Compare(left, right)
	var result bool
	switch op {
	case "=":
		result = cmp == 0
	case "!=", "<>":
		result = cmp != 0
	case "<":
		result = cmp < 0
	case "<=":
		result = cmp <= 0
	case ">":
		result = cmp > 0
	case ">=":
		result = cmp >= 0
	default:
		return record.Value{}, dbutil.New(dbutil.KindInternal, "vm: unknown comparison operator %q", op)
	}
	return boolValue(result), nil
}
