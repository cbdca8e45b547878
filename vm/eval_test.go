package vm

import (
	"testing"

	"daemondb/record"
	"daemondb/sql/ast"
)

func lit(k ast.LiteralKind, i int64, r float64, s string, b bool) ast.Literal {
	return ast.Literal{Kind: k, Int: i, Real: r, Text: s, Bool: b}
}

func intLit(i int64) ast.Literal  { return lit(ast.LitInt, i, 0, "", false) }
func realLit(r float64) ast.Literal { return lit(ast.LitReal, 0, r, "", false) }
func textLit(s string) ast.Literal  { return lit(ast.LitText, 0, 0, s, false) }
func nullLit() ast.Literal          { return ast.Literal{Kind: ast.LitNull} }

func mustEval(t *testing.T, expr ast.Expr, ctx rowContext) record.Value {
	v, err := eval(expr, ctx, nil)
	if err != nil {
		t.Fatalf("eval(%+v): %v", expr, err)
	}
	return v
}

func TestEvalArithmetic(t *testing.T) {
	v := mustEval(t, ast.BinaryExpr{Op: "+", Left: intLit(2), Right: intLit(3)}, nil)
	if v.Kind() != record.Integer || v.Int() != 5 {
		t.Fatalf("expected 5, got %+v", v)
	}

	v = mustEval(t, ast.BinaryExpr{Op: "*", Left: intLit(2), Right: realLit(1.5)}, nil)
	if v.Kind() != record.Real || v.Real() != 3.0 {
		t.Fatalf("expected 3.0, got %+v", v)
	}
}

func TestEvalNullPropagation(t *testing.T) {
	v := mustEval(t, ast.BinaryExpr{Op: "+", Left: intLit(1), Right: nullLit()}, nil)
	if !v.IsNull() {
		t.Fatalf("expected NULL, got %+v", v)
	}
	v = mustEval(t, ast.BinaryExpr{Op: "=", Left: nullLit(), Right: intLit(1)}, nil)
	if !v.IsNull() {
		t.Fatalf("expected NULL, got %+v", v)
	}
}

func TestEvalThreeValuedAnd(t *testing.T) {
	// false AND NULL = false
	v := mustEval(t, ast.BinaryExpr{Op: "AND", Left: intLit(0), Right: nullLit()}, nil)
	if v.IsNull() || v.Truthy() {
		t.Fatalf("expected false, got %+v", v)
	}
	// true AND NULL = NULL
	v = mustEval(t, ast.BinaryExpr{Op: "AND", Left: intLit(1), Right: nullLit()}, nil)
	if !v.IsNull() {
		t.Fatalf("expected NULL, got %+v", v)
	}
	// true OR NULL = true
	v = mustEval(t, ast.BinaryExpr{Op: "OR", Left: intLit(1), Right: nullLit()}, nil)
	if v.IsNull() || !v.Truthy() {
		t.Fatalf("expected true, got %+v", v)
	}
}

func TestEvalComparison(t *testing.T) {
	v := mustEval(t, ast.BinaryExpr{Op: "<=", Left: intLit(3), Right: intLit(3)}, nil)
	if v.IsNull() || !v.Truthy() {
		t.Fatalf("expected true, got %+v", v)
	}
}

func TestEvalTextNumericComparisonIsTypeError(t *testing.T) {
	_, err := eval(ast.BinaryExpr{Op: "=", Left: textLit("3"), Right: intLit(3)}, nil, nil)
	if err == nil {
		t.Fatal("expected a type error comparing text to integer")
	}
}

func TestEvalColumnRef(t *testing.T) {
	ctx := rowContext{"age": record.NewInt(21)}
	v := mustEval(t, ast.BinaryExpr{Op: ">=", Left: ast.ColumnRef{Name: "age"}, Right: intLit(18)}, ctx)
	if v.IsNull() || !v.Truthy() {
		t.Fatalf("expected true, got %+v", v)
	}
}

func TestEvalUnknownColumnFails(t *testing.T) {
	_, err := eval(ast.ColumnRef{Name: "missing"}, rowContext{}, nil)
	if err == nil {
		t.Fatal("expected an error for an unresolved column reference")
	}
}

func TestEvalIntegerOverflowFails(t *testing.T) {
	_, err := eval(ast.BinaryExpr{Op: "+", Left: intLit(1<<62), Right: intLit(1 << 62)}, nil, nil)
	if err == nil {
		t.Fatal("expected an overflow error")
	}
}

func TestEvalDivisionByZeroFails(t *testing.T) {
	_, err := eval(ast.BinaryExpr{Op: "/", Left: intLit(1), Right: intLit(0)}, nil, nil)
	if err == nil {
		t.Fatal("expected a division-by-zero error")
	}
}

func TestEvalUnaryNot(t *testing.T) {
	v := mustEval(t, ast.UnaryExpr{Op: "NOT", Expr: intLit(0)}, nil)
	if v.IsNull() || !v.Truthy() {
		t.Fatalf("expected NOT 0 = true, got %+v", v)
	}
}
