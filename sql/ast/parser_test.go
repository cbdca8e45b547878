package ast

import (
	"testing"

	"daemondb/sql/lexer"
)

func parseOne(t *testing.T, src string) Statement {
	p, err := New(lexer.New(src))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stmt, err := p.ParseStatement()
	if err != nil {
		t.Fatalf("ParseStatement(%q): %v", src, err)
	}
	return stmt
}

func TestParseCreateTable(t *testing.T) {
	stmt := parseOne(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, age INTEGER DEFAULT 0)")
	ct, ok := stmt.(*CreateTableStmt)
	if !ok {
		t.Fatalf("got %T", stmt)
	}
	if ct.Table != "users" || len(ct.Columns) != 3 {
		t.Fatalf("unexpected: %+v", ct)
	}
	if !ct.Columns[0].PrimaryKey {
		t.Error("expected id to be primary key")
	}
	if !ct.Columns[1].NotNull {
		t.Error("expected name to be not null")
	}
	lit, ok := ct.Columns[2].Default.(Literal)
	if !ok || lit.Kind != LitInt || lit.Int != 0 {
		t.Errorf("expected default 0, got %+v", ct.Columns[2].Default)
	}
}

func TestParseInsert(t *testing.T) {
	stmt := parseOne(t, "INSERT INTO users (id, name) VALUES (1, 'Alice'), (2, 'Bob')")
	ins, ok := stmt.(*InsertStmt)
	if !ok {
		t.Fatalf("got %T", stmt)
	}
	if ins.Table != "users" || len(ins.Columns) != 2 || len(ins.Rows) != 2 {
		t.Fatalf("unexpected: %+v", ins)
	}
	if ins.Rows[1][1].(Literal).Text != "Bob" {
		t.Errorf("unexpected second row: %+v", ins.Rows[1])
	}
}

func TestParseSelectWithWhereOrderLimit(t *testing.T) {
	stmt := parseOne(t, "SELECT id, name FROM users WHERE age >= 18 AND active = TRUE ORDER BY name DESC LIMIT 10 OFFSET 5")
	sel, ok := stmt.(*SelectStmt)
	if !ok {
		t.Fatalf("got %T", stmt)
	}
	if len(sel.Columns) != 2 || sel.Table != "users" {
		t.Fatalf("unexpected: %+v", sel)
	}
	where, ok := sel.Where.(BinaryExpr)
	if !ok || where.Op != "AND" {
		t.Fatalf("expected top-level AND, got %+v", sel.Where)
	}
	if len(sel.OrderBy) != 1 || !sel.OrderBy[0].Desc {
		t.Fatalf("unexpected order by: %+v", sel.OrderBy)
	}
	if lit, ok := sel.Limit.(Literal); !ok || lit.Int != 10 {
		t.Fatalf("unexpected limit: %+v", sel.Limit)
	}
	if lit, ok := sel.Offset.(Literal); !ok || lit.Int != 5 {
		t.Fatalf("unexpected offset: %+v", sel.Offset)
	}
}

func TestParseSelectStar(t *testing.T) {
	stmt := parseOne(t, "SELECT * FROM users")
	sel := stmt.(*SelectStmt)
	ref, ok := sel.Columns[0].Expr.(ColumnRef)
	if !ok || ref.Name != "*" {
		t.Fatalf("expected wildcard column ref, got %+v", sel.Columns[0].Expr)
	}
}

func TestParseOperatorPrecedence(t *testing.T) {
	stmt := parseOne(t, "SELECT * FROM t WHERE a + b * c = d")
	sel := stmt.(*SelectStmt)
	top, ok := sel.Where.(BinaryExpr)
	if !ok || top.Op != "=" {
		t.Fatalf("expected top-level =, got %+v", sel.Where)
	}
	left, ok := top.Left.(BinaryExpr)
	if !ok || left.Op != "+" {
		t.Fatalf("expected + above *, got %+v", top.Left)
	}
	right, ok := left.Right.(BinaryExpr)
	if !ok || right.Op != "*" {
		t.Fatalf("expected * nested under +, got %+v", left.Right)
	}
}

func TestParseAggregateCall(t *testing.T) {
	stmt := parseOne(t, "SELECT COUNT(*) AS total FROM users")
	sel := stmt.(*SelectStmt)
	call, ok := sel.Columns[0].Expr.(CallExpr)
	if !ok || call.Name != "COUNT" || !call.Star {
		t.Fatalf("unexpected: %+v", sel.Columns[0])
	}
	if sel.Columns[0].Alias != "total" {
		t.Errorf("expected alias total, got %q", sel.Columns[0].Alias)
	}
}

func TestParseUpdateAndDelete(t *testing.T) {
	stmt := parseOne(t, "UPDATE users SET name = 'Bob', age = age + 1 WHERE id = 2")
	upd, ok := stmt.(*UpdateStmt)
	if !ok || upd.Table != "users" || len(upd.Assignments) != 2 {
		t.Fatalf("unexpected: %+v", stmt)
	}

	stmt2 := parseOne(t, "DELETE FROM users WHERE id = 1")
	del, ok := stmt2.(*DeleteStmt)
	if !ok || del.Table != "users" {
		t.Fatalf("unexpected: %+v", stmt2)
	}
}

func TestParseTransactionControl(t *testing.T) {
	if _, ok := parseOne(t, "BEGIN").(*BeginStmt); !ok {
		t.Error("expected BeginStmt")
	}
	if _, ok := parseOne(t, "COMMIT").(*CommitStmt); !ok {
		t.Error("expected CommitStmt")
	}
	if _, ok := parseOne(t, "ROLLBACK").(*RollbackStmt); !ok {
		t.Error("expected RollbackStmt")
	}
}

func TestParseUnexpectedTokenFails(t *testing.T) {
	p, err := New(lexer.New("FROM users"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.ParseStatement(); err == nil {
		t.Fatal("expected a parse error")
	}
}
