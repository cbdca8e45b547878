package vm

import (
	"os"
	"path/filepath"
	"testing"

	"daemondb/catalog"
	"daemondb/pager"
	"daemondb/record"
	"daemondb/sql/ast"
)

func newTestEnv(t *testing.T, name string) (*pager.Pager, *catalog.Catalog) {
	testDir := filepath.Join(os.TempDir(), "daemondb_vm_test")
	os.MkdirAll(testDir, 0755)
	t.Cleanup(func() { os.RemoveAll(testDir) })

	p, err := pager.Open(filepath.Join(testDir, name), 512)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	cat, err := catalog.Load(p)
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	return p, cat
}

func usersSchema(t *testing.T, cat *catalog.Catalog) *catalog.TableSchema {
	schema, err := cat.CreateTable("users", []catalog.ColumnDef{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "name", Type: "TEXT", NotNull: true},
		{Name: "age", Type: "INTEGER"},
	})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	return schema
}

// buildInsertProgram emits: TableScan(cursor 0); for each row, Eval each
// column literal into regs 0..2, then Insert(cursor 0, 0, 3).
func buildInsertProgram(rows [][3]ast.Expr) *Program {
	prog := NewProgram()
	prog.Emit(Instr{Op: OpTableScan, A: 0, Table: "users"})
	for _, row := range rows {
		for i, expr := range row {
			prog.Emit(Instr{Op: OpEval, A: i, Expr: expr})
		}
		prog.Emit(Instr{Op: OpInsert, A: 0, B: 0, C: 3})
	}
	prog.Emit(Instr{Op: OpHalt})
	return prog
}

func nullExpr() ast.Expr { return ast.Literal{Kind: ast.LitNull} }
func intExpr(i int64) ast.Expr { return ast.Literal{Kind: ast.LitInt, Int: i} }
func textExpr(s string) ast.Expr { return ast.Literal{Kind: ast.LitText, Text: s} }

func TestExecutorInsertAssignsAutoIncrementKey(t *testing.T) {
	p, cat := newTestEnv(t, "insert_auto.db")
	usersSchema(t, cat)

	prog := buildInsertProgram([][3]ast.Expr{
		{nullExpr(), textExpr("Alice"), intExpr(30)},
		{nullExpr(), textExpr("Bob"), intExpr(25)},
	})
	ex := New(p, cat)
	res, err := ex.Run(prog, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RowsAffected != 2 {
		t.Fatalf("expected 2 rows affected, got %d", res.RowsAffected)
	}
	schema, err := cat.GetTable("users")
	if err != nil {
		t.Fatalf("GetTable: %v", err)
	}
	if schema.LastInsertID != 2 {
		t.Fatalf("expected last_insert_id 2, got %d", schema.LastInsertID)
	}
}

func TestExecutorInsertRejectsNotNullViolation(t *testing.T) {
	p, cat := newTestEnv(t, "insert_notnull.db")
	usersSchema(t, cat)

	prog := buildInsertProgram([][3]ast.Expr{{nullExpr(), nullExpr(), intExpr(1)}})
	ex := New(p, cat)
	if _, err := ex.Run(prog, nil); err == nil {
		t.Fatal("expected a NOT NULL constraint violation")
	}
}

func TestExecutorInsertRejectsDuplicatePrimaryKey(t *testing.T) {
	p, cat := newTestEnv(t, "insert_dup.db")
	usersSchema(t, cat)

	ex := New(p, cat)
	if _, err := ex.Run(buildInsertProgram([][3]ast.Expr{{intExpr(1), textExpr("Alice"), intExpr(30)}}), nil); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := ex.Run(buildInsertProgram([][3]ast.Expr{{intExpr(1), textExpr("Eve"), intExpr(40)}}), nil)
	if err == nil {
		t.Fatal("expected a UNIQUE/PRIMARY KEY violation on duplicate id")
	}
}

// buildSelectProgram emits the scan+filter+project loop for
// "SELECT id, name FROM users WHERE age >= 18".
func buildSelectProgram() *Program {
	prog := NewProgram()
	prog.Emit(Instr{Op: OpTableScan, A: 0, Table: "users"})
	rewindPC := prog.Emit(Instr{Op: OpRewind, A: 0, B: sentinel})
	loopStart := prog.PC()
	filterPC := prog.Emit(Instr{
		Op: OpFilter, A: sentinel,
		Expr: ast.BinaryExpr{Op: ">=", Left: ast.ColumnRef{Name: "age"}, Right: intExpr(18)},
	})
	prog.Emit(Instr{Op: OpColumn, A: 0, B: 0, C: 0})
	prog.Emit(Instr{Op: OpColumn, A: 0, B: 1, C: 1})
	prog.Emit(Instr{Op: OpResultRow, A: 0, B: 2})
	nextPC := prog.Emit(Instr{Op: OpNext, A: 0, B: sentinel})
	prog.Emit(Instr{Op: OpGoto, A: loopStart})
	post := prog.PC()
	prog.Emit(Instr{Op: OpHalt})

	prog.Patch(rewindPC, post)
	prog.Patch(filterPC, nextPC)
	prog.Patch(nextPC, post)
	return prog
}

func TestExecutorSelectFiltersAndProjects(t *testing.T) {
	p, cat := newTestEnv(t, "select.db")
	usersSchema(t, cat)

	ex := New(p, cat)
	ex.Run(buildInsertProgram([][3]ast.Expr{
		{intExpr(1), textExpr("Alice"), intExpr(30)},
		{intExpr(2), textExpr("Bob"), intExpr(12)},
		{intExpr(3), textExpr("Carol"), intExpr(40)},
	}), nil)

	res, err := ex.Run(buildSelectProgram(), []string{"id", "name"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 adult rows, got %d: %+v", len(res.Rows), res.Rows)
	}
	names := map[string]bool{}
	for _, row := range res.Rows {
		names[row[1].Text()] = true
	}
	if !names["Alice"] || !names["Carol"] {
		t.Fatalf("expected Alice and Carol, got %+v", res.Rows)
	}
}

func TestExecutorSortAndLimit(t *testing.T) {
	rows := []Row{
		{record.NewInt(3), record.NewInt(0)},
		{record.NewInt(1), record.NewInt(0)},
		{record.NewInt(2), record.NewInt(0)},
	}
	sortRows(rows, []SortKey{{Column: 0}})
	if rows[0][0].Int() != 1 || rows[1][0].Int() != 2 || rows[2][0].Int() != 3 {
		t.Fatalf("expected ascending sort, got %+v", rows)
	}
	limited := limitRows(rows, 1, 1)
	if len(limited) != 1 || limited[0][0].Int() != 2 {
		t.Fatalf("expected single row with value 2, got %+v", limited)
	}
}
