package plan

import (
	"testing"

	"daemondb/sql/ast"
	"daemondb/sql/lexer"
)

func parseStmt(t *testing.T, src string) ast.Statement {
	p, err := ast.New(lexer.New(src))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stmt, err := p.ParseStatement()
	if err != nil {
		t.Fatalf("ParseStatement(%q): %v", src, err)
	}
	return stmt
}

func TestBuildSelectChain(t *testing.T) {
	stmt := parseStmt(t, "SELECT id, name FROM users WHERE id = 1 ORDER BY name LIMIT 5")
	node, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	lim, ok := node.(*Limit)
	if !ok {
		t.Fatalf("expected top-level Limit, got %T", node)
	}
	sort, ok := lim.Input.(*Sort)
	if !ok {
		t.Fatalf("expected Sort beneath Limit, got %T", lim.Input)
	}
	proj, ok := sort.Input.(*Projection)
	if !ok {
		t.Fatalf("expected Projection beneath Sort, got %T", sort.Input)
	}
	filter, ok := proj.Input.(*Filter)
	if !ok {
		t.Fatalf("expected Filter beneath Projection, got %T", proj.Input)
	}
	scan, ok := filter.Input.(*Scan)
	if !ok || scan.Table != "users" {
		t.Fatalf("expected Scan(users) at the bottom, got %+v", filter.Input)
	}
	if len(proj.Items) != 2 {
		t.Fatalf("expected 2 projection items, got %d", len(proj.Items))
	}
}

func TestBuildSelectWithoutWhereOrOrderOrLimit(t *testing.T) {
	stmt := parseStmt(t, "SELECT * FROM users")
	node, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	proj, ok := node.(*Projection)
	if !ok {
		t.Fatalf("expected top-level Projection, got %T", node)
	}
	if _, ok := proj.Input.(*Scan); !ok {
		t.Fatalf("expected Scan directly beneath Projection, got %T", proj.Input)
	}
}

func TestBuildInsert(t *testing.T) {
	stmt := parseStmt(t, "INSERT INTO users (id, name) VALUES (1, 'a')")
	node, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ins, ok := node.(*Insert)
	if !ok || ins.Table != "users" || len(ins.Columns) != 2 || len(ins.Rows) != 1 {
		t.Fatalf("unexpected: %+v", node)
	}
}

func TestBuildUpdateDelete(t *testing.T) {
	node, err := Build(parseStmt(t, "UPDATE users SET name = 'x' WHERE id = 1"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	upd, ok := node.(*Update)
	if !ok || upd.Table != "users" || upd.Predicate == nil {
		t.Fatalf("unexpected: %+v", node)
	}

	node2, err := Build(parseStmt(t, "DELETE FROM users"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	del, ok := node2.(*Delete)
	if !ok || del.Table != "users" || del.Predicate != nil {
		t.Fatalf("unexpected: %+v", node2)
	}
}

func TestBuildCreateTable(t *testing.T) {
	node, err := Build(parseStmt(t, "CREATE TABLE t (id INTEGER PRIMARY KEY)"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ct, ok := node.(*CreateTable)
	if !ok || ct.Table != "t" || len(ct.Columns) != 1 {
		t.Fatalf("unexpected: %+v", node)
	}
}

func TestBuildTransactionControl(t *testing.T) {
	node, err := Build(parseStmt(t, "BEGIN"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	txn, ok := node.(*Transaction)
	if !ok || txn.Operation != "BEGIN" {
		t.Fatalf("unexpected: %+v", node)
	}
}

func TestToPhysicalLowersScan(t *testing.T) {
	node, err := Build(parseStmt(t, "SELECT * FROM users WHERE id = 1"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	phys := ToPhysical(node)
	proj, ok := phys.(*Projection)
	if !ok {
		t.Fatalf("expected Projection, got %T", phys)
	}
	filter, ok := proj.Input.(*Filter)
	if !ok {
		t.Fatalf("expected Filter, got %T", proj.Input)
	}
	if _, ok := filter.Input.(*TableScan); !ok {
		t.Fatalf("expected TableScan after lowering, got %T", filter.Input)
	}
}
