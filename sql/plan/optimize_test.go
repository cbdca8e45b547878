package plan

import (
	"os"
	"path/filepath"
	"testing"

	"daemondb/catalog"
	"daemondb/pager"
	"daemondb/sql/ast"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	testDir := filepath.Join(os.TempDir(), "daemondb_plan_test")
	os.MkdirAll(testDir, 0755)
	t.Cleanup(func() { os.RemoveAll(testDir) })

	p, err := pager.Open(filepath.Join(testDir, "plan.db"), 512)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	cat, err := catalog.Load(p)
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	if _, err := cat.CreateTable("users", []catalog.ColumnDef{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "name", Type: "TEXT"},
	}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	return cat
}

func TestOptimizeExpandsWildcard(t *testing.T) {
	cat := newTestCatalog(t)
	node, err := Build(parseStmt(t, "SELECT * FROM users"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	node = Optimize(node, cat)

	proj, ok := node.(*Projection)
	if !ok {
		t.Fatalf("expected Projection, got %T", node)
	}
	if len(proj.Items) != 2 {
		t.Fatalf("expected wildcard to expand to 2 columns, got %d: %+v", len(proj.Items), proj.Items)
	}
	first, ok := proj.Items[0].Expr.(ast.ColumnRef)
	if !ok || first.Name != "id" {
		t.Errorf("expected first expanded column id, got %+v", proj.Items[0].Expr)
	}
}

func TestOptimizeFoldsConstants(t *testing.T) {
	node, err := Build(parseStmt(t, "SELECT * FROM users WHERE id = 1 + 2"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	node = Optimize(node, nil)

	proj := node.(*Projection)
	filter, ok := proj.Input.(*Filter)
	if !ok {
		t.Fatalf("expected Filter, got %T", proj.Input)
	}
	bin, ok := filter.Predicate.(ast.BinaryExpr)
	if !ok || bin.Op != "=" {
		t.Fatalf("unexpected predicate: %+v", filter.Predicate)
	}
	lit, ok := bin.Right.(ast.Literal)
	if !ok || lit.Kind != ast.LitInt || lit.Int != 3 {
		t.Fatalf("expected folded constant 3, got %+v", bin.Right)
	}
}

func TestOptimizeSimplifiesAlgebra(t *testing.T) {
	node, err := Build(parseStmt(t, "SELECT * FROM users WHERE id = id + 0"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	node = Optimize(node, nil)

	proj := node.(*Projection)
	filter := proj.Input.(*Filter)
	bin := filter.Predicate.(ast.BinaryExpr)
	if _, ok := bin.Right.(ast.ColumnRef); !ok {
		t.Fatalf("expected id + 0 to simplify to bare column ref, got %+v", bin.Right)
	}
}

func TestOptimizeMergesConsecutiveFilters(t *testing.T) {
	inner := &Filter{Input: &Scan{Table: "users"}, Predicate: ast.Literal{Kind: ast.LitBool, Bool: true}}
	outer := &Filter{Input: inner, Predicate: ast.Literal{Kind: ast.LitBool, Bool: false}}

	node := Optimize(outer, nil)
	f, ok := node.(*Filter)
	if !ok {
		t.Fatalf("expected single merged Filter, got %T", node)
	}
	if _, ok := f.Input.(*Filter); ok {
		t.Fatalf("expected filters to merge into one, still nested: %+v", f)
	}
	bin, ok := f.Predicate.(ast.BinaryExpr)
	if !ok || bin.Op != "AND" {
		// simplification may have reduced it further since both sides are
		// boolean constants; either outcome proves merging happened.
		if lit, ok := f.Predicate.(ast.Literal); !ok || lit.Kind != ast.LitBool {
			t.Fatalf("expected merged AND predicate or a folded boolean, got %+v", f.Predicate)
		}
	}
}

func TestOptimizePushesPredicateBelowProjection(t *testing.T) {
	node, err := Build(parseStmt(t, "SELECT name FROM users WHERE id = 1"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// Build already places Filter beneath Projection; force the reverse
	// shape to exercise the pushdown rule directly.
	proj := node.(*Projection)
	filter := proj.Input.(*Filter)
	reversed := &Filter{Input: &Projection{Input: filter.Input, Items: proj.Items}, Predicate: filter.Predicate}

	out := Optimize(reversed, nil)
	outProj, ok := out.(*Projection)
	if !ok {
		t.Fatalf("expected predicate pushed below Projection, got %T", out)
	}
	if _, ok := outProj.Input.(*Filter); !ok {
		t.Fatalf("expected Filter directly beneath Projection, got %T", outProj.Input)
	}
}

func TestToPhysicalPassesThroughDML(t *testing.T) {
	node, err := Build(parseStmt(t, "DELETE FROM users WHERE id = 1"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	phys := ToPhysical(node)
	if _, ok := phys.(*Delete); !ok {
		t.Fatalf("expected Delete to pass through unchanged, got %T", phys)
	}
}
