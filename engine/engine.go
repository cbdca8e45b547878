// Package engine wires the lexer, parser, planner, compiler and VM into
// a single `Execute` entry point, wrapping every statement that is not
// already inside an explicit transaction in an implicit one-statement
// transaction: lexer -> ast -> plan -> compile -> vm.
package engine

import (
	"crypto/rand"
	"encoding/binary"
	"log"
	"os"
	"strings"

	"daemondb/catalog"
	"daemondb/filelock"
	"daemondb/internal/dbutil"
	"daemondb/pager"
	"daemondb/record"
	"daemondb/sql/ast"
	"daemondb/sql/compile"
	"daemondb/sql/lexer"
	"daemondb/sql/plan"
	"daemondb/txn"
	"daemondb/vm"
	"daemondb/wal"
)

// QueryResult is the outcome of one Execute call: the projected columns
// (for a SELECT), the rows, and the number of rows an INSERT/UPDATE/
// DELETE touched.
type QueryResult struct {
	Columns      []string
	Rows         []vm.Row
	RowsAffected int
}

// Engine is one open database: its page file, WAL, advisory lock,
// catalog and transaction manager. Not safe for concurrent use; it is a
// process-local, single-writer model.
type Engine struct {
	path string

	pager *pager.Pager
	wal   *wal.WAL
	lock  *filelock.Lock
	cat   *catalog.Catalog
	txm   *txn.Manager
	log   *log.Logger

	current *txn.Txn // non-nil while an explicit BEGIN...COMMIT/ROLLBACK is open
}

// Open opens (creating if absent) the database file at path and its
// sibling WAL file, replays any committed-but-not-checkpointed WAL
// frames, and loads the catalog.
func Open(path string) (*Engine, error) {
	p, err := pager.Open(path, pager.DefaultPageSize)
	if err != nil {
		return nil, err
	}

	w, err := wal.Open(walPath(path), uint32(p.PageSize()), randomSalt(), randomSalt())
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := wal.Recover(w, p); err != nil {
		w.Close()
		p.Close()
		return nil, err
	}

	lock, err := filelock.Open(path)
	if err != nil {
		w.Close()
		p.Close()
		return nil, err
	}

	cat, err := catalog.Load(p)
	if err != nil {
		lock.Close()
		w.Close()
		p.Close()
		return nil, err
	}

	logger := log.New(os.Stderr, "daemondb: ", log.LstdFlags)
	return &Engine{
		path:  path,
		pager: p,
		wal:   w,
		lock:  lock,
		cat:   cat,
		txm:   txn.New(p, w, lock, logger, 0),
		log:   logger,
	}, nil
}

// walPath derives the sibling WAL path from the database file path.
func walPath(dbPath string) string {
	if strings.HasSuffix(dbPath, ".db") {
		return strings.TrimSuffix(dbPath, ".db") + ".wal"
	}
	return dbPath + ".wal"
}

func randomSalt() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x9e3779b9
	}
	return binary.LittleEndian.Uint32(b[:])
}

// Close rolls back any open explicit transaction and releases every
// collaborator Open acquired.
func (e *Engine) Close() error {
	if e.current != nil {
		e.current.Rollback()
		e.current = nil
	}
	if err := e.lock.Close(); err != nil {
		return err
	}
	if err := e.wal.Close(); err != nil {
		return err
	}
	return e.pager.Close()
}

// Begin starts an explicit transaction. Shadow paging fixes a
// transaction's write-ness at Begin time (txn.Manager.Begin(write bool)),
// and an explicit transaction can be followed by any statement including
// writes, so Begin always opens a write transaction — pessimistic, but
// the only option available without knowing ahead of time what the
// transaction's statements will be.
func (e *Engine) Begin() error {
	if e.current != nil {
		return dbutil.New(dbutil.KindInternal, "engine: a transaction is already in progress")
	}
	t, err := e.txm.Begin(true)
	if err != nil {
		return err
	}
	e.current = t
	return nil
}

// Commit commits the open explicit transaction.
func (e *Engine) Commit() error {
	if e.current == nil {
		return dbutil.New(dbutil.KindInternal, "engine: no transaction in progress")
	}
	t := e.current
	e.current = nil
	return t.Commit()
}

// Rollback rolls back the open explicit transaction.
func (e *Engine) Rollback() error {
	if e.current == nil {
		return dbutil.New(dbutil.KindInternal, "engine: no transaction in progress")
	}
	t := e.current
	e.current = nil
	return t.Rollback()
}

// Checkpoint forces an out-of-band WAL checkpoint, backing the
// `.checkpoint` dot-command.
func (e *Engine) Checkpoint() error {
	return e.txm.Checkpoint()
}

// ListTables returns every table name in the catalog, backing the
// `.tables` dot-command.
func (e *Engine) ListTables() []string {
	return e.cat.ListTables()
}

// Schema returns table's persisted schema.
func (e *Engine) Schema(table string) (*catalog.TableSchema, error) {
	return e.cat.GetTable(table)
}

// Pager exposes the underlying page store for tooling that needs to walk
// a table's B+Tree directly (e.g. an index inspector), bypassing the SQL
// pipeline.
func (e *Engine) Pager() *pager.Pager {
	return e.pager
}

// Execute parses and runs one SQL statement.
func (e *Engine) Execute(sql string) (*QueryResult, error) {
	stmt, err := parseStatement(sql)
	if err != nil {
		return nil, err
	}
	node, err := plan.Build(stmt)
	if err != nil {
		return nil, err
	}

	switch n := node.(type) {
	case *plan.Transaction:
		return e.executeTransactionControl(n)
	case *plan.CreateTable:
		return e.executeCreateTable(n)
	case *plan.Insert, *plan.Update, *plan.Delete:
		return e.executeStatement(node, true)
	default:
		return e.executeStatement(node, false)
	}
}

func parseStatement(sql string) (ast.Statement, error) {
	p, err := ast.New(lexer.New(sql))
	if err != nil {
		return nil, err
	}
	return p.ParseStatement()
}

func (e *Engine) executeTransactionControl(n *plan.Transaction) (*QueryResult, error) {
	switch n.Operation {
	case "BEGIN":
		return &QueryResult{}, e.Begin()
	case "COMMIT":
		return &QueryResult{}, e.Commit()
	case "ROLLBACK":
		return &QueryResult{}, e.Rollback()
	default:
		return nil, dbutil.New(dbutil.KindInternal, "engine: unknown transaction operation %q", n.Operation)
	}
}

func (e *Engine) executeCreateTable(n *plan.CreateTable) (*QueryResult, error) {
	columns := make([]catalog.ColumnDef, len(n.Columns))
	for i, c := range n.Columns {
		cd, err := toColumnDef(c)
		if err != nil {
			return nil, err
		}
		columns[i] = cd
	}

	implicit := e.current == nil
	var t *txn.Txn
	if implicit {
		var err error
		t, err = e.txm.BeginAuto(true)
		if err != nil {
			return nil, err
		}
	}

	if _, err := e.cat.CreateTable(n.Table, columns); err != nil {
		if implicit {
			t.Rollback()
		}
		return nil, err
	}
	if err := e.cat.Persist(); err != nil {
		if implicit {
			t.Rollback()
		}
		return nil, err
	}

	if implicit {
		if err := t.Commit(); err != nil {
			return nil, err
		}
	}
	return &QueryResult{}, nil
}

// executeStatement compiles and runs a SELECT/INSERT/UPDATE/DELETE plan
// node, wrapping it in an implicit transaction unless an explicit one is
// already open: a statement outside an explicit BEGIN commits or rolls
// back itself.
func (e *Engine) executeStatement(node plan.Node, write bool) (*QueryResult, error) {
	implicit := e.current == nil
	var t *txn.Txn
	if implicit {
		var err error
		t, err = e.txm.BeginAuto(write)
		if err != nil {
			return nil, err
		}
	}

	result, err := e.runCompiled(node)

	if implicit {
		if err != nil {
			t.Rollback()
			return nil, err
		}
		if cerr := t.Commit(); cerr != nil {
			return nil, cerr
		}
	}
	return result, err
}

func (e *Engine) runCompiled(node plan.Node) (*QueryResult, error) {
	optimized := plan.Optimize(node, e.cat)
	physical := plan.ToPhysical(optimized)

	prog, columns, err := compile.Compile(physical, e.cat)
	if err != nil {
		return nil, err
	}

	ex := vm.New(e.pager, e.cat)
	res, err := ex.Run(prog, columns)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Columns: res.Columns, Rows: res.Rows, RowsAffected: res.RowsAffected}, nil
}

// toColumnDef renders a parsed CREATE TABLE column into its persisted
// catalog form, folding a DEFAULT expression into a record.Value. The
// parser accepts any unary expression after DEFAULT; literalValue accepts
// only a literal or a negated numeric literal and rejects anything else.
func toColumnDef(c ast.ColumnDef) (catalog.ColumnDef, error) {
	cd := catalog.ColumnDef{
		Name:       c.Name,
		Type:       strings.ToUpper(c.Type),
		NotNull:    c.NotNull,
		Unique:     c.Unique,
		PrimaryKey: c.PrimaryKey,
	}
	if c.Default != nil {
		v, err := literalValue(c.Default)
		if err != nil {
			return catalog.ColumnDef{}, err
		}
		cd.Default = catalog.NewDefaultValue(v)
	}
	return cd, nil
}

func literalValue(expr ast.Expr) (record.Value, error) {
	switch e := expr.(type) {
	case ast.Literal:
		switch e.Kind {
		case ast.LitNull:
			return record.NewNull(), nil
		case ast.LitInt:
			return record.NewInt(e.Int), nil
		case ast.LitReal:
			return record.NewReal(e.Real), nil
		case ast.LitText:
			return record.NewText(e.Text), nil
		case ast.LitBool:
			if e.Bool {
				return record.NewInt(1), nil
			}
			return record.NewInt(0), nil
		}
	case ast.UnaryExpr:
		if e.Op == "-" {
			v, err := literalValue(e.Expr)
			if err != nil {
				return record.Value{}, err
			}
			switch v.Kind() {
			case record.Integer:
				return record.NewInt(-v.Int()), nil
			case record.Real:
				return record.NewReal(-v.Real()), nil
			}
		}
	}
	return record.Value{}, dbutil.New(dbutil.KindInternal, "DEFAULT must be a literal")
}
