package vm

import (
	"daemondb/btree"
	"daemondb/catalog"
	"daemondb/internal/dbutil"
	"daemondb/pager"
	"daemondb/record"
)

// regCount is the fixed register bank size.
const regCount = 256

// cursorSlot is one open cursor slot: a B+Tree cursor bound to a table,
// plus the decoded values of whatever row it is currently positioned on.
type cursorSlot struct {
	tree   *btree.Tree
	cursor *btree.Cursor
	schema *catalog.TableSchema
	row    []record.Value
}

// pendingUpdate (and, for deletes, the Executor's pendingDeletes key lists)
// record a scan-loop mutation to apply after the loop closes: a cursor must
// not be mutated while it is being walked.
type pendingUpdate struct {
	key    []byte
	values []record.Value
}

// Executor runs one compiled Program against a pager and catalog. It
// holds no state across Run calls; callers construct a fresh Executor (or
// reuse one, calling Run repeatedly) per statement.
type Executor struct {
	pager *pager.Pager
	cat   *catalog.Catalog

	regs    [regCount]record.Value
	cursors map[int]*cursorSlot
	accs    map[int]*accumulator
	ctx     rowContext

	rows []Row

	pendingDeletes map[int][][]byte
	pendingUpdates map[int][]pendingUpdate

	rowsAffected int
}

// New returns an Executor bound to p and cat. One Executor instance must
// not be shared across concurrent Run calls.
func New(p *pager.Pager, cat *catalog.Catalog) *Executor {
	return &Executor{pager: p, cat: cat}
}

// Result is the outcome of running one compiled program.
type Result struct {
	Columns      []string
	Rows         []Row
	RowsAffected int
}

// Run interprets prog from pc 0 until Halt, implementing the
// switch-over-opcode interpreter loop.
func (ex *Executor) Run(prog *Program, resultColumns []string) (*Result, error) {
	if pc, bad := prog.unresolved(); bad {
		return nil, dbutil.New(dbutil.KindInternal, "vm: unresolved jump target at pc %d", pc)
	}

	ex.cursors = make(map[int]*cursorSlot)
	ex.accs = make(map[int]*accumulator)
	ex.ctx = make(rowContext)
	ex.rows = nil
	ex.pendingDeletes = make(map[int][][]byte)
	ex.pendingUpdates = make(map[int][]pendingUpdate)
	ex.rowsAffected = 0

	pc := 0
	for pc < len(prog.Instrs) {
		instr := prog.Instrs[pc]
		next := pc + 1

		switch instr.Op {
		case OpTableScan:
			if err := ex.execTableScan(instr); err != nil {
				return nil, err
			}

		case OpRewind:
			empty, err := ex.execRewind(instr)
			if err != nil {
				return nil, err
			}
			if empty {
				next = instr.B
			}

		case OpNext:
			done, err := ex.execNext(instr)
			if err != nil {
				return nil, err
			}
			if done {
				next = instr.B
			}

		case OpColumn:
			slot := ex.cursors[instr.A]
			if slot == nil || instr.B >= len(slot.row) {
				return nil, dbutil.New(dbutil.KindInternal, "vm: Column references an unpositioned cursor %d", instr.A)
			}
			ex.regs[instr.C] = slot.row[instr.B]

		case OpEval:
			v, err := eval(instr.Expr, ex.ctx, ex.regs[:])
			if err != nil {
				return nil, err
			}
			ex.regs[instr.A] = v

		case OpFilter:
			v, err := eval(instr.Expr, ex.ctx, ex.regs[:])
			if err != nil {
				return nil, err
			}
			if v.IsNull() || !v.Truthy() {
				next = instr.A
			}

		case OpResultRow:
			row := make(Row, instr.B)
			copy(row, ex.regs[instr.A:instr.A+instr.B])
			ex.rows = append(ex.rows, row)

		case OpInsert:
			if err := ex.execInsert(instr); err != nil {
				return nil, err
			}

		case OpDelete:
			slot := ex.cursors[instr.A]
			if slot == nil || !slot.cursor.Valid() {
				return nil, dbutil.New(dbutil.KindInternal, "vm: Delete on an unpositioned cursor %d", instr.A)
			}
			key := append([]byte(nil), slot.cursor.Key()...)
			ex.pendingDeletes[instr.A] = append(ex.pendingDeletes[instr.A], key)
			ex.rowsAffected++

		case OpUpdate:
			if err := ex.execUpdate(instr); err != nil {
				return nil, err
			}

		case OpAggregate:
			if err := ex.execAggregate(instr); err != nil {
				return nil, err
			}

		case OpFinalizeAggregate:
			acc := ex.accs[instr.A]
			if acc == nil {
				return nil, dbutil.New(dbutil.KindInternal, "vm: FinalizeAggregate on unknown accumulator %d", instr.A)
			}
			ex.regs[instr.B] = acc.finalize()

		case OpSort:
			sortRows(ex.rows, instr.Keys)

		case OpLimit:
			ex.rows = limitRows(ex.rows, instr.A, instr.B)

		case OpGoto:
			next = instr.A

		case OpHalt:
			if err := ex.flushPending(); err != nil {
				return nil, err
			}
			return &Result{Columns: resultColumns, Rows: ex.rows, RowsAffected: ex.rowsAffected}, nil

		default:
			return nil, dbutil.New(dbutil.KindInternal, "vm: unknown opcode %v", instr.Op)
		}

		pc = next
	}

	if err := ex.flushPending(); err != nil {
		return nil, err
	}
	return &Result{Columns: resultColumns, Rows: ex.rows, RowsAffected: ex.rowsAffected}, nil
}

func (ex *Executor) execTableScan(instr Instr) error {
	schema, err := ex.cat.GetTable(instr.Table)
	if err != nil {
		return err
	}
	tree := btree.New(ex.pager, schema.RootPageID)
	ex.cursors[instr.A] = &cursorSlot{tree: tree, cursor: btree.NewCursor(tree), schema: schema}
	return nil
}

func (ex *Executor) execRewind(instr Instr) (empty bool, err error) {
	slot := ex.cursors[instr.A]
	if slot == nil {
		return false, dbutil.New(dbutil.KindInternal, "vm: Rewind on unopened cursor %d", instr.A)
	}
	if err := slot.cursor.SeekFirst(); err != nil {
		return false, err
	}
	ex.refreshRow(slot)
	return !slot.cursor.Valid(), nil
}

func (ex *Executor) execNext(instr Instr) (done bool, err error) {
	slot := ex.cursors[instr.A]
	if slot == nil {
		return false, dbutil.New(dbutil.KindInternal, "vm: Next on unopened cursor %d", instr.A)
	}
	if err := slot.cursor.Next(); err != nil {
		return false, err
	}
	ex.refreshRow(slot)
	return !slot.cursor.Valid(), nil
}

// refreshRow decodes the cursor's current payload (if any) and republishes
// its column values under the executor's shared row context, by name, for
// the expression evaluator's ColumnRef resolution.
func (ex *Executor) refreshRow(slot *cursorSlot) {
	if !slot.cursor.Valid() {
		slot.row = nil
		return
	}
	values, err := record.Decode(slot.cursor.Payload())
	if err != nil {
		slot.row = nil
		return
	}
	slot.row = values
	for i, col := range slot.schema.Columns {
		if i < len(values) {
			ex.ctx[col.Name] = values[i]
		}
	}
}

func (ex *Executor) execAggregate(instr Instr) error {
	acc := ex.accs[instr.A]
	if acc == nil {
		acc = newAccumulator(instr.Agg)
		ex.accs[instr.A] = acc
	}
	if instr.Expr == nil {
		return acc.add(record.Value{}, true)
	}
	v, err := eval(instr.Expr, ex.ctx, ex.regs[:])
	if err != nil {
		return err
	}
	return acc.add(v, false)
}

func (ex *Executor) flushPending() error {
	for cursorID, keys := range ex.pendingDeletes {
		slot := ex.cursors[cursorID]
		for _, key := range keys {
			if err := slot.tree.Delete(key); err != nil {
				return err
			}
		}
	}
	for cursorID, updates := range ex.pendingUpdates {
		slot := ex.cursors[cursorID]
		for _, u := range updates {
			if err := slot.tree.Delete(u.key); err != nil {
				return err
			}
			newKey := record.RowIDKey(rowidOf(slot.schema, u.values, u.key))
			if err := slot.tree.Insert(newKey, record.Encode(u.values)); err != nil {
				return err
			}
		}
	}
	return nil
}

// rowidOf returns the rowid a row with the given column values should be
// keyed under: the INTEGER PRIMARY KEY column's value if the table has
// one, else the rowid already encoded in the row's current key.
func rowidOf(schema *catalog.TableSchema, values []record.Value, currentKey []byte) int64 {
	if idx := schema.PrimaryKeyIndex(); idx >= 0 && idx < len(values) {
		return values[idx].Int()
	}
	return record.DecodeRowIDKey(currentKey)
}
