package vm

import (
	"daemondb/btree"
	"daemondb/catalog"
	"daemondb/internal/dbutil"
	"daemondb/record"
)

// execInsert implements the Insert opcode's constraint enforcement:
// NOT NULL, UNIQUE/PRIMARY KEY uniqueness (by full scan; indexes are
// reserved), and auto-increment assignment of a NULL INTEGER PRIMARY KEY.
func (ex *Executor) execInsert(instr Instr) error {
	slot := ex.cursors[instr.A]
	if slot == nil {
		return dbutil.New(dbutil.KindInternal, "vm: Insert on unopened cursor %d", instr.A)
	}
	schema := slot.schema
	values := make([]record.Value, instr.C)
	copy(values, ex.regs[instr.B:instr.B+instr.C])

	pkIdx := schema.PrimaryKeyIndex()
	var rowid int64
	if pkIdx >= 0 {
		pk := values[pkIdx]
		switch {
		case pk.IsNull():
			rowid = schema.LastInsertID + 1
			values[pkIdx] = record.NewInt(rowid)
		case pk.Kind() == record.Integer:
			rowid = pk.Int()
		default:
			return dbutil.New(dbutil.KindType, "primary key column %q must be INTEGER, got %v", schema.Columns[pkIdx].Name, pk.Kind())
		}
	} else {
		rowid = schema.LastInsertID + 1
	}

	for i, col := range schema.Columns {
		if col.NotNull && values[i].IsNull() {
			return dbutil.ConstraintErrorf(col.Name, "NOT NULL violation on insert into %q", schema.Name)
		}
	}
	for i, col := range schema.Columns {
		if !col.Unique && !col.PrimaryKey {
			continue
		}
		if values[i].IsNull() {
			continue
		}
		dup, err := columnValueExists(slot.tree, schema, i, values[i], -1)
		if err != nil {
			return err
		}
		if dup {
			return dbutil.ConstraintErrorf(col.Name, "UNIQUE violation on %q.%q", schema.Name, col.Name)
		}
	}

	key := record.RowIDKey(rowid)
	if err := slot.tree.Insert(key, record.Encode(values)); err != nil {
		return err
	}
	if rowid > schema.LastInsertID {
		schema.LastInsertID = rowid
		ex.cat.UpdateTable(schema)
		if err := ex.cat.Persist(); err != nil {
			return err
		}
	}
	ex.rowsAffected++
	return nil
}

// execUpdate enqueues the current cursor row's update for application
// after the scan loop closes (see flushPending), after validating the
// assignment against NOT NULL/UNIQUE the same way Insert does.
func (ex *Executor) execUpdate(instr Instr) error {
	slot := ex.cursors[instr.A]
	if slot == nil || !slot.cursor.Valid() {
		return dbutil.New(dbutil.KindInternal, "vm: Update on an unpositioned cursor %d", instr.A)
	}
	schema := slot.schema
	values := make([]record.Value, len(slot.row))
	copy(values, slot.row)
	currentKey := append([]byte(nil), slot.cursor.Key()...)

	for _, a := range instr.Assigns {
		v, err := eval(a.Expr, ex.ctx, ex.regs[:])
		if err != nil {
			return err
		}
		values[a.ColumnIndex] = v
	}

	for i, col := range schema.Columns {
		if col.NotNull && values[i].IsNull() {
			return dbutil.ConstraintErrorf(col.Name, "NOT NULL violation on update of %q", schema.Name)
		}
	}
	for i, col := range schema.Columns {
		if !col.Unique && !col.PrimaryKey {
			continue
		}
		if values[i].IsNull() {
			continue
		}
		dup, err := columnValueExists(slot.tree, schema, i, values[i], record.DecodeRowIDKey(currentKey))
		if err != nil {
			return err
		}
		if dup {
			return dbutil.ConstraintErrorf(col.Name, "UNIQUE violation on %q.%q", schema.Name, col.Name)
		}
	}

	if pkIdx := schema.PrimaryKeyIndex(); pkIdx >= 0 && values[pkIdx].Kind() != record.Integer {
		return dbutil.New(dbutil.KindType, "primary key column %q must be INTEGER", schema.Columns[pkIdx].Name)
	}

	ex.pendingUpdates[instr.A] = append(ex.pendingUpdates[instr.A], pendingUpdate{key: currentKey, values: values})
	ex.rowsAffected++
	return nil
}

// columnValueExists scans tree with a fresh cursor (so it never disturbs
// the caller's active scan position) looking for an existing row whose
// column colIdx equals want, other than the row keyed excludeRowid (used
// by Update to not reject a no-op reassignment of its own value).
func columnValueExists(tree *btree.Tree, schema *catalog.TableSchema, colIdx int, want record.Value, excludeRowid int64) (bool, error) {
	cursor := btree.NewCursor(tree)
	if err := cursor.SeekFirst(); err != nil {
		return false, err
	}
	for cursor.Valid() {
		if record.DecodeRowIDKey(cursor.Key()) != excludeRowid {
			values, err := record.Decode(cursor.Payload())
			if err != nil {
				return false, err
			}
			if colIdx < len(values) && values[colIdx].Equal(want) {
				return true, nil
			}
		}
		if err := cursor.Next(); err != nil {
			return false, err
		}
	}
	return false, nil
}
