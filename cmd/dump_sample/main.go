// dump_sample seeds a fresh sample database and dumps every table's
// B+Tree index in key order to sample_run_output.txt.
// Usage: dump_sample <path-to.db>
package main

import (
	"fmt"
	"os"
	"strings"

	"daemondb/btree"
	"daemondb/engine"
	"daemondb/record"
)

const outputFile = "sample_run_output.txt"

var seedStatements = []string{
	`CREATE TABLE students (id INTEGER PRIMARY KEY, name TEXT NOT NULL, age INTEGER)`,
	`INSERT INTO students VALUES (NULL, 'Alice', 20)`,
	`INSERT INTO students VALUES (NULL, 'Bob', 21)`,
	`INSERT INTO students VALUES (NULL, 'Carol', 19)`,
	`CREATE TABLE courses (code TEXT PRIMARY KEY, title TEXT NOT NULL)`,
	`INSERT INTO courses VALUES ('CS101', 'Intro to CS')`,
	`INSERT INTO courses VALUES ('CS102', 'Data Structures')`,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <db-file>\n", os.Args[0])
		os.Exit(1)
	}
	dbPath := os.Args[1]
	os.Remove(dbPath)
	os.Remove(strings.TrimSuffix(dbPath, ".db") + ".wal")

	if err := run(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Output written to %s\n", outputFile)
}

func run(dbPath string) error {
	db, err := engine.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, sql := range seedStatements {
		if _, err := db.Execute(sql); err != nil {
			return fmt.Errorf("execute %q: %w", sql, err)
		}
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, table := range db.ListTables() {
		fmt.Fprintf(f, "\n========== %s ==========\n", table)
		if err := dumpTable(f, db, table); err != nil {
			return err
		}
	}
	return nil
}

func dumpTable(f *os.File, db *engine.Engine, table string) error {
	schema, err := db.Schema(table)
	if err != nil {
		return err
	}
	fmt.Fprintf(f, "root page %d, %d columns\n", schema.RootPageID, len(schema.Columns))

	tree := btree.New(db.Pager(), schema.RootPageID)
	cur := btree.NewCursor(tree)
	if err := cur.SeekFirst(); err != nil {
		return err
	}
	count := 0
	for cur.Valid() {
		values, err := record.Decode(cur.Payload())
		if err != nil {
			return err
		}
		fmt.Fprintf(f, "%x -> %s\n", cur.Key(), formatRow(values))
		count++
		if err := cur.Next(); err != nil {
			return err
		}
	}
	fmt.Fprintf(f, "%d entries\n", count)
	return nil
}

func formatRow(values []record.Value) string {
	s := "["
	for i, v := range values {
		if i > 0 {
			s += ", "
		}
		switch v.Kind() {
		case record.Null:
			s += "NULL"
		case record.Integer:
			s += fmt.Sprintf("%d", v.Int())
		case record.Real:
			s += fmt.Sprintf("%g", v.Real())
		case record.Text:
			s += fmt.Sprintf("%q", v.Text())
		case record.Blob:
			s += fmt.Sprintf("%x", v.Blob())
		}
	}
	return s + "]"
}

