// Seed creates a small sample database (students, courses, grades) and
// runs a few SELECTs against it, for exercising the engine end to end.
// Usage: seed <path-to.db>
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"daemondb/engine"
	"daemondb/record"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <db-file>\n", os.Args[0])
		os.Exit(1)
	}

	db, err := engine.Open(os.Args[1])
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer db.Close()

	statements := []string{
		`CREATE TABLE students (id INTEGER PRIMARY KEY, name TEXT NOT NULL, age INTEGER)`,
		`INSERT INTO students VALUES (NULL, 'Alice', 20)`,
		`INSERT INTO students VALUES (NULL, 'Bob', 21)`,
		`INSERT INTO students VALUES (NULL, 'Carol', 19)`,
		`CREATE TABLE courses (code TEXT PRIMARY KEY, title TEXT NOT NULL)`,
		`INSERT INTO courses VALUES ('CS101', 'Intro to CS')`,
		`INSERT INTO courses VALUES ('CS102', 'Data Structures')`,
		`CREATE TABLE grades (id INTEGER PRIMARY KEY, course_code TEXT NOT NULL, grade TEXT NOT NULL)`,
		`INSERT INTO grades VALUES (NULL, 'CS101', 'A')`,
		`INSERT INTO grades VALUES (NULL, 'CS102', 'B')`,
		`INSERT INTO grades VALUES (NULL, 'CS101', 'A')`,
	}
	for _, sql := range statements {
		if _, err := db.Execute(sql); err != nil {
			log.Fatalf("execute %q: %v", sql, err)
		}
	}

	for _, table := range []string{"students", "courses", "grades"} {
		fmt.Printf("\n--- SELECT * FROM %s ---\n", table)
		res, err := db.Execute("SELECT * FROM " + table)
		if err != nil {
			log.Fatalf("select %s: %v", table, err)
		}
		printResult(res)
	}
}

func printResult(res *engine.QueryResult) {
	fmt.Println(strings.Join(res.Columns, " | "))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		fmt.Println(strings.Join(cells, " | "))
	}
}

func formatValue(v record.Value) string {
	switch v.Kind() {
	case record.Null:
		return "NULL"
	case record.Integer:
		return fmt.Sprintf("%d", v.Int())
	case record.Real:
		return fmt.Sprintf("%g", v.Real())
	case record.Text:
		return v.Text()
	case record.Blob:
		return fmt.Sprintf("%x", v.Blob())
	default:
		return ""
	}
}
