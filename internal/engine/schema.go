package engine

import (
	"database/sql"
	"fmt"
	"strings"
)

// ColumnSpec describes one column of an object table.
type ColumnSpec struct {
	Name    string
	SQLType string // TEXT, INTEGER, or REAL
	Unique  bool   // enforced with a unique index (primary-key properties)

	// RefTable names the object table this column references for
	// single-link columns. Deleting a referenced row nulls the column.
	RefTable string
}

// TableSpec describes one object table. Every object table additionally
// carries an implicit "_rid INTEGER PRIMARY KEY AUTOINCREMENT" column.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
}

// LinkSpec describes one ordered link table backing a list property.
type LinkSpec struct {
	Table       string // SQL table name
	OwnerTable  string // object table of the owning type
	TargetTable string // object table of the target type
	OwnerProp   string // logical property name on the owning type
}

// ensureSchema creates missing tables and columns and verifies that
// existing columns are compatible with the requested schema.
//
// Evolution is additive: requested columns missing on disk are added with
// ALTER TABLE; on-disk columns absent from the request are left in place
// and simply not exposed. A read-only open cannot alter the file, so any
// missing table or column is a mismatch there.
func ensureSchema(db *sql.DB, tables []TableSpec, links []LinkSpec, opts Options) error {
	for _, t := range tables {
		if err := ensureTable(db, t, opts.ReadOnly); err != nil {
			return err
		}
	}
	for _, l := range links {
		if err := ensureLinkTable(db, l, opts.ReadOnly); err != nil {
			return err
		}
	}
	if opts.ReadOnly {
		return nil
	}

	var existing uint64
	if err := db.QueryRow("PRAGMA user_version").Scan(&existing); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if opts.SchemaVersion > existing {
		stmt := fmt.Sprintf("PRAGMA user_version = %d", opts.SchemaVersion)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

func ensureTable(db *sql.DB, t TableSpec, readOnly bool) error {
	existing, err := tableColumns(db, t.Name)
	if err != nil {
		return err
	}

	if existing == nil {
		if readOnly {
			return &SchemaMismatchError{Table: t.Name, Column: "_rid", Message: "table missing from read-only store"}
		}
		var defs []string
		defs = append(defs, `_rid INTEGER PRIMARY KEY AUTOINCREMENT`)
		for _, c := range t.Columns {
			defs = append(defs, quoteIdent(c.Name)+" "+c.SQLType)
		}
		stmt := `CREATE TABLE ` + quoteIdent(t.Name) + ` (` + strings.Join(defs, ", ") + `)`
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	} else {
		for _, c := range t.Columns {
			got, ok := existing[c.Name]
			if !ok {
				if readOnly {
					return &SchemaMismatchError{Table: t.Name, Column: c.Name, Message: "column missing from read-only store"}
				}
				stmt := `ALTER TABLE ` + quoteIdent(t.Name) + ` ADD COLUMN ` + quoteIdent(c.Name) + ` ` + c.SQLType
				if _, err := db.Exec(stmt); err != nil {
					return fmt.Errorf("add column %s.%s: %w", t.Name, c.Name, err)
				}
				continue
			}
			if !strings.EqualFold(got, c.SQLType) {
				return &SchemaMismatchError{
					Table:   t.Name,
					Column:  c.Name,
					Message: fmt.Sprintf("declared %s, store has %s", c.SQLType, got),
				}
			}
		}
	}

	if readOnly {
		return nil
	}
	for _, c := range t.Columns {
		if !c.Unique {
			continue
		}
		stmt := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)`,
			quoteIdent("idx_"+t.Name+"_"+c.Name), quoteIdent(t.Name), quoteIdent(c.Name))
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create unique index on %s.%s: %w", t.Name, c.Name, err)
		}
	}
	return nil
}

func ensureLinkTable(db *sql.DB, l LinkSpec, readOnly bool) error {
	existing, err := tableColumns(db, l.Table)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if readOnly {
		return &SchemaMismatchError{Table: l.Table, Column: "owner", Message: "link table missing from read-only store"}
	}
	stmt := `CREATE TABLE ` + quoteIdent(l.Table) + ` (
		owner INTEGER NOT NULL,
		pos INTEGER NOT NULL,
		target INTEGER NOT NULL
	)`
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("create link table %s: %w", l.Table, err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (owner, pos)`,
		quoteIdent("idx_"+l.Table+"_owner"), quoteIdent(l.Table))
	if _, err := db.Exec(idx); err != nil {
		return fmt.Errorf("create link index on %s: %w", l.Table, err)
	}
	return nil
}

// tableColumns returns column name to declared type for a table, or nil if
// the table does not exist.
func tableColumns(db *sql.DB, table string) (map[string]string, error) {
	rows, err := db.Query(`SELECT name, type FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("table info for %s: %w", table, err)
	}
	defer rows.Close()

	cols := map[string]string{}
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		cols[name] = typ
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info: %w", err)
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return cols, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
