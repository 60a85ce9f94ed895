// Package sqlkv implements enginekv.KV on top of an *sql.DB, generalizing
// the teacher's three separate pkg/sorted/{mysql,postgres,sqlite}
// backends (which each wrapped pkg/sorted/sqlkv for their dialect) into
// one dialect-parameterized adapter over a single "rows(k BLOB, v BLOB)"
// table.
package sqlkv

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	// Drivers registered with database/sql; each corresponds to an
	// enginekv engine name ("mysql", "postgres", "sqlite").
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"centidb.dev/centidb/enginekv"
	"centidb.dev/centidb/jsonconfig"
)

func init() {
	enginekv.Register("mysql", func(cfg jsonconfig.Obj) (enginekv.KV, error) {
		return newFromConfig("mysql", cfg)
	})
	enginekv.Register("postgres", func(cfg jsonconfig.Obj) (enginekv.KV, error) {
		return newFromConfig("postgres", cfg)
	})
	enginekv.Register("sqlite", func(cfg jsonconfig.Obj) (enginekv.KV, error) {
		return newFromConfig("sqlite", cfg)
	})
}

// dialect captures the handful of ways SQL engines disagree on DDL/DML
// syntax for an opaque key/value table.
type dialect struct {
	driver      string
	placeholder func(n int) string // 1-based arg index -> placeholder text
	createTable string
	upsert      string // uses placeholder(1), placeholder(2)
}

func dialectFor(name string) dialect {
	switch name {
	case "postgres":
		return dialect{
			driver:      "postgres",
			placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
			createTable: `CREATE TABLE IF NOT EXISTS rows (k BYTEA PRIMARY KEY, v BYTEA NOT NULL)`,
			upsert: `INSERT INTO rows (k, v) VALUES ($1, $2)
				ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`,
		}
	case "sqlite":
		return dialect{
			driver:      "sqlite",
			placeholder: func(int) string { return "?" },
			createTable: `CREATE TABLE IF NOT EXISTS rows (k BLOB PRIMARY KEY, v BLOB NOT NULL)`,
			upsert:      `REPLACE INTO rows (k, v) VALUES (?, ?)`,
		}
	default: // mysql
		return dialect{
			driver:      "mysql",
			placeholder: func(int) string { return "?" },
			createTable: `CREATE TABLE IF NOT EXISTS rows (k VARBINARY(1024) PRIMARY KEY, v LONGBLOB NOT NULL)`,
			upsert:      `REPLACE INTO rows (k, v) VALUES (?, ?)`,
		}
	}
}

// newFromConfig opens a new *sql.DB using dsn and ensures the rows
// table exists.
func newFromConfig(engine string, cfg jsonconfig.Obj) (enginekv.KV, error) {
	dsn := cfg.RequiredString("dsn")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := dialectFor(engine)
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlkv: open %s", engine)
	}
	if _, err := db.Exec(d.createTable); err != nil {
		return nil, errors.Wrapf(err, "sqlkv: create table (%s)", engine)
	}
	return &kv{db: db, dialect: d}, nil
}

type kv struct {
	db      *sql.DB
	dialect dialect
}

func (k *kv) Get(key []byte) ([]byte, error) {
	var v []byte
	err := k.db.QueryRow("SELECT v FROM rows WHERE k = "+k.dialect.placeholder(1), key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, enginekv.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlkv: get")
	}
	return v, nil
}

func (k *kv) Put(key, value []byte) error {
	_, err := k.db.Exec(k.dialect.upsert, key, value)
	return errors.Wrap(err, "sqlkv: put")
}

func (k *kv) Delete(key []byte) error {
	_, err := k.db.Exec("DELETE FROM rows WHERE k = "+k.dialect.placeholder(1), key)
	return errors.Wrap(err, "sqlkv: delete")
}

func (k *kv) TxnID() any   { return nil }
func (k *kv) Close() error { return k.db.Close() }

func (k *kv) Range(start []byte, reverse bool) enginekv.Iterator {
	order := "ASC"
	cmp := ">="
	if reverse {
		order = "DESC"
		cmp = "<="
	}
	var rows *sql.Rows
	var err error
	if len(start) == 0 {
		rows, err = k.db.Query(fmt.Sprintf("SELECT k, v FROM rows ORDER BY k %s", order))
	} else {
		rows, err = k.db.Query(
			fmt.Sprintf("SELECT k, v FROM rows WHERE k %s %s ORDER BY k %s", cmp, k.dialect.placeholder(1), order),
			start)
	}
	if err != nil {
		return &iter{err: errors.Wrap(err, "sqlkv: range query")}
	}
	return &iter{rows: rows}
}

type iter struct {
	rows     *sql.Rows
	err      error
	key, val []byte
}

func (it *iter) Next() bool {
	if it.err != nil || it.rows == nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	if err := it.rows.Scan(&it.key, &it.val); err != nil {
		it.err = err
		return false
	}
	return true
}

func (it *iter) Key() []byte   { return it.key }
func (it *iter) Value() []byte { return it.val }
func (it *iter) Err() error    { return it.err }
func (it *iter) Close() error {
	if it.rows != nil {
		return it.rows.Close()
	}
	return nil
}
