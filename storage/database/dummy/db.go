package dummydb

import (
	"context"
	"database/sql"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/allocation"
	"github.com/trezcool/miradi/core/group"
	"github.com/trezcool/miradi/core/project"
	"github.com/trezcool/miradi/core/student"
	"github.com/trezcool/miradi/core/supervisor"
	"github.com/trezcool/miradi/core/user"
)

var errRawSQL = errors.New("dummydb: raw SQL is not supported")

type tables struct {
	users       map[string]user.User
	students    map[string]student.Student
	supervisors map[string]supervisor.Supervisor
	projects    map[string]project.Project
	groups      map[string]group.Group
	splits      map[string]group.SplitRequest
	preferences map[string]allocation.Preference
	allocations map[string]allocation.Allocation
}

func newTables() *tables {
	return &tables{
		users:       make(map[string]user.User),
		students:    make(map[string]student.Student),
		supervisors: make(map[string]supervisor.Supervisor),
		projects:    make(map[string]project.Project),
		groups:      make(map[string]group.Group),
		splits:      make(map[string]group.SplitRequest),
		preferences: make(map[string]allocation.Preference),
		allocations: make(map[string]allocation.Allocation),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for id, usr := range t.users {
		usr.Roles = append([]string(nil), usr.Roles...)
		usr.PasswordHash = append([]byte(nil), usr.PasswordHash...)
		c.users[id] = usr
	}
	for id, std := range t.students {
		c.students[id] = std
	}
	for id, sup := range t.supervisors {
		c.supervisors[id] = sup
	}
	for id, prj := range t.projects {
		prj.RequiredSkills = append([]string(nil), prj.RequiredSkills...)
		c.projects[id] = prj
	}
	for id, grp := range t.groups {
		grp.Members = append([]group.Member(nil), grp.Members...)
		grp.SharedPasswordHash = append([]byte(nil), grp.SharedPasswordHash...)
		c.groups[id] = grp
	}
	for id, req := range t.splits {
		c.splits[id] = req
	}
	for id, pref := range t.preferences {
		c.preferences[id] = pref
	}
	for id, alloc := range t.allocations {
		c.allocations[id] = alloc
	}
	return c
}

// DB is an in-memory store with single-writer transactions: BeginTx takes the
// store lock and snapshots every table; Rollback restores the snapshot. Good
// enough to exercise service-level atomicity without a running database.
type DB struct {
	noSQL
	mu   sync.Mutex
	data *tables
}

var _ core.DB = (*DB)(nil) // interface compliance check

func Open() *DB {
	return &DB{data: newTables()}
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.DBTransactor, error) {
	db.mu.Lock()
	return &Tx{db: db, snapshot: db.data.clone()}, nil
}

// tables returns the live table set; callers outside a transaction get the
// store lock for the duration of the call.
func (db *DB) tables(exec []core.DBExecutor) (*tables, func()) {
	if len(exec) > 0 {
		if _, ok := exec[0].(*Tx); ok {
			return db.data, func() {}
		}
	}
	db.mu.Lock()
	return db.data, db.mu.Unlock
}

type Tx struct {
	noSQL
	db       *DB
	snapshot *tables
	done     bool
}

var _ core.DBTransactor = (*Tx)(nil) // interface compliance check

func (tx *Tx) Commit() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	tx.db.mu.Unlock()
	return nil
}

func (tx *Tx) Rollback() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.db.data = tx.snapshot
	tx.done = true
	tx.db.mu.Unlock()
	return nil
}

// noSQL satisfies core.DBExecutor; the dummy repositories work on the maps
// directly and never issue SQL.
type noSQL struct{}

func (noSQL) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errRawSQL
}
func (noSQL) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errRawSQL
}
func (noSQL) QueryxContext(context.Context, string, ...interface{}) (*sqlx.Rows, error) {
	return nil, errRawSQL
}
func (noSQL) QueryRowxContext(context.Context, string, ...interface{}) *sqlx.Row {
	return nil
}
