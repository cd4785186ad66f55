// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"github.com/mattn/go-sqlite3"
)

var logger = loggo.GetLogger("juju.http-interface.storage")

const (
	busyTimeout = 5 * time.Second

	txnAttempts = 5
	txnDelay    = 50 * time.Millisecond
)

var schemaDDL = []string{`
CREATE TABLE IF NOT EXISTS snapshot (
    handle TEXT NOT NULL PRIMARY KEY,
    data   TEXT NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS notice (
    sequence      INTEGER PRIMARY KEY AUTOINCREMENT,
    event_path    TEXT NOT NULL,
    observer_path TEXT NOT NULL,
    emitted_at    INTEGER NOT NULL,
    UNIQUE (event_path, observer_path)
);`,
}

type dbSnapshot struct {
	Handle string `db:"handle"`
	Data   string `db:"data"`
}

type dbNotice struct {
	Sequence     int64  `db:"sequence"`
	EventPath    string `db:"event_path"`
	ObserverPath string `db:"observer_path"`
	EmittedAt    int64  `db:"emitted_at"`
}

func (n dbNotice) toNotice() Notice {
	return Notice{
		EventPath:    n.EventPath,
		ObserverPath: n.ObserverPath,
		Emitted:      time.Unix(0, n.EmittedAt).UTC(),
	}
}

type statements struct {
	saveSnapshot *sqlair.Statement
	loadSnapshot *sqlair.Statement
	dropSnapshot *sqlair.Statement
	saveNotice   *sqlair.Statement
	notices      *sqlair.Statement
	dropNotice   *sqlair.Statement
}

func prepareStatements() (statements, error) {
	var (
		stmts statements
		err   error
	)
	prepare := func(query string, typeSamples ...any) *sqlair.Statement {
		if err != nil {
			return nil
		}
		var stmt *sqlair.Statement
		stmt, err = sqlair.Prepare(query, typeSamples...)
		return stmt
	}
	stmts.saveSnapshot = prepare(`
INSERT INTO snapshot (handle, data)
VALUES ($dbSnapshot.handle, $dbSnapshot.data)
ON CONFLICT (handle) DO UPDATE SET data = excluded.data`, dbSnapshot{})
	stmts.loadSnapshot = prepare(`
SELECT &dbSnapshot.*
FROM   snapshot
WHERE  handle = $dbSnapshot.handle`, dbSnapshot{})
	stmts.dropSnapshot = prepare(`
DELETE FROM snapshot WHERE handle = $dbSnapshot.handle`, dbSnapshot{})
	stmts.saveNotice = prepare(`
INSERT INTO notice (event_path, observer_path, emitted_at)
VALUES ($dbNotice.event_path, $dbNotice.observer_path, $dbNotice.emitted_at)
ON CONFLICT (event_path, observer_path) DO NOTHING`, dbNotice{})
	stmts.notices = prepare(`
SELECT &dbNotice.*
FROM   notice
ORDER BY sequence`, dbNotice{})
	stmts.dropNotice = prepare(`
DELETE FROM notice
WHERE  event_path = $dbNotice.event_path
AND    observer_path = $dbNotice.observer_path`, dbNotice{})
	return stmts, errors.Annotate(err, "preparing statements")
}

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	sqlDB *sql.DB
	db    *sqlair.DB
	stmts statements
	clock clock.Clock
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens, creating if necessary, the database at path.
func OpenSQLiteStore(ctx context.Context, path string, clk clock.Clock) (*SQLiteStore, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", path, busyTimeout.Milliseconds())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Annotatef(err, "opening state database %q", path)
	}
	// Hooks for a unit never run concurrently.
	sqlDB.SetMaxOpenConns(1)

	for _, ddl := range schemaDDL {
		if _, err := sqlDB.ExecContext(ctx, ddl); err != nil {
			_ = sqlDB.Close()
			return nil, errors.Annotatef(err, "creating schema in %q", path)
		}
	}
	stmts, err := prepareStatements()
	if err != nil {
		_ = sqlDB.Close()
		return nil, errors.Trace(err)
	}
	logger.Debugf("opened state database %q", path)
	return &SQLiteStore{
		sqlDB: sqlDB,
		db:    sqlair.NewDB(sqlDB),
		stmts: stmts,
		clock: clk,
	}, nil
}

// SaveSnapshot is part of the Store interface.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, handle string, data []byte) error {
	arg := dbSnapshot{Handle: handle, Data: string(data)}
	err := s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, s.stmts.saveSnapshot, arg).Run()
	})
	return errors.Annotatef(err, "saving snapshot %q", handle)
}

// LoadSnapshot is part of the Store interface.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, handle string) ([]byte, error) {
	result := dbSnapshot{Handle: handle}
	err := s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, s.stmts.loadSnapshot, result).Get(&result)
	})
	if errors.Is(err, sqlair.ErrNoRows) {
		return nil, errors.NotFoundf("snapshot %q", handle)
	} else if err != nil {
		return nil, errors.Annotatef(err, "loading snapshot %q", handle)
	}
	return []byte(result.Data), nil
}

// DropSnapshot is part of the Store interface.
func (s *SQLiteStore) DropSnapshot(ctx context.Context, handle string) error {
	arg := dbSnapshot{Handle: handle}
	err := s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, s.stmts.dropSnapshot, arg).Run()
	})
	return errors.Annotatef(err, "dropping snapshot %q", handle)
}

// SaveNotice is part of the Store interface.
func (s *SQLiteStore) SaveNotice(ctx context.Context, notice Notice) error {
	emitted := notice.Emitted
	if emitted.IsZero() {
		emitted = s.clock.Now()
	}
	arg := dbNotice{
		EventPath:    notice.EventPath,
		ObserverPath: notice.ObserverPath,
		EmittedAt:    emitted.UnixNano(),
	}
	err := s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, s.stmts.saveNotice, arg).Run()
	})
	return errors.Annotatef(err, "saving notice for %q", notice.EventPath)
}

// Notices is part of the Store interface.
func (s *SQLiteStore) Notices(ctx context.Context) ([]Notice, error) {
	var rows []dbNotice
	err := s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, s.stmts.notices).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, errors.Annotate(err, "reading notices")
	}
	notices := make([]Notice, len(rows))
	for i, row := range rows {
		notices[i] = row.toNotice()
	}
	return notices, nil
}

// DropNotice is part of the Store interface.
func (s *SQLiteStore) DropNotice(ctx context.Context, notice Notice) error {
	arg := dbNotice{
		EventPath:    notice.EventPath,
		ObserverPath: notice.ObserverPath,
	}
	err := s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, s.stmts.dropNotice, arg).Run()
	})
	return errors.Annotatef(err, "dropping notice for %q", notice.EventPath)
}

// Close is part of the Store interface.
func (s *SQLiteStore) Close() error {
	return errors.Trace(s.sqlDB.Close())
}

// txn runs fn in a transaction, retrying while the database is busy.
func (s *SQLiteStore) txn(ctx context.Context, fn func(context.Context, *sqlair.TX) error) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			tx, err := s.db.Begin(ctx, nil)
			if err != nil {
				return errors.Trace(err)
			}
			if err := fn(ctx, tx); err != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					logger.Warningf("rolling back transaction: %v", rbErr)
				}
				return errors.Trace(err)
			}
			return errors.Trace(tx.Commit())
		},
		IsFatalError: func(err error) bool {
			return !isErrRetryable(err)
		},
		NotifyFunc: func(lastErr error, attempt int) {
			logger.Debugf("state database busy (attempt %d): %v", attempt, lastErr)
		},
		Attempts: txnAttempts,
		Delay:    txnDelay,
		Clock:    s.clock,
		Stop:     ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		err = retry.LastError(err)
	}
	return err
}

// isErrRetryable returns true if the error indicates that the database
// was busy and the transaction can be tried again.
func isErrRetryable(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "cannot start a transaction within a transaction")
}
