package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/warehouse-tracker/internal/port"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection VARCHAR(128) NOT NULL,
	id         VARCHAR(64)  NOT NULL,
	data       JSON         NOT NULL,
	version    BIGINT       NOT NULL DEFAULT 1,
	created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	PRIMARY KEY (collection, id)
)`

// MySQLStore keeps every collection in one JSON documents table. Writes
// carry the version read earlier in the transaction (optimistic locking);
// a stale version or a deadlock surfaces as port.ErrConflict.
type MySQLStore struct {
	db       *sql.DB
	notifier port.ChangeNotifier
	logger   *zap.Logger
	clock    monotonicClock
}

func NewMySQLStore(db *sql.DB, notifier port.ChangeNotifier, logger *zap.Logger) *MySQLStore {
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MySQLStore{db: db, notifier: notifier, logger: logger}
}

func (m *MySQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, documentsSchema); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (m *MySQLStore) Get(ctx context.Context, collection, id string) (port.Document, error) {
	var data []byte
	err := m.db.QueryRowContext(ctx, `
		SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return port.Document{}, port.ErrNotFound
	}
	if err != nil {
		return port.Document{}, fmt.Errorf("query document: %w", err)
	}

	return port.Document{ID: id, Data: data}, nil
}

func (m *MySQLStore) QueryOrdered(ctx context.Context, collection, orderBy string, dir port.Direction) ([]port.Document, error) {
	if err := validateField(orderBy); err != nil {
		return nil, err
	}

	direction := "ASC"
	if dir == port.Descending {
		direction = "DESC"
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, data FROM documents
		WHERE collection = ?
		ORDER BY JSON_EXTRACT(data, ?) `+direction+`, id `+direction,
		collection, "$."+orderBy,
	)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []port.Document
	for rows.Next() {
		var doc port.Document
		if err := rows.Scan(&doc.ID, &doc.Data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// JSON_EXTRACT compares timestamps and decimals as strings.
	sortDocuments(docs, orderBy, dir)
	return docs, nil
}

func (m *MySQLStore) Add(ctx context.Context, collection string, data []byte) (string, error) {
	id := uuid.NewString()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, version) VALUES (?, ?, ?, 1)`,
		collection, id, string(data),
	)
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}

	m.publish(ctx, map[string]struct{}{collection: {}})
	return id, nil
}

func (m *MySQLStore) ServerTimestamp() time.Time {
	return m.clock.Now()
}

func (m *MySQLStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx port.Txn) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	t := &mysqlTxn{
		tx:       tx,
		versions: make(map[docKey]int64),
		touched:  make(map[string]struct{}),
	}
	if err := fn(ctx, t); err != nil {
		return mapMySQLError(err)
	}

	if err := tx.Commit(); err != nil {
		return mapMySQLError(fmt.Errorf("commit: %w", err))
	}

	m.publish(ctx, t.touched)
	return nil
}

func (m *MySQLStore) publish(ctx context.Context, collections map[string]struct{}) {
	for c := range collections {
		if err := m.notifier.Publish(ctx, c); err != nil {
			m.logger.Warn("change_publish_failed",
				zap.String("collection", c),
				zap.Error(err),
			)
		}
	}
}

// Subscribe re-queries the collection each time the notifier signals a change.
func (m *MySQLStore) Subscribe(ctx context.Context, collection, orderBy string, dir port.Direction, onChange func(port.Snapshot)) (func(), error) {
	if err := validateField(orderBy); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	signals, stop, err := m.notifier.Listen(ctx, collection)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("listen for changes: %w", err)
	}

	go func() {
		defer stop()
		query := func() {
			docs, err := m.QueryOrdered(ctx, collection, orderBy, dir)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Warn("snapshot_query_failed",
						zap.String("collection", collection),
						zap.Error(err),
					)
				}
				return
			}
			onChange(port.Snapshot{Collection: collection, Documents: docs})
		}

		query()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				query()
			}
		}
	}()

	return cancel, nil
}

type mysqlTxn struct {
	tx       *sql.Tx
	versions map[docKey]int64
	touched  map[string]struct{}
}

func (t *mysqlTxn) Get(ctx context.Context, collection, id string) (port.Document, error) {
	key := docKey{collection, id}

	var data []byte
	var version int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT data, version FROM documents WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&data, &version)

	if errors.Is(err, sql.ErrNoRows) {
		t.versions[key] = 0
		return port.Document{}, port.ErrNotFound
	}
	if err != nil {
		return port.Document{}, fmt.Errorf("query document: %w", err)
	}

	if _, seen := t.versions[key]; !seen {
		t.versions[key] = version
	}
	return port.Document{ID: id, Data: data}, nil
}

func (t *mysqlTxn) Set(ctx context.Context, collection, id string, data []byte) error {
	key := docKey{collection, id}
	t.touched[collection] = struct{}{}

	if version := t.versions[key]; version > 0 {
		result, err := t.tx.ExecContext(ctx, `
			UPDATE documents SET data = ?, version = version + 1
			WHERE collection = ? AND id = ? AND version = ?`,
			string(data), collection, id, version,
		)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		return t.advance(key, result)
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, version) VALUES (?, ?, ?, 1)`,
		collection, id, string(data),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	t.versions[key] = 1
	return nil
}

func (t *mysqlTxn) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	key := docKey{collection, id}
	version, seen := t.versions[key]
	if seen && version == 0 {
		return port.ErrNotFound
	}

	merged, err := mergePatch([]byte("{}"), patch)
	if err != nil {
		return err
	}
	t.touched[collection] = struct{}{}

	if !seen {
		result, err := t.tx.ExecContext(ctx, `
			UPDATE documents SET data = JSON_MERGE_PATCH(data, ?), version = version + 1
			WHERE collection = ? AND id = ?`,
			string(merged), collection, id,
		)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return port.ErrNotFound
		}
		return nil
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE documents SET data = JSON_MERGE_PATCH(data, ?), version = version + 1
		WHERE collection = ? AND id = ? AND version = ?`,
		string(merged), collection, id, version,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return t.advance(key, result)
}

func (t *mysqlTxn) Delete(ctx context.Context, collection, id string) error {
	key := docKey{collection, id}
	t.touched[collection] = struct{}{}

	query := `DELETE FROM documents WHERE collection = ? AND id = ?`
	args := []any{collection, id}
	if version := t.versions[key]; version > 0 {
		query += ` AND version = ?`
		args = append(args, version)
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if t.versions[key] > 0 {
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return port.ErrConflict
		}
	}
	t.versions[key] = 0
	return nil
}

// advance records our own write so later statements in the transaction
// compare against the new version.
func (t *mysqlTxn) advance(key docKey, result sql.Result) error {
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrConflict
	}
	t.versions[key]++
	return nil
}

func mapMySQLError(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout, mysqlErrDuplicateEntry:
			return fmt.Errorf("%w: %v", port.ErrConflict, err)
		}
	}
	return err
}
