package store

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// Key layout. State values live under statePrefix; bookkeeping lives under
// metaPrefix and is never visible through Get.
var (
	statePrefix      = []byte("state/")
	metaPrefix       = []byte("meta/")
	schemaVersionKey = []byte("meta/schema-version")
)

// LevelDB is a Store backed by a LevelDB database with a versioned schema.
type LevelDB struct {
	db      *leveldb.DB
	version int
}

var _ Store = (*LevelDB)(nil)

// LevelDBOption configures OpenLevelDB.
type LevelDBOption func(*levelConfig)

type levelConfig struct {
	options    *opt.Options
	migrations []Migration
}

// WithMigrations replaces the default migration list.
func WithMigrations(m []Migration) LevelDBOption {
	return func(c *levelConfig) {
		c.migrations = m
	}
}

// WithOptions passes LevelDB tuning options through.
func WithOptions(o *opt.Options) LevelDBOption {
	return func(c *levelConfig) {
		c.options = o
	}
}

// OpenLevelDB opens (or creates) the database at path and migrates it to the
// latest schema version.
func OpenLevelDB(path string, opts ...LevelDBOption) (*LevelDB, error) {
	cfg := levelConfig{migrations: DefaultMigrations()}
	for _, o := range opts {
		o(&cfg)
	}

	db, err := leveldb.OpenFile(path, cfg.options)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return finishOpen(db, cfg)
}

// OpenMemLevelDB opens a LevelDB database on in-memory storage.
func OpenMemLevelDB(opts ...LevelDBOption) (*LevelDB, error) {
	cfg := levelConfig{migrations: DefaultMigrations()}
	for _, o := range opts {
		o(&cfg)
	}

	db, err := leveldb.Open(storage.NewMemStorage(), cfg.options)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return finishOpen(db, cfg)
}

func finishOpen(db *leveldb.DB, cfg levelConfig) (*LevelDB, error) {
	version, err := migrate(db, cfg.migrations)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	Logger().Debug("leveldb store ready")
	return &LevelDB{db: db, version: version}, nil
}

// SchemaVersion returns the schema version the database was migrated to.
func (l *LevelDB) SchemaVersion() int {
	return l.version
}

func (l *LevelDB) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := l.db.Get(stateKey(key), nil)
	if stderrors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if stderrors.Is(err, leveldb.ErrClosed) {
		return nil, ErrClosed
	}
	return v, err
}

func (l *LevelDB) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := l.db.Put(stateKey(key), value, nil)
	if stderrors.Is(err, leveldb.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

func stateKey(key string) []byte {
	k := make([]byte, 0, len(statePrefix)+len(key))
	k = append(k, statePrefix...)
	return append(k, key...)
}

func readSchemaVersion(db *leveldb.DB) (int, error) {
	v, err := db.Get(schemaVersionKey, nil)
	if stderrors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("corrupt schema version record (%d bytes)", len(v))
	}
	return int(binary.BigEndian.Uint64(v)), nil
}

func putSchemaVersion(b *leveldb.Batch, version int) {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(version))
	b.Put(schemaVersionKey, v[:])
}
