package store

import (
	"bytes"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"
)

// Migration upgrades the schema from Version-1 to Version. Apply stages its
// writes in b; the batch is committed together with the new version record.
type Migration struct {
	Apply   func(db *leveldb.DB, b *leveldb.Batch) error
	Name    string
	Version int
}

// DefaultMigrations returns the migrations for the current schema.
func DefaultMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create-state-namespace", Apply: createStateNamespace},
		{Version: 2, Name: "prefix-bare-keys", Apply: prefixBareKeys},
	}
}

// LatestVersion is the schema version DefaultMigrations migrates to.
func LatestVersion() int {
	m := DefaultMigrations()
	return m[len(m)-1].Version
}

func createStateNamespace(_ *leveldb.DB, b *leveldb.Batch) error {
	b.Put([]byte("meta/namespace/state"), statePrefix)
	return nil
}

// prefixBareKeys moves keys written without a namespace under statePrefix.
func prefixBareKeys(db *leveldb.DB, b *leveldb.Batch) error {
	it := db.NewIterator(nil, nil)
	defer it.Release()

	for it.Next() {
		k := it.Key()
		if bytes.HasPrefix(k, statePrefix) || bytes.HasPrefix(k, metaPrefix) {
			continue
		}
		b.Put(append(append([]byte(nil), statePrefix...), k...), append([]byte(nil), it.Value()...))
		b.Delete(append([]byte(nil), k...))
	}
	return it.Error()
}

func migrate(db *leveldb.DB, migrations []Migration) (int, error) {
	current, err := readSchemaVersion(db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	latest := 0
	for i, m := range migrations {
		if m.Version != i+1 {
			return 0, fmt.Errorf("migration %q has version %d, want %d", m.Name, m.Version, i+1)
		}
		latest = m.Version
	}

	if current > latest {
		return 0, fmt.Errorf("database schema version %d is newer than supported version %d", current, latest)
	}

	for _, m := range migrations[current:] {
		b := new(leveldb.Batch)
		if err := m.Apply(db, b); err != nil {
			return 0, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		putSchemaVersion(b, m.Version)
		if err := db.Write(b, nil); err != nil {
			return 0, fmt.Errorf("commit migration %d (%s): %w", m.Version, m.Name, err)
		}
		Logger().Info("applied store migration",
			zap.Int("version", m.Version),
			zap.String("name", m.Name))
	}
	return latest, nil
}

// countPrefix reports how many keys carry prefix.
func countPrefix(db *leveldb.DB, prefix []byte) (int, error) {
	it := db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}

// Len returns the number of state keys.
func (l *LevelDB) Len() (int, error) {
	return countPrefix(l.db, statePrefix)
}
