package conn

import (
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
)

const defaultSQLitePath = "data/perpguard.db"

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
}

// NewSQLite opens (and creates) a SQLite database file. The pool is capped
// at one connection so writers never contend on the file lock.
func NewSQLite(option Option) (*Client, error) {
	path := option.Path
	if path == "" {
		path = defaultSQLitePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create sqlite dir")
		}
	}

	db, err := gorm.Open(sqlite.Open(path), option.gormConfig())
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "sqlite pool")
	}
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			_ = sqlDB.Close()
			return nil, errors.Wrap(err, "apply pragma").With("pragma", pragma)
		}
	}

	return &Client{opt: option, db: db}, nil
}
