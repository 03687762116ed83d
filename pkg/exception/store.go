package exception

import "github.com/yanun0323/errors"

var (
	ErrStoreNotFound          = errors.New("store: record not found")
	ErrStoreUnsupportedDriver = errors.New("store: unsupported driver")
)
