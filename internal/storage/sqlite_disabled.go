//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "tailwatch/pkg/logx"
)

func openSQLite(_ Config, _ logx.Logger) (Store, error) {
	return nil, errors.New("sqlite storage not built: rebuild with -tags sqlite")
}
