//go:build cgo

package statemgr

import _ "github.com/mattn/go-sqlite3"
