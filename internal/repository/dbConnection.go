// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/bmxtiming/p3server/pkg/plog"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

// DBConnection wraps the single sqlx.DB this process uses for the decoder
// status projection and its dedupe ledger.
type DBConnection struct {
	DB *sqlx.DB
}

// Connect opens (once, process-wide) the sqlite3 database at path db and
// checks its migration version. Every caller after the first gets the same
// connection back through GetConnection.
func Connect(db string) {
	dbConnOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
		dbHandle, err := sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", db))
		if err != nil {
			plog.Fatalf("repository: open sqlite3 database %s: %v", db, err)
		}

		// sqlite does not multithread writes; one connection avoids waiting on
		// its own locks.
		dbHandle.SetMaxOpenConns(1)

		dbConnInstance = &DBConnection{DB: dbHandle}
		checkDBVersion(dbHandle.DB)
	})
}

// GetConnection returns the process-wide database connection. If Connect
// has not been called yet it logs the error and exits the process.
func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		plog.Fatalf("repository: database connection not initialized")
	}

	return dbConnInstance
}
