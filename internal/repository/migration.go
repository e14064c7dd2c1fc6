// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"embed"
	"fmt"
	"os"

	"github.com/bmxtiming/p3server/pkg/plog"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// supportedVersion is the migration version this binary expects. Unlike the
// donor's multi-release cluster schema, this system ships a single migration
// set alongside the binary, so there is exactly one supported version at any
// given release.
const supportedVersion uint = 1

//go:embed migrations/*
var migrationFiles embed.FS

func checkDBVersion(db *sql.DB) {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		plog.Fatalf("repository: init sqlite3 migration driver: %v", err)
	}
	d, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		plog.Fatalf("repository: open embedded migrations: %v", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		plog.Fatalf("repository: init migrate instance: %v", err)
	}

	v, _, err := m.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			plog.Warn("repository: database has no migration version yet, run MigrateDB")
			return
		}
		plog.Fatalf("repository: read migration version: %v", err)
	}

	if v < supportedVersion {
		plog.Warnf("repository: database at migration version %d, need %d; run the server with --migrate-db", v, supportedVersion)
		os.Exit(0)
	}

	if v > supportedVersion {
		plog.Warnf("repository: database at migration version %d is newer than this binary's %d; upgrade the binary", v, supportedVersion)
		os.Exit(0)
	}
}

// MigrateDB runs every pending migration against the sqlite3 database at
// path db.
func MigrateDB(db string) {
	d, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		plog.Fatalf("repository: open embedded migrations: %v", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, fmt.Sprintf("sqlite3://%s?_foreign_keys=on", db))
	if err != nil {
		plog.Fatalf("repository: init migrate source instance: %v", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		plog.Fatalf("repository: run migrations: %v", err)
	}

	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		plog.Warnf("repository: close migrate instance: src=%v db=%v", srcErr, dbErr)
	}
}
