// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"context"
	"time"

	"github.com/bmxtiming/p3server/pkg/plog"
)

// Hooks satisfies the sqlhooks.Hooks interface.
type Hooks struct{}

// Before hook logs the query with its args and stashes a start timestamp.
func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	plog.Debugf("SQL query %s %q", query, args)
	return context.WithValue(ctx, sqlHookBeginKey{}, time.Now()), nil
}

// After hook logs the elapsed time recorded by Before.
func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	begin, _ := ctx.Value(sqlHookBeginKey{}).(time.Time)
	plog.Debugf("took %s: %s %q", time.Since(begin), query, args)
	return ctx, nil
}

type sqlHookBeginKey struct{}
