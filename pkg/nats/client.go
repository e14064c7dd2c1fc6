// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package nats provides the durable log client used by the ingest publisher,
// the race worker, and the projection worker.
//
// It wraps nats-io/nats.go's core connection plus its jetstream subpackage,
// which is what gives the log the properties this system depends on:
// at-least-once delivery, per-message idempotency via the Nats-Msg-Id header,
// and a configurable dedupe window.
package nats

import (
	"fmt"
	"sync"

	"github.com/bmxtiming/p3server/pkg/plog"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var (
	clientOnce     sync.Once
	clientInstance *Client
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// Config is the subset of connection parameters this system needs.
type Config struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`
}

// Connect initializes the singleton NATS/JetStream client from cfg. It is
// safe to call Connect more than once; only the first call takes effect.
func Connect(cfg Config) {
	clientOnce.Do(func() {
		client, err := NewClient(cfg)
		if err != nil {
			plog.Warnf("NATS connection failed: %v", err)
			return
		}
		clientInstance = client
	})
}

// GetClient returns the singleton client. It is nil until Connect succeeds.
func GetClient() *Client {
	if clientInstance == nil {
		plog.Warn("NATS client not initialized")
	}
	return clientInstance
}

// NewClient creates a standalone client, bypassing the singleton. Used by
// each of the three process roles, which each need their own connection.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("NATS address is required")
	}

	var opts []nats.Option

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}

	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			plog.Warnf("NATS disconnected: %v", err)
		}
	}))

	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		plog.Infof("NATS reconnected to %s", nc.ConnectedUrl())
	}))

	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		plog.Errorf("NATS error: %v", err)
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("NATS connect failed: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("JetStream context failed: %w", err)
	}

	plog.Infof("NATS connected to %s", cfg.Address)

	return &Client{conn: nc, js: js}, nil
}

// JetStream returns the JetStream context for stream/consumer management.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Connection returns the underlying core NATS connection.
func (c *Client) Connection() *nats.Conn {
	return c.conn
}

// IsConnected returns true if the client has an active connection.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close closes the connection without draining pending messages.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
		plog.Info("NATS connection closed")
	}
}
