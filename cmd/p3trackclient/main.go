package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/bmxtiming/p3server/internal/p3codec"
	"github.com/bmxtiming/p3server/internal/p3stream"
	"github.com/bmxtiming/p3server/pkg/plog"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// client reads local decoder TCP frames, decodes them, and batches the
// resulting ingest events to the central server's /ingest/batch endpoint.
// It is a standalone process run once per track decoder, separately from
// cmd/p3server's api/race-worker/projection-worker roles.
type client struct {
	clientID string
	trackID  string
	bootID   string

	decoderAddr string
	ingestURL   string

	batchSize      int
	flushInterval  time.Duration
	maxBuffer      int
	reconnectDelay time.Duration
	httpClient     *http.Client

	nextSeq uint64
	pending []contracts.TrackIngestEvent
}

func main() {
	var clientID, trackID, sessionID, decoderHost, centralBaseURL string
	var decoderPort, batchSize, maxBufferEvents int
	var flushIntervalMs, reconnectSecs, httpTimeoutSecs int64

	flag.StringVar(&clientID, "client-id", "", "Unique ID of this track-side client instance")
	flag.StringVar(&trackID, "track-id", "", "Track ID this client belongs to")
	flag.StringVar(&sessionID, "session-id", "dev-default", "Dev/test session ID used for grouping and replay (log context only, not part of the wire contract)")
	flag.StringVar(&decoderHost, "decoder-host", "localhost", "Local decoder hostname/IP (physically at the track)")
	flag.IntVar(&decoderPort, "decoder-port", 5403, "Local decoder TCP port")
	flag.StringVar(&centralBaseURL, "central-base-url", "http://localhost:8080", "Central server base URL (remote location)")
	flag.IntVar(&batchSize, "batch-size", 50, "Max events per ingest POST")
	flag.Int64Var(&flushIntervalMs, "flush-interval-ms", 1000, "Flush interval in milliseconds if batch is not full")
	flag.IntVar(&maxBufferEvents, "max-buffer-events", 5000, "Max in-memory unsent events before oldest events are dropped")
	flag.Int64Var(&reconnectSecs, "reconnect-secs", 3, "Reconnect delay to local decoder after disconnect/failure")
	flag.Int64Var(&httpTimeoutSecs, "http-timeout-secs", 10, "HTTP request timeout in seconds")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		plog.Fatalf("p3trackclient: load .env: %v", err)
	}

	if clientID == "" || trackID == "" {
		plog.Fatal("p3trackclient: -client-id and -track-id are required")
	}

	bootID := uuid.NewString()
	plog.Infof("p3trackclient: starting client_id=%s track_id=%s session_id=%s boot_id=%s", clientID, trackID, sessionID, bootID)

	c := &client{
		clientID:       clientID,
		trackID:        trackID,
		bootID:         bootID,
		decoderAddr:    net.JoinHostPort(decoderHost, fmt.Sprintf("%d", decoderPort)),
		ingestURL:      strings.TrimRight(centralBaseURL, "/") + "/ingest/batch",
		batchSize:      batchSize,
		flushInterval:  time.Duration(flushIntervalMs) * time.Millisecond,
		maxBuffer:      maxBufferEvents,
		reconnectDelay: time.Duration(reconnectSecs) * time.Second,
		httpClient:     &http.Client{Timeout: time.Duration(httpTimeoutSecs) * time.Second},
	}

	c.run(context.Background())
}

// run reconnects to the decoder indefinitely; each connection attempt's
// failure is logged and followed by reconnectDelay before retrying.
func (c *client) run(ctx context.Context) {
	for {
		if err := c.runConnection(ctx); err != nil {
			plog.Warnf("p3trackclient: connection to %s ended: %v", c.decoderAddr, err)
		}
		time.Sleep(c.reconnectDelay)
	}
}

// runConnection owns one decoder TCP connection end to end: dial, frame,
// decode, batch, and flush on size or a timer, until the socket errors.
// Decoder reads carry no read timeout - a silent connection is
// indistinguishable from an idle decoder, so only a read error or EOF ends
// the connection.
func (c *client) runConnection(ctx context.Context) error {
	plog.Infof("p3trackclient: connecting to decoder at %s", c.decoderAddr)
	conn, err := net.Dial("tcp", c.decoderAddr)
	if err != nil {
		return fmt.Errorf("dial decoder: %w", err)
	}
	defer conn.Close()
	plog.Info("p3trackclient: connected to decoder")

	framer := p3stream.NewFramer()

	flushTick := time.NewTicker(c.flushInterval)
	defer flushTick.Stop()

	readCh := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errCh <- err
				return
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			readCh <- chunk
		}
	}()

	for {
		select {
		case chunk := <-readCh:
			for _, result := range framer.Feed(chunk) {
				if result.Err != nil {
					plog.Warnf("p3trackclient: skipping unparsable frame: %v", result.Err)
					continue
				}

				event, err := c.buildEvent(result.Frame)
				if err != nil {
					plog.Warnf("p3trackclient: skipping frame, unsupported payload: %v", err)
					continue
				}

				c.pending = append(c.pending, event)
				if len(c.pending) >= c.batchSize {
					c.flush(ctx)
				}
			}
			c.trimPendingIfNeeded()

		case <-flushTick.C:
			if len(c.pending) > 0 {
				c.flush(ctx)
			}

		case err := <-errCh:
			if len(c.pending) > 0 {
				c.flush(ctx)
			}
			return err
		}
	}
}

// buildEvent assigns this client's next monotonic seq and the client's
// boot_id to a decoded frame, producing the ingest event the central
// server will see.
func (c *client) buildEvent(frame *p3codec.Frame) (contracts.TrackIngestEvent, error) {
	message, err := messageFromFrame(frame)
	if err != nil {
		return contracts.TrackIngestEvent{}, err
	}

	seq := c.nextSeq
	c.nextSeq++

	return contracts.TrackIngestEvent{
		EventID: uuid.NewString(),
		TrackID: c.trackID,
		EventIDContext: contracts.EventIDContext{
			ClientID: c.clientID,
			BootID:   c.bootID,
			Seq:      seq,
		},
		CapturedAtUs: uint64(time.Now().UnixMicro()),
		MessageType:  message.MessageType,
		Payload:      message,
	}, nil
}

// trimPendingIfNeeded enforces max_buffer_events by dropping the oldest
// unsent events, logging how many were lost.
func (c *client) trimPendingIfNeeded() {
	if len(c.pending) <= c.maxBuffer {
		return
	}

	drop := len(c.pending) - c.maxBuffer
	c.pending = c.pending[drop:]
	plog.Warnf("p3trackclient: dropped %d oldest unsent events due to backpressure (max_buffer_events=%d)", drop, c.maxBuffer)
}

// flush POSTs pending to the central server's ingest endpoint. On any
// failure to deliver or a 5xx response, the batch is returned to the head
// of pending rather than dropped; a 4xx response means the server itself
// rejected the batch, which is logged and dropped rather than retried.
func (c *client) flush(ctx context.Context) {
	if len(c.pending) == 0 {
		return
	}

	events := c.pending
	c.pending = nil

	body, err := json.Marshal(contracts.TrackIngestBatchRequest{
		ContractVersion: contracts.TrackIngestContractVersionV2,
		TrackID:         c.trackID,
		Events:          events,
	})
	if err != nil {
		plog.Errorf("p3trackclient: marshal ingest batch: %v", err)
		c.pending = append(events, c.pending...)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ingestURL, bytes.NewReader(body))
	if err != nil {
		plog.Errorf("p3trackclient: build ingest request: %v", err)
		c.pending = append(events, c.pending...)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		plog.Warnf("p3trackclient: post ingest batch: %v, re-queuing %d events", err, len(events))
		c.pending = append(events, c.pending...)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		plog.Warnf("p3trackclient: central server error (status %d), re-queuing %d events", resp.StatusCode, len(events))
		c.pending = append(events, c.pending...)
		return
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		plog.Errorf("p3trackclient: central server rejected batch (status %d): %s, dropping %d events", resp.StatusCode, errBody.Error, len(events))
		return
	}

	var summary contracts.TrackIngestBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		plog.Warnf("p3trackclient: batch accepted but response body could not be parsed: %v", err)
		return
	}

	plog.Infof("p3trackclient: delivered batch sent=%d accepted=%d duplicates=%d", len(events), summary.Accepted, summary.Duplicates)
}
