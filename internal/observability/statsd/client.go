// Package statsd emits pipeline metrics using the DogStatsD line protocol.
package statsd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sink is the metrics surface the pipeline depends on.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

const (
	// defaultMaxPacketBytes keeps batched datagrams under a typical Ethernet MTU.
	defaultMaxPacketBytes = 1432
	defaultFlushInterval  = time.Second
	dialTimeout           = 5 * time.Second
)

// Config describes the StatsD endpoint and batching behaviour.
type Config struct {
	Address string
	Prefix  string
	// Tags are appended to every line.
	Tags map[string]string
	// FlushInterval bounds how long a partially filled packet is held back.
	FlushInterval time.Duration
	// MaxPacketBytes caps the size of a single datagram.
	MaxPacketBytes int
	Logger         *slog.Logger
}

// Client batches metric lines into UDP datagrams. It is safe for concurrent use
// and all methods are no-ops on a nil *Client.
type Client struct {
	prefix    string
	tagSuffix string
	maxPacket int
	logger    *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	buf    []byte
	closed bool

	stop chan struct{}
	done chan struct{}
}

var _ Sink = (*Client)(nil)

// NewClient dials address and starts the background flusher.
func NewClient(cfg Config) (*Client, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, fmt.Errorf("statsd: address is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", address, err)
	}

	return newClient(conn, cfg), nil
}

func newClient(conn net.Conn, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxPacket := cfg.MaxPacketBytes
	if maxPacket <= 0 {
		maxPacket = defaultMaxPacketBytes
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	c := &Client{
		prefix:    strings.Trim(strings.TrimSpace(cfg.Prefix), "."),
		tagSuffix: renderTags(cfg.Tags),
		maxPacket: maxPacket,
		logger:    logger.With("component", "statsd"),
		conn:      conn,
		buf:       make([]byte, 0, maxPacket),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.flushLoop(interval)
	return c
}

// Count adds value to a counter.
func (c *Client) Count(name string, value int64, tags map[string]string) {
	c.emit(name, strconv.FormatInt(value, 10), "c", tags)
}

// Gauge sets a gauge.
func (c *Client) Gauge(name string, value float64, tags map[string]string) {
	c.emit(name, strconv.FormatFloat(value, 'f', -1, 64), "g", tags)
}

// Timing records a duration in milliseconds.
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	ms := float64(value) / float64(time.Millisecond)
	c.emit(name, strconv.FormatFloat(ms, 'f', -1, 64), "ms", tags)
}

// Flush writes any buffered lines immediately.
func (c *Client) Flush() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

// Close flushes pending lines, stops the flusher and closes the socket.
// Repeated calls return nil.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.flushLocked()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	close(c.stop)
	<-c.done
	return conn.Close()
}

func (c *Client) flushLoop(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Flush()
		}
	}
}

func (c *Client) emit(name, value, kind string, tags map[string]string) {
	if c == nil {
		return
	}
	metric := qualify(c.prefix, name)
	if metric == "" {
		return
	}
	line := metric + ":" + value + "|" + kind + c.lineTags(tags)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	// A line that does not fit goes out in its own datagram after the current batch.
	if len(c.buf) > 0 && len(c.buf)+1+len(line) > c.maxPacket {
		c.flushLocked()
	}
	if len(c.buf) > 0 {
		c.buf = append(c.buf, '\n')
	}
	c.buf = append(c.buf, line...)
	if len(c.buf) >= c.maxPacket {
		c.flushLocked()
	}
}

func (c *Client) flushLocked() {
	if len(c.buf) == 0 || c.conn == nil {
		return
	}
	if _, err := c.conn.Write(c.buf); err != nil {
		c.logger.Debug("statsd write failed", "error", err, "bytes", len(c.buf))
	}
	c.buf = c.buf[:0]
}

// lineTags merges per-call tags after the configured ones. A per-call tag never
// overrides a configured tag of the same key; DogStatsD keeps both.
func (c *Client) lineTags(tags map[string]string) string {
	local := renderTags(tags)
	switch {
	case local == "":
		return c.tagSuffix
	case c.tagSuffix == "":
		return local
	default:
		return c.tagSuffix + "," + strings.TrimPrefix(local, "|#")
	}
}

// qualify joins prefix and name, replacing characters the line protocol reserves.
func qualify(prefix, name string) string {
	n := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', ':', '|', '@', '#':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	parts := strings.FieldsFunc(n, func(r rune) bool { return r == '.' })
	n = strings.Join(parts, ".")
	switch {
	case n == "":
		return ""
	case prefix == "":
		return n
	default:
		return prefix + "." + n
	}
}

// renderTags formats tags as a sorted "|#k:v,..." suffix, dropping blank keys.
func renderTags(tags map[string]string) string {
	pairs := make([]string, 0, len(tags))
	for k, v := range tags {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		pairs = append(pairs, k+":"+strings.TrimSpace(v))
	}
	if len(pairs) == 0 {
		return ""
	}
	slices.Sort(pairs)
	return "|#" + strings.Join(pairs, ",")
}

// ParseTags reads "k:v,k2:v2" as used by OBSERVABILITY_METRICS_TAGS.
func ParseTags(raw string) map[string]string {
	out := map[string]string{}
	for _, field := range strings.Split(raw, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(field), ":")
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}
