// Package listener provides TCP-level connection admission for the eval
// server, ahead of net/http: this is the only backpressure a caller sees
// before a connection ever reaches the admission queue, so it is sized
// against the same single-isolate capacity the queue enforces rather than
// a generic edge's connection budget (see internal/config's
// DefaultMaxConnsPerIP/DefaultMaxTotalConns).
package listener

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/RyanPotat/eval-server/internal/config"
	"github.com/RyanPotat/eval-server/internal/debug"
	"github.com/RyanPotat/eval-server/internal/metrics"
)

// ConnLimiter wraps a net.Listener to enforce per-IP and total connection
// limits. This operates at the TCP Accept level, rejecting connections
// before they consume a goroutine or reach HTTP parsing, let alone an
// isolate slot.
type ConnLimiter struct {
	net.Listener
	maxPerIP int
	maxTotal int64
	total    int64 // atomic
	mu       sync.Mutex
	counts   map[string]int
	onReject func(ip string, reason string) // optional callback
}

// ConnLimiterConfig configures the connection limiter.
type ConnLimiterConfig struct {
	MaxConnsPerIP int   // Max concurrent connections per IP (default: internal/config.DefaultMaxConnsPerIP)
	MaxTotalConns int64 // Max total concurrent connections (default: internal/config.DefaultMaxTotalConns)
	OnReject      func(ip string, reason string)
}

// NewConnLimiter creates a connection limiter wrapping the given listener.
func NewConnLimiter(l net.Listener, cfg ConnLimiterConfig) *ConnLimiter {
	if cfg.MaxConnsPerIP <= 0 {
		cfg.MaxConnsPerIP = config.DefaultMaxConnsPerIP
	}
	if cfg.MaxTotalConns <= 0 {
		cfg.MaxTotalConns = config.DefaultMaxTotalConns
	}
	return &ConnLimiter{
		Listener: l,
		maxPerIP: cfg.MaxConnsPerIP,
		maxTotal: cfg.MaxTotalConns,
		counts:   make(map[string]int),
		onReject: cfg.OnReject,
	}
}

// Accept implements net.Listener.Accept with connection limiting.
func (l *ConnLimiter) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		if atomic.AddInt64(&l.total, 1) > l.maxTotal {
			atomic.AddInt64(&l.total, -1)
			conn.Close()
			metrics.RecordConnectionRejected("total_limit")
			if l.onReject != nil {
				l.onReject("", "total_limit")
			}
			continue
		}

		ip := extractIP(conn.RemoteAddr())
		if ip == "" {
			atomic.AddInt64(&l.total, -1)
			conn.Close()
			continue
		}

		l.mu.Lock()
		count := l.counts[ip]
		if count >= l.maxPerIP {
			l.mu.Unlock()
			atomic.AddInt64(&l.total, -1)
			conn.Close()
			metrics.RecordConnectionRejected("per_ip_limit")
			if l.onReject != nil {
				l.onReject(ip, "per_ip_limit")
			}
			continue
		}
		l.counts[ip]++
		l.mu.Unlock()

		metrics.SetActiveConnections(atomic.LoadInt64(&l.total))
		return &trackedConn{
			Conn: conn,
			ip:   ip,
			l:    l,
		}, nil
	}
}

// Stats returns the current total connection count and number of
// distinct source IPs holding at least one connection. The /healthz
// handler (internal/handlers) reports these alongside admission queue
// depth so an operator can tell a saturated accept path apart from a
// saturated evaluation queue.
func (l *ConnLimiter) Stats() (total int64, uniqueIPs int) {
	l.mu.Lock()
	uniqueIPs = len(l.counts)
	l.mu.Unlock()
	return atomic.LoadInt64(&l.total), uniqueIPs
}

// extractIP gets the IP string from a net.Addr.
func extractIP(addr net.Addr) string {
	switch v := addr.(type) {
	case *net.TCPAddr:
		return v.IP.String()
	case *net.UDPAddr:
		return v.IP.String()
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return ""
		}
		return host
	}
}

// trackedConn wraps net.Conn to decrement counters on Close.
type trackedConn struct {
	net.Conn
	ip     string
	l      *ConnLimiter
	closed int32 // atomic flag to prevent double-decrement
}

func (c *trackedConn) Close() error {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.l.mu.Lock()
		c.l.counts[c.ip]--
		if c.l.counts[c.ip] <= 0 {
			delete(c.l.counts, c.ip)
		}
		c.l.mu.Unlock()
		metrics.SetActiveConnections(atomic.AddInt64(&c.l.total, -1))
	}
	return c.Conn.Close()
}

// LoggingOnReject logs a rejected connection through the debug logger.
func LoggingOnReject(ip string, reason string) {
	if ip != "" {
		debug.Warn("listener", "connection rejected: ip=%s reason=%s", ip, reason)
	} else {
		debug.Warn("listener", "connection rejected: reason=%s", reason)
	}
}
