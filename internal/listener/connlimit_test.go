package listener

import (
	"net"
	"testing"
	"time"
)

func TestConnLimiterEnforcesPerIPLimit(t *testing.T) {
	raw, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	var rejected []string
	l := NewConnLimiter(raw, ConnLimiterConfig{
		MaxConnsPerIP: 1,
		MaxTotalConns: 10,
		OnReject: func(ip, reason string) {
			rejected = append(rejected, reason)
		},
	})

	var accepted []net.Conn
	done := make(chan struct{})
	go func() {
		for i := 0; i < 2; i++ {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			accepted = append(accepted, conn)
		}
		close(done)
	}()

	c1, err := net.Dial("tcp", raw.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()

	c2, err := net.Dial("tcp", raw.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
	}

	if len(accepted) != 1 {
		t.Fatalf("accepted = %d conns, want 1 (second dial should be rejected per-IP)", len(accepted))
	}
	if total, ips := l.Stats(); total != 1 || ips != 1 {
		t.Fatalf("Stats() = (%d, %d), want (1, 1)", total, ips)
	}
	if len(rejected) != 1 || rejected[0] != "per_ip_limit" {
		t.Fatalf("onReject calls = %v, want one per_ip_limit", rejected)
	}

	for _, c := range accepted {
		c.Close()
	}
}

func TestConnLimiterStatsDecrementsOnClose(t *testing.T) {
	raw, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	l := NewConnLimiter(raw, ConnLimiterConfig{MaxConnsPerIP: 5, MaxTotalConns: 5})

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			acceptedCh <- conn
		}
	}()

	client, err := net.Dial("tcp", raw.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	server := <-acceptedCh
	if total, _ := l.Stats(); total != 1 {
		t.Fatalf("Stats() total = %d, want 1 after accept", total)
	}

	server.Close()
	if total, ips := l.Stats(); total != 0 || ips != 0 {
		t.Fatalf("Stats() = (%d, %d), want (0, 0) after close", total, ips)
	}
}
