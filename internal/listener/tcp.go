// Package listener provides the TCP-level accept path for the eval
// server: slowloris-resistant listener setup and per-IP connection
// admission, both ahead of net/http.
package listener

import (
	"net"
	"runtime"

	"github.com/valyala/tcplisten"
)

// ListenTCP binds addr for the eval server's HTTP surface. A client that
// opens a connection and then sits on it without sending a request body
// is exactly the shape of abuse this service needs to shed before a
// goroutine, let alone an isolate slot, is spent on it, so on Linux the
// listener is built with TCP_DEFER_ACCEPT (the kernel withholds the
// Accept() until bytes are actually waiting) and TCP_FASTOPEN (repeat
// callers, such as a retrying bot backend, skip a round trip). Neither
// socket option exists outside Linux, so other platforms fall back to
// net.Listen.
func ListenTCP(network, addr string) (net.Listener, error) {
	if network == "tcp" {
		network = "tcp4"
	}

	if runtime.GOOS == "linux" {
		cfg := tcplisten.Config{
			DeferAccept: true,
			FastOpen:    true,
		}
		return cfg.NewListener(network, addr)
	}

	return net.Listen(network, addr)
}
