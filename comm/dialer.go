package comm

import (
	"sync"

	"crypto/tls"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

// Structs

// Dialer hands out clients for peer addresses and keeps
// one connection per address. Connections are set up
// lazily by gRPC on first use.
type Dialer struct {
	lock  *sync.Mutex
	opts  []grpc.DialOption
	conns map[string]*grpc.ClientConn
}

// Functions

// NewDialer prepares a Dialer that secures its connections
// with tlsConfig. extra options are appended, tests use them
// to dial in-memory listeners.
func NewDialer(tlsConfig *tls.Config, extra ...grpc.DialOption) *Dialer {

	return &Dialer{
		lock:  &sync.Mutex{},
		opts:  append(DialOptions(tlsConfig), extra...),
		conns: make(map[string]*grpc.ClientConn),
	}
}

// Client returns a client for the peer at addr.
func (d *Dialer) Client(addr string) (*Client, error) {

	d.lock.Lock()
	defer d.lock.Unlock()

	if conn, ok := d.conns[addr]; ok {
		return NewClient(conn), nil
	}

	conn, err := grpc.Dial(addr, d.opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to set up connection to peer %s", addr)
	}
	d.conns[addr] = conn

	return NewClient(conn), nil
}

// Close tears down all connections.
func (d *Dialer) Close() error {

	d.lock.Lock()
	defer d.lock.Unlock()

	var first error
	for addr, conn := range d.conns {

		if err := conn.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "failed to close connection to peer %s", addr)
		}

		delete(d.conns, addr)
	}

	return first
}
