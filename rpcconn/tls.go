package rpcconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
)

// handshakeTLS performs a client-mode TLS handshake over an already
// connected TCP socket, using SSLCertPath as a PEM CA bundle to verify
// the server and SSLDomain for SNI/peer verification, per spec.md §4.7.
// Handshake failure maps to NotConnected at the call site.
func (c *Conn) handshakeTLS(ctx context.Context, conn net.Conn) (net.Conn, error) {
	pemBytes, err := os.ReadFile(c.cfg.SSLCertPath)
	if err != nil {
		return nil, fmt.Errorf("rpcconn: reading ssl_cert_path: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("rpcconn: no certificates parsed from %s", c.cfg.SSLCertPath)
	}

	tlsConn := tls.Client(conn, &tls.Config{
		RootCAs:    pool,
		ServerName: c.cfg.SSLDomain,
		MinVersion: tls.VersionTLS12,
	})

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("rpcconn: tls handshake: %w", err)
	}
	return tlsConn, nil
}
