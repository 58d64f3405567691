// Package insecuretls supplies the TLS material used by secure tunnel
// schemes in development and testing. The server side presents a
// process-wide self-signed certificate and the client side trusts any
// server certificate. Neither posture is suitable for hostile networks;
// production deployments must substitute a real trust policy.
package insecuretls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"
)

var (
	once    sync.Once
	cert    tls.Certificate
	certErr error
)

// ServerConfig returns a fresh TLS config presenting the self-signed
// certificate. No client authentication is requested. The certificate is
// generated once per process; concurrent callers share it. Callers may
// mutate the returned config (e.g. to add ALPN protocols).
func ServerConfig() (*tls.Config, error) {
	once.Do(func() { cert, certErr = selfSignedCert() })
	if certErr != nil {
		return nil, fmt.Errorf("generate certificate: %w", certErr)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientConfig returns a fresh TLS config that accepts any server
// certificate. Development trust mode only.
func ClientConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
	}
}

// selfSignedCert generates a short-lived self-signed certificate valid for
// loopback use.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "weftmesh"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
