package crypto

import (
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/pkg/errors"
)

// Functions

// NewPeerTLSConfig returns a TLS config that is already
// configured completely for peers of a space to talk to
// each other. There is no shared PKI: each side presents
// a certificate self-signed with its ed25519 identity and
// only requires the other side to do the same. Whether a
// peer may read or write is decided by signatures and
// tokens above the transport.
func NewPeerTLSConfig(identity ed25519.PrivateKey) (*tls.Config, error) {

	cert, err := SelfSignedCert(identity, time.Now().Add(-time.Hour), time.Now().Add(365*24*time.Hour))
	if err != nil {
		return nil, err
	}

	config := &tls.Config{
		Certificates:          []tls.Certificate{cert},
		ClientAuth:            tls.RequireAnyClientCert,
		MinVersion:            tls.VersionTLS13,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyPeerCertificate,
	}

	return config, nil
}

// verifyPeerCertificate accepts exactly one certificate
// that is signed by the ed25519 key it carries.
func verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {

	if len(rawCerts) != 1 {
		return errors.Errorf("expected exactly one peer certificate, got %d", len(rawCerts))
	}

	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return errors.Wrap(err, "failed to parse peer certificate")
	}

	if _, ok := cert.PublicKey.(ed25519.PublicKey); !ok {
		return errors.New("peer certificate does not carry an ed25519 key")
	}

	if err := cert.CheckSignatureFrom(cert); err != nil {
		return errors.Wrap(err, "peer certificate is not self-signed")
	}

	return nil
}

// PeerKey extracts the ed25519 identity the remote
// end of a verified connection presented.
func PeerKey(state tls.ConnectionState) (ed25519.PublicKey, error) {

	if len(state.PeerCertificates) == 0 {
		return nil, errors.New("connection carries no peer certificate")
	}

	pub, ok := state.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("peer certificate does not carry an ed25519 key")
	}

	return pub, nil
}
