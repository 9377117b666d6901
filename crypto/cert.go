package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/pkg/errors"
)

// Functions

// certTemplate returns a certificate template that has
// all default values for peer certificates already set.
func certTemplate(nBef time.Time, nAft time.Time) (*x509.Certificate, error) {

	// For serial number generation we need a biggest
	// number to mark the range of the serial number.
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)

	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, errors.Wrap(err, "could not generate random serial number")
	}

	return &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"gallery peer"}},
		NotBefore:             nBef,
		NotAfter:              nAft,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}, nil
}

// SelfSignedCert creates a certificate for identity
// signed by identity itself.
func SelfSignedCert(identity ed25519.PrivateKey, nBef time.Time, nAft time.Time) (tls.Certificate, error) {

	template, err := certTemplate(nBef, nAft)
	if err != nil {
		return tls.Certificate{}, err
	}

	pub := identity.Public().(ed25519.PublicKey)
	template.Subject.CommonName = hex.EncodeToString(pub[:8])

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, pub, identity)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "failed to create peer certificate")
	}

	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "failed to parse peer certificate")
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  identity,
		Leaf:        leaf,
	}, nil
}
