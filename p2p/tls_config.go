package p2p

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
	"time"
)

// quicTLS is the TLS material a QUIC transport needs. The certificate names the device it
// was minted for but is never verified: QUIC is used for its transport, not for trust.
type quicTLS struct {
	server *tls.Config
	client *tls.Config
	leaf   *x509.Certificate
}

func newQUICTLS(id Identity) (*quicTLS, error) {
	cert, err := deviceCertificate(id, time.Now())
	if err != nil {
		return nil, fmt.Errorf("quic: device certificate: %w", err)
	}
	return &quicTLS{
		server: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{TLSServerName},
		},
		client: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{TLSServerName},
		},
		leaf: cert.Leaf,
	}, nil
}

// deviceCertificate mints a throwaway P-256 certificate whose subject is the device's
// display name and, when it parses, whose IP SAN is the announced address.
func deviceCertificate(id Identity, now time.Time) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	name := id.Name
	if name == "" {
		name = DefaultDisplayName
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   name,
			Organization: []string{CertificateOrganization},
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.AddDate(0, 0, CertificateValidityDays),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(id.IP); ip != nil && !ip.IsUnspecified() {
		template.IPAddresses = []net.IP{ip}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}
