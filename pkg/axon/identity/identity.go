// Package identity manages a node's long-lived Ed25519 signing key, its
// derived AgentId, and the self-signed QUIC certificate that carries
// that key's SPKI on the wire (spec §4.1).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/axon-project/axon/internal/axonerr"
	"github.com/axon-project/axon/internal/logger"
)

const (
	seedFileName   = "identity.key"
	pubFileName    = "identity.pub"
	seedFileMode   = 0600
	certValidYears = 10
)

// Identity holds a node's signing key and its derived identifiers.
type Identity struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	agentID string
}

// AgentID returns the stable `ed25519.<32 hex>` identifier for this key.
func (id *Identity) AgentID() string {
	return id.agentID
}

// PublicKeyBase64 returns the raw 32-byte public key, base64 standard
// encoded, as carried in hello payloads and peer tokens.
func (id *Identity) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(id.public)
}

// PublicKey returns the raw Ed25519 public key.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.public
}

// Sign signs message with the node's private key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.private, message)
}

// DeriveAgentID computes `ed25519.<32 hex>` from a raw Ed25519 public key:
// the hex of the first 16 bytes of SHA-256(pubkey).
func DeriveAgentID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "ed25519." + hex.EncodeToString(sum[:16])
}

// LoadOrGenerate loads the identity persisted under stateRoot, generating
// and persisting a new one if none exists. Legacy raw-seed files (32 raw
// bytes, not base64) are rewritten as base64 in place; AgentId is
// unchanged by migration.
func LoadOrGenerate(stateRoot string) (*Identity, error) {
	if err := os.MkdirAll(stateRoot, 0700); err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInternal, "create state root", err)
	}

	seedPath := filepath.Join(stateRoot, seedFileName)
	raw, err := os.ReadFile(seedPath)
	if os.IsNotExist(err) {
		return generate(stateRoot)
	}
	if err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInternal, "read identity seed", err)
	}

	seed, migrated, err := decodeSeed(raw)
	if err != nil {
		return nil, axonerr.New(axonerr.CodeInternal,
			fmt.Sprintf("identity seed at %s is unrecoverable: %s; delete the file to regenerate", seedPath, err)).
			WithDetail("path", seedPath)
	}

	if migrated {
		encoded := base64.StdEncoding.EncodeToString(seed)
		if err := os.WriteFile(seedPath, []byte(encoded), seedFileMode); err != nil {
			return nil, axonerr.Wrap(axonerr.CodeInternal, "rewrite migrated identity seed", err)
		}
		logger.Info("migrated legacy raw identity seed to base64", logger.String("path", seedPath))
	}

	return fromSeed(stateRoot, seed)
}

// decodeSeed accepts either a base64-encoded 32-byte seed or a legacy
// raw 32-byte seed, returning the raw bytes and whether migration is
// needed.
func decodeSeed(raw []byte) (seed []byte, migrated bool, err error) {
	if decoded, derr := base64.StdEncoding.DecodeString(string(raw)); derr == nil && len(decoded) == ed25519.SeedSize {
		return decoded, false, nil
	}
	if len(raw) == ed25519.SeedSize {
		return raw, true, nil
	}
	return nil, false, fmt.Errorf("seed is neither valid base64 nor %d raw bytes", ed25519.SeedSize)
}

func generate(stateRoot string) (*Identity, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInternal, "generate identity seed", err)
	}

	encoded := base64.StdEncoding.EncodeToString(seed)
	seedPath := filepath.Join(stateRoot, seedFileName)
	if err := os.WriteFile(seedPath, []byte(encoded), seedFileMode); err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInternal, "write identity seed", err)
	}

	id, err := fromSeed(stateRoot, seed)
	if err != nil {
		return nil, err
	}
	if err := id.writePublicKey(stateRoot); err != nil {
		return nil, err
	}
	return id, nil
}

func fromSeed(stateRoot string, seed []byte) (*Identity, error) {
	private := ed25519.NewKeyFromSeed(seed)
	public := private.Public().(ed25519.PublicKey)

	id := &Identity{
		private: private,
		public:  public,
		agentID: DeriveAgentID(public),
	}
	if err := id.writePublicKey(stateRoot); err != nil {
		return nil, err
	}
	return id, nil
}

func (id *Identity) writePublicKey(stateRoot string) error {
	pubPath := filepath.Join(stateRoot, pubFileName)
	encoded := id.PublicKeyBase64()
	if err := os.WriteFile(pubPath, []byte(encoded), 0644); err != nil {
		return axonerr.Wrap(axonerr.CodeInternal, "write public key file", err)
	}
	return nil
}

// MakeQUICCertificate generates a self-signed X.509 certificate whose SPKI
// is this identity's raw 32-byte Ed25519 public key, with CN
// `axon-<AgentId>` and SAN `localhost`. The private key is returned in
// PKCS#8 version 1 form (x509.MarshalPKCS8PrivateKey), which does not
// embed the public key.
func (id *Identity) MakeQUICCertificate() (*pemCertificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInternal, "generate certificate serial", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "axon-" + id.agentID},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(certValidYears, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	derCert, err := x509.CreateCertificate(rand.Reader, template, template, id.public, id.private)
	if err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInternal, "create self-signed certificate", err)
	}

	derKey, err := x509.MarshalPKCS8PrivateKey(id.private)
	if err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInternal, "marshal PKCS#8 private key", err)
	}

	return &pemCertificate{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derCert}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: derKey}),
	}, nil
}

// pemCertificate holds a PEM-encoded certificate/key pair ready for
// tls.X509KeyPair.
type pemCertificate struct {
	CertPEM []byte
	KeyPEM  []byte
}

// ExtractSPKIAgentID derives the AgentId asserted by a peer's leaf
// certificate, by parsing its Ed25519 SPKI. Used by the mTLS verifier to
// check the cryptographic binding between certificate and hello.
func ExtractSPKIAgentID(cert *x509.Certificate) (string, error) {
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return "", axonerr.New(axonerr.CodeAuthFailed, "peer certificate SPKI is not an Ed25519 key")
	}
	return DeriveAgentID(pub), nil
}
