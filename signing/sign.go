package signing

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/proofmesh/proofmesh/shared"
)

var (
	ErrInvalidPubkeyLen = errors.New("pubkey has invalid length")
	ErrInvalidKeyLen    = errors.New("private key has invalid length")
	ErrMissingHeaders   = errors.New("missing authentication headers")
)

// Transport headers binding a request to its sender.
const (
	HeaderNonce     = "nonce"
	HeaderSignature = "signature"
	HeaderSender    = "validator-hotkey"
	HeaderTarget    = "miner-hotkey"
)

// Signer signs request bodies on behalf of one identity.
type Signer struct {
	key ed25519.PrivateKey
	now func() time.Time
}

type newSignerOptionFunc func(*Signer)

// WithClock overrides the source of nonces.
func WithClock(now func() time.Time) newSignerOptionFunc {
	return func(s *Signer) {
		s.now = now
	}
}

func NewSigner(key ed25519.PrivateKey, opts ...newSignerOptionFunc) (*Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeyLen
	}
	s := &Signer{key: key, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Identity is the hex encoded public key of the signer.
func (s *Signer) Identity() string {
	return IdentityOf(s.key.Public().(ed25519.PublicKey))
}

func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Sign produces a fresh nonce and the signature binding it to the payload.
func (s *Signer) Sign(payload []byte) (nonce, signature string) {
	nonce = strconv.FormatInt(s.now().UnixNano(), 10)
	msg := Message(nonce, s.Identity(), shared.Digest(payload))
	sig := ed25519.Sign(s.key, []byte(msg))
	return nonce, "0x" + hex.EncodeToString(sig)
}

// SignRequest signs the payload and sets all four authentication headers on h.
func (s *Signer) SignRequest(h http.Header, payload []byte, target string) {
	nonce, signature := s.Sign(payload)
	h.Set(HeaderNonce, nonce)
	h.Set(HeaderSignature, signature)
	h.Set(HeaderSender, s.Identity())
	h.Set(HeaderTarget, target)
}

// Message is the string covered by a signature.
func Message(nonce, identity, digest string) string {
	return nonce + ":" + identity + ":" + digest
}

// Verify checks a signature over (nonce, identity, digest). Malformed input yields false.
func Verify(nonce, identity, digest, signature string) bool {
	pub, err := ParseIdentity(identity)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, []byte(Message(nonce, identity, digest)), sig)
}

// IdentityOf encodes a public key as an identity.
func IdentityOf(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

func ParseIdentity(identity string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(identity)
	if err != nil {
		return nil, fmt.Errorf("decoding identity: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidPubkeyLen
	}
	return ed25519.PublicKey(raw), nil
}

// Credentials are the authentication headers of an inbound request.
type Credentials struct {
	Nonce     string
	Signature string
	Sender    string
	Target    string
}

// CredentialsFrom extracts the authentication headers, failing if any is absent.
func CredentialsFrom(h http.Header) (Credentials, error) {
	c := Credentials{
		Nonce:     h.Get(HeaderNonce),
		Signature: h.Get(HeaderSignature),
		Sender:    h.Get(HeaderSender),
		Target:    h.Get(HeaderTarget),
	}
	if c.Nonce == "" || c.Signature == "" || c.Sender == "" || c.Target == "" {
		return c, ErrMissingHeaders
	}
	return c, nil
}

// VerifyPayload checks the credentials against the raw body they claim to cover.
func (c Credentials) VerifyPayload(payload []byte) bool {
	return Verify(c.Nonce, c.Sender, shared.Digest(payload), c.Signature)
}
