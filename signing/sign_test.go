package signing_test

import (
	"crypto/ed25519"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/signing"
)

func newSigner(t *testing.T) *signing.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	s, err := signing.NewSigner(priv)
	require.NoError(t, err)
	return s
}

func TestSignVerify(t *testing.T) {
	t.Parallel()
	signer := newSigner(t)
	payload := []byte(`{"model_id":"abc","query_input":{"x":1}}`)

	nonce, signature := signer.Sign(payload)
	require.True(t, signing.Verify(nonce, signer.Identity(), shared.Digest(payload), signature))

	t.Run("payload changed", func(t *testing.T) {
		t.Parallel()
		tampered := append([]byte{}, payload...)
		tampered[3] ^= 0x01
		require.False(t, signing.Verify(nonce, signer.Identity(), shared.Digest(tampered), signature))
	})
	t.Run("nonce changed", func(t *testing.T) {
		t.Parallel()
		require.False(t, signing.Verify(nonce+"1", signer.Identity(), shared.Digest(payload), signature))
	})
	t.Run("identity changed", func(t *testing.T) {
		t.Parallel()
		other := newSigner(t)
		require.False(t, signing.Verify(nonce, other.Identity(), shared.Digest(payload), signature))
	})
}

func TestVerifyMalformedInput(t *testing.T) {
	t.Parallel()
	signer := newSigner(t)
	nonce, signature := signer.Sign([]byte("x"))
	digest := shared.Digest([]byte("x"))

	require.False(t, signing.Verify(nonce, "not-hex", digest, signature))
	require.False(t, signing.Verify(nonce, "abcd", digest, signature))
	require.False(t, signing.Verify(nonce, signer.Identity(), digest, "0xzz"))
	require.False(t, signing.Verify(nonce, signer.Identity(), digest, "0x0102"))
	require.False(t, signing.Verify("", "", "", ""))
}

func TestNonceFromClock(t *testing.T) {
	t.Parallel()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	at := time.Unix(0, 1700000000123456789)
	signer, err := signing.NewSigner(priv, signing.WithClock(func() time.Time { return at }))
	require.NoError(t, err)

	nonce, _ := signer.Sign(nil)
	require.Equal(t, "1700000000123456789", nonce)
}

func TestNewSignerRejectsShortKey(t *testing.T) {
	t.Parallel()
	_, err := signing.NewSigner(ed25519.PrivateKey{1, 2, 3})
	require.ErrorIs(t, err, signing.ErrInvalidKeyLen)
}

func TestCredentialsRoundTrip(t *testing.T) {
	t.Parallel()
	signer := newSigner(t)
	payload := []byte(`{"capacities":null}`)
	h := http.Header{}
	signer.SignRequest(h, payload, "target")

	creds, err := signing.CredentialsFrom(h)
	require.NoError(t, err)
	require.Equal(t, signer.Identity(), creds.Sender)
	require.Equal(t, "target", creds.Target)
	require.True(t, creds.VerifyPayload(payload))
	require.False(t, creds.VerifyPayload([]byte(`{"capacities":{}}`)))

	h.Del(signing.HeaderNonce)
	_, err = signing.CredentialsFrom(h)
	require.ErrorIs(t, err, signing.ErrMissingHeaders)
}
