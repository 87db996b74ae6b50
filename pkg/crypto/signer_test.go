package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	msg := []byte("invoke_request:cap.read")
	sig := key.Sign(msg)

	if !Verify(key.PublicKey(), msg, sig) {
		t.Fatal("valid signature rejected")
	}
}

func TestVerify_TamperedMessageRejected(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	sig := key.Sign([]byte("original"))
	if Verify(key.PublicKey(), []byte("tampered"), sig) {
		t.Fatal("tampered message accepted")
	}
}

func TestLoadSigningKey_RejectsWrongSeedLength(t *testing.T) {
	_, err := LoadSigningKey(bytes.Repeat([]byte{0x01}, 16))
	require.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestLoadSigningKey_DeterministicFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, SeedSize)

	k1, err := LoadSigningKey(seed)
	require.NoError(t, err)
	k2, err := LoadSigningKey(seed)
	require.NoError(t, err)

	require.Equal(t, k1.PublicKey(), k2.PublicKey())

	msg := []byte("hello")
	require.Equal(t, k1.Sign(msg), k2.Sign(msg))
}

func TestKeyRing_AddLookupRevoke(t *testing.T) {
	ring := NewKeyRing()
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	ring.Add("zone-key-1", key.PublicKey())

	msg := []byte("payload")
	sig := key.Sign(msg)

	ok, err := ring.Verify("zone-key-1", msg, sig)
	require.NoError(t, err)
	require.True(t, ok)

	ring.Revoke("zone-key-1")
	_, err = ring.Verify("zone-key-1", msg, sig)
	require.Error(t, err)
}
