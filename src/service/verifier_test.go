package service

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraforum/backend/src/domain"
)

func newTestWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func signChallenge(t *testing.T, key *ecdsa.PrivateKey, message string) (signatureHex, publicKeyHex string) {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	return hexutil.Encode(sig), hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey))
}

func TestSignatureVerifier_ValidProof(t *testing.T) {
	verifier := NewSignatureVerifier()
	key, address := newTestWallet(t)

	message := "sign me"
	sig, pub := signChallenge(t, key, message)

	assert.NoError(t, verifier.Verify(message, sig, pub, address))
}

func TestSignatureVerifier_WrongMessage(t *testing.T) {
	verifier := NewSignatureVerifier()
	key, address := newTestWallet(t)

	sig, pub := signChallenge(t, key, "the message that was signed")

	err := verifier.Verify("a different message", sig, pub, address)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrorCodeInvalidSignature))
}

func TestSignatureVerifier_WrongKey(t *testing.T) {
	verifier := NewSignatureVerifier()
	key, address := newTestWallet(t)
	otherKey, _ := newTestWallet(t)

	message := "sign me"
	sig, _ := signChallenge(t, key, message)
	_, otherPub := signChallenge(t, otherKey, message)

	err := verifier.Verify(message, sig, otherPub, address)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrorCodeInvalidSignature))
}

// A cryptographically valid signature from a key that does not control the
// claimed address must be rejected. Without the derived-address check an
// attacker could bind any address using their own keypair.
func TestSignatureVerifier_ValidSignatureWrongAddress(t *testing.T) {
	verifier := NewSignatureVerifier()
	attackerKey, attackerAddress := newTestWallet(t)
	_, victimAddress := newTestWallet(t)

	message := "sign me"
	sig, pub := signChallenge(t, attackerKey, message)

	// Sanity: the proof is valid for the attacker's own address
	require.NoError(t, verifier.Verify(message, sig, pub, attackerAddress))

	err := verifier.Verify(message, sig, pub, victimAddress)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrorCodeInvalidSignature))
}

func TestSignatureVerifier_MalformedInputs(t *testing.T) {
	verifier := NewSignatureVerifier()
	key, address := newTestWallet(t)

	message := "sign me"
	sig, pub := signChallenge(t, key, message)

	cases := []struct {
		name      string
		signature string
		publicKey string
	}{
		{"signature not hex", "0xzzzz", pub},
		{"signature too short", "0x1234", pub},
		{"signature truncated", sig[:len(sig)-2], pub},
		{"public key not hex", sig, "0xzzzz"},
		{"public key wrong length", sig, "0x0400"},
		{"empty signature", "", pub},
		{"empty public key", sig, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := verifier.Verify(message, tc.signature, tc.publicKey, address)
			require.Error(t, err)
			assert.True(t, domain.IsCode(err, domain.ErrorCodeInvalidSignature))
		})
	}
}
