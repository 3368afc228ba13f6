package service

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/terraforum/backend/src/domain"
)

// SignatureVerifier validates wallet ownership proofs. A proof is only
// accepted when both hold:
//
//  1. the signature over the challenge message verifies against the supplied
//     public key, and
//  2. the address derived from that public key equals the claimed address.
//
// The second check is what binds the proof to the claim: signature validity
// alone only shows the signer controls some keypair, not the claimed one.
type SignatureVerifier struct{}

func NewSignatureVerifier() *SignatureVerifier {
	return &SignatureVerifier{}
}

// Verify checks a 65-byte secp256k1 signature over the EIP-191 digest of
// message against an uncompressed public key, then enforces the derived
// address binding. All failures surface as SIGNATURE_INVALID.
func (v *SignatureVerifier) Verify(message, signatureHex, publicKeyHex, claimedAddress string) error {
	signature, err := decodeHex(signatureHex)
	if err != nil {
		return domain.NewError(domain.ErrorCodeInvalidSignature, fmt.Errorf("malformed signature: %w", err), domain.WithMsg("Signature is not valid hex"))
	}
	if len(signature) != crypto.SignatureLength {
		return domain.NewError(domain.ErrorCodeInvalidSignature, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature)), domain.WithMsg("Signature has the wrong length"))
	}

	publicKeyBytes, err := decodeHex(publicKeyHex)
	if err != nil {
		return domain.NewError(domain.ErrorCodeInvalidSignature, fmt.Errorf("malformed public key: %w", err), domain.WithMsg("Public key is not valid hex"))
	}
	publicKey, err := crypto.UnmarshalPubkey(publicKeyBytes)
	if err != nil {
		return domain.NewError(domain.ErrorCodeInvalidSignature, fmt.Errorf("invalid public key: %w", err), domain.WithMsg("Public key is not a valid secp256k1 point"))
	}

	digest := accounts.TextHash([]byte(message))

	// The recovery byte is irrelevant here; the key to verify against is
	// supplied explicitly.
	if !crypto.VerifySignature(crypto.CompressPubkey(publicKey), digest, signature[:crypto.RecoveryIDOffset]) {
		return domain.NewError(domain.ErrorCodeInvalidSignature, errors.New("signature does not verify against the supplied public key"), domain.WithMsg("Signature verification failed"))
	}

	derived := crypto.PubkeyToAddress(*publicKey)
	if derived != common.HexToAddress(claimedAddress) {
		return domain.NewError(domain.ErrorCodeInvalidSignature, fmt.Errorf("signing key controls %s, not the claimed address", derived.Hex()), domain.WithMsg("Signing key does not control the claimed address"))
	}

	return nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
