package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildChallengeMessage_Deterministic(t *testing.T) {
	address := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	nonce := "a3f1c2d4e5f60718293a4b5c6d7e8f90a3f1c2d4e5f60718293a4b5c6d7e8f90"
	issuedAt := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)

	msg1 := BuildChallengeMessage(address, nonce, issuedAt)
	msg2 := BuildChallengeMessage(address, nonce, issuedAt)
	assert.Equal(t, msg1, msg2, "same inputs must produce identical bytes")

	// Sub-second precision must not leak into the message
	msg3 := BuildChallengeMessage(address, nonce, issuedAt.Add(400*time.Millisecond))
	assert.Equal(t, msg1, msg3, "sub-second timestamp variation must not change the message")
}

func TestBuildChallengeMessage_Content(t *testing.T) {
	address := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	nonce := "a3f1c2d4e5f60718293a4b5c6d7e8f90a3f1c2d4e5f60718293a4b5c6d7e8f90"
	issuedAt := time.Date(2026, 8, 28, 10, 30, 15, 0, time.UTC)

	msg := BuildChallengeMessage(address, nonce, issuedAt)

	assert.Contains(t, msg, ChallengeMessageVersion)
	assert.Contains(t, msg, "Address: "+address)
	assert.Contains(t, msg, "Nonce: "+nonce)
	assert.Contains(t, msg, "Issued-At: 2026-08-28T10:30:15Z")
	assert.True(t, strings.HasPrefix(msg, "TerraForum wallet verification"))
}

func TestBuildChallengeMessage_NormalizesToUTC(t *testing.T) {
	address := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	nonce := "a3f1c2d4e5f60718293a4b5c6d7e8f90a3f1c2d4e5f60718293a4b5c6d7e8f90"

	loc := time.FixedZone("UTC+8", 8*3600)
	local := time.Date(2026, 8, 28, 18, 30, 15, 0, loc)
	utc := time.Date(2026, 8, 28, 10, 30, 15, 0, time.UTC)

	assert.Equal(t,
		BuildChallengeMessage(address, nonce, utc),
		BuildChallengeMessage(address, nonce, local),
	)
}

func TestWalletChallenge_Expired(t *testing.T) {
	now := time.Now().UTC()
	challenge := &WalletChallenge{ExpiresAt: now.Add(5 * time.Minute)}

	assert.False(t, challenge.Expired(now))
	assert.False(t, challenge.Expired(now.Add(5*time.Minute)), "boundary instant is still valid")
	assert.True(t, challenge.Expired(now.Add(5*time.Minute+time.Second)))
}
