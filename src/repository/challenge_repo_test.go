package repository

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/terraforum/backend/src/domain"
	"github.com/terraforum/backend/src/testutil"
	"gorm.io/gorm"
)

func createChallenge(t *testing.T, db *gorm.DB, nonce string) *domain.WalletChallenge {
	t.Helper()

	user := &domain.User{
		ID:       uuid.New(),
		Username: "user-" + uuid.NewString(),
		Role:     domain.RoleMember,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	now := time.Now().UTC()
	challenge := &domain.WalletChallenge{
		Nonce:          nonce,
		Message:        domain.BuildChallengeMessage("0x8ba1f109551bD432803012645Ac136ddd64DBA72", nonce, now),
		ClaimedAddress: "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
		UserID:         user.ID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(5 * time.Minute),
	}
	if err := db.Create(challenge).Error; err != nil {
		t.Fatalf("Failed to create challenge: %v", err)
	}
	return challenge
}

func TestChallengeRepository_Consume(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewChallengeRepository(db)
	nonce := "1111111111111111111111111111111111111111111111111111111111111111"
	createChallenge(t, db, nonce)

	now := time.Now().UTC()

	consumed, err := repo.Consume(nonce, now)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if !consumed {
		t.Fatal("First consume should succeed")
	}

	stored, err := repo.FindByNonce(nonce)
	if err != nil {
		t.Fatalf("FindByNonce failed: %v", err)
	}
	if !stored.Consumed {
		t.Error("Challenge should be marked consumed")
	}
	if !stored.Verified {
		t.Error("Challenge should be marked verified")
	}
	if stored.VerifiedAt == nil {
		t.Error("VerifiedAt should be set")
	}

	// Second consume must lose the compare-and-set
	consumed, err = repo.Consume(nonce, now)
	if err != nil {
		t.Fatalf("Second consume errored: %v", err)
	}
	if consumed {
		t.Error("Second consume should report false")
	}
}

func TestChallengeRepository_Consume_UnknownNonce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewChallengeRepository(db)

	consumed, err := repo.Consume("2222222222222222222222222222222222222222222222222222222222222222", time.Now().UTC())
	if err != nil {
		t.Fatalf("Consume errored: %v", err)
	}
	if consumed {
		t.Error("Consuming an unknown nonce should report false")
	}
}

func TestChallengeRepository_Consume_Concurrent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewChallengeRepository(db)
	nonce := "3333333333333333333333333333333333333333333333333333333333333333"
	createChallenge(t, db, nonce)

	const workers = 10
	results := make([]bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			consumed, err := repo.Consume(nonce, time.Now().UTC())
			if err != nil {
				t.Errorf("Consume errored: %v", err)
				return
			}
			results[i] = consumed
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, won := range results {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("Expected exactly one winner, got %d", winners)
	}
}
