package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraforum/backend/src/domain"
	"github.com/terraforum/backend/src/repository"
	"github.com/terraforum/backend/src/testutil"
	"gorm.io/gorm"
)

const (
	testIssuerAddress = "0x1111111111111111111111111111111111111111"
	testTxHash        = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

// fakeChainClient scripts submission outcomes per call. A nil entry in
// submitErrs means that attempt succeeds; calls past the script succeed.
type fakeChainClient struct {
	mu             sync.Mutex
	submitCalls    int
	submitErrs     []error
	finalityErr    error
	accountMissing bool
}

func (f *fakeChainClient) IssuerAddress() string { return testIssuerAddress }

func (f *fakeChainClient) AccountExists(ctx context.Context, address string) (bool, error) {
	return !f.accountMissing, nil
}

func (f *fakeChainClient) SubmitPayment(ctx context.Context, req PaymentRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.submitCalls
	f.submitCalls++
	if call < len(f.submitErrs) && f.submitErrs[call] != nil {
		return "", f.submitErrs[call]
	}
	return testTxHash, nil
}

func (f *fakeChainClient) AwaitFinality(ctx context.Context, txHash string, timeout time.Duration) error {
	return f.finalityErr
}

func (f *fakeChainClient) Close() {}

func (f *fakeChainClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

func newRewardService(db *gorm.DB, chain ChainClient) *RewardService {
	return NewRewardService(repository.NewRewardRepository(db), repository.NewUserRepository(db), chain, RewardConfig{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		CurrencyCodes: map[domain.TokenKind]string{
			domain.TokenKindNative: "ETH",
			domain.TokenKindTerra:  "TERRA",
		},
	})
}

func transientSubmitError() error {
	return domain.NewError(domain.ErrorCodeChainSubmission, errors.New("nonce too low"))
}

func TestRewardService_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	chain := &fakeChainClient{}
	svc := newRewardService(db, chain)

	address := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	beneficiary := createTestUser(t, db, &address)

	amount := decimal.RequireFromString("2.5")
	request, err := svc.Create(context.Background(), beneficiary.ID, amount, domain.TokenKindTerra, "helpful trail report", "post-42")
	require.NoError(t, err)

	assert.Equal(t, domain.RewardStatusPending, request.Status)
	assert.Equal(t, beneficiary.ID, request.BeneficiaryID)
	assert.True(t, amount.Equal(request.Amount))
	assert.Equal(t, "post-42", request.ContributionRef)

	// Routing info is snapshotted at creation time
	assert.Equal(t, address, request.DestinationAddress)
	assert.Equal(t, testIssuerAddress, request.IssuerAddress)
	assert.Equal(t, "TERRA", request.CurrencyCode)

	assert.Nil(t, request.TxHash)
	assert.Nil(t, request.ErrorDetail)
}

func TestRewardService_Create_Validation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	svc := newRewardService(db, &fakeChainClient{})

	address := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	beneficiary := createTestUser(t, db, &address)
	one := decimal.NewFromInt(1)

	cases := []struct {
		name string
		run  func() error
		code domain.ErrorCode
	}{
		{
			"unsupported token kind",
			func() error {
				_, err := svc.Create(context.Background(), beneficiary.ID, one, domain.TokenKind("doge"), "", "post-1")
				return err
			},
			domain.ErrorCodeParameterInvalid,
		},
		{
			"zero amount",
			func() error {
				_, err := svc.Create(context.Background(), beneficiary.ID, decimal.Zero, domain.TokenKindNative, "", "post-1")
				return err
			},
			domain.ErrorCodeParameterInvalid,
		},
		{
			"negative amount",
			func() error {
				_, err := svc.Create(context.Background(), beneficiary.ID, one.Neg(), domain.TokenKindNative, "", "post-1")
				return err
			},
			domain.ErrorCodeParameterInvalid,
		},
		{
			"missing contribution ref",
			func() error {
				_, err := svc.Create(context.Background(), beneficiary.ID, one, domain.TokenKindNative, "", "")
				return err
			},
			domain.ErrorCodeParameterInvalid,
		},
		{
			"unknown beneficiary",
			func() error {
				_, err := svc.Create(context.Background(), uuid.New(), one, domain.TokenKindNative, "", "post-1")
				return err
			},
			domain.ErrorCodeResourceNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.Error(t, err)
			assert.True(t, domain.IsCode(err, tc.code), "got: %v", err)
		})
	}
}

func TestRewardService_Create_NoWalletLinked(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	svc := newRewardService(db, &fakeChainClient{})
	beneficiary := createTestUser(t, db, nil)

	_, err := svc.Create(context.Background(), beneficiary.ID, decimal.NewFromInt(1), domain.TokenKindNative, "", "post-1")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrorCodeNoWalletLinked))
}

func TestRewardService_Create_DuplicateTrigger(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	svc := newRewardService(db, &fakeChainClient{})

	address := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	beneficiary := createTestUser(t, db, &address)
	one := decimal.NewFromInt(1)

	_, err := svc.Create(context.Background(), beneficiary.ID, one, domain.TokenKindNative, "", "post-7")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), beneficiary.ID, one, domain.TokenKindNative, "", "post-7")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrorCodeConflict))

	// A different token kind for the same contribution is a distinct reward
	_, err = svc.Create(context.Background(), beneficiary.ID, one, domain.TokenKindTerra, "", "post-7")
	assert.NoError(t, err)
}

func TestRewardService_Process_Confirms(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	chain := &fakeChainClient{}
	svc := newRewardService(db, chain)
	rewards := repository.NewRewardRepository(db)

	address := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	beneficiary := createTestUser(t, db, &address)

	request, err := svc.Create(context.Background(), beneficiary.ID, decimal.NewFromInt(1), domain.TokenKindNative, "", "post-1")
	require.NoError(t, err)

	require.NoError(t, svc.Process(context.Background(), request.ID))

	stored, err := rewards.FindByID(request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusConfirmed, stored.Status)
	require.NotNil(t, stored.TxHash)
	assert.Equal(t, testTxHash, *stored.TxHash)
	require.NotNil(t, stored.ProcessedAt)
	require.NotNil(t, stored.ConfirmedAt)
	assert.Equal(t, 1, chain.calls())

	// Terminal rows are never reprocessed
	require.NoError(t, svc.Process(context.Background(), request.ID))
	assert.Equal(t, 1, chain.calls())
}

func TestRewardService_Process_RetriesTransientErrors(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	chain := &fakeChainClient{submitErrs: []error{transientSubmitError(), transientSubmitError()}}
	svc := newRewardService(db, chain)
	rewards := repository.NewRewardRepository(db)

	address := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	beneficiary := createTestUser(t, db, &address)

	request, err := svc.Create(context.Background(), beneficiary.ID, decimal.NewFromInt(1), domain.TokenKindNative, "", "post-1")
	require.NoError(t, err)

	require.NoError(t, svc.Process(context.Background(), request.ID))

	stored, err := rewards.FindByID(request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusConfirmed, stored.Status)
	assert.Equal(t, 3, chain.calls())
}

func TestRewardService_Process_ExhaustedRetriesFail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	chain := &fakeChainClient{submitErrs: []error{transientSubmitError(), transientSubmitError(), transientSubmitError()}}
	svc := newRewardService(db, chain)
	rewards := repository.NewRewardRepository(db)

	address := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	beneficiary := createTestUser(t, db, &address)

	request, err := svc.Create(context.Background(), beneficiary.ID, decimal.NewFromInt(1), domain.TokenKindNative, "", "post-1")
	require.NoError(t, err)

	err = svc.Process(context.Background(), request.ID)
	require.Error(t, err)

	stored, err := rewards.FindByID(request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusFailed, stored.Status)
	assert.Nil(t, stored.TxHash, "nothing was broadcast, no hash to keep")
	require.NotNil(t, stored.ErrorDetail)
	assert.NotEmpty(t, *stored.ErrorDetail)
	assert.Equal(t, 3, chain.calls())
}

func TestRewardService_Process_NonTransientErrorFailsFast(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	chain := &fakeChainClient{submitErrs: []error{
		domain.NewError(domain.ErrorCodeParameterInvalid, errors.New("token payouts are not enabled")),
	}}
	svc := newRewardService(db, chain)
	rewards := repository.NewRewardRepository(db)

	address := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	beneficiary := createTestUser(t, db, &address)

	request, err := svc.Create(context.Background(), beneficiary.ID, decimal.NewFromInt(1), domain.TokenKindTerra, "", "post-1")
	require.NoError(t, err)

	err = svc.Process(context.Background(), request.ID)
	require.Error(t, err)

	stored, err := rewards.FindByID(request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusFailed, stored.Status)
	assert.Equal(t, 1, chain.calls(), "non-transient errors must not be retried")

	// The creation workflow already succeeded; the failure lives only on the
	// request row.
	require.NotNil(t, stored.ErrorDetail)
}

func TestRewardService_Process_MissingDestinationAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	chain := &fakeChainClient{accountMissing: true}
	svc := newRewardService(db, chain)
	rewards := repository.NewRewardRepository(db)

	address := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	beneficiary := createTestUser(t, db, &address)

	request, err := svc.Create(context.Background(), beneficiary.ID, decimal.NewFromInt(1), domain.TokenKindNative, "", "post-1")
	require.NoError(t, err)

	err = svc.Process(context.Background(), request.ID)
	require.Error(t, err)

	stored, err := rewards.FindByID(request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusFailed, stored.Status)
	assert.Equal(t, 0, chain.calls(), "nothing is submitted to a missing account")
}

func TestRewardService_Process_FinalityTimeoutKeepsHash(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	chain := &fakeChainClient{
		finalityErr: domain.NewError(domain.ErrorCodeChainTimeout, errors.New("context deadline exceeded")),
	}
	svc := newRewardService(db, chain)
	rewards := repository.NewRewardRepository(db)

	address := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	beneficiary := createTestUser(t, db, &address)

	request, err := svc.Create(context.Background(), beneficiary.ID, decimal.NewFromInt(1), domain.TokenKindNative, "", "post-1")
	require.NoError(t, err)

	err = svc.Process(context.Background(), request.ID)
	require.Error(t, err)

	stored, err := rewards.FindByID(request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusFailed, stored.Status)
	require.NotNil(t, stored.TxHash, "hash is kept for reconciliation")
	assert.Equal(t, testTxHash, *stored.TxHash)
	assert.Equal(t, 1, chain.calls(), "a possibly landed payment must not be resubmitted")
}

func TestRewardService_Create_AfterFailureAllowsRetrigger(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	chain := &fakeChainClient{submitErrs: []error{transientSubmitError(), transientSubmitError(), transientSubmitError()}}
	svc := newRewardService(db, chain)

	address := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	beneficiary := createTestUser(t, db, &address)
	one := decimal.NewFromInt(1)

	request, err := svc.Create(context.Background(), beneficiary.ID, one, domain.TokenKindNative, "", "post-1")
	require.NoError(t, err)
	require.Error(t, svc.Process(context.Background(), request.ID))

	// The dedupe index ignores FAILED rows, so a steward can issue the reward
	// again after investigating.
	_, err = svc.Create(context.Background(), beneficiary.ID, one, domain.TokenKindNative, "", "post-1")
	assert.NoError(t, err)
}
