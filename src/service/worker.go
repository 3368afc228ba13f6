package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OutcomeStatus marks the worker-side progress of a queued reward.
type OutcomeStatus string

const (
	OutcomeQueued    OutcomeStatus = "queued"
	OutcomeProcessed OutcomeStatus = "processed"
	OutcomeFailed    OutcomeStatus = "failed"
)

// RewardOutcome is the best-effort processing record kept in redis. The
// database row stays the source of truth; this cache only prevents the sweep
// from re-enqueueing work that is already in flight.
type RewardOutcome struct {
	RewardID  uuid.UUID     `json:"reward_id"`
	Status    OutcomeStatus `json:"status"`
	Error     string        `json:"error"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// RewardWorker moves reward submission off the request path. Handlers enqueue
// a reward id; the worker dequeues and drives it through RewardService so a
// slow external ledger cannot stall unrelated API calls.
type RewardWorker struct {
	redis         *redis.Client
	queueName     string
	outcomeCache  string
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	sweepInterval time.Duration
	staleAfter    time.Duration
	rewards       *RewardService
}

func NewRewardWorker(ctx context.Context, redisClient *redis.Client, queueName string, sweepInterval time.Duration, rewards *RewardService) *RewardWorker {
	ctx, cancel := context.WithCancel(ctx)

	return &RewardWorker{
		redis:         redisClient,
		queueName:     queueName,
		outcomeCache:  queueName + ":outcome",
		ctx:           ctx,
		cancel:        cancel,
		sweepInterval: sweepInterval,
		staleAfter:    5 * time.Minute,
		rewards:       rewards,
	}
}

// logger wraps the worker context with component info
func (w *RewardWorker) logger() *zerolog.Logger {
	l := zerolog.Ctx(w.ctx).With().Str("component", "reward-worker").Logger()
	return &l
}

// Start launches the sweep and processing goroutines.
func (w *RewardWorker) Start() {
	w.wg.Add(1)
	go w.sweepLoop()

	w.wg.Add(1)
	go w.processLoop()
}

// Stop gracefully shuts down the worker.
func (w *RewardWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}

// Enqueue pushes a reward id onto the submission queue.
func (w *RewardWorker) Enqueue(ctx context.Context, rewardID uuid.UUID) error {
	if err := w.redis.LPush(ctx, w.queueName, rewardID.String()).Err(); err != nil {
		return fmt.Errorf("failed to enqueue reward %s: %w", rewardID, err)
	}
	w.setOutcome(rewardID, OutcomeQueued, "")
	return nil
}

// sweepLoop periodically requeues stale PENDING rewards whose enqueue was
// lost, e.g. across a restart or a redis outage.
func (w *RewardWorker) sweepLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.requeueStalePending()
		}
	}
}

func (w *RewardWorker) requeueStalePending() {
	logger := w.logger()

	stale, err := w.rewards.StalePending(w.ctx, time.Now().UTC().Add(-w.staleAfter), 100)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list stale pending rewards")
		return
	}

	for _, request := range stale {
		if w.shouldSkip(request.ID) {
			continue
		}
		if err := w.Enqueue(w.ctx, request.ID); err != nil {
			logger.Error().Err(err).Str("reward_id", request.ID.String()).Msg("failed to requeue reward")
			continue
		}
		logger.Info().Str("reward_id", request.ID.String()).Msg("requeued stale pending reward")
	}
}

// shouldSkip reports whether the reward already has an in-flight or settled
// outcome record.
func (w *RewardWorker) shouldSkip(rewardID uuid.UUID) bool {
	logger := w.logger()

	outcomeKey := fmt.Sprintf("%s:%s", w.outcomeCache, rewardID)
	data, err := w.redis.Get(w.ctx, outcomeKey).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Error().Err(err).Str("reward_id", rewardID.String()).Msg("failed to check reward outcome")
		}
		return false
	}

	var outcome RewardOutcome
	if err := json.Unmarshal([]byte(data), &outcome); err != nil {
		logger.Error().Err(err).Str("reward_id", rewardID.String()).Msg("failed to unmarshal reward outcome")
		return false
	}

	return outcome.Status == OutcomeQueued || outcome.Status == OutcomeProcessed
}

// processLoop continuously pops reward ids from the queue and processes them.
func (w *RewardWorker) processLoop() {
	defer w.wg.Done()

	logger := w.logger()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			result, err := w.redis.BRPop(w.ctx, 1*time.Second, w.queueName).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}

				// if context was cancelled (during shutdown), ignore error
				if w.ctx.Err() != nil {
					return
				}

				logger.Error().Err(err).Msg("error popping from reward queue")
				continue
			}

			rewardID, err := uuid.Parse(result[1])
			if err != nil {
				logger.Error().Err(err).Str("raw", result[1]).Msg("invalid reward id on queue")
				continue
			}

			w.process(rewardID)
		}
	}
}

// process drives one reward to a terminal state. Errors are recorded on the
// request row by RewardService and in the outcome cache; nothing propagates
// back to the workflow that triggered the reward.
func (w *RewardWorker) process(rewardID uuid.UUID) {
	logger := w.logger()
	logger.Info().Str("reward_id", rewardID.String()).Msg("processing reward")

	if err := w.rewards.Process(w.ctx, rewardID); err != nil {
		logger.Error().Err(err).Str("reward_id", rewardID.String()).Msg("reward processing ended in failure")
		w.setOutcome(rewardID, OutcomeFailed, err.Error())
		return
	}

	logger.Info().Str("reward_id", rewardID.String()).Msg("reward processed")
	w.setOutcome(rewardID, OutcomeProcessed, "")
}

// setOutcome records the worker-side outcome with a TTL.
func (w *RewardWorker) setOutcome(rewardID uuid.UUID, status OutcomeStatus, message string) {
	logger := w.logger()

	outcome := RewardOutcome{
		RewardID:  rewardID,
		Status:    status,
		Error:     message,
		UpdatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		logger.Error().Err(err).Str("reward_id", rewardID.String()).Msg("failed to marshal reward outcome")
		return
	}

	outcomeKey := fmt.Sprintf("%s:%s", w.outcomeCache, rewardID)
	if err := w.redis.Set(w.ctx, outcomeKey, data, 24*time.Hour).Err(); err != nil {
		logger.Error().Err(err).Str("reward_id", rewardID.String()).Msg("failed to set reward outcome")
	}
}
