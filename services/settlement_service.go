// services/settlement_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trivia-settlement/chain"
	"trivia-settlement/models"
	"trivia-settlement/utils"
)

// Settlement errors. AlreadyRanked/AlreadyPublished are idempotent no-ops,
// not failures; the handlers answer them with the prior result.
var (
	ErrGameNotFound   = errors.New("game not found")
	ErrGameNotEnded   = errors.New("game has not ended")
	ErrGameNotRanked  = errors.New("game has not been ranked")
	ErrNoEntries      = errors.New("no paid entries to rank")
	ErrContractPaused = errors.New("prize pool contract is paused")
)

// PublishError wraps a failed on-chain submission. The game stays RANKED and
// publish is safe to retry; the attempted root is kept for the retry logs.
type PublishError struct {
	GameID string
	Root   string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish game %s (root %s): %v", e.GameID, e.Root, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

type SettlementService struct {
	DB            *gorm.DB
	Chain         chain.PrizePool
	PodiumWeights []*big.Rat
}

func NewSettlementService(db *gorm.DB, prizePool chain.PrizePool) *SettlementService {
	return &SettlementService{
		DB:            db,
		Chain:         prizePool,
		PodiumWeights: PodiumWeightsFromEnv(),
	}
}

// RankOutcome reports what a rank call did (or found already done).
type RankOutcome struct {
	EntriesRanked     int  `json:"entries_ranked"`
	PrizesDistributed int  `json:"prizes_distributed"`
	AlreadyRanked     bool `json:"already_ranked,omitempty"`
}

// PublishOutcome reports what a publish call did.
type PublishOutcome struct {
	Published        bool   `json:"published"`
	TxHash           string `json:"tx_hash,omitempty"`
	Root             string `json:"root,omitempty"`
	AlreadyPublished bool   `json:"already_published,omitempty"`
	NoWinners        bool   `json:"no_winners,omitempty"`
}

// forUpdate row-locks where the dialect supports it. SQLite serializes
// writers on its own and rejects FOR UPDATE syntax.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// platformFeeBps resolves the fee: the snapshot on the game if ranking ran
// before, else the contract, else the PLATFORM_FEE_BPS env fallback.
func (s *SettlementService) platformFeeBps(ctx context.Context, game *models.TriviaGame) int {
	if game.PlatformFeeBps != nil {
		return *game.PlatformFeeBps
	}
	if s.Chain != nil {
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if fee, err := s.Chain.PlatformFeeBps(callCtx); err == nil {
			return fee
		} else {
			log.Printf("[Settlement] platformFeeBps read failed for game %s, using fallback: %v", game.ID, err)
		}
	}
	if raw := os.Getenv("PLATFORM_FEE_BPS"); raw != "" {
		if fee, err := strconv.Atoi(raw); err == nil && fee >= 0 && fee <= BpsDenominator {
			return fee
		}
	}
	return 0
}

// RankGameByID runs the COMPLETED -> RANKED transition exactly once.
// Ranks and prizes for every paid entry are written in a single transaction
// together with the ranking timestamp; a concurrent caller loses the row
// lock race, observes ranked_at set, and gets the existing result back.
func (s *SettlementService) RankGameByID(ctx context.Context, gameID string) (*RankOutcome, error) {
	var game models.TriviaGame
	if err := s.DB.First(&game, "id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}
	if !game.Ended(time.Now()) {
		return nil, ErrGameNotEnded
	}
	if game.RankedAt != nil {
		return s.existingRankOutcome(gameID)
	}

	// Resolve the fee before opening the transaction: the contract read is
	// slow I/O and must not hold the game row locked.
	feeBps := s.platformFeeBps(ctx, &game)

	outcome := &RankOutcome{}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var locked models.TriviaGame
		if err := forUpdate(tx).First(&locked, "id = ?", gameID).Error; err != nil {
			return err
		}
		if locked.RankedAt != nil {
			outcome.AlreadyRanked = true
			return nil
		}

		var entries []models.GameEntry
		if err := tx.Where("game_id = ? AND paid_at IS NOT NULL", gameID).
			Order("created_at ASC").
			Find(&entries).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return ErrNoEntries
		}

		prizePool, err := ParseAmount(locked.PrizePool)
		if err != nil {
			return fmt.Errorf("game %s prize pool: %w", gameID, err)
		}

		ranked := RankEntries(entries)
		prizes, _, err := DistributePrizes(prizePool, feeBps, ranked, s.PodiumWeights)
		if err != nil {
			return err
		}

		for i := range ranked {
			prize := "0"
			if p, ok := prizes[*ranked[i].Rank]; ok {
				prize = p.String()
				if p.Sign() > 0 {
					outcome.PrizesDistributed++
				}
			}
			if err := tx.Model(&models.GameEntry{}).
				Where("id = ?", ranked[i].ID).
				Updates(map[string]interface{}{
					"rank":  *ranked[i].Rank,
					"prize": prize,
				}).Error; err != nil {
				return err
			}
		}
		outcome.EntriesRanked = len(ranked)

		now := time.Now()
		return tx.Model(&models.TriviaGame{}).
			Where("id = ? AND ranked_at IS NULL", gameID).
			Updates(map[string]interface{}{
				"ranked_at":        now,
				"platform_fee_bps": feeBps,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	if outcome.AlreadyRanked {
		return s.existingRankOutcome(gameID)
	}

	log.Printf("[Settlement] Ranked game %s: %d entries, %d prized", gameID, outcome.EntriesRanked, outcome.PrizesDistributed)
	return outcome, nil
}

func (s *SettlementService) existingRankOutcome(gameID string) (*RankOutcome, error) {
	var ranked, prized int64
	if err := s.DB.Model(&models.GameEntry{}).
		Where("game_id = ? AND rank IS NOT NULL", gameID).
		Count(&ranked).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Model(&models.GameEntry{}).
		Where("game_id = ? AND rank IS NOT NULL AND prize <> '0'", gameID).
		Count(&prized).Error; err != nil {
		return nil, err
	}
	return &RankOutcome{
		EntriesRanked:     int(ranked),
		PrizesDistributed: int(prized),
		AlreadyRanked:     true,
	}, nil
}

// PublishGameByID runs the RANKED -> PUBLISHED transition. The winner list
// is rebuilt from ranked entries, committed to a Merkle tree, and the root
// handed to the contract; publication is recorded only after the chain
// confirms. A chain failure leaves the game RANKED and retryable.
func (s *SettlementService) PublishGameByID(ctx context.Context, gameID string) (*PublishOutcome, error) {
	var game models.TriviaGame
	if err := s.DB.First(&game, "id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}
	if game.RankedAt == nil {
		return nil, ErrGameNotRanked
	}
	if game.PublishedAt != nil {
		var commitment models.MerkleCommitment
		if err := s.DB.First(&commitment, "game_id = ?", gameID).Error; err == nil {
			return &PublishOutcome{Published: true, TxHash: commitment.TxHash, Root: commitment.Root, AlreadyPublished: true}, nil
		}
		return &PublishOutcome{Published: true, AlreadyPublished: true}, nil
	}

	var entries []models.GameEntry
	if err := s.DB.Where("game_id = ? AND rank IS NOT NULL", gameID).
		Order("rank ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}

	winners, err := BuildWinners(&game, entries)
	if err != nil {
		return nil, err
	}
	if len(winners) == 0 {
		log.Printf("[Settlement] Game %s has no winners with a positive prize, skipping publish", gameID)
		return &PublishOutcome{Published: false, NoWinners: true}, nil
	}

	leaves, err := WinnerLeaves(winners)
	if err != nil {
		return nil, err
	}
	tree, err := utils.BuildMerkleTree(leaves)
	if err != nil {
		return nil, err
	}
	root := tree.Root()

	// A prior attempt may have confirmed on-chain and then died before the
	// DB write. Check the contract before resubmitting: a matching root
	// means record-only, a different root means the committed set diverged.
	alreadyOnChain := false
	if onchain, err := s.Chain.SubmittedRoot(ctx, game.ChainGameID); err == nil {
		if onchain == root {
			alreadyOnChain = true
			log.Printf("[Settlement] Root for game %s already on-chain, recording without resubmitting", gameID)
		} else if onchain != (common.Hash{}) {
			return nil, fmt.Errorf("chain holds root %s for game %s but derived %s", onchain.Hex(), gameID, root.Hex())
		}
	} else {
		log.Printf("[Settlement] gameResults read failed for game %s, proceeding to submit: %v", gameID, err)
	}

	if !alreadyOnChain {
		if paused, err := s.Chain.Paused(ctx); err == nil && paused {
			return nil, ErrContractPaused
		}
	}

	// Record the attempted root up front so retries and the publish-failure
	// logs can see what was submitted.
	commitment := models.MerkleCommitment{
		ID:     uuid.NewString(),
		GameID: gameID,
		Root:   root.Hex(),
	}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"root", "updated_at"}),
	}).Create(&commitment).Error; err != nil {
		return nil, err
	}

	var txHash string
	if !alreadyOnChain {
		txCtx, cancel := context.WithTimeout(ctx, chain.TxTimeout())
		defer cancel()
		txHash, err = s.Chain.SubmitMerkleRoot(txCtx, game.ChainGameID, root)
		if err != nil {
			return nil, &PublishError{GameID: gameID, Root: root.Hex(), Err: err}
		}
	}

	now := time.Now()
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"published_at": now}
		if txHash != "" {
			// Record-only repairs keep whatever tx hash the earlier
			// attempt managed to store.
			updates["tx_hash"] = txHash
		}
		if err := tx.Model(&models.MerkleCommitment{}).
			Where("game_id = ?", gameID).
			Updates(updates).Error; err != nil {
			return err
		}
		return tx.Model(&models.TriviaGame{}).
			Where("id = ? AND published_at IS NULL", gameID).
			Update("published_at", now).Error
	})
	if err != nil {
		// The root is on-chain; surface the DB failure, the next publish
		// call will find the confirmed commitment and repair the record.
		return nil, fmt.Errorf("root confirmed (tx %s) but recording failed: %w", txHash, err)
	}

	go s.archiveSnapshot(&game, winners, root.Hex(), txHash)

	log.Printf("[Settlement] Published game %s root %s (tx: %s)", gameID, root.Hex(), txHash)
	return &PublishOutcome{Published: true, TxHash: txHash, Root: root.Hex()}, nil
}

// archiveSnapshot uploads the winner table to R2 for audit. Best effort.
func (s *SettlementService) archiveSnapshot(game *models.TriviaGame, winners []Winner, root, txHash string) {
	key := fmt.Sprintf("settlements/%s/%s.json", game.ID, root)
	if err := utils.UploadSettlementSnapshot(key, game.ID, game.ChainGameID, game.Title, snapshotWinners(winners), root, txHash); err != nil {
		log.Printf("[Settlement] Snapshot upload failed for game %s: %v", game.ID, err)
		return
	}
	log.Printf("[Settlement] Snapshot archived for game %s: %s", game.ID, utils.SnapshotURL(key))
}

func snapshotWinners(winners []Winner) []utils.SnapshotWinner {
	out := make([]utils.SnapshotWinner, 0, len(winners))
	for _, w := range winners {
		out = append(out, utils.SnapshotWinner{
			Address: w.Address.Hex(),
			Amount:  w.Amount.String(),
		})
	}
	return out
}

// RankGame handles POST /games/:id/rank (internal trigger).
func (s *SettlementService) RankGame(c *fiber.Ctx) error {
	gameID := c.Params("id")
	if gameID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "game id required", "code": "VALIDATION"})
	}

	outcome, err := s.RankGameByID(c.Context(), gameID)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{
			"entriesRanked":     outcome.EntriesRanked,
			"prizesDistributed": outcome.PrizesDistributed,
			"alreadyRanked":     outcome.AlreadyRanked,
		})
	case errors.Is(err, ErrGameNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "game not found", "code": "NOT_FOUND"})
	case errors.Is(err, ErrGameNotEnded):
		return c.Status(409).JSON(fiber.Map{"error": "game has not ended yet", "code": "GAME_NOT_ENDED"})
	case errors.Is(err, ErrNoEntries):
		return c.Status(422).JSON(fiber.Map{"error": "no paid entries to rank", "code": "NO_ENTRIES"})
	default:
		log.Printf("[Settlement] Rank failed for game %s: %v", gameID, err)
		return c.Status(500).JSON(fiber.Map{"error": "ranking failed", "code": "INTERNAL"})
	}
}

// GetAccumulatedFees handles GET /settlement/fees (internal, for ops
// reconciliation against the fee snapshots on ranked games).
func (s *SettlementService) GetAccumulatedFees(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()

	fees, err := s.Chain.AccumulatedFees(ctx)
	if err != nil {
		log.Printf("[Settlement] accumulatedFees read failed: %v", err)
		return c.Status(502).JSON(fiber.Map{"error": "contract read failed", "code": "CHAIN_UNAVAILABLE"})
	}
	return c.JSON(fiber.Map{"accumulatedFees": fees.String()})
}

// PublishGame handles POST /games/:id/publish (internal trigger).
func (s *SettlementService) PublishGame(c *fiber.Ctx) error {
	gameID := c.Params("id")
	if gameID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "game id required", "code": "VALIDATION"})
	}

	outcome, err := s.PublishGameByID(c.Context(), gameID)
	var pubErr *PublishError
	switch {
	case err == nil:
		resp := fiber.Map{"published": outcome.Published}
		if outcome.TxHash != "" {
			resp["txHash"] = outcome.TxHash
		}
		if outcome.NoWinners {
			resp["code"] = "NO_WINNERS"
		}
		return c.JSON(resp)
	case errors.Is(err, ErrGameNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "game not found", "code": "NOT_FOUND"})
	case errors.Is(err, ErrGameNotRanked):
		return c.Status(409).JSON(fiber.Map{"error": "game must be ranked before publishing", "code": "NOT_RANKED"})
	case errors.Is(err, ErrContractPaused):
		return c.Status(503).JSON(fiber.Map{"error": "prize pool contract is paused", "code": "CONTRACT_PAUSED"})
	case errors.As(err, &pubErr):
		log.Printf("[Settlement] Publish failed, game stays ranked and retryable: %v", pubErr)
		return c.Status(502).JSON(fiber.Map{"error": "on-chain publish failed, retry later", "code": "PUBLISH_FAILED"})
	default:
		log.Printf("[Settlement] Publish failed for game %s: %v", gameID, err)
		return c.Status(500).JSON(fiber.Map{"error": "publish failed", "code": "INTERNAL"})
	}
}
