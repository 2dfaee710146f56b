// services/claim_service.go
package services

import (
	"errors"
	"log"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"trivia-settlement/models"
	"trivia-settlement/utils"
	"trivia-settlement/workers"
)

type ClaimService struct {
	DB *gorm.DB
}

func NewClaimService(db *gorm.DB) *ClaimService {
	return &ClaimService{DB: db}
}

// tokenDecimals is used only for the display amount; proofs and stored
// amounts stay in integer base units.
func tokenDecimals() int {
	if raw := os.Getenv("TOKEN_DECIMALS"); raw != "" {
		if d, err := strconv.Atoi(raw); err == nil && d >= 0 && d <= 36 {
			return d
		}
	}
	return 6
}

func formatAmount(amount *big.Int, decimals int) float64 {
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}

// GetMerkleProof handles GET /games/:id/merkle-proof.
// It re-derives the committed winner set from persisted ranked entries and
// regenerates the caller's inclusion proof on demand. Nothing is cached, so
// concurrent calls are safe by construction.
func (s *ClaimService) GetMerkleProof(c *fiber.Ctx) error {
	gameID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "missing user context", "code": "UNAUTHORIZED"})
	}

	// Wallet first: a user with no payout wallet gets NO_WALLET regardless
	// of where the game is in its lifecycle.
	var wallet models.WalletMirror
	if err := s.DB.Where("user_id = ? AND is_active = true", userID).
		Order("updated_at DESC").
		First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "no wallet on file for user", "code": "NO_WALLET"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error", "code": "INTERNAL"})
	}

	var game models.TriviaGame
	if err := s.DB.First(&game, "id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "game not found", "code": "NOT_FOUND"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error", "code": "INTERNAL"})
	}
	if game.PublishedAt == nil {
		return c.Status(400).JSON(fiber.Map{"error": "game results are not published yet", "code": "GAME_NOT_ENDED"})
	}

	var entry models.GameEntry
	if err := s.DB.Where("game_id = ? AND user_id = ?", gameID, userID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(403).JSON(fiber.Map{"error": "user did not enter this game", "code": "NOT_ELIGIBLE"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error", "code": "INTERNAL"})
	}

	if entry.Rank == nil || *entry.Rank > WinnersCount {
		return c.Status(403).JSON(fiber.Map{"error": "user did not place in the winners", "code": "NOT_WINNER"})
	}
	prize, err := ParseAmount(derefString(entry.Prize))
	if err != nil || prize.Sign() <= 0 {
		return c.Status(403).JSON(fiber.Map{"error": "no prize for this entry", "code": "NOT_ELIGIBLE"})
	}

	// The committed address is the one stored on the entry; a wallet
	// changed after commit cannot alter an already-published tree.
	claimAddr := entry.WalletAddress
	if claimAddr == "" {
		claimAddr = wallet.Address
	}
	if !strings.EqualFold(claimAddr, wallet.Address) {
		ownerNote := "committed address has no mirror row"
		if owner, found, err := workers.GetWalletByAddress(s.DB, claimAddr); err == nil && found {
			ownerNote = "mirror owner " + owner.UserID
		}
		log.Printf("[Claim] User %s wallet %s differs from committed address %s for game %s (%s)",
			userID, wallet.Address, claimAddr, gameID, ownerNote)
	}
	target := common.HexToAddress(claimAddr)

	// Rebuild the winner set exactly as publish did.
	var entries []models.GameEntry
	if err := s.DB.Where("game_id = ? AND rank IS NOT NULL", gameID).
		Order("rank ASC").
		Find(&entries).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "DB error", "code": "INTERNAL"})
	}
	winners, err := BuildWinners(&game, entries)
	if err != nil {
		log.Printf("[Claim] Winner rebuild failed for game %s: %v", gameID, err)
		return c.Status(500).JSON(fiber.Map{"error": "winner rebuild failed", "code": "INTERNAL"})
	}
	if len(winners) == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "game has no winners", "code": "NO_WINNERS"})
	}

	leaves, err := WinnerLeaves(winners)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "leaf hashing failed", "code": "INTERNAL"})
	}
	tree, err := utils.BuildMerkleTree(leaves)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "tree build failed", "code": "INTERNAL"})
	}

	idx := -1
	for i, w := range winners {
		if w.Address == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Eligibility passed but the rebuilt set is missing the address:
		// the winner list at claim time differs from the committed one.
		// That is a data-integrity bug, never a user error.
		log.Printf("[Claim] ALARM: address %s absent from rebuilt winner set for game %s (root %s)",
			target.Hex(), gameID, tree.Root().Hex())
		return c.Status(500).JSON(fiber.Map{"error": "winner set mismatch, contact support", "code": "PROOF_MISMATCH"})
	}

	// idx indexes the winners slice; the tree holds leaves in canonical
	// order, so locate the leaf rather than reusing the slice position.
	proof, err := tree.ProveLeaf(leaves[idx])
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "proof generation failed", "code": "INTERNAL"})
	}

	// Paranoia that costs nothing: never hand out a proof that would fail
	// on-chain verification.
	if !utils.VerifyMerkleProof(tree.Root(), leaves[idx], proof) {
		log.Printf("[Claim] ALARM: generated proof does not verify for game %s index %d", gameID, idx)
		return c.Status(500).JSON(fiber.Map{"error": "proof verification failed", "code": "PROOF_MISMATCH"})
	}

	proofHex := make([]string, len(proof))
	for i, h := range proof {
		proofHex[i] = h.Hex()
	}
	amount := winners[idx].Amount

	return c.JSON(fiber.Map{
		"gameId":          game.ChainGameID,
		"address":         target.Hex(),
		"amount":          amount.String(),
		"amountFormatted": formatAmount(amount, tokenDecimals()),
		"proof":           proofHex,
	})
}

// ConfirmClaim handles POST /games/:id/claim.
// Atomically flips claimed_at from null exactly once; this records that the
// off-chain system observed a claim, it does not move funds.
func (s *ClaimService) ConfirmClaim(c *fiber.Ctx) error {
	gameID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "missing user context", "code": "UNAUTHORIZED"})
	}

	var entry models.GameEntry
	if err := s.DB.Where("game_id = ? AND user_id = ?", gameID, userID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(403).JSON(fiber.Map{"error": "user did not enter this game", "code": "NOT_ELIGIBLE"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error", "code": "INTERNAL"})
	}

	if entry.PaidAt == nil {
		return c.Status(400).JSON(fiber.Map{"error": "entry was never paid", "code": "NOT_PAID"})
	}
	prize, err := ParseAmount(derefString(entry.Prize))
	if err != nil || entry.Rank == nil || *entry.Rank > WinnersCount || prize.Sign() <= 0 {
		return c.Status(403).JSON(fiber.Map{"error": "entry is not a prize winner", "code": "NOT_ELIGIBLE"})
	}

	now := time.Now()
	result := s.DB.Model(&models.GameEntry{}).
		Where("id = ? AND claimed_at IS NULL", entry.ID).
		Update("claimed_at", now)
	if result.Error != nil {
		return c.Status(500).JSON(fiber.Map{"error": "claim update failed", "code": "INTERNAL"})
	}
	if result.RowsAffected == 0 {
		return c.Status(409).JSON(fiber.Map{"error": "prize already claimed", "code": "ALREADY_CLAIMED"})
	}

	log.Printf("[Claim] User %s claimed prize for game %s", userID, gameID)
	return c.JSON(fiber.Map{"success": true, "claimedAt": now})
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
