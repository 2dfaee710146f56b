// services/game_service.go
package services

import (
	"errors"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"trivia-settlement/models"
)

// GameService covers the boundary the settlement core consumes from:
// game records, paid-entry registration, and score ingestion. Gameplay and
// payment processing live in other services; this is their landing point.
type GameService struct {
	DB *gorm.DB
}

func NewGameService(db *gorm.DB) *GameService {
	return &GameService{DB: db}
}

// CreateGame creates a trivia game record.
func (s *GameService) CreateGame(c *fiber.Ctx) error {
	type Req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		ChainGameID uint64 `json:"chain_game_id"`
		EntryFee    string `json:"entry_fee"`
		PrizePool   string `json:"prize_pool"`
		StartTime   string `json:"start_time"` // RFC3339
		EndTime     string `json:"end_time"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "code": "VALIDATION"})
	}
	if req.Title == "" || req.StartTime == "" || req.EndTime == "" {
		return c.Status(400).JSON(fiber.Map{"error": "title, start_time and end_time are required", "code": "VALIDATION"})
	}
	if req.ChainGameID == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "chain_game_id is required", "code": "VALIDATION"})
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid start_time (use RFC3339)", "code": "VALIDATION"})
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid end_time (use RFC3339)", "code": "VALIDATION"})
	}
	if !endTime.After(startTime) {
		return c.Status(400).JSON(fiber.Map{"error": "end_time must be after start_time", "code": "VALIDATION"})
	}

	entryFee, err := ParseAmount(req.EntryFee)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "entry_fee must be a non-negative integer amount", "code": "VALIDATION"})
	}
	prizePool, err := ParseAmount(req.PrizePool)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "prize_pool must be a non-negative integer amount", "code": "VALIDATION"})
	}

	game := &models.TriviaGame{
		ID:          uuid.NewString(),
		ChainGameID: req.ChainGameID,
		Title:       req.Title,
		Slug:        slug.Make(req.Title),
		Description: req.Description,
		EntryFee:    entryFee.String(),
		PrizePool:   prizePool.String(),
		StartTime:   startTime,
		EndTime:     endTime,
	}
	if err := s.DB.Create(game).Error; err != nil {
		log.Printf("[Game] Create failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create game", "code": "INTERNAL"})
	}

	game.DerivedStatus = game.Status(time.Now())
	return c.Status(201).JSON(game)
}

// GetAllGames lists games with derived status and entry counts.
func (s *GameService) GetAllGames(c *fiber.Ctx) error {
	var games []models.TriviaGame
	if err := s.DB.Order("start_time DESC").Find(&games).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch games", "code": "INTERNAL"})
	}
	now := time.Now()
	for i := range games {
		games[i].DerivedStatus = games[i].Status(now)
	}
	return c.JSON(games)
}

// GetGameByID returns one game with counts and its commitment, if any.
func (s *GameService) GetGameByID(c *fiber.Ctx) error {
	id := c.Params("id")

	var game models.TriviaGame
	if err := s.DB.Preload("Commitment").First(&game, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "game not found", "code": "NOT_FOUND"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error", "code": "INTERNAL"})
	}

	s.DB.Model(&models.GameEntry{}).Where("game_id = ?", id).Count(&game.EntriesCount)
	s.DB.Model(&models.GameEntry{}).Where("game_id = ? AND paid_at IS NOT NULL", id).Count(&game.PaidEntriesCount)
	game.DerivedStatus = game.Status(time.Now())

	return c.JSON(game)
}

// RegisterEntry handles POST /games/:id/entries. The payment service calls
// this once a ticket purchase settles; the entry lands already marked paid.
func (s *GameService) RegisterEntry(c *fiber.Ctx) error {
	gameID := c.Params("id")
	type Req struct {
		UserID           string `json:"user_id"`
		WalletAddress    string `json:"wallet_address"`
		TicketAmountPaid string `json:"ticket_amount_paid"`
		PaidAt           string `json:"paid_at,omitempty"` // RFC3339, defaults to now
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "code": "VALIDATION"})
	}
	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "user_id is required", "code": "VALIDATION"})
	}
	if !common.IsHexAddress(req.WalletAddress) {
		return c.Status(400).JSON(fiber.Map{"error": "wallet_address is not a valid address", "code": "VALIDATION"})
	}
	ticket, err := ParseAmount(req.TicketAmountPaid)
	if err != nil || ticket.Sign() <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "ticket_amount_paid must be a positive integer amount", "code": "VALIDATION"})
	}

	var game models.TriviaGame
	if err := s.DB.First(&game, "id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "game not found", "code": "NOT_FOUND"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error", "code": "INTERNAL"})
	}
	if game.Ended(time.Now()) || game.RankedAt != nil {
		return c.Status(409).JSON(fiber.Map{"error": "game entry window has closed", "code": "GAME_CLOSED"})
	}

	var existing models.GameEntry
	if err := s.DB.Where("game_id = ? AND user_id = ?", gameID, req.UserID).First(&existing).Error; err == nil {
		return c.Status(409).JSON(fiber.Map{"error": "user already entered", "code": "ALREADY_ENTERED", "entry": existing})
	}

	paidAt := time.Now()
	if req.PaidAt != "" {
		t, err := time.Parse(time.RFC3339, req.PaidAt)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid paid_at (use RFC3339)", "code": "VALIDATION"})
		}
		paidAt = t
	}

	entry := models.GameEntry{
		ID:               uuid.NewString(),
		GameID:           gameID,
		UserID:           req.UserID,
		WalletAddress:    common.HexToAddress(req.WalletAddress).Hex(),
		TicketAmountPaid: ticket.String(),
		PaidAt:           &paidAt,
	}
	if err := s.DB.Create(&entry).Error; err != nil {
		log.Printf("[Game] Entry create failed for game %s user %s: %v", gameID, req.UserID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create entry", "code": "INTERNAL"})
	}

	return c.Status(201).JSON(entry)
}

// SubmitScore handles POST /games/:id/scores. Scores come from the gameplay
// service; this core only consumes the number. An equal or lower score never
// overwrites: the timestamp of the first arrival at the high score is the
// ranking tie-break and must not move.
func (s *GameService) SubmitScore(c *fiber.Ctx) error {
	gameID := c.Params("id")
	type Req struct {
		UserID string `json:"user_id"`
		Score  int64  `json:"score"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "code": "VALIDATION"})
	}
	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "user_id is required", "code": "VALIDATION"})
	}
	if req.Score < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "score must be non-negative", "code": "VALIDATION"})
	}

	var game models.TriviaGame
	if err := s.DB.First(&game, "id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "game not found", "code": "NOT_FOUND"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error", "code": "INTERNAL"})
	}
	if game.RankedAt != nil {
		return c.Status(409).JSON(fiber.Map{"error": "scores are frozen after ranking", "code": "GAME_CLOSED"})
	}

	var entry models.GameEntry
	if err := s.DB.Where("game_id = ? AND user_id = ? AND paid_at IS NOT NULL", gameID, req.UserID).
		First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "no paid entry for user", "code": "NOT_FOUND"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error", "code": "INTERNAL"})
	}

	if entry.Score != nil && *entry.Score >= req.Score {
		return c.JSON(fiber.Map{"updated": false, "score": *entry.Score})
	}

	now := time.Now()
	if err := s.DB.Model(&models.GameEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"score":            req.Score,
			"score_updated_at": now,
		}).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "score update failed", "code": "INTERNAL"})
	}

	return c.JSON(fiber.Map{"updated": true, "score": req.Score})
}
