package services

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"trivia-settlement/models"
)

// stubPrizePool satisfies chain.PrizePool so rank/publish run without RPC.
type stubPrizePool struct {
	feeBps        int
	paused        bool
	submittedRoot common.Hash
	submitErr     error
	submitCalls   int
}

func (p *stubPrizePool) PlatformFeeBps(ctx context.Context) (int, error) { return p.feeBps, nil }
func (p *stubPrizePool) Paused(ctx context.Context) (bool, error)        { return p.paused, nil }
func (p *stubPrizePool) AccumulatedFees(ctx context.Context) (*big.Int, error) {
	return new(big.Int), nil
}
func (p *stubPrizePool) SubmittedRoot(ctx context.Context, chainGameID uint64) (common.Hash, error) {
	return p.submittedRoot, nil
}
func (p *stubPrizePool) SubmitMerkleRoot(ctx context.Context, chainGameID uint64, root common.Hash) (string, error) {
	p.submitCalls++
	if p.submitErr != nil {
		return "", p.submitErr
	}
	return "0x" + uuid.NewString(), nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.TriviaGame{},
		&models.GameEntry{},
		&models.MerkleCommitment{},
		&models.WalletMirror{},
	); err != nil {
		t.Fatal(err)
	}
	return db
}

func seedGame(t *testing.T, db *gorm.DB, chainGameID uint64, prizePool string, end time.Time) *models.TriviaGame {
	t.Helper()
	game := &models.TriviaGame{
		ID:          uuid.NewString(),
		ChainGameID: chainGameID,
		Title:       "Friday Night Trivia",
		Slug:        "friday-night-trivia",
		PrizePool:   prizePool,
		StartTime:   end.Add(-time.Hour),
		EndTime:     end,
	}
	if err := db.Create(game).Error; err != nil {
		t.Fatal(err)
	}
	return game
}

func seedPaidEntry(t *testing.T, db *gorm.DB, gameID, userID, wallet, ticket string, score int64, scoredAt time.Time) *models.GameEntry {
	t.Helper()
	paidAt := scoredAt.Add(-time.Minute)
	entry := &models.GameEntry{
		ID:               uuid.NewString(),
		GameID:           gameID,
		UserID:           userID,
		WalletAddress:    wallet,
		TicketAmountPaid: ticket,
		Score:            &score,
		ScoreUpdatedAt:   &scoredAt,
		PaidAt:           &paidAt,
	}
	if err := db.Create(entry).Error; err != nil {
		t.Fatal(err)
	}
	return entry
}

func seedRankableGame(t *testing.T, db *gorm.DB, chainGameID uint64, prizePool string) *models.TriviaGame {
	t.Helper()
	game := seedGame(t, db, chainGameID, prizePool, time.Now().Add(-time.Minute))
	base := game.StartTime
	wallets := []string{
		"0x1000000000000000000000000000000000000001",
		"0x1000000000000000000000000000000000000002",
		"0x1000000000000000000000000000000000000003",
		"0x1000000000000000000000000000000000000004",
	}
	scores := []int64{40, 30, 20, 10}
	for i := range wallets {
		seedPaidEntry(t, db, game.ID, "user-"+wallets[i][40:], wallets[i], "100", scores[i], base.Add(time.Duration(i)*time.Minute))
	}
	return game
}

func entryPrizes(t *testing.T, db *gorm.DB, gameID string) map[int]string {
	t.Helper()
	var entries []models.GameEntry
	if err := db.Where("game_id = ? AND rank IS NOT NULL", gameID).Find(&entries).Error; err != nil {
		t.Fatal(err)
	}
	out := make(map[int]string, len(entries))
	for _, e := range entries {
		out[*e.Rank] = derefString(e.Prize)
	}
	return out
}

func TestRankGameByIDIdempotent(t *testing.T) {
	db := newTestDB(t)
	pool := &stubPrizePool{feeBps: 2000}
	svc := NewSettlementService(db, pool)
	game := seedRankableGame(t, db, 9001, "1000")
	ctx := context.Background()

	first, err := svc.RankGameByID(ctx, game.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.AlreadyRanked || first.EntriesRanked != 4 || first.PrizesDistributed != 4 {
		t.Fatalf("first rank outcome = %+v", first)
	}

	// net = 800: podium 280/168/112, sole runner takes the 240 runner pool.
	want := map[int]string{1: "280", 2: "168", 3: "112", 4: "240"}
	got := entryPrizes(t, db, game.ID)
	for rank, prize := range want {
		if got[rank] != prize {
			t.Errorf("rank %d prize = %q, want %q", rank, got[rank], prize)
		}
	}

	second, err := svc.RankGameByID(ctx, game.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !second.AlreadyRanked || second.EntriesRanked != 4 || second.PrizesDistributed != 4 {
		t.Fatalf("second rank outcome = %+v", second)
	}

	// A replay must not redistribute: no remainder gets applied twice.
	again := entryPrizes(t, db, game.ID)
	for rank, prize := range want {
		if again[rank] != prize {
			t.Errorf("rank %d prize after replay = %q, want %q", rank, again[rank], prize)
		}
	}

	var stored models.TriviaGame
	if err := db.First(&stored, "id = ?", game.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.RankedAt == nil {
		t.Fatal("ranked_at not set")
	}
	if stored.PlatformFeeBps == nil || *stored.PlatformFeeBps != 2000 {
		t.Fatalf("platform fee snapshot = %v, want 2000", stored.PlatformFeeBps)
	}
}

func TestRankGameByIDNoEntries(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettlementService(db, &stubPrizePool{})
	game := seedGame(t, db, 9002, "1000", time.Now().Add(-time.Minute))

	if _, err := svc.RankGameByID(context.Background(), game.ID); !errors.Is(err, ErrNoEntries) {
		t.Fatalf("expected ErrNoEntries, got %v", err)
	}
}

func TestRankGameByIDNotEnded(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettlementService(db, &stubPrizePool{})
	game := seedGame(t, db, 9003, "1000", time.Now().Add(time.Hour))

	if _, err := svc.RankGameByID(context.Background(), game.ID); !errors.Is(err, ErrGameNotEnded) {
		t.Fatalf("expected ErrGameNotEnded, got %v", err)
	}
}

func TestPublishRetryAfterChainFailure(t *testing.T) {
	db := newTestDB(t)
	pool := &stubPrizePool{}
	svc := NewSettlementService(db, pool)
	game := seedRankableGame(t, db, 9004, "1000")
	ctx := context.Background()

	if _, err := svc.RankGameByID(ctx, game.ID); err != nil {
		t.Fatal(err)
	}

	pool.submitErr = errors.New("rpc connection refused")
	_, err := svc.PublishGameByID(ctx, game.ID)
	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %v", err)
	}

	// The game stays ranked and retryable; the attempted root is recorded.
	var stored models.TriviaGame
	if err := db.First(&stored, "id = ?", game.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.PublishedAt != nil {
		t.Fatal("published_at set despite chain failure")
	}
	var commitment models.MerkleCommitment
	if err := db.First(&commitment, "game_id = ?", game.ID).Error; err != nil {
		t.Fatal(err)
	}
	if commitment.Root == "" || commitment.TxHash != "" || commitment.PublishedAt != nil {
		t.Fatalf("commitment after failure = %+v", commitment)
	}

	pool.submitErr = nil
	out, err := svc.PublishGameByID(ctx, game.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Published || out.TxHash == "" || out.Root != commitment.Root {
		t.Fatalf("retry outcome = %+v", out)
	}

	replay, err := svc.PublishGameByID(ctx, game.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !replay.AlreadyPublished || replay.TxHash != out.TxHash {
		t.Fatalf("replay outcome = %+v", replay)
	}
}

func TestPublishRecordsConfirmedRootWithoutResubmitting(t *testing.T) {
	db := newTestDB(t)
	pool := &stubPrizePool{}
	svc := NewSettlementService(db, pool)
	game := seedRankableGame(t, db, 9005, "1000")
	ctx := context.Background()

	if _, err := svc.RankGameByID(ctx, game.ID); err != nil {
		t.Fatal(err)
	}

	// First attempt: the transaction confirms on-chain but this process dies
	// before recording, modeled as a submit error after one call.
	pool.submitErr = errors.New("receipt wait timed out")
	if _, err := svc.PublishGameByID(ctx, game.ID); err == nil {
		t.Fatal("expected first publish to fail")
	}
	if pool.submitCalls != 1 {
		t.Fatalf("submit calls = %d, want 1", pool.submitCalls)
	}

	var commitment models.MerkleCommitment
	if err := db.First(&commitment, "game_id = ?", game.ID).Error; err != nil {
		t.Fatal(err)
	}
	pool.submittedRoot = common.HexToHash(commitment.Root)

	// submitErr stays set: a resubmission attempt would fail this retry.
	out, err := svc.PublishGameByID(ctx, game.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Published || out.Root != commitment.Root {
		t.Fatalf("record-only outcome = %+v", out)
	}
	if pool.submitCalls != 1 {
		t.Fatalf("submit calls after record-only publish = %d, want 1", pool.submitCalls)
	}

	var stored models.TriviaGame
	if err := db.First(&stored, "id = ?", game.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.PublishedAt == nil {
		t.Fatal("published_at not set after record-only publish")
	}
}

func TestPublishRefusesMismatchedOnChainRoot(t *testing.T) {
	db := newTestDB(t)
	pool := &stubPrizePool{
		submittedRoot: common.HexToHash("0x000000000000000000000000000000000000000000000000000000000000beef"),
	}
	svc := NewSettlementService(db, pool)
	game := seedRankableGame(t, db, 9006, "1000")
	ctx := context.Background()

	if _, err := svc.RankGameByID(ctx, game.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PublishGameByID(ctx, game.ID); err == nil {
		t.Fatal("expected publish to refuse a diverging on-chain root")
	}
	if pool.submitCalls != 0 {
		t.Fatalf("submit calls = %d, want 0", pool.submitCalls)
	}
	var stored models.TriviaGame
	if err := db.First(&stored, "id = ?", game.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.PublishedAt != nil {
		t.Fatal("published_at set despite root mismatch")
	}
}

func TestPublishNoWinners(t *testing.T) {
	db := newTestDB(t)
	pool := &stubPrizePool{}
	svc := NewSettlementService(db, pool)
	game := seedRankableGame(t, db, 9007, "0")
	ctx := context.Background()

	if _, err := svc.RankGameByID(ctx, game.ID); err != nil {
		t.Fatal(err)
	}
	out, err := svc.PublishGameByID(ctx, game.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Published || !out.NoWinners {
		t.Fatalf("zero-pool publish outcome = %+v", out)
	}
	if pool.submitCalls != 0 {
		t.Fatalf("submit calls = %d, want 0", pool.submitCalls)
	}
}

func TestPublishRequiresRanking(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettlementService(db, &stubPrizePool{})
	game := seedGame(t, db, 9008, "1000", time.Now().Add(-time.Minute))

	if _, err := svc.PublishGameByID(context.Background(), game.ID); !errors.Is(err, ErrGameNotRanked) {
		t.Fatalf("expected ErrGameNotRanked, got %v", err)
	}
}
