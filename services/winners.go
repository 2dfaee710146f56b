// services/winners.go
package services

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"trivia-settlement/models"
	"trivia-settlement/utils"
)

// Winner is the ephemeral (gameId, address, amount) triple committed to the
// Merkle tree. It is never persisted: the list is re-derived from ranked
// entries at publish time and again at claim time, and this one function is
// the only place that derivation lives, so the two are byte-identical.
type Winner struct {
	GameID  *big.Int
	Address common.Address
	Amount  *big.Int
}

// ErrBadAmount is returned for token amounts that do not parse as
// non-negative integers.
var ErrBadAmount = errors.New("invalid token amount")

// ParseAmount parses an integer token-base-unit amount from its DB string.
// Empty means zero.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	return amount, nil
}

// BuildWinners derives the winner list for a ranked game: entries with a
// rank inside WinnersCount and a positive prize, in rank order. Entries with
// no wallet address cannot be committed and are skipped with the prize
// forfeited on-chain (the contract only pays addresses in the tree).
func BuildWinners(game *models.TriviaGame, entries []models.GameEntry) ([]Winner, error) {
	chainGameID := new(big.Int).SetUint64(game.ChainGameID)

	eligible := make([]models.GameEntry, 0, WinnersCount)
	for _, e := range entries {
		if e.Rank == nil || e.Prize == nil || *e.Rank > WinnersCount {
			continue
		}
		eligible = append(eligible, e)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return *eligible[i].Rank < *eligible[j].Rank
	})

	winners := make([]Winner, 0, len(eligible))
	for _, e := range eligible {
		prize, err := ParseAmount(*e.Prize)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if prize.Sign() <= 0 {
			continue
		}
		if !common.IsHexAddress(e.WalletAddress) {
			continue
		}
		winners = append(winners, Winner{
			GameID:  chainGameID,
			Address: common.HexToAddress(e.WalletAddress),
			Amount:  prize,
		})
	}
	return winners, nil
}

// WinnerLeaves hashes each winner into its commitment leaf.
func WinnerLeaves(winners []Winner) ([]common.Hash, error) {
	leaves := make([]common.Hash, 0, len(winners))
	for _, w := range winners {
		leaf, err := utils.WinnerLeaf(w.GameID, w.Address, w.Amount)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}
	return leaves, nil
}
