// services/prize_distributor.go
package services

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"trivia-settlement/models"
)

const (
	// WinnersCount is how many ranks share the pool.
	WinnersCount = 10
	// PodiumSize is how many top ranks take the fixed-weight share.
	PodiumSize = 3
	// BpsDenominator is the basis-point scale for the platform fee.
	BpsDenominator = 10000
)

// DefaultPodiumWeights splits the podium pool across ranks 1..3.
// The exact vector is a business rule still pending confirmation against the
// contract, so deployments can override it via PODIUM_WEIGHTS.
var DefaultPodiumWeights = []*big.Rat{
	big.NewRat(5, 10),
	big.NewRat(3, 10),
	big.NewRat(2, 10),
}

// podiumPoolShare and runnersPoolShare split the net pool 70/30 between the
// podium tier (ranks 1..3) and the runner tier (ranks 4..10).
var (
	podiumPoolShare  = big.NewRat(70, 100)
	runnersPoolShare = big.NewRat(30, 100)
)

// ErrInvalidFeeBps is returned for a fee outside 0..10000.
var ErrInvalidFeeBps = errors.New("platform fee bps out of range")

// PodiumWeightsFromEnv reads PODIUM_WEIGHTS (e.g. "0.5,0.3,0.2") and falls
// back to DefaultPodiumWeights when unset or malformed.
func PodiumWeightsFromEnv() []*big.Rat {
	raw := os.Getenv("PODIUM_WEIGHTS")
	if raw == "" {
		return DefaultPodiumWeights
	}
	parts := strings.Split(raw, ",")
	if len(parts) != PodiumSize {
		return DefaultPodiumWeights
	}
	weights := make([]*big.Rat, 0, PodiumSize)
	sum := new(big.Rat)
	for _, p := range parts {
		w, ok := new(big.Rat).SetString(strings.TrimSpace(p))
		if !ok || w.Sign() < 0 {
			return DefaultPodiumWeights
		}
		weights = append(weights, w)
		sum.Add(sum, w)
	}
	if sum.Cmp(big.NewRat(1, 1)) != 0 {
		return DefaultPodiumWeights
	}
	return weights
}

// DistributePrizes turns (prize pool, platform fee, ranked paid entries) into
// an exact rank->prize table in token base units.
//
// All shares are computed at full precision (big.Rat), floored to the token's
// minimum unit, and the leftover remainder is assigned to rank 1 so that
// sum(prizes) == netPool exactly. Ranks beyond WinnersCount get no entry
// (prize zero). Returns the prize table and the net pool after fee.
func DistributePrizes(prizePool *big.Int, feeBps int, ranked []models.GameEntry, podiumWeights []*big.Rat) (map[int]*big.Int, *big.Int, error) {
	if feeBps < 0 || feeBps > BpsDenominator {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidFeeBps, feeBps)
	}
	if prizePool == nil || prizePool.Sign() < 0 {
		return nil, nil, errors.New("prize pool must be non-negative")
	}
	if len(podiumWeights) != PodiumSize {
		podiumWeights = DefaultPodiumWeights
	}

	// netPool = prizePool * (10000 - feeBps) / 10000, floored to base units.
	netPool := new(big.Int).Mul(prizePool, big.NewInt(int64(BpsDenominator-feeBps)))
	netPool.Quo(netPool, big.NewInt(BpsDenominator))

	prizes := make(map[int]*big.Int)
	if len(ranked) == 0 {
		// No paid entries is a real absence of winners, not an error.
		return prizes, netPool, nil
	}

	winners := len(ranked)
	if winners > WinnersCount {
		winners = WinnersCount
	}

	netRat := new(big.Rat).SetInt(netPool)
	podiumPool := new(big.Rat).Mul(netRat, podiumPoolShare)
	runnersPool := new(big.Rat).Mul(netRat, runnersPoolShare)

	// Podium: fixed weights for the ranks that exist; unused weight of
	// missing podium ranks rolls forward into the runner pool.
	shares := make(map[int]*big.Rat)
	for i := 0; i < PodiumSize; i++ {
		piece := new(big.Rat).Mul(podiumPool, podiumWeights[i])
		if i < winners {
			shares[i+1] = piece
		} else {
			runnersPool.Add(runnersPool, piece)
		}
	}

	// Runners: ranks 4..WinnersCount split the runner pool pro-rata by
	// ticket amount. Scores never matter inside the tier, so equal tickets
	// always mean equal prizes.
	if winners > PodiumSize {
		runnerTickets := make([]*big.Int, 0, winners-PodiumSize)
		ticketSum := new(big.Int)
		for i := PodiumSize; i < winners; i++ {
			amount, err := ParseAmount(ranked[i].TicketAmountPaid)
			if err != nil {
				return nil, nil, fmt.Errorf("entry %s: %w", ranked[i].ID, err)
			}
			runnerTickets = append(runnerTickets, amount)
			ticketSum.Add(ticketSum, amount)
		}
		for i := PodiumSize; i < winners; i++ {
			share := new(big.Rat)
			if ticketSum.Sign() > 0 {
				share.SetFrac(runnerTickets[i-PodiumSize], ticketSum)
				share.Mul(share, runnersPool)
			} else {
				// No stake anywhere in the tier: split evenly.
				share.Quo(runnersPool, big.NewRat(int64(winners-PodiumSize), 1))
			}
			shares[i+1] = share
		}
	}

	// Floor every share, then hand the rounding remainder to rank 1.
	distributed := new(big.Int)
	for rank, share := range shares {
		floored := new(big.Int).Quo(share.Num(), share.Denom())
		if floored.Sign() < 0 {
			floored.SetInt64(0)
		}
		prizes[rank] = floored
		distributed.Add(distributed, floored)
	}
	remainder := new(big.Int).Sub(netPool, distributed)
	if remainder.Sign() > 0 {
		prizes[1] = new(big.Int).Add(prizes[1], remainder)
	}

	return prizes, netPool, nil
}
