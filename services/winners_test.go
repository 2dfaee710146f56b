package services

import (
	"errors"
	"testing"

	"trivia-settlement/models"
	"trivia-settlement/utils"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"250000000", 250000000, false},
		{"-1", 0, true},
		{"12.5", 0, true},
		{"1e6", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrBadAmount) {
				t.Errorf("ParseAmount(%q): expected ErrBadAmount, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q): %v", tc.in, err)
			continue
		}
		if got.Int64() != tc.want {
			t.Errorf("ParseAmount(%q) = %s, want %d", tc.in, got, tc.want)
		}
	}
}

func TestBuildWinnersFiltersAndOrders(t *testing.T) {
	game := &models.TriviaGame{ChainGameID: 42}
	entries := []models.GameEntry{
		// Out of rank order on purpose: BuildWinners must sort.
		{ID: "third", Rank: intPtr(3), Prize: strPtr("100"), WalletAddress: "0x3333333333333333333333333333333333333333"},
		{ID: "first", Rank: intPtr(1), Prize: strPtr("500"), WalletAddress: "0x1111111111111111111111111111111111111111"},
		{ID: "no-wallet", Rank: intPtr(2), Prize: strPtr("300"), WalletAddress: ""},
		{ID: "zero-prize", Rank: intPtr(4), Prize: strPtr("0"), WalletAddress: "0x4444444444444444444444444444444444444444"},
		{ID: "outside", Rank: intPtr(11), Prize: strPtr("50"), WalletAddress: "0x5555555555555555555555555555555555555555"},
		{ID: "unranked", WalletAddress: "0x6666666666666666666666666666666666666666"},
	}

	winners, err := BuildWinners(game, entries)
	if err != nil {
		t.Fatal(err)
	}

	if len(winners) != 2 {
		t.Fatalf("got %d winners, want 2: %+v", len(winners), winners)
	}
	if winners[0].Amount.Int64() != 500 {
		t.Errorf("rank 1 amount = %s, want 500", winners[0].Amount)
	}
	if winners[1].Amount.Int64() != 100 {
		t.Errorf("rank 3 amount = %s, want 100", winners[1].Amount)
	}
	for _, w := range winners {
		if w.GameID.Uint64() != 42 {
			t.Errorf("winner carries chain game id %s, want 42", w.GameID)
		}
	}
}

func TestBuildWinnersBadPrize(t *testing.T) {
	game := &models.TriviaGame{ChainGameID: 1}
	entries := []models.GameEntry{
		{ID: "bad", Rank: intPtr(1), Prize: strPtr("nope"), WalletAddress: "0x1111111111111111111111111111111111111111"},
	}
	if _, err := BuildWinners(game, entries); !errors.Is(err, ErrBadAmount) {
		t.Fatalf("expected ErrBadAmount, got %v", err)
	}
}

func TestWinnerLeavesMatchTreeMembership(t *testing.T) {
	game := &models.TriviaGame{ChainGameID: 7}
	entries := []models.GameEntry{
		{ID: "a", Rank: intPtr(1), Prize: strPtr("700"), WalletAddress: "0xaaaaAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaaAAAA"},
		{ID: "b", Rank: intPtr(2), Prize: strPtr("200"), WalletAddress: "0xBBbbBBbbBBbbBBbbBBbbBBbbBBbbBBbbBBbbBBbb"},
		{ID: "c", Rank: intPtr(3), Prize: strPtr("100"), WalletAddress: "0xcccccCCCCCcccccCCCCCcccccCCCCCcccccCCCCC"},
	}

	winners, err := BuildWinners(game, entries)
	if err != nil {
		t.Fatal(err)
	}
	leaves, err := WinnerLeaves(winners)
	if err != nil {
		t.Fatal(err)
	}
	tree, err := utils.BuildMerkleTree(leaves)
	if err != nil {
		t.Fatal(err)
	}

	// Every committed winner must be provable against the published root,
	// exactly what the claim path relies on.
	for i, w := range winners {
		leaf, err := utils.WinnerLeaf(w.GameID, w.Address, w.Amount)
		if err != nil {
			t.Fatal(err)
		}
		proof, err := tree.ProveLeaf(leaf)
		if err != nil {
			t.Fatalf("winner %d: %v", i, err)
		}
		if !utils.VerifyMerkleProof(tree.Root(), leaf, proof) {
			t.Fatalf("winner %d: proof did not verify", i)
		}
	}
}
