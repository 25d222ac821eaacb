package similarity

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rushteam/recbatch/core"
	"github.com/rushteam/recbatch/store"
)

// registerUser 让用户出现在行为枚举里（相似度阶段从行为日志枚举用户）。
func registerUser(t *testing.T, s core.Store, user string) {
	t.Helper()
	err := s.AppendActivity(context.Background(), &core.RawActivity{
		User: user, Item: "seed", Action: "view",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func insertWeights(t *testing.T, s core.Store, user string, weights map[string]float64) {
	t.Helper()
	row := &core.UserItemWeights{User: user}
	var sumSquares float64
	for item, weight := range weights {
		row.ItemWeights = append(row.ItemWeights, core.ItemWeight{Item: item, Weight: weight})
		sumSquares += weight * weight
	}
	row.RowWeight = math.Sqrt(sumSquares)
	if err := s.InsertItemWeights(context.Background(), row); err != nil {
		t.Fatal(err)
	}
}

func TestRecalculatePairsOnceWithExpectedValues(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()

	// A 与 B 重叠 x，A 与 C 重叠 y，B 与 C 无重叠，D 与谁都不重叠
	users := map[string]map[string]float64{
		"userA": {"x": 1, "y": 1},
		"userB": {"x": 1},
		"userC": {"y": 2},
		"userD": {"z": 1},
	}
	for user, weights := range users {
		registerUser(t, mem, user)
		insertWeights(t, mem, user, weights)
	}

	svc := &Service{Store: mem, Concurrency: 4}
	if err := svc.Recalculate(ctx); err != nil {
		t.Fatalf("Recalculate() error = %v", err)
	}

	simsA, err := mem.SimilaritiesForUser(ctx, "userA", -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(simsA) != 2 {
		t.Fatalf("userA has %d similarity rows, want 2", len(simsA))
	}

	want := map[string]float64{
		"userB": 1 / math.Sqrt2,       // (1*1)/(√2*1)
		"userC": 2 / (math.Sqrt2 * 2), // (1*2)/(√2*2)
	}
	for i := range simsA {
		other := simsA[i].Other("userA")
		if got := simsA[i].Similarity; math.Abs(got-want[other]) > 1e-12 {
			t.Errorf("similarity(userA, %s) = %v, want %v", other, got, want[other])
		}
	}

	simsD, err := mem.SimilaritiesForUser(ctx, "userD", -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(simsD) != 0 {
		t.Errorf("userD has %d similarity rows, want 0 (no overlap)", len(simsD))
	}
}

func TestRecalculateExcludesSelfPairs(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	for _, user := range []string{"u1", "u2"} {
		registerUser(t, mem, user)
		insertWeights(t, mem, user, map[string]float64{"shared": 1})
	}

	svc := &Service{Store: mem, Concurrency: 2}
	if err := svc.Recalculate(ctx); err != nil {
		t.Fatal(err)
	}

	for _, user := range []string{"u1", "u2"} {
		sims, err := mem.SimilaritiesForUser(ctx, user, -1)
		if err != nil {
			t.Fatal(err)
		}
		for i := range sims {
			if sims[i].Users[0] == sims[i].Users[1] {
				t.Errorf("self pair stored: %v", sims[i].Users)
			}
		}
	}
}

func TestRecalculateZeroRowWeight(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()

	registerUser(t, mem, "empty")
	insertWeights(t, mem, "empty", map[string]float64{"q": 0})
	registerUser(t, mem, "full")
	insertWeights(t, mem, "full", map[string]float64{"q": 1})

	svc := &Service{Store: mem, Concurrency: 2}
	if err := svc.Recalculate(ctx); err != nil {
		t.Fatal(err)
	}

	sims, err := mem.SimilaritiesForUser(ctx, "empty", -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(sims) != 1 {
		t.Fatalf("got %d rows, want 1 (items overlap even with zero weight)", len(sims))
	}
	if sims[0].Similarity != 0 {
		t.Errorf("similarity with zero row weight = %v, want 0", sims[0].Similarity)
	}
}

func TestCosineSymmetry(t *testing.T) {
	rowA := &core.UserItemWeights{
		User: "a",
		ItemWeights: []core.ItemWeight{
			{Item: "x", Weight: 1.5}, {Item: "y", Weight: 0.25}, {Item: "z", Weight: 3},
		},
	}
	rowB := &core.UserItemWeights{
		User: "b",
		ItemWeights: []core.ItemWeight{
			{Item: "y", Weight: 2}, {Item: "z", Weight: 0.5}, {Item: "w", Weight: 1},
		},
	}
	for _, row := range []*core.UserItemWeights{rowA, rowB} {
		var sum float64
		for _, iw := range row.ItemWeights {
			sum += iw.Weight * iw.Weight
		}
		row.RowWeight = math.Sqrt(sum)
	}

	ab := Cosine(rowA.WeightMap(), rowA.RowWeight, rowB)
	ba := Cosine(rowB.WeightMap(), rowB.RowWeight, rowA)
	if ab != ba {
		t.Errorf("cosine not symmetric: %v != %v", ab, ba)
	}
	if ab < -1 || ab > 1 {
		t.Errorf("cosine out of bounds: %v", ab)
	}
}

// countingStore 统计实际落库的相似度行总数，用于验证并发去重。
type countingStore struct {
	core.Store
	inserted atomic.Int64
}

func (s *countingStore) InsertSimilarities(ctx context.Context, rows []core.UserSimilarity) error {
	s.inserted.Add(int64(len(rows)))
	return s.Store.InsertSimilarities(ctx, rows)
}

func TestRecalculateDedupUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()

	// 六名用户全部共享同一物品：任何两人都有重叠
	users := []string{"p1", "p2", "p3", "p4", "p5", "p6"}
	for _, user := range users {
		registerUser(t, mem, user)
		insertWeights(t, mem, user, map[string]float64{"hot": 1})
	}

	counting := &countingStore{Store: mem}
	svc := &Service{Store: counting, Concurrency: 4}
	if err := svc.Recalculate(ctx); err != nil {
		t.Fatal(err)
	}

	wantPairs := int64(len(users) * (len(users) - 1) / 2) // C(6,2) = 15
	if got := counting.inserted.Load(); got != wantPairs {
		t.Errorf("inserted %d similarity rows, want exactly %d", got, wantPairs)
	}
}

func TestClaimedPairsConcurrent(t *testing.T) {
	claims := NewClaimedPairs()

	const workers = 16
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if claims.Claim(core.PairKey("a", "b")) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("pair claimed %d times, want exactly once", wins.Load())
	}
	if claims.Len() != 1 {
		t.Errorf("claim set size = %d, want 1", claims.Len())
	}
}

func TestPairKeyOrderIndependent(t *testing.T) {
	if core.PairKey("u1", "u2") != core.PairKey("u2", "u1") {
		t.Error("pair key depends on argument order")
	}
	if core.PairKey("u1", "u2") == core.PairKey("u1", "u3") {
		t.Error("distinct pairs share a key")
	}
}
