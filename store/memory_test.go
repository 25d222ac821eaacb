package store

import (
	"context"
	"testing"
	"time"

	"github.com/rushteam/recbatch/core"
)

func drainActivity(t *testing.T, cur core.Cursor[core.RawActivity]) []core.RawActivity {
	t.Helper()
	defer cur.Close()

	var rows []core.RawActivity
	for {
		row, err := cur.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if row == nil {
			return rows
		}
		rows = append(rows, *row)
	}
}

func drainWeights(t *testing.T, cur core.Cursor[core.UserItemWeights]) []core.UserItemWeights {
	t.Helper()
	defer cur.Close()

	var rows []core.UserItemWeights
	for {
		row, err := cur.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if row == nil {
			return rows
		}
		rows = append(rows, *row)
	}
}

func TestDistinctActivityUsers(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	for _, user := range []string{"charlie", "alice", "bob"} {
		err := m.AppendActivity(ctx, &core.RawActivity{User: user, Item: "x", Action: "view", OccurredAt: time.Now()})
		if err != nil {
			t.Fatal(err)
		}
	}

	users, err := m.DistinctActivityUsers(ctx, map[string]struct{}{"bob": {}})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alice", "charlie"}
	if len(users) != len(want) {
		t.Fatalf("users = %v, want %v", users, want)
	}
	for i := range want {
		if users[i] != want[i] {
			t.Errorf("users[%d] = %s, want %s (sorted, excluding)", i, users[i], want[i])
		}
	}
}

func TestRemoveActivityMatchesAllThreeFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	events := []core.RawActivity{
		{User: "u1", Item: "a", Action: "view"},
		{User: "u1", Item: "a", Action: "like"},
		{User: "u1", Item: "b", Action: "view"},
		{User: "u1", Item: "a", Action: "view"},
	}
	for i := range events {
		if err := m.AppendActivity(ctx, &events[i]); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.RemoveActivity(ctx, "u1", "a", "view"); err != nil {
		t.Fatal(err)
	}

	cur, err := m.ActivityByUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	rows := drainActivity(t, cur)
	if len(rows) != 2 {
		t.Fatalf("remaining events = %d, want 2", len(rows))
	}
	for _, row := range rows {
		if row.Item == "a" && row.Action == "view" {
			t.Error("matching event survived RemoveActivity")
		}
	}
}

func TestActivityCursorSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if err := m.AppendActivity(ctx, &core.RawActivity{User: "u1", Item: "a", Action: "view"}); err != nil {
		t.Fatal(err)
	}
	cur, err := m.ActivityByUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	// 游标打开后的写入不应出现在流里
	if err := m.AppendActivity(ctx, &core.RawActivity{User: "u1", Item: "b", Action: "view"}); err != nil {
		t.Fatal(err)
	}

	rows := drainActivity(t, cur)
	if len(rows) != 1 || rows[0].Item != "a" {
		t.Errorf("cursor rows = %v, want snapshot with single item a", rows)
	}
}

func TestItemWeightsOverlapIndex(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	insert := func(user string, items ...string) {
		t.Helper()
		iws := make([]core.ItemWeight, len(items))
		for i, item := range items {
			iws[i] = core.ItemWeight{Item: item, Weight: 1}
		}
		if err := m.InsertItemWeights(ctx, &core.UserItemWeights{User: user, ItemWeights: iws, RowWeight: 1}); err != nil {
			t.Fatal(err)
		}
	}
	insert("u1", "a", "b")
	insert("u2", "b", "c")
	insert("u3", "d")

	cur, err := m.ItemWeightsByItems(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	rows := drainWeights(t, cur)

	got := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		got[row.User] = struct{}{}
	}
	if len(got) != 2 {
		t.Fatalf("overlap users = %v, want u1 and u2", got)
	}
	if _, ok := got["u3"]; ok {
		t.Error("u3 returned despite zero overlap")
	}
}

func TestDropItemWeightsClearsIndex(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	err := m.InsertItemWeights(ctx, &core.UserItemWeights{
		User:        "u1",
		ItemWeights: []core.ItemWeight{{Item: "a", Weight: 1}},
		RowWeight:   1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.DropItemWeights(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := m.ItemWeightsByUser(ctx, "u1"); !core.IsNotFound(err) {
		t.Errorf("after drop, point read error = %v, want NOT_FOUND", err)
	}
	cur, err := m.ItemWeightsByItems(ctx, []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	if rows := drainWeights(t, cur); len(rows) != 0 {
		t.Errorf("after drop, overlap index returned %d rows", len(rows))
	}
}

func TestSimilarityFloorIsStrict(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	err := m.InsertSimilarities(ctx, []core.UserSimilarity{
		{Users: [2]string{"u1", "u2"}, Similarity: 0.1},
		{Users: [2]string{"u1", "u3"}, Similarity: 0.100001},
		{Users: [2]string{"u2", "u3"}, Similarity: 0.9},
	})
	if err != nil {
		t.Fatal(err)
	}

	sims, err := m.SimilaritiesForUser(ctx, "u1", 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if len(sims) != 1 {
		t.Fatalf("sims = %v, want exactly the pair above the floor", sims)
	}
	if sims[0].Other("u1") != "u3" {
		t.Errorf("surviving neighbor = %s, want u3", sims[0].Other("u1"))
	}
}

func TestInsertSimilaritiesCanonicalPairOverwrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	err := m.InsertSimilarities(ctx, []core.UserSimilarity{{Users: [2]string{"u1", "u2"}, Similarity: 0.5}})
	if err != nil {
		t.Fatal(err)
	}
	// 参数顺序互换视为同一对，后写覆盖
	err = m.InsertSimilarities(ctx, []core.UserSimilarity{{Users: [2]string{"u2", "u1"}, Similarity: 0.7}})
	if err != nil {
		t.Fatal(err)
	}

	sims, err := m.SimilaritiesForUser(ctx, "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(sims) != 1 || sims[0].Similarity != 0.7 {
		t.Errorf("sims = %v, want single row with similarity 0.7", sims)
	}
}

func TestDoNotRecommendIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	for i := 0; i < 3; i++ {
		if err := m.AddDoNotRecommend(ctx, "u1", core.SuppressedItem{Item: "a"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.AddDoNotRecommend(ctx, "u1", core.SuppressedItem{Item: "b"}); err != nil {
		t.Fatal(err)
	}

	row, err := m.DoNotRecommendForUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(row.Items) != 2 {
		t.Errorf("suppression list = %v, want 2 distinct items", row.Items)
	}
}

func TestPointReadsReturnNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if _, err := m.ItemWeightsByUser(ctx, "ghost"); !core.IsNotFound(err) {
		t.Errorf("ItemWeightsByUser error = %v, want NOT_FOUND", err)
	}
	if _, err := m.RecommendationForUser(ctx, "ghost"); !core.IsNotFound(err) {
		t.Errorf("RecommendationForUser error = %v, want NOT_FOUND", err)
	}
	if _, err := m.DoNotRecommendForUser(ctx, "ghost"); !core.IsNotFound(err) {
		t.Errorf("DoNotRecommendForUser error = %v, want NOT_FOUND", err)
	}
}

func TestIgnoredUsersRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if err := m.AddIgnoredUser(ctx, "bot"); err != nil {
		t.Fatal(err)
	}
	ignored, err := m.IgnoredUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ignored["bot"]; !ok {
		t.Error("bot missing from ignored set")
	}

	if err := m.RemoveIgnoredUser(ctx, "bot"); err != nil {
		t.Fatal(err)
	}
	ignored, err = m.IgnoredUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ignored) != 0 {
		t.Errorf("ignored set = %v, want empty after removal", ignored)
	}
}
