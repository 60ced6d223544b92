package activity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"testing"
	"testing/quick"

	"tradeflow/apperr"
	"tradeflow/payload"
)

func newTestLog() *Log {
	return NewLog(NewMemoryStore(), log.New(io.Discard, "", 0))
}

func mustAppend(t *testing.T, l *Log, in NewEntry) Entry {
	t.Helper()
	e, err := l.Append(context.Background(), in)
	if err != nil {
		t.Fatalf("append %+v: %v", in, err)
	}
	return e
}

func timestamps(items []Entry) []int64 {
	out := make([]int64, len(items))
	for i, e := range items {
		out[i] = e.Timestamp
	}
	return out
}

func TestAppendRequiresActorAndAction(t *testing.T) {
	l := newTestLog()

	_, err := l.Append(context.Background(), NewEntry{Action: "sign"})
	if !errors.Is(err, apperr.ErrMissingField) {
		t.Fatalf("expected missing field for actor, got %v", err)
	}
	_, err = l.Append(context.Background(), NewEntry{Actor: "0x1", Action: "  "})
	if !errors.Is(err, apperr.ErrMissingField) {
		t.Fatalf("expected missing field for action, got %v", err)
	}
}

func TestAppendDefaults(t *testing.T) {
	l := newTestLog().WithIDGenerator(func() string { return "entry-1" })

	e := mustAppend(t, l, NewEntry{Actor: "0xAbC", Action: "deposit"})
	if e.ID != "entry-1" {
		t.Errorf("id = %s", e.ID)
	}
	if e.Timestamp == 0 {
		t.Errorf("timestamp should default to now")
	}
	if e.Tags == nil || len(e.Tags) != 0 {
		t.Errorf("tags should default to an empty set, got %#v", e.Tags)
	}
	if e.Origin != OriginOffChain {
		t.Errorf("origin = %s, want off-chain", e.Origin)
	}
	if e.Seq == 0 {
		t.Errorf("seq should be assigned")
	}

	onChain := mustAppend(t, l, NewEntry{Actor: "0x1", Action: "sign", TxID: "0xfeed", Tags: []string{"a", "a", " "}})
	if onChain.Origin != OriginOnChain {
		t.Errorf("origin = %s, want on-chain", onChain.Origin)
	}
	if len(onChain.Tags) != 1 || onChain.Tags[0] != "a" {
		t.Errorf("tags not normalized: %#v", onChain.Tags)
	}
}

func TestQueryActorScenario(t *testing.T) {
	l := newTestLog()
	for _, ts := range []int64{100, 200, 300} {
		mustAppend(t, l, NewEntry{Actor: "0x1", Action: "sign", Timestamp: ts})
	}
	mustAppend(t, l, NewEntry{Actor: "0x2", Action: "sign", Timestamp: 250})

	page, err := l.Query(context.Background(), Filter{Actor: "0x1"}, nil, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := timestamps(page.Items); fmt.Sprint(got) != "[300 200]" {
		t.Fatalf("first page = %v", got)
	}
	if page.NextCursor == nil || page.NextCursor.Timestamp != 200 {
		t.Fatalf("next cursor = %+v, want 200", page.NextCursor)
	}

	page, err = l.Query(context.Background(), Filter{Actor: "0x1"}, &Cursor{Timestamp: 200}, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := timestamps(page.Items); fmt.Sprint(got) != "[100]" {
		t.Fatalf("second page = %v", got)
	}
	if page.NextCursor != nil {
		t.Fatalf("expected exhausted cursor, got %+v", page.NextCursor)
	}
}

func TestQueryTagsAreConjunctive(t *testing.T) {
	l := newTestLog()
	mustAppend(t, l, NewEntry{Actor: "0x1", Action: "review", Tags: []string{"a", "b", "c"}})

	page, _ := l.Query(context.Background(), Filter{Tags: []string{"a", "b"}}, nil, 10)
	if len(page.Items) != 1 {
		t.Fatalf("expected {a,b} to match, got %d items", len(page.Items))
	}
	page, _ = l.Query(context.Background(), Filter{Tags: []string{"a", "d"}}, nil, 10)
	if len(page.Items) != 0 {
		t.Fatalf("expected {a,d} not to match, got %d items", len(page.Items))
	}
}

func TestQueryCombinedFilters(t *testing.T) {
	l := newTestLog()
	mustAppend(t, l, NewEntry{Actor: "0x1", Action: "sign", TxID: "0xt1", AgreementID: "0xAA", Timestamp: 10})
	mustAppend(t, l, NewEntry{Actor: "0x1", Action: "deposit", TxID: "0xt2", AgreementID: "0xAA", Timestamp: 20})
	mustAppend(t, l, NewEntry{Actor: "0x2", Action: "sign", TxID: "0xt3", AgreementID: "0xbb", Timestamp: 30})

	cases := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"agreement case-insensitive", Filter{AgreementID: "0xaa"}, "[20 10]"},
		{"tx id", Filter{TxID: "0xt3"}, "[30]"},
		{"actor and tx id", Filter{Actor: "0x1", TxID: "0xt3"}, "[]"},
		{"actor and agreement", Filter{Actor: "0X1", AgreementID: "0xAA"}, "[20 10]"},
		{"unscoped", Filter{}, "[30 20 10]"},
		{"unknown actor", Filter{Actor: "0x9"}, "[]"},
	}
	for _, tc := range cases {
		page, err := l.Query(context.Background(), tc.filter, nil, 10)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := fmt.Sprint(timestamps(page.Items)); got != tc.want {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestQueryTiesKeepInsertionOrder(t *testing.T) {
	l := newTestLog()
	var ids []string
	for i := 0; i < 5; i++ {
		e := mustAppend(t, l, NewEntry{Actor: "0x1", Action: fmt.Sprintf("a%d", i), Timestamp: 500})
		ids = append(ids, e.Action)
	}
	mustAppend(t, l, NewEntry{Actor: "0x1", Action: "older", Timestamp: 400})

	var seen []string
	var cursor *Cursor
	for {
		page, err := l.Query(context.Background(), Filter{Actor: "0x1"}, cursor, 2)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		for _, e := range page.Items {
			seen = append(seen, e.Action)
		}
		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}
	want := append(ids, "older")
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("got %v want %v", seen, want)
	}
}

func TestQueryOutOfOrderTimestamps(t *testing.T) {
	l := newTestLog()
	for _, ts := range []int64{300, 100, 200, 100} {
		mustAppend(t, l, NewEntry{Actor: "0x1", Action: "x", Timestamp: ts})
	}
	page, _ := l.Query(context.Background(), Filter{}, nil, 10)
	if got := fmt.Sprint(timestamps(page.Items)); got != "[300 200 100 100]" {
		t.Fatalf("got %s", got)
	}
	if page.Items[2].Seq > page.Items[3].Seq {
		t.Fatalf("ties must keep insertion order: %d before %d", page.Items[2].Seq, page.Items[3].Seq)
	}
}

func TestQueryPaginationRoundTrip(t *testing.T) {
	f := func(n uint8, k uint8, seed int64) bool {
		count := int(n % 60)
		limit := int(k%9) + 1
		rng := rand.New(rand.NewSource(seed))

		l := newTestLog()
		for _, ts := range rng.Perm(count) {
			if _, err := l.Append(context.Background(), NewEntry{Actor: "0x1", Action: "x", Timestamp: int64(ts) + 1}); err != nil {
				return false
			}
		}

		var got []int64
		var cursor *Cursor
		for pages := 0; pages <= count+1; pages++ {
			page, err := l.Query(context.Background(), Filter{Actor: "0x1"}, cursor, limit)
			if err != nil {
				return false
			}
			got = append(got, timestamps(page.Items)...)
			if page.NextCursor == nil {
				break
			}
			// the bare timestamp form is enough when timestamps are distinct
			cursor = &Cursor{Timestamp: page.NextCursor.Timestamp}
		}

		if len(got) != count {
			return false
		}
		for i, ts := range got {
			if ts != int64(count-i) {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatalf("pagination round trip failed: %v", err)
	}
}

func TestConcurrentAppendAndQuery(t *testing.T) {
	l := newTestLog()
	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			actor := fmt.Sprintf("0x%d", w+1)
			for i := 0; i < perWriter; i++ {
				if _, err := l.Append(context.Background(), NewEntry{Actor: actor, Action: "x", Timestamp: int64(i + 1)}); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				page, err := l.Query(context.Background(), Filter{}, nil, MaxLimit)
				if err != nil {
					t.Errorf("query: %v", err)
					return
				}
				for j := 1; j < len(page.Items); j++ {
					if precedes(page.Items[j], page.Items[j-1]) {
						t.Errorf("page out of order at %d", j)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	total := 0
	var cursor *Cursor
	for {
		page, err := l.Query(context.Background(), Filter{}, cursor, MaxLimit)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		total += len(page.Items)
		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}
	if total != writers*perWriter {
		t.Fatalf("expected %d entries, got %d", writers*perWriter, total)
	}
}

func TestAppendKeepsExtra(t *testing.T) {
	l := newTestLog()
	e := mustAppend(t, l, NewEntry{Actor: "0x1", Action: "deposit", Extra: payload.Deposit{Amount: "100"}})

	page, _ := l.Query(context.Background(), Filter{}, nil, 1)
	if len(page.Items) != 1 || page.Items[0].ID != e.ID {
		t.Fatalf("entry not found")
	}
	if d, ok := page.Items[0].Extra.(payload.Deposit); !ok || d.Amount != "100" {
		t.Fatalf("extra = %#v", page.Items[0].Extra)
	}
}

func TestParseCursor(t *testing.T) {
	cases := []struct {
		in   string
		want *Cursor
		err  bool
	}{
		{"", nil, false},
		{"200", &Cursor{Timestamp: 200}, false},
		{"200:7", &Cursor{Timestamp: 200, Seq: 7}, false},
		{"abc", nil, true},
		{"200:x", nil, true},
	}
	for _, tc := range cases {
		got, err := ParseCursor(tc.in)
		if tc.err != (err != nil) {
			t.Errorf("%q: unexpected error %v", tc.in, err)
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(tc.want) {
			t.Errorf("%q: got %v want %v", tc.in, got, tc.want)
		}
		if got != nil {
			if back, _ := ParseCursor(got.String()); *back != *got {
				t.Errorf("%q: string form does not parse back", tc.in)
			}
		}
	}
}
