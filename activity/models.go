package activity

import (
	"fmt"
	"strconv"
	"strings"

	"tradeflow/ledger"
	"tradeflow/payload"
)

type Origin string

const (
	OriginOnChain  Origin = "on-chain"
	OriginOffChain Origin = "off-chain"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Entry is one immutable audit record. Seq is assigned by the store and
// breaks timestamp ties in insertion order.
type Entry struct {
	ID           string               `json:"id"`
	Seq          uint64               `json:"seq"`
	Timestamp    int64                `json:"timestamp"`
	Origin       Origin               `json:"origin"`
	Action       string               `json:"action"`
	Actor        string               `json:"actor"`
	TxID         string               `json:"txId,omitempty"`
	AgreementID  string               `json:"agreementId,omitempty"`
	Tags         []string             `json:"tags"`
	Extra        payload.Extra        `json:"extra,omitempty"`
	Confirmation *ledger.Confirmation `json:"confirmation,omitempty"`
}

// NewEntry is the caller-supplied part of an entry. A zero Timestamp means now.
// An empty Origin is on-chain when TxID is set and off-chain otherwise.
type NewEntry struct {
	Timestamp    int64
	Origin       Origin
	Action       string
	Actor        string
	TxID         string
	AgreementID  string
	Tags         []string
	Extra        payload.Extra
	Confirmation *ledger.Confirmation
}

// Filter is a conjunction; empty fields are ignored. Tags match when the
// entry carries every requested tag.
type Filter struct {
	Actor       string
	TxID        string
	AgreementID string
	Tags        []string
}

// Cursor is an exclusive position in descending timestamp order. A cursor
// with Seq zero is a bare timestamp: the next page starts strictly older.
type Cursor struct {
	Timestamp int64
	Seq       uint64
}

// Page is one slice of a query. NextCursor is nil once the results are exhausted.
type Page struct {
	Items      []Entry `json:"items"`
	NextCursor *Cursor `json:"-"`
}

// CursorOf returns the position just after e.
func CursorOf(e Entry) Cursor {
	return Cursor{Timestamp: e.Timestamp, Seq: e.Seq}
}

func (c Cursor) String() string {
	if c.Seq == 0 {
		return strconv.FormatInt(c.Timestamp, 10)
	}
	return fmt.Sprintf("%d:%d", c.Timestamp, c.Seq)
}

// ParseCursor accepts "ts" or "ts:seq". An empty token yields a nil cursor.
func ParseCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	tsPart, seqPart, hasSeq := strings.Cut(token, ":")
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("activity: invalid cursor %q", token)
	}
	c := &Cursor{Timestamp: ts}
	if hasSeq {
		seq, err := strconv.ParseUint(seqPart, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("activity: invalid cursor %q", token)
		}
		c.Seq = seq
	}
	return c, nil
}

// after reports whether e sorts strictly after c in query order.
func (c Cursor) after(e Entry) bool {
	if e.Timestamp != c.Timestamp {
		return e.Timestamp < c.Timestamp
	}
	return c.Seq != 0 && e.Seq > c.Seq
}

// precedes reports whether a comes before b in query order: newest first,
// insertion order among equal timestamps.
func precedes(a, b Entry) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.Seq < b.Seq
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func hasTags(entryTags, want []string) bool {
	for _, w := range want {
		found := false
		for _, t := range entryTags {
			if t == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
