// Package actors holds the concurrent workloads the stress test runs against
// the Postgres-backed services. Each actor loops until stop closes or ctx ends.
// Transient storage errors are expected while chaos kills backends, so actors
// only return errors for broken guarantees.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"tradeflow/activity"
	"tradeflow/agreement"
	"tradeflow/apperr"
	"tradeflow/document"
)

func pause(base, jitter int) {
	time.Sleep(time.Duration(base+rand.Intn(jitter)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// Signer records sign events for one party. Half of the attempts replay an
// earlier transaction id, which must come back as the stored event.
func Signer(ctx context.Context, svc *agreement.Service, agreementID, actor string, stop <-chan struct{}) error {
	var sent []string
	for i := 0; ; i++ {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		txID := fmt.Sprintf("0x%s%04x", actor[2:], i)
		if len(sent) > 0 && rand.Intn(2) == 0 {
			txID = sent[rand.Intn(len(sent))]
		}
		ev, err := svc.RecordStageEvent(ctx, agreement.RecordParams{
			AgreementID: agreementID,
			Action:      "sign",
			Actor:       actor,
			TxID:        txID,
		})
		switch {
		case err == nil:
			if ev.TxID != txID {
				return fmt.Errorf("signer %s: replay of %s returned %s", actor, txID, ev.TxID)
			}
			sent = append(sent, txID)
		case apperr.KindOf(err) == apperr.KindUnauthorized:
			return fmt.Errorf("signer %s: party rejected: %w", actor, err)
		}
		pause(10, 30)
	}
}

// Outsider keeps trying to act on an agreement it holds no role on. Any
// accepted write is a broken guarantee.
func Outsider(ctx context.Context, svc *agreement.Service, agreementID, actor string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, err := svc.RecordStageEvent(ctx, agreement.RecordParams{AgreementID: agreementID, Action: "cancel", Actor: actor})
		if err == nil {
			return fmt.Errorf("outsider %s recorded cancel on %s", actor, agreementID)
		}
		pause(40, 60)
	}
}

// ActivityWriter appends off-chain entries with colliding timestamps so that
// pagination has ties to break.
func ActivityWriter(ctx context.Context, audit *activity.Log, actor string, tags []string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, _ = audit.Append(ctx, activity.NewEntry{
			Timestamp: int64(1_000 + rand.Intn(50)),
			Action:    "note",
			Actor:     actor,
			Tags:      tags[:1+rand.Intn(len(tags))],
		})
		pause(5, 20)
	}
}

// ActivityReader walks every page of a filter and fails when an entry repeats
// or the order goes backwards.
func ActivityReader(ctx context.Context, audit *activity.Log, filter activity.Filter, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if err := walk(ctx, audit, filter); err != nil {
			return err
		}
		pause(50, 50)
	}
}

func walk(ctx context.Context, audit *activity.Log, filter activity.Filter) error {
	seen := make(map[string]bool)
	var (
		cursor *activity.Cursor
		last   *activity.Entry
	)
	for {
		page, err := audit.Query(ctx, filter, cursor, 7)
		if err != nil {
			return nil
		}
		for i := range page.Items {
			e := page.Items[i]
			if seen[e.ID] {
				return fmt.Errorf("activity reader: %s returned twice", e.ID)
			}
			seen[e.ID] = true
			if last != nil && (e.Timestamp > last.Timestamp || (e.Timestamp == last.Timestamp && e.Seq < last.Seq)) {
				return fmt.Errorf("activity reader: %d/%d after %d/%d", e.Timestamp, e.Seq, last.Timestamp, last.Seq)
			}
			last = &e
		}
		if page.NextCursor == nil {
			return nil
		}
		cursor = page.NextCursor
	}
}

// DocumentRacer mints a document and has every contender race the same
// transitions. Exactly one contender may win each step.
func DocumentRacer(ctx context.Context, svc *document.Service, agreementID, owner, signer string, contenders int, stop <-chan struct{}) error {
	for i := 0; ; i++ {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		tokenID := fmt.Sprintf("%d-%d", time.Now().UnixNano(), i)
		if _, err := svc.Mint(ctx, document.MintParams{
			TokenID:          tokenID,
			Hash:             fmt.Sprintf("0x%x", rand.Int63()),
			URI:              "ipfs://" + tokenID,
			Type:             document.TypeBillOfLading,
			LinkedAgreements: []string{agreementID},
			Signer:           signer,
			Actor:            owner,
		}); err != nil {
			pause(20, 20)
			continue
		}
		for _, action := range []string{"review", "sign"} {
			if err := race(ctx, svc, tokenID, action, signer, contenders); err != nil {
				return err
			}
		}
		pause(20, 40)
	}
}

func race(ctx context.Context, svc *document.Service, tokenID, action, actor string, contenders int) error {
	results := make(chan error, contenders)
	for i := 0; i < contenders; i++ {
		go func() {
			_, err := svc.Transition(ctx, tokenID, action, actor)
			results <- err
		}()
	}
	wins := 0
	for i := 0; i < contenders; i++ {
		err := <-results
		switch {
		case err == nil:
			wins++
		case apperr.KindOf(err) == apperr.KindInvalidTransition, apperr.KindOf(err) == apperr.KindInternal:
		default:
			return fmt.Errorf("document %s %s: %w", tokenID, action, err)
		}
	}
	if wins > 1 {
		return fmt.Errorf("document %s: %d contenders won %s", tokenID, wins, action)
	}
	return nil
}

// FlakyBroadcast fails one delivery in failEvery so the relay exercises retries.
func FlakyBroadcast(failEvery int) agreement.OutboxHandler {
	return func(ctx context.Context, msg agreement.OutboxMessage) error {
		if rand.Intn(failEvery) == 0 {
			return errors.New("broadcast endpoint unavailable")
		}
		return nil
	}
}

// Relay drains the outbox until stopped.
func Relay(ctx context.Context, relay *agreement.OutboxRelay, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, _ = relay.RunOnce(ctx)
		pause(50, 50)
	}
}
