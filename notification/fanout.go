// Package notification dispatches per-recipient notifications and serves the
// recipient inbox.
package notification

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tradeflow/address"
	"tradeflow/apperr"
)

// DefaultConcurrency bounds in-flight sink calls per fan-out.
const DefaultConcurrency = 8

// Sink stores a notification for its recipient.
type Sink interface {
	Create(ctx context.Context, n Notification) (Notification, error)
}

// Failure is one recipient the sink could not reach.
type Failure struct {
	Recipient string
	Err       error
}

// Result summarizes a fan-out. Failures never abort the remaining recipients.
type Result struct {
	Sent     []Notification
	Failures []Failure
}

type Fanout struct {
	sink        Sink
	admins      *address.Set
	concurrency int
	logger      *log.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewFanout(sink Sink, admins *address.Set, logger *log.Logger) *Fanout {
	if admins == nil {
		admins = address.NewSet()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Fanout{
		sink:        sink,
		admins:      admins,
		concurrency: DefaultConcurrency,
		logger:      logger,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (f *Fanout) WithConcurrency(n int) *Fanout {
	if n > 0 {
		f.concurrency = n
	}
	return f
}

func (f *Fanout) WithIDGenerator(gen func() string) *Fanout {
	f.idGenerator = gen
	return f
}

func (f *Fanout) WithClock(now func() time.Time) *Fanout {
	f.now = now
	return f
}

// Recipients canonicalizes and deduplicates candidates and drops the actor.
func Recipients(actor string, candidates []string) []string {
	set := address.NewSet()
	for _, c := range candidates {
		if address.Equal(c, actor) {
			continue
		}
		set.Add(c)
	}
	return set.List()
}

// Notify sends msg to every recipient except actor.
func (f *Fanout) Notify(ctx context.Context, actor string, msg Message, recipients []string) Result {
	return f.dispatch(ctx, actor, msg, Recipients(actor, recipients))
}

// NotifyAdmins sends msg to the configured administrators except actor.
func (f *Fanout) NotifyAdmins(ctx context.Context, actor string, msg Message) Result {
	return f.dispatch(ctx, actor, msg, Recipients(actor, f.admins.List()))
}

func (f *Fanout) dispatch(ctx context.Context, actor string, msg Message, recipients []string) Result {
	if len(recipients) == 0 || f.sink == nil {
		return Result{}
	}

	executor := address.Checksum(actor)
	if executor == "" {
		executor = SystemExecutor
	}
	typ := ParseType(string(msg.Type))
	now := f.now().UTC()

	sent := make([]*Notification, len(recipients))
	errs := make([]error, len(recipients))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, recipient := range recipients {
		g.Go(func() error {
			n := Notification{
				ID:        f.idGenerator(),
				Recipient: recipient,
				Executor:  executor,
				Type:      typ,
				Title:     msg.Title,
				Message:   msg.Message,
				TxID:      msg.TxID,
				Extra:     msg.Extra,
				CreatedAt: now,
				UpdatedAt: now,
			}
			created, err := f.create(ctx, n)
			if err != nil {
				errs[i] = apperr.Wrap(apperr.KindNotificationDispatchFailed, err, "notify %s", recipient)
				return nil
			}
			sent[i] = &created
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	for i, recipient := range recipients {
		if errs[i] != nil {
			f.logger.Printf("notification: dispatch %q to %s failed: %v", msg.Title, recipient, errs[i])
			res.Failures = append(res.Failures, Failure{Recipient: recipient, Err: errs[i]})
			continue
		}
		res.Sent = append(res.Sent, *sent[i])
	}
	return res
}

func (f *Fanout) create(ctx context.Context, n Notification) (created Notification, err error) {
	defer apperr.Recover(&err)
	return f.sink.Create(ctx, n)
}
