// Package agreement mirrors ledger agreements: it authorizes stage events
// against the deployed roles, attests them, records them append-only, audits
// them and notifies the other parties.
package agreement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tradeflow/activity"
	"tradeflow/address"
	"tradeflow/apperr"
	"tradeflow/ledger"
	"tradeflow/notification"
	"tradeflow/payload"
	"tradeflow/stage"
)

// Verifier attests a transaction.
type Verifier interface {
	Verify(ctx context.Context, txID string) ledger.Verification
}

// ActivityAppender receives one audit entry per stored event.
type ActivityAppender interface {
	Append(ctx context.Context, in activity.NewEntry) (activity.Entry, error)
}

// Notifier fans an event out to the parties and administrators.
type Notifier interface {
	Notify(ctx context.Context, actor string, msg notification.Message, recipients []string) notification.Result
	NotifyAdmins(ctx context.Context, actor string, msg notification.Message) notification.Result
}

type Service struct {
	repo        Repository
	roles       *RoleResolver
	verifier    Verifier
	activity    ActivityAppender
	notifier    Notifier
	stageReader ledger.StageReader
	ledgerWait  time.Duration
	logger      *log.Logger
	now         func() time.Time
}

func NewService(repo Repository, roles *RoleResolver, logger *log.Logger) *Service {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if roles == nil {
		roles = NewRoleResolver(nil, repo)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		repo:       repo,
		roles:      roles,
		ledgerWait: ledger.DefaultTimeout,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) WithVerifier(v Verifier) *Service {
	s.verifier = v
	return s
}

func (s *Service) WithActivity(a ActivityAppender) *Service {
	s.activity = a
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithStageReader makes Status consult the ledger before the mirror.
func (s *Service) WithStageReader(r ledger.StageReader, timeout time.Duration) *Service {
	s.stageReader = r
	if timeout > 0 {
		s.ledgerWait = timeout
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Roles exposes the resolver used for authorization.
func (s *Service) Roles() *RoleResolver {
	return s.roles
}

// RecordStageEvent authorizes, attests and stores one stage event, then
// audits it and notifies the other parties. Audit and notification failures
// are logged and do not fail the call. Replaying the same (agreement, action,
// tx) returns the stored event.
func (s *Service) RecordStageEvent(ctx context.Context, p RecordParams) (ev StageEvent, err error) {
	defer apperr.Recover(&err)

	action := strings.TrimSpace(p.Action)
	actor := address.Checksum(p.Actor)
	if action == "" {
		return StageEvent{}, apperr.New(apperr.KindMissingField, "action is required")
	}
	if actor == "" {
		return StageEvent{}, apperr.New(apperr.KindMissingField, "actor is required")
	}
	if !address.Valid(p.AgreementID) {
		return StageEvent{}, apperr.New(apperr.KindInvalidContractAddress, "%q is not a contract address", p.AgreementID)
	}
	id := address.Checksum(p.AgreementID)
	txID := strings.TrimSpace(p.TxID)

	if txID != "" {
		stored, err := s.repo.FindEvent(ctx, id, action, txID)
		if err == nil && address.Equal(stored.Actor, actor) {
			return stored, nil
		}
		if err != nil && !errors.Is(err, ErrEventNotFound) {
			return StageEvent{}, apperr.Wrap(apperr.KindInternal, err, "look up stage event")
		}
	}

	params := AppendParams{Event: StageEvent{
		AgreementID: id,
		Action:      action,
		Actor:       actor,
		TxID:        txID,
		Extra:       p.Extra,
		Timestamp:   p.Timestamp,
	}}
	if params.Event.Timestamp == 0 {
		params.Event.Timestamp = s.now().UnixMilli()
	}

	var roles Roles
	if action == stage.ActionDeploy {
		d, err := s.authorizeDeploy(actor, p.Extra)
		if err != nil {
			return StageEvent{}, err
		}
		params.Deploy = &d
		roles = rolesFrom(d)
	} else {
		if roles, err = s.roles.Resolve(ctx, id); err != nil {
			return StageEvent{}, err
		}
		if !s.roles.Allows(roles, actor) {
			return StageEvent{}, apperr.New(apperr.KindUnauthorized, "%s holds no role on %s", actor, id)
		}
		if action == stage.ActionSign {
			params.SignPrimary, params.SignCounterparty = s.signerFlags(roles, actor, p.Extra)
		}
	}

	if txID != "" && s.verifier != nil {
		v := s.verifier.Verify(ctx, txID)
		if v.State == ledger.StateConfirmed {
			params.Event.Confirmation = v.Confirmation
		}
	}

	ev, err = s.repo.Append(ctx, params)
	switch {
	case errors.Is(err, ErrDuplicateEvent):
		stored, findErr := s.repo.FindEvent(ctx, id, action, txID)
		if findErr != nil {
			return StageEvent{}, apperr.Wrap(apperr.KindInternal, findErr, "reload stage event")
		}
		return stored, nil
	case errors.Is(err, ErrAlreadyDeployed):
		return StageEvent{}, apperr.New(apperr.KindInvalidTransition, "agreement %s is already deployed", id)
	case errors.Is(err, ErrAgreementNotFound):
		return StageEvent{}, apperr.New(apperr.KindRolesUnavailable, "agreement %s has no deployment yet", id)
	case err != nil:
		return StageEvent{}, apperr.Wrap(apperr.KindInternal, err, "record %s on %s", action, id)
	}

	s.audit(ctx, ev)
	s.notify(ctx, ev, roles)
	return ev, nil
}

func (s *Service) authorizeDeploy(actor string, extra payload.Extra) (payload.Deploy, error) {
	d, ok := extra.(payload.Deploy)
	if !ok || address.Key(d.Primary) == "" {
		return payload.Deploy{}, apperr.New(apperr.KindMissingField, "deploy requires the party addresses")
	}
	for _, a := range []string{d.Primary, d.Counterparty, d.Logistics, d.Insurance, d.Inspector} {
		if a != "" && !address.Valid(a) {
			return payload.Deploy{}, apperr.New(apperr.KindMissingField, "%q is not an account address", a)
		}
	}
	if !address.Equal(actor, d.Primary) && !s.roles.IsAdmin(actor) {
		return payload.Deploy{}, apperr.New(apperr.KindUnauthorized, "only the primary party deploys an agreement")
	}
	r := rolesFrom(d)
	d.Primary, d.Counterparty, d.Logistics, d.Insurance, d.Inspector = r.Primary, r.Counterparty, r.Logistics, r.Insurance, r.Inspector
	return d, nil
}

// signerFlags maps a sign event to the party it signs for. An administrator
// signing on behalf of a party names the role in the Sign extra.
func (s *Service) signerFlags(roles Roles, actor string, extra payload.Extra) (primary, counterparty bool) {
	primary = address.Equal(actor, roles.Primary)
	counterparty = address.Equal(actor, roles.Counterparty)
	if primary || counterparty || !s.roles.IsAdmin(actor) {
		return primary, counterparty
	}
	if sign, ok := extra.(payload.Sign); ok {
		switch sign.Role {
		case "primary":
			return true, false
		case "counterparty":
			return false, true
		}
	}
	return false, false
}

func (s *Service) audit(ctx context.Context, ev StageEvent) {
	if s.activity == nil {
		return
	}
	entry := activity.NewEntry{
		Timestamp:    ev.Timestamp,
		Action:       ev.Action,
		Actor:        ev.Actor,
		TxID:         ev.TxID,
		AgreementID:  ev.AgreementID,
		Tags:         []string{"agreement:" + address.Key(ev.AgreementID), "stage:" + ev.Action},
		Extra:        ev.Extra,
		Confirmation: ev.Confirmation,
	}
	if _, err := s.activity.Append(ctx, entry); err != nil {
		s.logger.Printf("agreement: audit %s on %s (seq %d): %v", ev.Action, ev.AgreementID, ev.Seq, err)
	}
}

func (s *Service) notify(ctx context.Context, ev StageEvent, roles Roles) {
	if s.notifier == nil {
		return
	}
	msg := notification.Message{
		Type:    notificationType(ev.Action),
		Title:   fmt.Sprintf("Agreement %s", ev.Action),
		Message: fmt.Sprintf("%s recorded %s on agreement %s", ev.Actor, ev.Action, ev.AgreementID),
		TxID:    ev.TxID,
		Extra:   ev.Extra,
	}
	s.notifier.Notify(ctx, ev.Actor, msg, roles.Parties())
	if ev.Action == stage.ActionDeploy || ev.Action == stage.ActionCancel {
		s.notifier.NotifyAdmins(ctx, ev.Actor, msg)
	}
}

func notificationType(action string) notification.Type {
	switch payload.KindForAction(action) {
	case payload.KindDeposit:
		return notification.TypePayment
	case payload.KindShipping:
		return notification.TypeShipping
	default:
		return notification.TypeContract
	}
}

// Get returns the mirror of an agreement with its full history.
func (s *Service) Get(ctx context.Context, agreementID string) (a Agreement, err error) {
	defer apperr.Recover(&err)
	if !address.Valid(agreementID) {
		return Agreement{}, apperr.New(apperr.KindInvalidContractAddress, "%q is not a contract address", agreementID)
	}
	a, err = s.repo.Get(ctx, address.Checksum(agreementID))
	if errors.Is(err, ErrAgreementNotFound) {
		return Agreement{}, apperr.New(apperr.KindNotFound, "agreement %s not found", agreementID)
	}
	if err != nil {
		return Agreement{}, apperr.Wrap(apperr.KindInternal, err, "get agreement")
	}
	return a, nil
}

// Status derives the structured stage status. The ledger answers when a stage
// reader is configured and reachable; otherwise the mirror does.
func (s *Service) Status(ctx context.Context, agreementID string) (view StatusView, err error) {
	defer apperr.Recover(&err)
	if !address.Valid(agreementID) {
		return StatusView{}, apperr.New(apperr.KindInvalidContractAddress, "%q is not a contract address", agreementID)
	}
	id := address.Checksum(agreementID)

	if s.stageReader != nil {
		callCtx, cancel := context.WithTimeout(ctx, s.ledgerWait)
		snap, err := s.stageReader.Stage(callCtx, id)
		cancel()
		if err == nil {
			st := stage.Derive(snap.Ordinal, snap.Signatures)
			return StatusView{AgreementID: id, Source: SourceLedger, Stage: snap.Ordinal.String(), Status: st, Height: snap.Height}, nil
		}
		s.logger.Printf("agreement: ledger stage for %s unavailable, using mirror: %v", id, err)
	}

	a, err := s.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	st := stage.Derive(a.Stage, a.Signatures)
	return StatusView{AgreementID: id, Source: SourceMirror, Stage: a.Stage.String(), Status: st}, nil
}
