// Package document tracks ledger-minted trade documents through
// draft, review, signature and revocation.
package document

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tradeflow/activity"
	"tradeflow/address"
	"tradeflow/agreement"
	"tradeflow/apperr"
	"tradeflow/ledger"
	"tradeflow/notification"
	"tradeflow/payload"
)

// Authorizer resolves the roles of a linked agreement. *agreement.RoleResolver
// satisfies it.
type Authorizer interface {
	Resolve(ctx context.Context, agreementID string) (agreement.Roles, error)
	Authorize(ctx context.Context, agreementID, actor string) (bool, error)
	IsAdmin(actor string) bool
}

type ActivityAppender interface {
	Append(ctx context.Context, in activity.NewEntry) (activity.Entry, error)
}

type Notifier interface {
	Notify(ctx context.Context, actor string, msg notification.Message, recipients []string) notification.Result
}

type Service struct {
	repo     Repository
	auth     Authorizer
	activity ActivityAppender
	notifier Notifier
	verifier agreement.Verifier
	logger   *log.Logger
	now      func() time.Time
}

func NewService(repo Repository, auth Authorizer, logger *log.Logger) *Service {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{repo: repo, auth: auth, logger: logger, now: time.Now}
}

func (s *Service) WithActivity(a ActivityAppender) *Service {
	s.activity = a
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithVerifier attests mint transactions against the ledger before they are
// logged.
func (s *Service) WithVerifier(v agreement.Verifier) *Service {
	s.verifier = v
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Mint records a freshly minted document in draft. The actor must be
// authorized on every linked agreement.
func (s *Service) Mint(ctx context.Context, p MintParams) (doc Document, err error) {
	defer apperr.Recover(&err)

	tokenID := strings.TrimSpace(p.TokenID)
	actor := address.Checksum(p.Actor)
	switch {
	case tokenID == "":
		return Document{}, apperr.New(apperr.KindMissingField, "tokenId is required")
	case actor == "":
		return Document{}, apperr.New(apperr.KindMissingField, "actor is required")
	case strings.TrimSpace(p.Hash) == "":
		return Document{}, apperr.New(apperr.KindMissingField, "hash is required")
	case address.Key(p.Signer) == "":
		return Document{}, apperr.New(apperr.KindMissingField, "signer is required")
	}
	for _, a := range []string{p.Signer, p.Owner} {
		if strings.TrimSpace(a) != "" && !address.Valid(a) {
			return Document{}, apperr.New(apperr.KindMissingField, "%q is not an account address", a)
		}
	}

	linked := address.NewSet()
	for _, id := range p.LinkedAgreements {
		if !address.Valid(id) {
			return Document{}, apperr.New(apperr.KindInvalidContractAddress, "%q is not a contract address", id)
		}
		linked.Add(id)
	}
	if linked.Len() == 0 {
		return Document{}, apperr.New(apperr.KindMissingField, "at least one linked agreement is required")
	}
	for _, id := range linked.List() {
		if err := s.authorize(ctx, id, actor); err != nil {
			return Document{}, err
		}
	}

	owner := address.Checksum(p.Owner)
	if owner == "" {
		owner = actor
	}
	doc = Document{
		TokenID:          tokenID,
		Owner:            owner,
		Hash:             strings.TrimSpace(p.Hash),
		URI:              strings.TrimSpace(p.URI),
		Type:             ParseType(string(p.Type)),
		LinkedAgreements: linked.List(),
		Signer:           address.Checksum(p.Signer),
		Status:           StatusDraft,
	}
	entry := LogEntry{
		TokenID:   tokenID,
		Action:    ActionMint,
		Actor:     actor,
		TxID:      strings.TrimSpace(p.TxID),
		Extra:     payload.Document{TokenID: tokenID, DocType: string(doc.Type), Hash: doc.Hash, URI: doc.URI, To: string(StatusDraft)},
		Timestamp: s.now().UnixMilli(),
	}
	if entry.TxID != "" && s.verifier != nil {
		v := s.verifier.Verify(ctx, entry.TxID)
		if v.State == ledger.StateConfirmed {
			entry.Confirmation = v.Confirmation
		}
	}

	doc, err = s.repo.Create(ctx, doc, entry)
	if errors.Is(err, ErrDuplicateToken) {
		return Document{}, apperr.New(apperr.KindInvalidTransition, "document %s is already minted", tokenID)
	}
	if err != nil {
		return Document{}, apperr.Wrap(apperr.KindInternal, err, "mint document %s", tokenID)
	}

	s.audit(ctx, doc, doc.Logs[0])
	s.notify(ctx, doc, doc.Logs[0])
	return doc, nil
}

// Link attaches another agreement to the document. Only the owner or an
// administrator may link, and the agreement must already be deployed.
// Linking an agreement twice is a no-op.
func (s *Service) Link(ctx context.Context, tokenID, agreementID, actor string) (doc Document, err error) {
	defer apperr.Recover(&err)

	actor = address.Checksum(actor)
	if actor == "" {
		return Document{}, apperr.New(apperr.KindMissingField, "actor is required")
	}
	if !address.Valid(agreementID) {
		return Document{}, apperr.New(apperr.KindInvalidContractAddress, "%q is not a contract address", agreementID)
	}
	agreementID = address.Checksum(agreementID)

	current, err := s.Get(ctx, tokenID)
	if err != nil {
		return Document{}, err
	}
	if !address.Equal(current.Owner, actor) && !s.isAdmin(actor) {
		return Document{}, apperr.New(apperr.KindUnauthorized, "only the owner links document %s", tokenID)
	}
	if s.auth != nil {
		if _, err := s.auth.Resolve(ctx, agreementID); err != nil {
			return Document{}, err
		}
	}

	entry := LogEntry{
		TokenID:   current.TokenID,
		Action:    ActionLink,
		Actor:     actor,
		Extra:     payload.Document{TokenID: current.TokenID, DocType: string(current.Type), From: string(current.Status), To: string(current.Status)},
		Timestamp: s.now().UnixMilli(),
	}
	doc, added, err := s.repo.Link(ctx, current.TokenID, agreementID, entry)
	if errors.Is(err, ErrNotFound) {
		return Document{}, apperr.New(apperr.KindNotFound, "document %s not found", tokenID)
	}
	if err != nil {
		return Document{}, apperr.Wrap(apperr.KindInternal, err, "link document %s", tokenID)
	}
	if added {
		last := doc.Logs[len(doc.Logs)-1]
		s.audit(ctx, doc, last)
		s.notify(ctx, doc, last)
	}
	return doc, nil
}

// Get returns a document with its linked agreements and history.
func (s *Service) Get(ctx context.Context, tokenID string) (doc Document, err error) {
	defer apperr.Recover(&err)
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return Document{}, apperr.New(apperr.KindMissingField, "tokenId is required")
	}
	doc, err = s.repo.Get(ctx, tokenID)
	if errors.Is(err, ErrNotFound) {
		return Document{}, apperr.New(apperr.KindNotFound, "document %s not found", tokenID)
	}
	if err != nil {
		return Document{}, apperr.Wrap(apperr.KindInternal, err, "get document %s", tokenID)
	}
	return doc, nil
}

// Transition applies a review, sign or revoke action. The lifecycle check
// runs before authorization, so a signed document reports InvalidTransition
// for revoke whoever asks.
func (s *Service) Transition(ctx context.Context, tokenID, action, actor string) (entry LogEntry, err error) {
	defer apperr.Recover(&err)

	action = strings.TrimSpace(action)
	actor = address.Checksum(actor)
	if action == "" {
		return LogEntry{}, apperr.New(apperr.KindMissingField, "action is required")
	}
	if actor == "" {
		return LogEntry{}, apperr.New(apperr.KindMissingField, "actor is required")
	}

	doc, err := s.Get(ctx, tokenID)
	if err != nil {
		return LogEntry{}, err
	}
	next, ok := Next(doc.Status, action)
	if !ok {
		return LogEntry{}, apperr.New(apperr.KindInvalidTransition, "cannot %s a %s document", action, doc.Status)
	}
	if err := s.authorizeTransition(ctx, doc, action, actor); err != nil {
		return LogEntry{}, err
	}

	entry = LogEntry{
		TokenID:   doc.TokenID,
		Action:    action,
		Actor:     actor,
		Extra:     payload.Document{TokenID: doc.TokenID, DocType: string(doc.Type), Hash: doc.Hash, From: string(doc.Status), To: string(next)},
		Timestamp: s.now().UnixMilli(),
	}
	entry, err = s.repo.Transition(ctx, doc.TokenID, doc.Status, next, entry)
	switch {
	case errors.Is(err, ErrNotFound):
		return LogEntry{}, apperr.New(apperr.KindNotFound, "document %s not found", tokenID)
	case errors.Is(err, ErrStaleStatus):
		return LogEntry{}, apperr.New(apperr.KindInvalidTransition, "document %s changed status concurrently", tokenID)
	case err != nil:
		return LogEntry{}, apperr.Wrap(apperr.KindInternal, err, "%s document %s", action, tokenID)
	}

	doc.Status = next
	s.audit(ctx, doc, entry)
	s.notify(ctx, doc, entry)
	return entry, nil
}

func (s *Service) authorizeTransition(ctx context.Context, doc Document, action, actor string) error {
	switch action {
	case ActionReview:
		if s.isAdmin(actor) {
			return nil
		}
		for _, id := range doc.LinkedAgreements {
			roles, err := s.resolve(ctx, id)
			if err != nil {
				return err
			}
			for _, party := range roles.Parties() {
				if address.Equal(party, actor) {
					return nil
				}
			}
		}
		return apperr.New(apperr.KindUnauthorized, "%s holds no role on the agreements linked to %s", actor, doc.TokenID)
	case ActionSign:
		if address.Equal(doc.Signer, actor) {
			return nil
		}
		return apperr.New(apperr.KindUnauthorized, "only %s signs document %s", doc.Signer, doc.TokenID)
	case ActionRevoke:
		if address.Equal(doc.Owner, actor) || s.isAdmin(actor) {
			return nil
		}
		return apperr.New(apperr.KindUnauthorized, "only the owner or an administrator revokes document %s", doc.TokenID)
	}
	return apperr.New(apperr.KindInvalidTransition, "unknown document action %q", action)
}

func (s *Service) authorize(ctx context.Context, agreementID, actor string) error {
	if s.auth == nil {
		return apperr.New(apperr.KindRolesUnavailable, "no role resolver configured")
	}
	ok, err := s.auth.Authorize(ctx, agreementID, actor)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.KindUnauthorized, "%s holds no role on %s", actor, agreementID)
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, agreementID string) (agreement.Roles, error) {
	if s.auth == nil {
		return agreement.Roles{}, apperr.New(apperr.KindRolesUnavailable, "no role resolver configured")
	}
	return s.auth.Resolve(ctx, agreementID)
}

func (s *Service) isAdmin(actor string) bool {
	return s.auth != nil && s.auth.IsAdmin(actor)
}

// auditAction is the activity name for a document action; signing is logged
// as signDocument so it never reads as an agreement signature.
func auditAction(action string) string {
	if action == ActionSign {
		return "signDocument"
	}
	return action
}

func (s *Service) audit(ctx context.Context, doc Document, e LogEntry) {
	if s.activity == nil {
		return
	}
	tags := []string{"document:" + doc.TokenID}
	for _, id := range doc.LinkedAgreements {
		tags = append(tags, "agreement:"+address.Key(id))
	}
	in := activity.NewEntry{
		Timestamp:    e.Timestamp,
		Action:       auditAction(e.Action),
		Actor:        e.Actor,
		TxID:         e.TxID,
		Tags:         tags,
		Extra:        e.Extra,
		Confirmation: e.Confirmation,
	}
	if len(doc.LinkedAgreements) > 0 {
		in.AgreementID = doc.LinkedAgreements[0]
	}
	if _, err := s.activity.Append(ctx, in); err != nil {
		s.logger.Printf("document: audit %s on %s (seq %d): %v", e.Action, doc.TokenID, e.Seq, err)
	}
}

func (s *Service) notify(ctx context.Context, doc Document, e LogEntry) {
	if s.notifier == nil {
		return
	}
	recipients := []string{doc.Owner}
	if s.auth != nil {
		for _, id := range doc.LinkedAgreements {
			roles, err := s.auth.Resolve(ctx, id)
			if err != nil {
				s.logger.Printf("document: recipients for %s on %s: %v", doc.TokenID, id, err)
				continue
			}
			recipients = append(recipients, roles.Parties()...)
		}
	}
	msg := notification.Message{
		Type:    notification.TypeDocument,
		Title:   fmt.Sprintf("Document %s", e.Action),
		Message: fmt.Sprintf("%s recorded %s on document %s (%s)", e.Actor, e.Action, doc.TokenID, doc.Status),
		TxID:    e.TxID,
		Extra:   e.Extra,
	}
	s.notifier.Notify(ctx, e.Actor, msg, recipients)
}
