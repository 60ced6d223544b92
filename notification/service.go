package notification

import (
	"context"
	"errors"

	"tradeflow/address"
	"tradeflow/apperr"
)

// Service is the recipient-facing inbox.
type Service struct {
	repo   Repository
	admins *address.Set
}

func NewService(repo Repository, admins *address.Set) *Service {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if admins == nil {
		admins = address.NewSet()
	}
	return &Service{repo: repo, admins: admins}
}

func (s *Service) List(ctx context.Context, recipient string, unreadOnly bool, limit int) (list []Notification, err error) {
	defer apperr.Recover(&err)
	if address.Key(recipient) == "" {
		return nil, apperr.New(apperr.KindMissingField, "recipient is required")
	}
	list, err = s.repo.ListForRecipient(ctx, recipient, unreadOnly, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "list notifications")
	}
	return list, nil
}

// MarkRead flags a notification as read. Only its recipient may do so.
func (s *Service) MarkRead(ctx context.Context, id, actor string) (n Notification, err error) {
	defer apperr.Recover(&err)

	current, err := s.get(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if !address.Equal(current.Recipient, actor) {
		return Notification{}, apperr.New(apperr.KindUnauthorized, "only the recipient can mark a notification read")
	}
	n, err = s.repo.MarkRead(ctx, id)
	if err != nil {
		return Notification{}, translate(err, id)
	}
	return n, nil
}

// Delete removes a notification. Deletion is an administrative action.
func (s *Service) Delete(ctx context.Context, id, actor string) (err error) {
	defer apperr.Recover(&err)

	if !s.admins.Contains(actor) {
		return apperr.New(apperr.KindUnauthorized, "only administrators can delete notifications")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return translate(err, id)
	}
	return nil
}

func (s *Service) get(ctx context.Context, id string) (Notification, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return Notification{}, translate(err, id)
	}
	return n, nil
}

func translate(err error, id string) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.New(apperr.KindNotFound, "notification %s not found", id)
	}
	return apperr.Wrap(apperr.KindInternal, err, "notification %s", id)
}
