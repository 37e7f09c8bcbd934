package flagservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/rafaeljc/featuregate/internal/registry"
	"github.com/rafaeljc/featuregate/internal/store"
)

// ErrForbidden is returned when the actor lacks the capability to manage flags.
var ErrForbidden = errors.New("actor is not allowed to manage flags")

// Actor is the already-authorized caller of an administrative operation.
// Deciding CanMutateFlags is the job of the authentication layer.
type Actor struct {
	ID             string
	CanMutateFlags bool
}

func (a Actor) authorize(op string) error {
	if !a.CanMutateFlags {
		return fmt.Errorf("%w: %s by %q", ErrForbidden, op, a.ID)
	}
	return nil
}

// ListAllFlags returns every flag, ordered by creation time. Registry errors propagate unchanged.
func (s *Service) ListAllFlags(ctx context.Context, actor Actor) ([]store.Flag, error) {
	if err := actor.authorize("list"); err != nil {
		return nil, err
	}
	return s.registry.GetAll(ctx)
}

// GetFlag returns one flag by id.
func (s *Service) GetFlag(ctx context.Context, actor Actor, id string) (store.Flag, error) {
	if err := actor.authorize("get"); err != nil {
		return store.Flag{}, err
	}
	return s.registry.GetByID(ctx, id)
}

// GetFlagByName returns one flag by name.
func (s *Service) GetFlagByName(ctx context.Context, actor Actor, name string) (store.Flag, error) {
	if err := actor.authorize("get"); err != nil {
		return store.Flag{}, err
	}
	return s.registry.GetByName(ctx, name)
}

// CreateFlag creates a flag. The actor is recorded as its creator unless the draft names one.
// The flag is visible to evaluations on this instance once CreateFlag returns.
func (s *Service) CreateFlag(ctx context.Context, actor Actor, d registry.Draft) (store.Flag, error) {
	if err := actor.authorize("create"); err != nil {
		return store.Flag{}, err
	}
	if d.CreatedBy == "" {
		d.CreatedBy = actor.ID
	}
	return s.registry.Create(ctx, d)
}

// UpdateFlag applies a partial update.
func (s *Service) UpdateFlag(ctx context.Context, actor Actor, id string, p registry.Patch) (store.Flag, error) {
	if err := actor.authorize("update"); err != nil {
		return store.Flag{}, err
	}
	return s.registry.Update(ctx, id, p)
}

// ToggleFlag flips the master switch.
func (s *Service) ToggleFlag(ctx context.Context, actor Actor, id string, enabled bool) (store.Flag, error) {
	if err := actor.authorize("toggle"); err != nil {
		return store.Flag{}, err
	}
	return s.registry.Toggle(ctx, id, enabled)
}

// DeleteFlag removes a flag permanently.
func (s *Service) DeleteFlag(ctx context.Context, actor Actor, id string) error {
	if err := actor.authorize("delete"); err != nil {
		return err
	}
	return s.registry.Delete(ctx, id)
}
