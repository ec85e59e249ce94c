// Package registry maps application users to their TestRail and Jira
// identifiers. Users are persisted in the settings store.
package registry

import (
	"context"
	"sort"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/report"
	"github.com/Afrawles/activityreport/internal/settings"
)

var ErrUserNotFound = goerr.New("user not found", goerr.T(apperr.TagValidation))

type Registry struct {
	store settings.Store
}

func New(store settings.Store) *Registry {
	return &Registry{store: store}
}

// List returns all registered users sorted by id.
func (r *Registry) List(ctx context.Context) ([]report.User, error) {
	var users []report.User
	if _, err := r.store.Get(ctx, settings.KeyUsers, &users); err != nil {
		return nil, goerr.Wrap(err, "failed to load user registry")
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *Registry) Get(ctx context.Context, id string) (report.User, error) {
	users, err := r.List(ctx)
	if err != nil {
		return report.User{}, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return report.User{}, goerr.Wrap(ErrUserNotFound, "lookup", goerr.V("id", id))
}

// Upsert validates u and inserts or replaces the user with the same id.
func (r *Registry) Upsert(ctx context.Context, u report.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	users, err := r.List(ctx)
	if err != nil {
		return err
	}

	replaced := false
	for i := range users {
		if users[i].ID == u.ID {
			users[i] = u
			replaced = true
			break
		}
	}
	if !replaced {
		users = append(users, u)
	}
	return r.save(ctx, users)
}

func (r *Registry) Remove(ctx context.Context, id string) error {
	users, err := r.List(ctx)
	if err != nil {
		return err
	}
	kept := users[:0]
	for _, u := range users {
		if u.ID != id {
			kept = append(kept, u)
		}
	}
	if len(kept) == len(users) {
		return goerr.Wrap(ErrUserNotFound, "remove", goerr.V("id", id))
	}
	return r.save(ctx, kept)
}

// Select returns the users with the given ids in the requested order. An
// empty ids list selects every registered user.
func (r *Registry) Select(ctx context.Context, ids []string) ([]report.User, error) {
	users, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return users, nil
	}

	byID := make(map[string]report.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	selected := make([]report.User, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		u, ok := byID[id]
		if !ok {
			return nil, goerr.Wrap(ErrUserNotFound, "select", goerr.V("id", id))
		}
		seen[id] = true
		selected = append(selected, u)
	}
	return selected, nil
}

func (r *Registry) save(ctx context.Context, users []report.User) error {
	if err := r.store.Set(ctx, settings.KeyUsers, users); err != nil {
		return goerr.Wrap(err, "failed to save user registry")
	}
	return nil
}
