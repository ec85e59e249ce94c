package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/registry"
	"github.com/Afrawles/activityreport/internal/report"
	"github.com/Afrawles/activityreport/internal/settings"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(settings.NewMemoryStore())

	alice := report.User{ID: "alice", Name: "Alice", Email: "alice@example.com", TestRailID: "7"}
	bob := report.User{ID: "bob", Name: "Bob", Email: "bob@example.com", JiraID: "5b10ac8d82e05b22cc7d4ef5"}

	require.NoError(t, reg.Upsert(ctx, bob))
	require.NoError(t, reg.Upsert(ctx, alice))

	users, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []report.User{alice, bob}, users)

	alice.JiraID = "abc"
	require.NoError(t, reg.Upsert(ctx, alice))
	got, err := reg.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.JiraID)

	selected, err := reg.Select(ctx, []string{"bob", "alice", "bob"})
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "bob", selected[0].ID)
	assert.Equal(t, "alice", selected[1].ID)

	_, err = reg.Select(ctx, []string{"carol"})
	assert.True(t, errors.Is(err, registry.ErrUserNotFound))

	require.NoError(t, reg.Remove(ctx, "bob"))
	err = reg.Remove(ctx, "bob")
	assert.True(t, apperr.Is(err, apperr.TagValidation))
}

func TestRegistryRejectsInvalidUsers(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(settings.NewMemoryStore())

	tests := []struct {
		name string
		user report.User
	}{
		{"missing id", report.User{Name: "A", Email: "a@example.com", TestRailID: "1"}},
		{"bad email", report.User{ID: "a", Name: "A", Email: "not-an-email", TestRailID: "1"}},
		{"no external id", report.User{ID: "a", Name: "A", Email: "a@example.com"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := reg.Upsert(ctx, tc.user)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}
