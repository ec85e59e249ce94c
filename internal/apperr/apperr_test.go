package apperr_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"

	"github.com/Afrawles/activityreport/internal/apperr"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"nil", nil, ""},
		{"auth", goerr.New("rejected", goerr.T(apperr.TagAuthentication)), apperr.KindAuthentication},
		{"wrapped network", goerr.Wrap(goerr.New("dial", goerr.T(apperr.TagNetwork)), "fetch projects"), apperr.KindNetwork},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), apperr.KindNetwork},
		{"plain", fmt.Errorf("boom"), apperr.KindUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, apperr.KindOf(tc.err))
		})
	}
}

func TestUserMessageHidesTransportDetails(t *testing.T) {
	err := goerr.New("Get \"https://secret.example.com\": dial tcp: lookup failed", goerr.T(apperr.TagNetwork))

	msg := apperr.UserMessage(err)
	assert.NotContains(t, msg, "secret.example.com")
	assert.Contains(t, msg, "could not be reached")
}

func TestUserMessageValidationKeepsReason(t *testing.T) {
	err := goerr.New("invalid email address", goerr.T(apperr.TagValidation))
	assert.Contains(t, apperr.UserMessage(err), "invalid email address")
}
