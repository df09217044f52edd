package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorHelpers_Wrapped(t *testing.T) {
	auth := fmt.Errorf("push: %w", &AuthenticationError{Provider: ProviderOutlook, UserID: "u1", Reason: "expired"})
	assert.True(t, IsAuthenticationError(auth))
	assert.False(t, IsAuthenticationError(errors.New("other")))

	dup := fmt.Errorf("upsert: %w", &DuplicateEventError{ExistingID: 7, Title: "Standup", StartTime: time.Now()})
	assert.True(t, IsDuplicateEventError(dup))
	assert.ErrorIs(t, dup, ErrConflict)

	assert.ErrorIs(t, NewValidationError("title", "required"), ErrValidation)
}

func TestProviderConnection_Expired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, ProviderConnection{}.Expired(now))
	assert.True(t, ProviderConnection{ExpiresAt: &past}.Expired(now))
	assert.True(t, ProviderConnection{ExpiresAt: &now}.Expired(now))
	assert.False(t, ProviderConnection{ExpiresAt: &future}.Expired(now))
}

func TestProvider_IsValid(t *testing.T) {
	assert.True(t, ProviderGoogle.IsValid())
	assert.True(t, Provider("apple").IsValid())
	assert.False(t, Provider("yahoo").IsValid())
}
