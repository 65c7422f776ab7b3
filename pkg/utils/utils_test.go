package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactField(t *testing.T) {
	tests := []struct {
		key      string
		value    interface{}
		expected interface{}
	}{
		{"api_key", "sk-live-123", RedactedValue},
		{"Authorization", "Bearer abc", RedactedValue},
		{"webhook_secret", "s3cr3t", RedactedValue},
		{"db_credential", "service-role-key", RedactedValue},
		{"api_key", "", ""},
		{"service_id", "42", "42"},
		{"connection_string", "postgres://app:hunter2@db:5432/mirror", "postgres://app:xxxxx@db:5432/mirror"},
		{"dsn", "host=db user=app password=hunter2 dbname=mirror", "host=db user=app password=xxxxx dbname=mirror"},
		{"dsn", "app:hunter2@tcp(db:3306)/mirror", "app:xxxxx@tcp(db:3306)/mirror"},
		{"base_url", "https://api.example.com/v1", "https://api.example.com/v1"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s=%v", tt.key, tt.value), func(t *testing.T) {
			assert.Equal(t, tt.expected, RedactField(tt.key, tt.value))
		})
	}
}

func TestRedactFieldNestedMap(t *testing.T) {
	headers := map[string]string{"Authorization": "Bearer abc", "Accept": "application/json"}

	redacted, ok := RedactField("headers", headers).(map[string]string)
	require.True(t, ok)
	assert.Equal(t, RedactedValue, redacted["Authorization"])
	assert.Equal(t, "application/json", redacted["Accept"])
	assert.Equal(t, "Bearer abc", headers["Authorization"])
}

func TestRedactionHookOnLogger(t *testing.T) {
	logger, err := NewLogger("debug", "json", "stdout", "")
	require.NoError(t, err)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	hook := test.NewLocal(logger)

	logger.WithFields(logrus.Fields{
		"api_key":    "sk-live-123",
		"service_id": "7",
	}).Info("calling provider")

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, RedactedValue, entry.Data["api_key"])
	assert.Equal(t, "7", entry.Data["service_id"])
	assert.NotContains(t, buf.String(), "sk-live-123")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "calling provider", line["msg"])
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger("loud", "json", "stdout", "")
	assert.Error(t, err)
}

func TestAppError(t *testing.T) {
	err := NewAppError(ErrCodeValidation, "Invalid request body", "unexpected EOF")
	assert.Equal(t, "VALIDATION_ERROR: Invalid request body (unexpected EOF)", err.Error())
	assert.NotEmpty(t, err.File)
	assert.Positive(t, err.Line)

	plain := NewAppError(ErrCodeNotFound, "Service not found")
	assert.Equal(t, "NOT_FOUND: Service not found", plain.Error())
}

func TestWrapAppErrorAndHasCode(t *testing.T) {
	cause := errors.New("connection refused")
	dbErr := WrapAppError(ErrCodeDatabase, "Failed to upsert service", cause)
	outer := WrapAppError(ErrCodeUpstream, "Sync failed", dbErr)
	wrapped := fmt.Errorf("run: %w", outer)

	assert.True(t, errors.Is(wrapped, cause))
	assert.True(t, HasCode(wrapped, ErrCodeUpstream))
	assert.True(t, HasCode(wrapped, ErrCodeDatabase))
	assert.False(t, HasCode(wrapped, ErrCodeValidation))
	assert.False(t, HasCode(cause, ErrCodeDatabase))
	assert.False(t, HasCode(nil, ErrCodeDatabase))
	assert.Equal(t, "connection refused", dbErr.Details)
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	assert.NotEqual(t, a, b)
	assert.True(t, IsValidID(a))
	assert.False(t, IsValidID("not-an-id"))
}
