package processor

import (
	"testing"

	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event_type":"service_deleted","service_id":"1"}`)
	secret := "whsec_test"

	assert.NoError(t, VerifySignature(secret, body, Sign(secret, body)))
	assert.NoError(t, VerifySignature("", body, ""), "empty secret disables the check")

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "sha1=abcdef"},
		{"not hex", "sha256=zzzz"},
		{"wrong secret", Sign("other", body)},
		{"tampered body", Sign(secret, []byte(`{"event_type":"service_deleted","service_id":"2"}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(secret, body, tt.header)
			require.Error(t, err)
			assert.True(t, utils.HasCode(err, utils.ErrCodeUnauthorized))
		})
	}
}

func TestSignFormat(t *testing.T) {
	sig := Sign("key", []byte("The quick brown fox jumps over the lazy dog"))
	assert.Equal(t, "sha256=f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", sig)
}
