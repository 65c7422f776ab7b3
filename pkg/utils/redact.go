package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// RedactedValue replaces credential-shaped log values.
const RedactedValue = "[REDACTED]"

var (
	secretKeyFragments = []string{
		"api_key", "apikey", "token", "secret", "password", "passwd",
		"authorization", "credential", "service_key", "signature",
	}
	dsnKeyFragments = []string{"dsn", "connection", "database_url", "url"}

	// key=value DSN form, e.g. "host=db password=hunter2"
	kvPasswordPattern = regexp.MustCompile(`(?i)(password=)([^\s]+)`)
	// user:password@tcp(...) mysql form
	mysqlPasswordPattern = regexp.MustCompile(`^([^:/@]+):([^@]*)@`)
)

// RedactionHook scrubs credential-shaped fields from every entry before it
// reaches a formatter.
type RedactionHook struct{}

// NewRedactionHook creates a redaction hook
func NewRedactionHook() *RedactionHook {
	return &RedactionHook{}
}

// Levels returns all levels; redaction applies everywhere.
func (h *RedactionHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire redacts entry fields in place. logrus hands hooks a duplicated entry,
// so the caller's field map is untouched.
func (h *RedactionHook) Fire(entry *logrus.Entry) error {
	for key, value := range entry.Data {
		entry.Data[key] = RedactField(key, value)
	}
	return nil
}

// RedactField returns the value to log for key.
func RedactField(key string, value interface{}) interface{} {
	lower := strings.ToLower(key)

	for _, fragment := range secretKeyFragments {
		if strings.Contains(lower, fragment) {
			if isEmpty(value) {
				return value
			}
			return RedactedValue
		}
	}

	for _, fragment := range dsnKeyFragments {
		if strings.Contains(lower, fragment) {
			if s, ok := value.(string); ok {
				return RedactDSN(s)
			}
			return value
		}
	}

	switch v := value.(type) {
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = fmt.Sprint(RedactField(k, val))
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = RedactField(k, val)
		}
		return out
	}

	return value
}

// RedactDSN masks the password inside a database connection string.
func RedactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}

	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err == nil && u.User != nil {
			if _, has := u.User.Password(); has {
				u.User = url.UserPassword(u.User.Username(), "xxxxx")
			}
			return u.String()
		}
	}

	if kvPasswordPattern.MatchString(dsn) {
		return kvPasswordPattern.ReplaceAllString(dsn, "${1}xxxxx")
	}

	return mysqlPasswordPattern.ReplaceAllString(dsn, "${1}:xxxxx@")
}

func isEmpty(value interface{}) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return s == ""
	}
	return false
}
