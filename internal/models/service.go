package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Service is the local mirror of an Orquest service (a physical location).
// The id is assigned by Orquest and is never generated locally.
type Service struct {
	ID         string          `json:"id" db:"id" csv:"id"`
	Name       *string         `json:"name,omitempty" db:"name" csv:"name"`
	Latitude   *float64        `json:"latitude,omitempty" db:"latitude" csv:"latitude"`
	Longitude  *float64        `json:"longitude,omitempty" db:"longitude" csv:"longitude"`
	Timezone   *string         `json:"timezone,omitempty" db:"timezone" csv:"timezone"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty" db:"raw_payload" csv:"-"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at" csv:"updated_at"`
}

// ServiceFilter for querying mirrored services
type ServiceFilter struct {
	Name   *string `json:"name,omitempty"` // case-insensitive substring
	Limit  int     `json:"limit,omitempty"`
	Offset int     `json:"offset,omitempty"`
}

// ProviderID is an identifier that Orquest may send as a JSON string or a
// JSON number. It is always kept in its decimal string form.
type ProviderID string

// UnmarshalJSON accepts "123", 123 and null
func (id *ProviderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ProviderID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid provider id %s: %w", string(data), err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ProviderID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ProviderID(n.String())
	return nil
}

// serviceFields is the subset of an Orquest service record modelled as columns
type serviceFields struct {
	ID        ProviderID   `json:"id"`
	Name      *string      `json:"name"`
	Latitude  *json.Number `json:"latitude"`
	Longitude *json.Number `json:"longitude"`
	Timezone  *string      `json:"timezone"`
}

// ServiceFromRecord builds a Service from one element of the provider's
// service listing. The record must carry an id.
func ServiceFromRecord(record json.RawMessage, updatedAt time.Time) (*Service, error) {
	fields, err := decodeServiceFields(record)
	if err != nil {
		return nil, err
	}
	if fields.ID == "" {
		return nil, fmt.Errorf("service record has no id")
	}
	return fields.toService(string(fields.ID), record, updatedAt)
}

// Columns a webhook patch can carry
const (
	ColumnName      = "name"
	ColumnLatitude  = "latitude"
	ColumnLongitude = "longitude"
	ColumnTimezone  = "timezone"
)

// ServicePatch is a service built from a webhook event. On an existing row
// only Fields, the merged raw payload and updated_at are written; a new row
// is inserted whole.
type ServicePatch struct {
	Service
	Fields []string
}

// Has reports whether column was supplied
func (p *ServicePatch) Has(column string) bool {
	for _, f := range p.Fields {
		if f == column {
			return true
		}
	}
	return false
}

// ServiceFromEvent builds a patch from a webhook data payload. The id comes
// from the event envelope; data may be empty, in which case only updated_at
// is written.
func ServiceFromEvent(serviceID string, data json.RawMessage, updatedAt time.Time) (*ServicePatch, error) {
	if strings.TrimSpace(serviceID) == "" {
		return nil, fmt.Errorf("service id is required")
	}
	fields, err := decodeServiceFields(data)
	if err != nil {
		return nil, err
	}
	svc, err := fields.toService(serviceID, data, updatedAt)
	if err != nil {
		return nil, err
	}

	patch := &ServicePatch{Service: *svc}
	if len(svc.RawPayload) > 0 {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(svc.RawPayload, &keys); err != nil {
			return nil, fmt.Errorf("invalid service payload: %w", err)
		}
		for _, column := range []string{ColumnName, ColumnLatitude, ColumnLongitude, ColumnTimezone} {
			if _, ok := keys[column]; ok {
				patch.Fields = append(patch.Fields, column)
			}
		}
	}
	return patch, nil
}

func decodeServiceFields(raw json.RawMessage) (*serviceFields, error) {
	var fields serviceFields
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &fields, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("service payload must be a JSON object")
	}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("invalid service payload: %w", err)
	}
	return &fields, nil
}

func (f *serviceFields) toService(id string, raw json.RawMessage, updatedAt time.Time) (*Service, error) {
	svc := &Service{
		ID:        id,
		Name:      f.Name,
		Timezone:  f.Timezone,
		UpdatedAt: updatedAt.UTC(),
	}

	var err error
	if svc.Latitude, err = numberToFloat(f.Latitude); err != nil {
		return nil, fmt.Errorf("invalid latitude: %w", err)
	}
	if svc.Longitude, err = numberToFloat(f.Longitude); err != nil {
		return nil, fmt.Errorf("invalid longitude: %w", err)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		svc.RawPayload = append(json.RawMessage(nil), trimmed...)
	}

	return svc, nil
}

func numberToFloat(n *json.Number) (*float64, error) {
	if n == nil || *n == "" {
		return nil, nil
	}
	v, err := n.Float64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// Float64Ptr returns a pointer to f
func Float64Ptr(f float64) *float64 {
	return &f
}
