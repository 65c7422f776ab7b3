// Package export moves the service mirror in and out of CSV for portal
// reporting.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/smartdevs17/orquest-service-sync/internal/models"
)

// WriteServicesCSV writes services with a header row. Null columns are
// written as empty cells.
func WriteServicesCSV(w io.Writer, services []*models.Service) error {
	writer := csv.NewWriter(w)
	encoder := csvutil.NewEncoder(writer)

	if len(services) == 0 {
		// Header only
		if err := encoder.EncodeHeader(models.Service{}); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}

	for _, service := range services {
		if err := encoder.Encode(service); err != nil {
			return fmt.Errorf("failed to encode service %s: %w", service.ID, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// ReadServicesCSV parses a CSV written by WriteServicesCSV. The header
// must use the same column names.
func ReadServicesCSV(r io.Reader) ([]*models.Service, error) {
	decoder, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV decoder for services: %w", err)
	}

	var rows []models.Service
	if err := decoder.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode services CSV: %w", err)
	}

	services := make([]*models.Service, 0, len(rows))
	for i := range rows {
		if rows[i].ID == "" {
			return nil, fmt.Errorf("services CSV row %d has no id", i+2)
		}
		services = append(services, &rows[i])
	}
	return services, nil
}
