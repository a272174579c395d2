package patient

import (
	"errors"
	"fmt"
	"strings"
)

// MaxFieldLength bounds, in bytes, each of the indexed fields: nombre,
// apellido and numeroHistoriaClinica.
const MaxFieldLength = 512

var (
	// ErrDuplicateMedicalRecordNumber is returned when a write would give two
	// records the same numeroHistoriaClinica.
	ErrDuplicateMedicalRecordNumber = errors.New("numeroHistoriaClinica already exists")

	// ErrIDRequired is returned by Update for a record that was never saved.
	ErrIDRequired = errors.New("patient id is required")
)

// ValidationError lists the required fields that were blank and the indexed
// fields that were too long.
type ValidationError struct {
	Fields  []string
	TooLong []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Fields) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Fields, ", "))
	}
	if len(e.TooLong) > 0 {
		parts = append(parts, fmt.Sprintf("fields longer than %d bytes: %s", MaxFieldLength, strings.Join(e.TooLong, ", ")))
	}
	return strings.Join(parts, "; ")
}

func validateRequired(p *Patient) error {
	verr := &ValidationError{}
	if strings.TrimSpace(p.FirstName) == "" {
		verr.Fields = append(verr.Fields, "nombre")
	}
	if strings.TrimSpace(p.LastName) == "" {
		verr.Fields = append(verr.Fields, "apellido")
	}
	if strings.TrimSpace(p.MedicalRecordNumber) == "" {
		verr.Fields = append(verr.Fields, "numeroHistoriaClinica")
	}
	verr.TooLong = tooLong(p)
	if len(verr.Fields) > 0 || len(verr.TooLong) > 0 {
		return verr
	}
	return nil
}

// validateIndexable rejects records whose indexed fields would not fit in a
// store key. The stores call it themselves since they may be used without the
// service.
func validateIndexable(p *Patient) error {
	if fields := tooLong(p); len(fields) > 0 {
		return &ValidationError{TooLong: fields}
	}
	return nil
}

func tooLong(p *Patient) []string {
	var fields []string
	if len(p.FirstName) > MaxFieldLength {
		fields = append(fields, "nombre")
	}
	if len(p.LastName) > MaxFieldLength {
		fields = append(fields, "apellido")
	}
	if len(p.MedicalRecordNumber) > MaxFieldLength {
		fields = append(fields, "numeroHistoriaClinica")
	}
	return fields
}
