package schema

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// The legacy schema stores "no value" as an all-zero date. MySQL hands those
// back as strings that neither parse nor compare sanely, so they are caught
// here, at the scan boundary, and never travel further into the program.

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// Date is a nullable calendar date that treats the legacy zero-date sentinel
// as absent.
type Date struct {
	Time  time.Time
	Valid bool
}

// NewDate returns a present Date.
func NewDate(t time.Time) Date {
	return Date{Time: t, Valid: true}
}

func (d *Date) Scan(src any) error {
	t, ok, err := scanLegacyTime(src, dateLayout)
	if err != nil {
		return fmt.Errorf("scan date: %w", err)
	}
	d.Time, d.Valid = t, ok
	return nil
}

func (d Date) Value() (driver.Value, error) {
	if !d.Valid {
		return nil, nil
	}
	return d.Time, nil
}

// Ptr is the representation handed to the target store: nil means "no value".
func (d Date) Ptr() *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}

// DateTime is the timestamp counterpart of Date.
type DateTime struct {
	Time  time.Time
	Valid bool
}

func NewDateTime(t time.Time) DateTime {
	return DateTime{Time: t, Valid: true}
}

func (d *DateTime) Scan(src any) error {
	t, ok, err := scanLegacyTime(src, dateTimeLayout)
	if err != nil {
		return fmt.Errorf("scan datetime: %w", err)
	}
	d.Time, d.Valid = t, ok
	return nil
}

func (d DateTime) Value() (driver.Value, error) {
	if !d.Valid {
		return nil, nil
	}
	return d.Time, nil
}

func (d DateTime) Ptr() *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}

func scanLegacyTime(src any, layout string) (time.Time, bool, error) {
	switch v := src.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false, nil
		}
		return v, true, nil
	case []byte:
		return parseLegacyTime(string(v), layout)
	case string:
		return parseLegacyTime(v, layout)
	default:
		return time.Time{}, false, fmt.Errorf("unsupported source type %T", src)
	}
}

func parseLegacyTime(s string, layout string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || IsZeroDate(s) {
		return time.Time{}, false, nil
	}
	// Date columns occasionally arrive with a time component and vice versa.
	for _, l := range []string{layout, dateTimeLayout, dateLayout} {
		if t, err := time.Parse(l, s); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unparseable value %q", s)
}

// IsZeroDate reports whether s is the legacy all-zero date sentinel, with or
// without a time component.
func IsZeroDate(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "0000-00-00")
}
