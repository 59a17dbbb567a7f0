package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Record is one attendance day for a student. Exactly one record exists per
// (student, course, calendar day); repeated scans update it in place.
type Record struct {
	StudentID     string        `json:"student_id"`
	CourseID      string        `json:"course_id,omitempty"` // empty = general attendance
	Day           time.Time     `json:"day"`
	Timestamp     time.Time     `json:"timestamp"`
	Status        Status        `json:"status"`
	Type          Type          `json:"attendance_type"`
	DigitalMethod DigitalMethod `json:"digital_method,omitempty"`
	MarkedBy      string        `json:"marked_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Store persists attendance records keyed by (student, course, day). The
// store serializes concurrent upserts on the same key; a unique index backs
// the Postgres implementation.
type Store interface {
	Get(ctx context.Context, studentID, courseID string, day time.Time) (*Record, error)
	Upsert(ctx context.Context, rec Record) (Record, bool, error)
	List(ctx context.Context, f Filter) ([]Record, error)
}

// CardResolver maps a scanned card to its student.
type CardResolver interface {
	ResolveCard(ctx context.Context, cardID string) (string, error)
}

// Filter scopes attendance listings.
type Filter struct {
	StudentID string
	CourseID  string
	From      time.Time
	To        time.Time
	Status    Status
	Limit     int
	Offset    int
}

// Scan is one scan or manual-entry event arriving from a device or the
// marking UI.
type Scan struct {
	StudentID     string        `json:"student_id"`
	CardID        string        `json:"card_id"`
	CourseID      string        `json:"course_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Type          Type          `json:"attendance_type"`
	DigitalMethod DigitalMethod `json:"digital_method"`
	MarkedBy      string        `json:"marked_by"`
	// Explicit carries a human-chosen status for manual entries. When set
	// to a terminal status it wins over threshold derivation.
	Explicit Status `json:"status"`
}

// ErrUnknownCard is returned when a scanned card has no registered student.
var ErrUnknownCard = errors.New("card not registered")

// Service applies the daily attendance state machine on top of a Store.
type Service struct {
	store    Store
	cards    CardResolver
	lateHour int
}

// NewService creates a service. lateHour is the inclusive present/late
// threshold; events in that hour still count as present.
func NewService(store Store, cards CardResolver, lateHour int) *Service {
	if lateHour <= 0 || lateHour > 23 {
		lateHour = 9
	}
	return &Service{store: store, cards: cards, lateHour: lateHour}
}

// RecordScan resolves the student, derives a status, and upserts the day's
// record. A terminal status already on the record wins: the scan becomes a
// no-op and the stored record is returned unchanged. The returned bool
// reports whether an existing record was updated.
func (s *Service) RecordScan(ctx context.Context, scan Scan) (Record, bool, error) {
	studentID := scan.StudentID
	if studentID == "" {
		if scan.CardID == "" {
			return Record{}, false, errors.New("student or card required")
		}
		if s.cards == nil {
			return Record{}, false, ErrUnknownCard
		}
		resolved, err := s.cards.ResolveCard(ctx, scan.CardID)
		if err != nil {
			return Record{}, false, err
		}
		if resolved == "" {
			return Record{}, false, ErrUnknownCard
		}
		studentID = resolved
	}

	if scan.Timestamp.IsZero() {
		scan.Timestamp = time.Now().UTC()
	}
	if scan.Explicit != "" && !scan.Explicit.Valid() {
		return Record{}, false, fmt.Errorf("unknown status %q", scan.Explicit)
	}
	day := DayOf(scan.Timestamp)

	// Scans never override a human-chosen terminal status for the day.
	if !scan.Explicit.Terminal() {
		existing, err := s.store.Get(ctx, studentID, scan.CourseID, day)
		if err != nil {
			return Record{}, false, err
		}
		if existing != nil && existing.Status.Terminal() {
			return *existing, false, nil
		}
	}

	rec := Record{
		StudentID:     studentID,
		CourseID:      scan.CourseID,
		Day:           day,
		Timestamp:     scan.Timestamp,
		Status:        DeriveStatus(scan.Timestamp, s.lateHour, scan.Explicit),
		Type:          scan.Type,
		DigitalMethod: scan.DigitalMethod,
		MarkedBy:      scan.MarkedBy,
	}
	if rec.Type == "" {
		rec.Type = TypeDigital
	}
	if rec.Type != TypeDigital {
		rec.DigitalMethod = ""
	}
	return s.store.Upsert(ctx, rec)
}

// MarkManual applies a bulk manual-marking action. Every mark carries an
// explicit status; invalid entries abort before any write so a bad sheet
// does not half-apply.
func (s *Service) MarkManual(ctx context.Context, marks []Scan) (int, error) {
	for i, m := range marks {
		if m.StudentID == "" {
			return 0, fmt.Errorf("mark %d: student required", i)
		}
		if !m.Explicit.Valid() {
			return 0, fmt.Errorf("mark %d: unknown status %q", i, m.Explicit)
		}
	}
	applied := 0
	for _, m := range marks {
		m.Type = TypeManual
		m.DigitalMethod = ""
		if _, _, err := s.RecordScan(ctx, m); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// List proxies filtered listing to the store.
func (s *Service) List(ctx context.Context, f Filter) ([]Record, error) {
	return s.store.List(ctx, f)
}
