package attendance

import (
	"context"
	"errors"
	"testing"
	"time"
)

// memStore implements Store in memory for service tests, with the same
// one-record-per-key semantics as the Postgres repository.
type memStore struct {
	records map[string]Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func key(studentID, courseID string, day time.Time) string {
	return studentID + "|" + courseID + "|" + day.Format("2006-01-02")
}

func (m *memStore) Get(_ context.Context, studentID, courseID string, day time.Time) (*Record, error) {
	rec, ok := m.records[key(studentID, courseID, DayOf(day))]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memStore) Upsert(_ context.Context, rec Record) (Record, bool, error) {
	k := key(rec.StudentID, rec.CourseID, rec.Day)
	prev, existed := m.records[k]
	if existed {
		rec.CreatedAt = prev.CreatedAt
	} else {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records[k] = rec
	return rec, existed, nil
}

func (m *memStore) List(_ context.Context, f Filter) ([]Record, error) {
	var out []Record
	for _, rec := range m.records {
		if f.StudentID != "" && rec.StudentID != f.StudentID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

type cardMap map[string]string

func (c cardMap) ResolveCard(_ context.Context, cardID string) (string, error) {
	return c[cardID], nil
}

func TestRecordScanUpsertSameDay(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 9)
	ctx := context.Background()

	first, isUpdate, err := svc.RecordScan(ctx, Scan{StudentID: "S1", Timestamp: at(8, 0), DigitalMethod: MethodCardScan})
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if isUpdate {
		t.Error("first scan reported as update")
	}
	if first.Status != StatusPresent {
		t.Errorf("first status = %s, want present", first.Status)
	}

	second, isUpdate, err := svc.RecordScan(ctx, Scan{StudentID: "S1", Timestamp: at(10, 30), DigitalMethod: MethodCardScan})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if !isUpdate {
		t.Error("second scan on same day not reported as update")
	}
	if second.Status != StatusLate {
		t.Errorf("second status = %s, want late", second.Status)
	}
	if len(store.records) != 1 {
		t.Fatalf("records = %d, want exactly 1 per natural key", len(store.records))
	}
}

func TestRecordScanSeparateKeys(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 9)
	ctx := context.Background()

	scans := []Scan{
		{StudentID: "S1", Timestamp: at(8, 0)},                  // general
		{StudentID: "S1", CourseID: "C1", Timestamp: at(8, 5)},  // per-course
		{StudentID: "S2", Timestamp: at(8, 10)},                 // other student
		{StudentID: "S1", Timestamp: at(8, 0).AddDate(0, 0, 1)}, // next day resets
	}
	for _, sc := range scans {
		if _, _, err := svc.RecordScan(ctx, sc); err != nil {
			t.Fatal(err)
		}
	}
	if len(store.records) != 4 {
		t.Fatalf("records = %d, want 4 distinct natural keys", len(store.records))
	}
}

func TestRecordScanTerminalStatusBlocksScans(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 9)
	ctx := context.Background()

	if _, err := svc.MarkManual(ctx, []Scan{{StudentID: "S1", Timestamp: at(7, 0), Explicit: StatusLeave, MarkedBy: "admin"}}); err != nil {
		t.Fatal(err)
	}

	rec, isUpdate, err := svc.RecordScan(ctx, Scan{StudentID: "S1", Timestamp: at(8, 0), DigitalMethod: MethodCardScan})
	if err != nil {
		t.Fatal(err)
	}
	if isUpdate {
		t.Error("blocked scan reported as update")
	}
	if rec.Status != StatusLeave {
		t.Errorf("status = %s, terminal leave must survive a scan", rec.Status)
	}

	// A later manual override may still change the day.
	if _, err := svc.MarkManual(ctx, []Scan{{StudentID: "S1", Timestamp: at(12, 0), Explicit: StatusExcused}}); err != nil {
		t.Fatal(err)
	}
	stored, _ := store.Get(ctx, "S1", "", at(12, 0))
	if stored.Status != StatusExcused {
		t.Errorf("status = %s, manual override should apply", stored.Status)
	}
}

func TestRecordScanResolvesCard(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, cardMap{"CARD-7": "S9"}, 9)
	ctx := context.Background()

	rec, _, err := svc.RecordScan(ctx, Scan{CardID: "CARD-7", Timestamp: at(8, 0), DigitalMethod: MethodCardScan})
	if err != nil {
		t.Fatal(err)
	}
	if rec.StudentID != "S9" {
		t.Errorf("student = %s, want S9", rec.StudentID)
	}

	if _, _, err := svc.RecordScan(ctx, Scan{CardID: "CARD-MISSING", Timestamp: at(8, 0)}); !errors.Is(err, ErrUnknownCard) {
		t.Errorf("err = %v, want ErrUnknownCard", err)
	}
}

func TestRecordScanDefaultsDigitalType(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 9)

	rec, _, err := svc.RecordScan(context.Background(), Scan{StudentID: "S1", Timestamp: at(8, 0), DigitalMethod: MethodFaceScan})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Type != TypeDigital || rec.DigitalMethod != MethodFaceScan {
		t.Errorf("type/method = %s/%s, want digital/face_scan", rec.Type, rec.DigitalMethod)
	}
}

func TestMarkManualValidatesBeforeWriting(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 9)

	_, err := svc.MarkManual(context.Background(), []Scan{
		{StudentID: "S1", Timestamp: at(9, 0), Explicit: StatusPresent},
		{StudentID: "S2", Timestamp: at(9, 0), Explicit: Status("nope")},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(store.records) != 0 {
		t.Fatalf("records = %d, invalid batch must not half-apply", len(store.records))
	}
}

func TestMarkManualStripsDigitalMethod(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 9)

	if _, err := svc.MarkManual(context.Background(), []Scan{
		{StudentID: "S1", Timestamp: at(9, 0), Explicit: StatusAbsent, DigitalMethod: MethodFaceScan},
	}); err != nil {
		t.Fatal(err)
	}
	rec, _ := store.Get(context.Background(), "S1", "", at(9, 0))
	if rec.Type != TypeManual || rec.DigitalMethod != "" {
		t.Errorf("type/method = %s/%q, want manual with no digital method", rec.Type, rec.DigitalMethod)
	}
}
