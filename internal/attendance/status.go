package attendance

import "time"

// Status classifies one attendance day for a student.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
	StatusExcused Status = "excused"
	StatusLeave   Status = "leave"
	StatusHoliday Status = "holiday"
	StatusSunday  Status = "sunday"
)

// Valid returns true when the status is a supported value.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent, StatusExcused, StatusLeave, StatusHoliday, StatusSunday:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status was chosen by a human and must not be
// overwritten by scan-driven derivation for the rest of the day.
func (s Status) Terminal() bool {
	switch s {
	case StatusAbsent, StatusExcused, StatusLeave, StatusHoliday, StatusSunday:
		return true
	default:
		return false
	}
}

// Type distinguishes manual marking from device scans.
type Type string

const (
	TypeManual  Type = "manual"
	TypeDigital Type = "digital"
)

// DigitalMethod records which device produced a digital scan.
type DigitalMethod string

const (
	MethodCardScan        DigitalMethod = "card_scan"
	MethodFaceScan        DigitalMethod = "face_scan"
	MethodFingerprintScan DigitalMethod = "fingerprint_scan"
)

// DeriveStatus classifies a scan. An event at or before the late-threshold
// hour is present, after it is late; the threshold hour itself counts as
// present. An explicit terminal status bypasses derivation entirely.
func DeriveStatus(ts time.Time, lateThresholdHour int, explicit Status) Status {
	if explicit.Terminal() {
		return explicit
	}
	if ts.Hour() <= lateThresholdHour {
		return StatusPresent
	}
	return StatusLate
}

// DayOf truncates a timestamp to its calendar day, the third component of
// the natural key.
func DayOf(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
}
