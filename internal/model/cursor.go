package model

import "time"

// Cursor marks how far a candidate's incremental scan has progressed.
// The zero value scans from the beginning.
type Cursor struct {
	set bool
	at  time.Time
}

// FromBeginning returns a cursor that does not skip any posting.
func FromBeginning() Cursor {
	return Cursor{}
}

// FromTimestamp returns a cursor that skips postings created strictly before t.
// A zero t is treated as FromBeginning.
func FromTimestamp(t time.Time) Cursor {
	if t.IsZero() {
		return Cursor{}
	}
	return Cursor{set: true, at: t.UTC()}
}

// CursorFromMillis decodes the persisted form, where 0 means "never run".
func CursorFromMillis(ms int64) Cursor {
	if ms <= 0 {
		return FromBeginning()
	}
	return FromTimestamp(time.UnixMilli(ms))
}

func (c Cursor) IsBeginning() bool { return !c.set }

// Time returns the watermark. It is the zero time for FromBeginning.
func (c Cursor) Time() time.Time { return c.at }

// Skips reports whether a posting created at createdAt falls into the already visited range.
func (c Cursor) Skips(createdAt time.Time) bool {
	if !c.set {
		return false
	}
	return createdAt.Before(c.at)
}

// UnixMilli returns the persisted form of the cursor.
func (c Cursor) UnixMilli() int64 {
	if !c.set {
		return 0
	}
	return c.at.UnixMilli()
}

func (c Cursor) String() string {
	if !c.set {
		return "beginning"
	}
	return c.at.Format(time.RFC3339)
}
