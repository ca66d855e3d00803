package models

import (
	"strconv"
	"strings"
	"time"
)

// SupportedTimestampFormats lists formats we attempt to parse when a
// timestamp is not given as unix milliseconds
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.UnixDate,
}

// kindAliases maps lower-cased spellings seen from devices to canonical kinds
var kindAliases = map[string]Kind{
	"heartrate":        KindHeartRate,
	"heart_rate":       KindHeartRate,
	"hr":               KindHeartRate,
	"systolic":         KindSystolic,
	"diastolic":        KindDiastolic,
	"saturation":       KindSaturation,
	"oxygensaturation": KindSaturation,
	"spo2":             KindSaturation,
	"ecg":              KindECG,
	"alert":            KindAlert,
}

// ParseKind resolves a kind name case-insensitively
func ParseKind(s string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", ErrInvalidKind
	}
	return k, nil
}

// Normalize returns a copy of the reading with a trimmed patient ID and a
// canonical kind spelling. Unknown kinds are left as-is for Validate to reject.
func (r Reading) Normalize() Reading {
	r.PatientID = strings.TrimSpace(r.PatientID)
	if k, err := ParseKind(string(r.Kind)); err == nil {
		r.Kind = k
	}
	return r
}

// ParseTimestamp accepts unix milliseconds or any of SupportedTimestampFormats
// and returns unix milliseconds
func ParseTimestamp(ts string) (int64, error) {
	ts = strings.TrimSpace(ts)

	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return ms, nil
	}

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC().UnixMilli(), nil
		}
	}

	return 0, ErrInvalidTimestamp
}
