package market

import "time"

// Session windows in UTC hours, half-open [start, end). The Asian window
// wraps midnight. These are coarse approximations; DST shifts are ignored.
var sessionHours = map[Session][2]int{
	SessionAsian:   {22, 8},
	SessionLondon:  {7, 16},
	SessionNewYork: {12, 21},
}

// InSession reports whether t falls inside the named session window.
// SessionAny always matches.
func InSession(s Session, t time.Time) bool {
	if s == SessionAny || s == "" {
		return true
	}
	window, ok := sessionHours[s]
	if !ok {
		return true
	}
	h := t.UTC().Hour()
	start, end := window[0], window[1]
	if start <= end {
		return h >= start && h < end
	}
	// wraps midnight
	return h >= start || h < end
}
