package schedule

import "time"

// Window is a half-open span [Start, End) of one day.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Starts walks the window from Start in steps of width+gap and returns every start whose
// slot of length width still ends within the window. A trailing partial slot is dropped.
func (w Window) Starts(width, gap time.Duration) []TimeOfDay {
	if width < time.Minute || w.End <= w.Start {
		return nil
	}
	if gap < 0 {
		gap = 0
	}
	step := width + gap
	var out []TimeOfDay
	for t := w.Start; t.Add(width) <= w.End; t = t.Add(step) {
		out = append(out, t)
	}
	return out
}

// Overlaps reports whether [start, end) intersects w.
func (w Window) Overlaps(start, end TimeOfDay) bool {
	return start < w.End && w.Start < end
}
