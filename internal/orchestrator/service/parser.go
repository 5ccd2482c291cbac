package service

import "strings"

// PlanDay holds the tagged fields recognized for one day of a plan.
type PlanDay struct {
	Label       string
	Focus       string
	Tasks       string
	Deliverable string
	Time        string
	Blockers    string
}

// PlanWeek groups days under one week heading.
type PlanWeek struct {
	Label string
	Days  []PlanDay
}

// parsePlan scans free-text provider output for the known markers and
// accumulates a Week -> Day -> fields structure. It is best-effort: lines
// that match no marker while inside a day are ignored, and malformed
// output yields a partial or empty result, never an error.
func parsePlan(raw string) []PlanWeek {
	var weeks []PlanWeek
	var week *PlanWeek
	var day *PlanDay

	flushDay := func() {
		if week != nil && day != nil {
			week.Days = append(week.Days, *day)
		}
		day = nil
	}
	flushWeek := func() {
		flushDay()
		if week != nil {
			weeks = append(weeks, *week)
		}
		week = nil
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "#*"))
		if line == "" {
			continue
		}

		switch {
		case hasMarker(line, "Week"):
			flushWeek()
			week = &PlanWeek{Label: strings.TrimSuffix(line, ":")}
		case hasMarker(line, "Day"):
			if week == nil {
				week = &PlanWeek{Label: "Week 1"}
			}
			flushDay()
			day = &PlanDay{Label: strings.TrimSuffix(line, ":")}
		case day == nil:
			// Field markers only mean something inside a day.
		case hasMarker(line, "Focus:"):
			day.Focus = markerValue(line, "Focus:")
		case hasMarker(line, "Tasks:"):
			day.Tasks = markerValue(line, "Tasks:")
		case hasMarker(line, "Deliverable:"):
			day.Deliverable = markerValue(line, "Deliverable:")
		case hasMarker(line, "Time:"):
			day.Time = markerValue(line, "Time:")
		case hasMarker(line, "Blockers:"):
			day.Blockers = markerValue(line, "Blockers:")
		}
	}
	flushWeek()

	return weeks
}

func hasMarker(line, marker string) bool {
	return strings.HasPrefix(strings.ToLower(line), strings.ToLower(marker))
}

func markerValue(line, marker string) string {
	return strings.TrimSpace(line[len(marker):])
}

// renderWeek flattens one parsed week back into display text for a
// document section.
func renderWeek(week PlanWeek) string {
	var b strings.Builder
	for _, d := range week.Days {
		b.WriteString(d.Label)
		b.WriteString("\n")
		writeField(&b, "Focus", d.Focus)
		writeField(&b, "Tasks", d.Tasks)
		writeField(&b, "Deliverable", d.Deliverable)
		writeField(&b, "Time", d.Time)
		writeField(&b, "Blockers", d.Blockers)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeField(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}
