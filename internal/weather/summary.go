package weather

import (
	"fmt"
	"strings"
)

// Summary renders the snapshot as the three-part reply handed back to the
// agent: current conditions, today's intervals, and the five-day forecast,
// separated by blank lines.
func (s *Snapshot) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current weather in %s: %s, Temperature: %g°C",
		s.City, s.Current.Description, s.Current.Temp)

	b.WriteString("\n\nToday's Weather by Time:")
	for _, p := range s.Today {
		fmt.Fprintf(&b, "\n%s: %s, %g°C", p.Time, p.Description, p.Temp)
	}

	b.WriteString("\n\n5-day forecast:")
	for _, d := range s.FiveDay {
		fmt.Fprintf(&b, "\n%s: High %g°C, Low %g°C, Weather: %s",
			d.Date, d.High, d.Low, d.Description)
	}

	return b.String()
}
