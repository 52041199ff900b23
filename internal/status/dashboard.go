package status

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

const updatedPrefix = "Updated: "

// RenderDashboard renders snap as the Dashboard.md page.
func RenderDashboard(snap *Snapshot) []byte {
	var b bytes.Buffer
	b.WriteString("# Dashboard\n\n")
	fmt.Fprintf(&b, "%s%s\n\n", updatedPrefix, snap.TakenAt.Format(time.DateTime))

	b.WriteString("## Items\n\n| State | Count |\n|---|---|\n")
	for _, c := range snap.Partitions {
		fmt.Fprintf(&b, "| %s | %d |\n", c.Partition, c.Count)
	}

	fmt.Fprintf(&b, "\n## Watchers\n\nRunning: %d/%d\n", snap.WatchersRunning, len(snap.Watchers))
	if len(snap.Watchers) > 0 {
		b.WriteString("\n| Watcher | State | PID | Restarts | Last exit |\n|---|---|---|---|---|\n")
		for _, w := range snap.Watchers {
			pid, exit := "-", "-"
			if w.PID != 0 {
				pid = fmt.Sprint(w.PID)
			}
			if w.LastExitCode != nil {
				exit = fmt.Sprint(*w.LastExitCode)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %s |\n", w.Name, w.State, pid, w.Restarts, exit)
		}
	}

	b.WriteString("\n## Last Activity\n\n")
	if snap.LastActivity.IsZero() {
		b.WriteString("No items yet.\n")
	} else {
		fmt.Fprintf(&b, "%s\n", snap.LastActivity.Format(time.DateTime))
	}
	return b.Bytes()
}

// dashboardContent drops the Updated line so two renders of the same state
// compare equal.
func dashboardContent(page []byte) string {
	lines := strings.Split(string(page), "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(l, updatedPrefix) {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
