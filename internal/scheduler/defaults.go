package scheduler

import (
	"time"

	"github.com/kazz187/taskvault/internal/record"
)

const dashboardInstructions = `Update the Dashboard.md file with current system status.

Include:
- System status (orchestrator, watchers)
- Active watcher count
- Tasks pending in Needs_Action/
- Items in Pending_Approval/ ({{.PendingApprovals}} right now)
- Recent activity summary
- Quick action items

Use {{.Time}} for the "Last Updated" field.`

const dailyBriefingInstructions = `Generate a comprehensive daily briefing for {{.Date}}.

1. **Tasks Completed Yesterday**
   - Review Done/ for yesterday's date
   - Summarize key accomplishments
2. **Tasks Pending Today**
   - List items in Needs_Action/
   - Highlight high priority items
3. **System Health**
   - Check all watchers are running
   - Review Logs/ for errors and warnings
4. **Priorities for Today**
   - Identify the most urgent tasks and suggest an order
5. **Reminders**
   - {{.PendingApprovals}} item(s) waiting in Pending_Approval/

Format as a clear, actionable briefing.`

const weeklySummaryInstructions = `Generate a weekly summary for the week ending {{.Date}}.

1. **Week Overview**: tasks completed, messages sent and received, posts published
2. **Key Accomplishments**
3. **Statistics**: review Logs/ for the past 7 days, count activities by kind
4. **Issues and Challenges**: failures, watcher downtime, items left pending
5. **Next Week Planning**: carry-over tasks and upcoming priorities
6. **Recommendations**

Format as a comprehensive weekly report.`

const approvalReminderInstructions = `**REMINDER:** You have {{.PendingApprovals}} item(s) awaiting approval in Pending_Approval/.

1. **Review:** open each file in Pending_Approval/
2. **Decide:**
   - Approve: move it to Approved/
   - Reject: move it to Rejected/
   - Edit: change the content, then move it to Approved/
3. **Execute:** approved items are processed automatically

Please review within the next hour if possible.`

// Defaults is the built-in schedule used when no schedules are configured.
func Defaults() []Task {
	return []Task{
		{
			Name:         "dashboard_update",
			Kind:         record.KindScheduledTask,
			Trigger:      Every(4 * time.Hour),
			Instructions: dashboardInstructions,
			Output:       "Dashboard.md",
		},
		{
			Name:         "daily_briefing",
			Kind:         record.KindScheduledTask,
			Trigger:      DailyAt(8, 0),
			Instructions: dailyBriefingInstructions,
			Output:       "Plans/Daily_Briefing_{{.Date}}.md",
		},
		{
			Name:         "weekly_summary",
			Kind:         record.KindScheduledTask,
			Trigger:      WeeklyAt(time.Sunday, 20, 0),
			Instructions: weeklySummaryInstructions,
			Output:       "Plans/Weekly_Summary_{{.Date}}.md",
		},
		{
			Name:         "pending_approvals",
			Kind:         record.KindReminder,
			Trigger:      Every(30 * time.Minute),
			Instructions: approvalReminderInstructions,
			Priority:     "high",
			Condition:    ConditionPendingApprovals,
			RunAtStart:   true,
		},
	}
}
