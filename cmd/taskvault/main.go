package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
)

var (
	app = kingpin.New("taskvault", "File-based task lifecycle engine with human approval and watcher supervision")

	runCmd = app.Command("run", "Run the scheduler, approval router, watcher supervisor and status loop")

	// Watcher commands, normally launched by the supervisor
	watchCmd      = app.Command("watch", "Run a single watcher")
	watchInboxCmd = watchCmd.Command("inbox", "Move files dropped into Inbox/ to Needs_Action/")
	watchPollCmd  = watchCmd.Command("poll", "Run a configured poller")
	watchPollName = watchPollCmd.Arg("name", "Poller name").Required().String()

	// Approval commands
	draftCmd          = app.Command("draft", "Stage an outbound action for approval")
	draftEmailCmd     = draftCmd.Command("email", "Draft an email")
	draftEmailTo      = draftEmailCmd.Flag("to", "Recipient").Required().String()
	draftEmailSubject = draftEmailCmd.Flag("subject", "Subject").Required().String()
	draftEmailBody    = draftEmailCmd.Flag("body", "Body text").Required().String()
	draftEmailCc      = draftEmailCmd.Flag("cc", "Carbon copy recipients").String()
	draftEmailBcc     = draftEmailCmd.Flag("bcc", "Blind carbon copy recipients").String()
	draftPostCmd      = draftCmd.Command("post", "Draft a social post")
	draftPostContent  = draftPostCmd.Flag("content", "Post content").Required().String()

	approveCmd  = app.Command("approve", "Move a pending item to Approved")
	approveFile = approveCmd.Arg("file", "Item file name in Pending_Approval").Required().String()
	approveYes  = approveCmd.Flag("yes", "Skip the confirmation prompt").Short('y').Bool()

	rejectCmd  = app.Command("reject", "Move a pending item to Rejected")
	rejectFile = rejectCmd.Arg("file", "Item file name in Pending_Approval").Required().String()

	listCmd       = app.Command("list", "List the items of a partition")
	listPartition = listCmd.Arg("partition", "Partition name").Default("Pending_Approval").String()
	listPattern   = listCmd.Flag("pattern", "Glob pattern on file names").String()

	statusCmd  = app.Command("status", "Print item counts per partition")
	statusJSON = statusCmd.Flag("json", "Print the snapshot as JSON").Bool()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case runCmd.FullCommand():
		err = handleRun(ctx)
	case watchInboxCmd.FullCommand():
		err = handleWatchInbox(ctx)
	case watchPollCmd.FullCommand():
		err = handleWatchPoll(ctx, *watchPollName)
	case draftEmailCmd.FullCommand():
		err = handleDraftEmail(ctx, emailDraft{
			to:      *draftEmailTo,
			subject: *draftEmailSubject,
			body:    *draftEmailBody,
			cc:      *draftEmailCc,
			bcc:     *draftEmailBcc,
		})
	case draftPostCmd.FullCommand():
		err = handleDraftPost(ctx, *draftPostContent)
	case approveCmd.FullCommand():
		err = handleApprove(ctx, *approveFile, *approveYes)
	case rejectCmd.FullCommand():
		err = handleReject(ctx, *rejectFile)
	case listCmd.FullCommand():
		err = handleList(ctx, *listPartition, *listPattern)
	case statusCmd.FullCommand():
		err = handleStatus(ctx, *statusJSON)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
