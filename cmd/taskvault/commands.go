package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/kazz187/taskvault/internal/dedup"
	"github.com/kazz187/taskvault/internal/loop"
	"github.com/kazz187/taskvault/internal/orchestrator"
	"github.com/kazz187/taskvault/internal/record"
	"github.com/kazz187/taskvault/internal/status"
	"github.com/kazz187/taskvault/internal/vault"
	"github.com/kazz187/taskvault/internal/watcher"
	"github.com/kazz187/taskvault/pkg/cerr"
)

const previewLines = 20

func handleRun(ctx context.Context) error {
	rt, err := setup(ctx, "orchestrator")
	if err != nil {
		return err
	}
	defer rt.close()

	o, err := orchestrator.New(rt.env, rt.vault, rt.storage, rt.file)
	if err != nil {
		return err
	}
	slog.Info("taskvault started", "vault", rt.vault.Root())
	if err := o.Run(ctx); err != nil {
		return err
	}
	slog.Info("taskvault stopped")
	return nil
}

func handleWatchInbox(ctx context.Context) error {
	rt, err := setup(ctx, "inbox_watcher")
	if err != nil {
		return err
	}
	defer rt.close()

	store, err := dedup.Load(ctx, rt.storage, watcher.InboxStorePath)
	if err != nil {
		return err
	}
	slog.Info("inbox watcher started", "dir", filepath.Join(rt.vault.Root(), string(vault.Inbox)))
	watcher.NewInbox(rt.vault, store).Run(ctx, watcher.DefaultInboxInterval)
	return nil
}

func handleWatchPoll(ctx context.Context, name string) error {
	rt, err := setup(ctx, name+"_watcher")
	if err != nil {
		return err
	}
	defer rt.close()

	pc, err := rt.file.Poller(name)
	if err != nil {
		return err
	}
	src, err := pc.Source()
	if err != nil {
		return err
	}
	store, err := dedup.Load(ctx, rt.storage, pc.Store)
	if err != nil {
		return err
	}
	keywords := pc.Keywords
	if kind, _ := record.ParseKind(pc.Kind); len(keywords) == 0 && kind == record.KindChatMessage {
		keywords = watcher.DefaultKeywords
	}
	var opts []watcher.PollerOption
	if len(keywords) > 0 {
		opts = append(opts, watcher.WithKeywords(keywords...))
	}
	p := watcher.NewPoller(rt.vault, src, store, opts...)
	slog.Info("poller started", "poller", name, "interval", pc.Interval)
	loop.New(name, pc.Interval, p.Poll, loop.Immediately()).Run(ctx)
	return nil
}

type emailDraft struct {
	to, subject, body, cc, bcc string
}

func handleDraftEmail(ctx context.Context, d emailDraft) error {
	rt, err := setup(ctx, "cli")
	if err != nil {
		return err
	}
	defer rt.close()

	header := record.NewHeader("to", d.to, "subject", d.subject)
	if d.cc != "" {
		header.Set("cc", d.cc)
	}
	if d.bcc != "" {
		header.Set("bcc", d.bcc)
	}
	rec := record.New(record.KindOutboundMessage, header)
	rec.SetSection("Body", d.body)
	return stage(rt, rec, d.subject)
}

func handleDraftPost(ctx context.Context, content string) error {
	rt, err := setup(ctx, "cli")
	if err != nil {
		return err
	}
	defer rt.close()

	rec := record.New(record.KindSocialPost, record.Header{})
	rec.SetSection("Content", content)
	slug, _, _ := strings.Cut(content, "\n")
	return stage(rt, rec, slug)
}

// stage writes rec to Pending_Approval with the approval marker set.
func stage(rt *runtime, rec *record.Record, slug string) error {
	rec.Header.Set(record.HeaderRequiresApproval, "true")
	rec.Header.SetTime(record.HeaderCreated, time.Now())
	ref, err := rt.vault.Create(vault.PendingApproval, rec, slug)
	if err != nil {
		return err
	}
	slog.Info("draft staged for approval", "item", ref.String())
	fmt.Println(ref.Name)
	return nil
}

// pendingRef resolves a file argument, which may be a path, to its entry in
// Pending_Approval.
func pendingRef(v *vault.Vault, file string) (vault.Ref, error) {
	ref := vault.Ref{Partition: vault.PendingApproval, Name: filepath.Base(file)}
	if _, err := v.Stat(ref); err != nil {
		if !cerr.IsCode(err, cerr.NotFound) {
			return vault.Ref{}, err
		}
		if found, lerr := v.Locate(ref.Name); lerr == nil {
			return vault.Ref{}, cerr.Errorf(cerr.InvalidArgument, "%s is in %s, not %s", ref.Name, found.Partition, vault.PendingApproval)
		}
		return vault.Ref{}, err
	}
	return ref, nil
}

func handleApprove(ctx context.Context, file string, yes bool) error {
	rt, err := setup(ctx, "cli")
	if err != nil {
		return err
	}
	defer rt.close()

	ref, err := pendingRef(rt.vault, file)
	if err != nil {
		return err
	}
	if !yes {
		data, err := rt.vault.ReadRaw(ref)
		if err != nil {
			return err
		}
		writePreview(os.Stdout, data, previewLines)
		ok, err := confirm(os.Stdin, os.Stdout, "Approve "+ref.Name+"?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Not approved.")
			return nil
		}
	}
	moved, err := rt.vault.Move(ref, vault.Approved)
	if err != nil {
		return err
	}
	slog.Info("item approved", "item", moved.String())
	return nil
}

func handleReject(ctx context.Context, file string) error {
	rt, err := setup(ctx, "cli")
	if err != nil {
		return err
	}
	defer rt.close()

	ref, err := pendingRef(rt.vault, file)
	if err != nil {
		return err
	}
	moved, err := rt.vault.Move(ref, vault.Rejected)
	if err != nil {
		return err
	}
	slog.Info("item rejected", "item", moved.String())
	return nil
}

var (
	previewMarker  = color.New(color.FgHiBlack)
	previewSection = color.New(color.FgCyan, color.Bold)
	previewKey     = color.New(color.FgYellow)
)

// writePreview prints the first n lines of an item with its delimiters,
// section markers and header keys highlighted.
func writePreview(w io.Writer, data []byte, n int) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	inHeader := false
	for i, line := range lines {
		if i == n {
			previewMarker.Fprintf(w, "... (%d more lines)\n", len(lines)-n)
			return
		}
		switch {
		case line == "---":
			inHeader = i == 0
			previewMarker.Fprintln(w, line)
		case strings.HasPrefix(line, "## "):
			previewSection.Fprintln(w, line)
		case inHeader && strings.Contains(line, ":"):
			key, value, _ := strings.Cut(line, ":")
			previewKey.Fprint(w, key+":")
			fmt.Fprintln(w, value)
		default:
			fmt.Fprintln(w, line)
		}
	}
}

func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func handleList(ctx context.Context, partition, pattern string) error {
	rt, err := setup(ctx, "cli")
	if err != nil {
		return err
	}
	defer rt.close()

	p, err := vault.ParsePartition(partition)
	if err != nil {
		return err
	}
	refs, err := rt.vault.Collect(ctx, p, pattern)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		fmt.Println(ref.Name)
	}
	return nil
}

func handleStatus(ctx context.Context, asJSON bool) error {
	rt, err := setup(ctx, "cli")
	if err != nil {
		return err
	}
	defer rt.close()

	snap, err := status.Collect(ctx, rt.vault, nil, time.Now())
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	_, err = os.Stdout.Write(status.RenderDashboard(snap))
	return err
}
