package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/aggregates"
	"github.com/sandwichfarm/strand/internal/errs"
	"github.com/sandwichfarm/strand/internal/notify"
	"github.com/sandwichfarm/strand/internal/sync"
	"github.com/spf13/cobra"
)

func feedCmd() *cobra.Command {
	var (
		hashtag string
		pages   int
		follow  bool
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the global feed of top-level notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			return runFeed(ctx, a, cmd.OutOrStdout(), hashtag, pages, follow)
		},
	}

	cmd.Flags().StringVarP(&hashtag, "hashtag", "t", "", "Only show notes carrying this hashtag")
	cmd.Flags().IntVarP(&pages, "pages", "n", 1, "Number of pages to load")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep running and print new notes as they arrive")
	return cmd
}

func runFeed(ctx context.Context, a *app, out io.Writer, hashtag string, pages int, follow bool) error {
	feed := sync.NewFeed(a.store, &a.cfg.Sync, a.hub, a.logger)
	defer feed.Shutdown()

	var notifications <-chan notify.Notification
	if follow {
		ch, cancel := a.hub.Subscribe()
		defer cancel()
		notifications = ch
	}

	if err := feed.Start(ctx); err != nil {
		if errs.Is(err, errs.ErrConfiguration) {
			return err
		}
		printError(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "Showing cached notes only.")
	}
	if hashtag != "" {
		feed.SetHashtagFilter(hashtag)
	}

	for i := 1; i < pages && feed.HasMore() && feed.State() != sync.StateError; i++ {
		if err := feed.LoadMore(ctx); err != nil {
			printError(os.Stderr, err)
			break
		}
	}

	self := a.selfKey(ctx)
	printed := make(map[string]bool)
	for _, ev := range feed.Events() {
		printed[ev.ID] = true
		printEvent(out, ev, "")
		printSummary(out, "", a.engagement.Summary(ctx, ev.ID, self))
		fmt.Fprintln(out)
	}
	if !feed.HasMore() {
		fmt.Fprintln(out, "(end of history)")
	}

	if !follow {
		return nil
	}

	fmt.Fprintln(out, "Following new notes, press Ctrl+C to stop...")
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			switch n := n.(type) {
			case notify.Changed:
				for _, ev := range feed.Events() {
					if printed[ev.ID] {
						continue
					}
					printed[ev.ID] = true
					printEvent(out, ev, "")
					fmt.Fprintln(out)
				}
			case notify.CommentArrived:
				fmt.Fprintf(out, "💬 new comment on %s\n", noteID(n.PostID))
			}
		}
	}
}

func threadCmd() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "thread <note-id>",
		Short: "Show a note and its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootID, err := parseEventID(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			return runThread(ctx, a, cmd.OutOrStdout(), rootID, follow)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep running and print new comments and reactions")
	return cmd
}

func runThread(ctx context.Context, a *app, out io.Writer, rootID string, follow bool) error {
	thread := sync.NewThread(a.store, rootID, &a.cfg.Sync, a.hub, a.logger)
	defer thread.Shutdown()

	var notifications <-chan notify.Notification
	if follow {
		ch, cancel := a.hub.Subscribe()
		defer cancel()
		notifications = ch
	}

	if err := thread.Start(ctx); err != nil {
		return err
	}
	if err := thread.Err(); err != nil {
		printError(os.Stderr, err)
	}

	self := a.selfKey(ctx)
	printEvent(out, thread.Root(), "")
	printSummary(out, "", a.engagement.Summary(ctx, rootID, self))
	for _, stat := range a.engagement.ReactionBreakdown(ctx, rootID) {
		fmt.Fprintf(out, "  %s ×%d", stat.Emoji, stat.Count)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out)

	printed := make(map[string]bool)
	for _, ev := range thread.Comments() {
		printed[ev.ID] = true
		printComment(ctx, a, out, rootID, ev, self)
	}

	if !follow {
		return nil
	}

	fmt.Fprintln(out, "Following the thread, press Ctrl+C to stop...")
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			switch n := n.(type) {
			case notify.CommentArrived:
				if n.PostID != rootID || printed[n.Event.ID] {
					continue
				}
				printed[n.Event.ID] = true
				printComment(ctx, a, out, rootID, n.Event, self)
			case notify.ReactionArrived:
				fmt.Fprintf(out, "%s reacted %s to %s\n", shortKey(n.Author), n.Content, noteID(n.TargetID))
			}
		}
	}
}

// printComment prints one comment, indented further when it answers
// another comment
func printComment(ctx context.Context, a *app, out io.Writer, rootID string, ev *nostr.Event, self string) {
	indent := "  "
	if info, err := aggregates.ParseThreadInfo(ev); err == nil && info.IsNested() && info.GetRootOrSelf(ev.ID) == rootID {
		indent = "    ↳ "
	}
	printEvent(out, ev, indent)
	printSummary(out, indent, a.engagement.Summary(ctx, ev.ID, self))
	fmt.Fprintln(out)
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <event-id>",
		Short: "Show comment and reaction counts from the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEventID(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			s := a.engagement.Summary(ctx, id, a.selfKey(ctx))

			fmt.Fprintf(out, "%s\n", noteID(id))
			fmt.Fprintf(out, "  comments:  %d\n", s.Comments)
			fmt.Fprintf(out, "  likes:     %d\n", s.Reactions)
			fmt.Fprintf(out, "  you liked: %v\n", s.Reacted)
			for _, stat := range aggregates.Top(a.engagement.ReactionBreakdown(ctx, id), 10) {
				fmt.Fprintf(out, "  %s  %d\n", stat.Emoji, stat.Count)
			}
			return nil
		},
	}
}
