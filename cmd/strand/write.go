package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"
)

func keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Resolve the signing key, migrating or generating it when needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			kp, origin, err := a.ensureKeys(ctx)
			if err != nil {
				return err
			}
			npub, err := kp.Npub()
			if err != nil {
				return err
			}
			clientKP, _ := a.clientKey.Keypair()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Key ready (%s)\n", origin)
			fmt.Fprintf(out, "  npub:   %s\n", npub)
			fmt.Fprintf(out, "  hex:    %s\n", kp.Public)
			fmt.Fprintf(out, "  client: %s (%s)\n", clientKP.Public, a.cfg.Identity.ClientName)
			return nil
		},
	}
}

// withPublisher opens the app, resolves keys and connects before running fn
func withPublisher(cmd *cobra.Command, fn func(ctx context.Context, a *app) (*nostr.Event, error)) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, _, err := a.ensureKeys(ctx); err != nil {
		return err
	}
	if err := a.connect(ctx); err != nil {
		return err
	}

	ev, err := fn(ctx, a)
	if err != nil {
		return err
	}
	printPublished(cmd.OutOrStdout(), ev)
	return nil
}

func printPublished(w io.Writer, ev *nostr.Event) {
	fmt.Fprintf(w, "✓ Published %s\n", noteID(ev.ID))
}

func postCmd() *cobra.Command {
	var mentions []string

	cmd := &cobra.Command{
		Use:   "post <content>",
		Short: "Publish a top-level note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := parseMentions(mentions)
			if err != nil {
				return err
			}
			return withPublisher(cmd, func(ctx context.Context, a *app) (*nostr.Event, error) {
				return a.publisher.PublishPost(ctx, args[0], resolved)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&mentions, "mention", "m", nil, "Resolve @name to a key (name=npub), repeatable")
	return cmd
}

func commentCmd() *cobra.Command {
	var mentions []string

	cmd := &cobra.Command{
		Use:   "comment <note-id> <content>",
		Short: "Comment on a note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootID, err := parseEventID(args[0])
			if err != nil {
				return err
			}
			resolved, err := parseMentions(mentions)
			if err != nil {
				return err
			}
			return withPublisher(cmd, func(ctx context.Context, a *app) (*nostr.Event, error) {
				return a.publisher.PublishComment(ctx, rootID, args[1], resolved)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&mentions, "mention", "m", nil, "Resolve @name to a key (name=npub), repeatable")
	return cmd
}

func reactCmd() *cobra.Command {
	var (
		unlike bool
		toggle bool
		emoji  string
	)

	cmd := &cobra.Command{
		Use:   "react <event-id>",
		Short: "Like, unlike or react to an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEventID(args[0])
			if err != nil {
				return err
			}
			if unlike && toggle {
				return fmt.Errorf("--unlike and --toggle are mutually exclusive")
			}

			return withPublisher(cmd, func(ctx context.Context, a *app) (*nostr.Event, error) {
				target, err := a.resolveEvent(ctx, id)
				if err != nil {
					return nil, err
				}

				switch {
				case toggle:
					return a.publisher.ToggleReaction(ctx, target)
				case unlike:
					return a.publisher.PublishReaction(ctx, target, "-")
				default:
					return a.publisher.PublishReaction(ctx, target, emoji)
				}
			})
		},
	}

	cmd.Flags().BoolVar(&unlike, "unlike", false, "Withdraw a like")
	cmd.Flags().BoolVar(&toggle, "toggle", false, "Like, or withdraw an existing like")
	cmd.Flags().StringVarP(&emoji, "emoji", "e", "+", "Reaction content")
	return cmd
}

func quoteCmd() *cobra.Command {
	var mentions []string

	cmd := &cobra.Command{
		Use:   "quote <event-id> <content>",
		Short: "Publish a note quoting another event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEventID(args[0])
			if err != nil {
				return err
			}
			resolved, err := parseMentions(mentions)
			if err != nil {
				return err
			}

			return withPublisher(cmd, func(ctx context.Context, a *app) (*nostr.Event, error) {
				quoted, err := a.resolveEvent(ctx, id)
				if err != nil {
					return nil, err
				}
				relay := ""
				if urls := a.client.URLs(); len(urls) > 0 {
					relay = urls[0]
				}
				return a.publisher.PublishQuote(ctx, quoted, relay, args[1], resolved)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&mentions, "mention", "m", nil, "Resolve @name to a key (name=npub), repeatable")
	return cmd
}
