package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	shelfie "github.com/shelfie-social/shelfie/sdk/golang"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
)

const (
	// listReloadInterval is how often watch reloads the conversation list,
	// which carries block changes made by the other member.
	listReloadInterval = 30 * time.Second
	// retryCommand typed in watch resends failed messages.
	retryCommand = "/retry"
)

// ============================================================================
// Reading
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		s, err := openConversation(ctx, args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		printHeader(s)
		msgs := s.Timeline.Messages()
		if len(msgs) == 0 {
			fmt.Println("No messages yet.")
			return nil
		}
		printMessages(msgs, s.Viewer().UserID, time.Now())
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <conversation-id>",
	Short: "Follow a conversation, refreshing it in the background",
	Long:  "Show a conversation and print new messages as the background refresh picks them up. Lines typed on stdin are sent; type /retry to resend failed ones. Press Ctrl-C to stop.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openConversation(ctx, args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		viewer := s.Viewer().UserID
		printHeader(s)
		seen := make(map[string]bool)
		initial := s.Timeline.Messages()
		for _, m := range initial {
			seen[m.ID] = true
		}
		printMessages(initial, viewer, time.Now())

		updates := make(chan []shelfie.Message, 1)
		s.On(shelfie.EventTimeline, func(_ string, payload any) {
			msgs, _ := payload.([]shelfie.Message)
			select {
			case updates <- msgs:
			default:
				// a newer snapshot will follow
			}
		})
		s.On(shelfie.EventError, func(_ string, payload any) {
			if err, ok := payload.(error); ok {
				fmt.Fprintf(os.Stderr, "! %s\n", shelfie.UserMessage(err))
			}
		})

		blocks := make(chan shelfie.BlockState, 1)
		s.On(shelfie.EventBlock, func(_ string, payload any) {
			if st, ok := payload.(shelfie.BlockState); ok {
				select {
				case blocks <- st:
				default:
				}
			}
		})
		block := s.Block()

		lines := make(chan string)
		go readLines(lines)

		reload := time.NewTicker(listReloadInterval)
		defer reload.Stop()

		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				return nil
			case <-reload.C:
				reloadCtx, cancel := requestContext()
				if err := s.Reload(reloadCtx); err != nil {
					jww.DEBUG.Printf("[WATCH] reload failed: %v", err)
				}
				cancel()
			case st := <-blocks:
				if st == block {
					continue
				}
				block = st
				if st.CanSend() {
					fmt.Println("(conversation unblocked)")
				} else {
					fmt.Printf("(%s)\n", st.Reason())
				}
			case msgs := <-updates:
				for i := range msgs {
					if !seen[msgs[i].ID] {
						seen[msgs[i].ID] = true
						printMessage(&msgs[i], viewer, time.Now())
					}
				}
			case line, ok := <-lines:
				if !ok {
					lines = nil
					continue
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				// failures are reported through EventError
				sendCtx, cancel := requestContext()
				if line == retryCommand {
					retryFailed(sendCtx, s)
				} else {
					s.Send(sendCtx, line)
				}
				cancel()
			}
		}
	},
}

// retryFailed resends every failed send of the watched conversation.
func retryFailed(ctx context.Context, s *shelfie.Session) {
	active := s.Timeline.Active()
	n := 0
	for _, p := range s.Timeline.Pending() {
		if p.State != shelfie.SendFailed || p.ConversationID != active {
			continue
		}
		n++
		s.Retry(ctx, p.Ref)
	}
	if n == 0 {
		fmt.Println("(nothing to retry)")
	}
}

func readLines(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- sc.Text()
	}
}

func printHeader(s *shelfie.Session) {
	c := s.Active()
	if c == nil {
		return
	}
	viewer := s.Viewer().UserID
	fmt.Printf("%s  ·  %s\n", shelfie.DisplayName(c, viewer), shelfie.LastSeenLabel(shelfie.OtherMember(c, viewer), time.Now()))
	if b := s.Block(); !b.CanSend() {
		fmt.Printf("(%s)\n", b.Reason())
	}
}

// ============================================================================
// Writing
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		s, err := openConversation(ctx, args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		msg, err := s.Send(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return userError(err)
		}
		printMessage(msg, s.Viewer().UserID, time.Now())
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <conversation-id> <path>",
	Short: "Send a photo or file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return errors.Wrap(err, "cannot read file")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		s, err := openConversation(ctx, args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		msg, err := s.SendAttachment(ctx, shelfie.Attachment{
			FileName: filepath.Base(args[1]),
			Data:     data,
		})
		if err != nil {
			return userError(err)
		}
		printMessage(msg, s.Viewer().UserID, time.Now())
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <conversation-id> <message-id> <text>",
	Short: "Edit one of your text messages",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		s, err := openConversation(ctx, args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Edit(ctx, args[1], strings.Join(args[2:], " ")); err != nil {
			return userError(err)
		}
		fmt.Printf("Edited %s\n", args[1])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation-id> <message-id>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		s, err := openConversation(ctx, args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Delete(ctx, args[1]); err != nil {
			return userError(err)
		}
		fmt.Printf("Deleted %s\n", args[1])
		return nil
	},
}

// ============================================================================
// Blocking
// ============================================================================

func blockCommand(use, short string, blocked bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <conversation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()

			s, err := openConversation(ctx, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.SetBlocked(ctx, blocked)
			if err != nil {
				return userError(err)
			}
			if st.CanSend() {
				fmt.Println("Conversation unblocked.")
			} else {
				fmt.Println(st.Reason())
			}
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(blockCommand("block", "Block the other member of a conversation", true))
	rootCmd.AddCommand(blockCommand("unblock", "Lift your block on a conversation", false))
}
