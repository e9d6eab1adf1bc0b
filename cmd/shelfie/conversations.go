package main

import (
	"fmt"
	"time"

	shelfie "github.com/shelfie-social/shelfie/sdk/golang"
	"github.com/spf13/cobra"
)

var (
	convSearch string
	convTarget string
	convAll    bool
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List your conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		s, err := getSession(ctx, convTarget)
		if err != nil {
			return err
		}
		defer s.Close()

		viewer := s.Viewer().UserID
		var list []shelfie.Conversation
		switch {
		case convAll && convSearch == "":
			list = s.Conversations.All()
		default:
			list = s.Conversations.Search(convSearch)
		}
		if len(list) == 0 {
			fmt.Println("No conversations.")
			return nil
		}

		now := time.Now()
		for i := range list {
			printConversation(&list[i], viewer, now)
		}
		if sel := s.Conversations.Selected(); sel != "" {
			fmt.Printf("\nSelected: %s\n", sel)
		}
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <user-id>",
	Short: "Open a direct conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		s, err := getSession(ctx, "")
		if err != nil {
			return err
		}
		defer s.Close()

		c, err := s.StartDirect(ctx, args[0])
		if err != nil {
			return userError(err)
		}
		fmt.Printf("Conversation %s with %s\n", c.ID, shelfie.DisplayName(c, s.Viewer().UserID))
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users <query>",
	Short: "Search for people to message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		s, err := getSession(ctx, "")
		if err != nil {
			return err
		}
		defer s.Close()

		users, err := s.Conversations.SearchUsers(ctx, args[0])
		if err != nil {
			return userError(err)
		}
		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}
		now := time.Now()
		for i := range users {
			u := &users[i]
			fmt.Printf("%-14s %-20s %-24s %s\n", u.ID, u.Username, u.FullName,
				shelfie.PresenceLabel(shelfie.DerivePresence(u), now, false))
		}
		return nil
	},
}

func init() {
	conversationsCmd.Flags().StringVar(&convSearch, "search", "", "Filter direct conversations by name")
	conversationsCmd.Flags().StringVar(&convTarget, "target", "", "Preselect this conversation")
	conversationsCmd.Flags().BoolVar(&convAll, "all", false, "Include group conversations")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(usersCmd)
}
