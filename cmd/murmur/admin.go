package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zulandar/murmur/internal/api"
	"github.com/zulandar/murmur/internal/store"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Inspect and delete users, chats and guest data",
	}

	cmd.AddCommand(newAdminUsersCmd())
	cmd.AddCommand(newAdminChatsCmd())
	cmd.AddCommand(newAdminStatsCmd())
	cmd.AddCommand(newAdminDeleteUserCmd())
	cmd.AddCommand(newAdminDeleteChatCmd())
	cmd.AddCommand(newAdminPurgeGuestsCmd())
	return cmd
}

func storeFromConfig(configPath string) (*store.Store, error) {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	return store.New(store.StoreOpts{DB: gormDB})
}

func newAdminUsersCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users with their chat counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminUsers(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Murmur config file")
	return cmd
}

func runAdminUsers(cmd *cobra.Command, configPath string) error {
	st, err := storeFromConfig(configPath)
	if err != nil {
		return err
	}
	users, err := st.ListUsers()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(users) == 0 {
		fmt.Fprintln(out, "No users found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tADMIN\tCHATS\tCREATED")
	for _, u := range users {
		email := u.Email
		if email == "" {
			email = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%d\t%s\n",
			u.ID, truncate(u.Name, 30), email, u.IsAdmin, u.ChatCount, u.CreatedAt.Format(api.TimeLayout))
	}
	w.Flush()
	return nil
}

func newAdminChatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List every chat, most recent activity first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminChats(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Murmur config file")
	return cmd
}

func runAdminChats(cmd *cobra.Command, configPath string) error {
	st, err := storeFromConfig(configPath)
	if err != nil {
		return err
	}
	chats, err := st.ListAllChats()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(chats) == 0 {
		fmt.Fprintln(out, "No chats found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tUSER\tMESSAGES\tLAST ACTIVITY")
	for _, c := range chats {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			c.ID, truncate(c.Title, 40), c.UserName, c.MessageCount, c.LastActivity.Format(api.TimeLayout))
	}
	w.Flush()
	return nil
}

func newAdminStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show raw row counts per table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminStats(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Murmur config file")
	return cmd
}

func runAdminStats(cmd *cobra.Command, configPath string) error {
	st, err := storeFromConfig(configPath)
	if err != nil {
		return err
	}
	stats, err := st.Stats()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\n", s.Table, s.Rows)
	}
	w.Flush()
	return nil
}

func newAdminDeleteUserCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "delete-user <id>",
		Short: "Delete a user and everything the user owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminDeleteUser(cmd, configPath, args[0], yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Murmur config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runAdminDeleteUser(cmd *cobra.Command, configPath, arg string, yes bool) error {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", arg)
	}
	st, err := storeFromConfig(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !yes && !confirmDelete(cmd, fmt.Sprintf("user %d and all of the user's chats", id)) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}
	deleted, err := st.DeleteUser(uint(id))
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("user %d not found", id)
	}
	fmt.Fprintf(out, "Deleted user %d\n", id)
	return nil
}

func newAdminDeleteChatCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "delete-chat <id>",
		Short: "Delete a chat with its messages and attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminDeleteChat(cmd, configPath, args[0], yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Murmur config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runAdminDeleteChat(cmd *cobra.Command, configPath, chatID string, yes bool) error {
	st, err := storeFromConfig(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !yes && !confirmDelete(cmd, fmt.Sprintf("chat %s", chatID)) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}
	deleted, err := st.DeleteAnyChat(chatID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("chat %s not found", chatID)
	}
	fmt.Fprintf(out, "Deleted chat %s\n", chatID)
	return nil
}

func newAdminPurgeGuestsCmd() *cobra.Command {
	var (
		configPath string
		days       int
	)

	cmd := &cobra.Command{
		Use:   "purge-guests",
		Short: "Delete guest messages older than the retention window",
		Long:  "Runs the guest retention job once. Defaults to server.guest_retention_days.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminPurgeGuests(cmd, configPath, days)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Murmur config file")
	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (overrides server.guest_retention_days)")
	return cmd
}

func runAdminPurgeGuests(cmd *cobra.Command, configPath string, days int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	st, err := store.New(store.StoreOpts{DB: gormDB})
	if err != nil {
		return err
	}
	if days <= 0 {
		days = cfg.Server.GuestRetentionDays
	}
	if days <= 0 {
		return fmt.Errorf("retention window must be positive")
	}

	out := cmd.OutOrStdout()
	n, err := api.PurgeGuests(api.RetentionOpts{Store: st, Days: days})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Purged %d guest message(s) older than %d day(s)\n", n, days)
	return nil
}

func confirmDelete(cmd *cobra.Command, what string) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	fmt.Fprintf(out, "This will permanently delete %s.\n", what)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
