package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
)

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Manage apps exempt from limits",
}

var whitelistAddCmd = &cobra.Command{
	Use:   "add <package>",
	Short: "Exempt an app from all limits",
	Args:  cobra.ExactArgs(1),
	RunE:  runWhitelistAdd,
}

var whitelistRemoveCmd = &cobra.Command{
	Use:   "remove <package>",
	Short: "Remove an app from the whitelist",
	Args:  cobra.ExactArgs(1),
	RunE:  runWhitelistRemove,
}

var whitelistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List whitelisted apps",
	RunE:  runWhitelistList,
}

var (
	whitelistName   string
	whitelistReason string
)

func init() {
	whitelistAddCmd.Flags().StringVar(&whitelistName, "name", "", "Display name")
	whitelistAddCmd.Flags().StringVar(&whitelistReason, "reason", "", "Why the app is exempt")

	whitelistCmd.AddCommand(whitelistAddCmd)
	whitelistCmd.AddCommand(whitelistRemoveCmd)
	whitelistCmd.AddCommand(whitelistListCmd)
}

func runWhitelistAdd(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	entry := domain.WhitelistEntry{
		PackageID:   args[0],
		DisplayName: whitelistName,
		Reason:      whitelistReason,
	}
	if err := s.store.AddWhitelist(cmd.Context(), entry); err != nil {
		return err
	}
	fmt.Printf("Whitelisted: %s\n", args[0])
	return nil
}

func runWhitelistRemove(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.store.RemoveWhitelist(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Printf("Removed from whitelist: %s\n", args[0])
	return nil
}

func runWhitelistList(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.store.ListWhitelist(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println("\n=== Whitelist ===")
	for _, e := range entries {
		name := e.DisplayName
		if name == "" {
			name = e.PackageID
		}
		fmt.Printf("  %-32s %-24s %s\n", e.PackageID, name, e.Reason)
	}
	fmt.Println("=================")
	return nil
}
