package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
)

var limitCmd = &cobra.Command{
	Use:   "limit",
	Short: "Manage daily app limits",
}

var limitAddCmd = &cobra.Command{
	Use:   "add <package> <minutes>",
	Short: "Add or replace a daily limit",
	Args:  cobra.ExactArgs(2),
	RunE:  runLimitAdd,
}

var limitSetCmd = &cobra.Command{
	Use:   "set <package> <minutes>",
	Short: "Change the minutes of an existing limit",
	Args:  cobra.ExactArgs(2),
	RunE:  runLimitSet,
}

var limitEnableCmd = &cobra.Command{
	Use:   "enable <package>",
	Short: "Enable a limit",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setLimitEnabled(cmd, args[0], true) },
}

var limitDisableCmd = &cobra.Command{
	Use:   "disable <package>",
	Short: "Disable a limit without removing it",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setLimitEnabled(cmd, args[0], false) },
}

var limitRemoveCmd = &cobra.Command{
	Use:   "remove <package>",
	Short: "Remove a limit",
	Args:  cobra.ExactArgs(1),
	RunE:  runLimitRemove,
}

var limitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured limits",
	RunE:  runLimitList,
}

var limitDisplayName string

func init() {
	limitAddCmd.Flags().StringVar(&limitDisplayName, "name", "", "Display name shown in warnings")

	limitCmd.AddCommand(limitAddCmd)
	limitCmd.AddCommand(limitSetCmd)
	limitCmd.AddCommand(limitEnableCmd)
	limitCmd.AddCommand(limitDisableCmd)
	limitCmd.AddCommand(limitRemoveCmd)
	limitCmd.AddCommand(limitListCmd)
}

func parseMinutes(arg string) (int, error) {
	minutes, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("minutes must be a whole number, got %q", arg)
	}
	return minutes, nil
}

func runLimitAdd(cmd *cobra.Command, args []string) error {
	minutes, err := parseMinutes(args[1])
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	limit := domain.AppLimit{
		PackageID:         args[0],
		DisplayName:       limitDisplayName,
		DailyLimitMinutes: minutes,
		Enabled:           true,
	}
	if err := s.store.UpsertLimit(cmd.Context(), limit); err != nil {
		return err
	}
	fmt.Printf("Limit set: %s = %d min/day\n", limit.Name(), minutes)
	return nil
}

func runLimitSet(cmd *cobra.Command, args []string) error {
	minutes, err := parseMinutes(args[1])
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	limit, err := s.store.GetLimit(ctx, args[0])
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	limit.DailyLimitMinutes = minutes
	if err := s.store.UpsertLimit(ctx, *limit); err != nil {
		return err
	}
	fmt.Printf("Limit updated: %s = %d min/day\n", limit.Name(), minutes)
	return nil
}

func setLimitEnabled(cmd *cobra.Command, pkg string, enabled bool) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.store.SetLimitEnabled(cmd.Context(), pkg, enabled); err != nil {
		return fmt.Errorf("%s: %w", pkg, err)
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Limit %s: %s\n", state, pkg)
	return nil
}

func runLimitRemove(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.store.DeleteLimit(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Printf("Limit removed: %s\n", args[0])
	return nil
}

func runLimitList(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	limits, err := s.store.ListLimits(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println("\n=== Daily Limits ===")
	if len(limits) == 0 {
		fmt.Println("No limits configured. Add one with 'usagemon limit add <package> <minutes>'.")
	}
	for _, l := range limits {
		state := "enabled"
		if !l.Enabled {
			state = "disabled"
		}
		fmt.Printf("  %-24s %-24s %4d min  %s\n", l.PackageID, l.Name(), l.DailyLimitMinutes, state)
	}
	fmt.Println("====================")
	return nil
}
