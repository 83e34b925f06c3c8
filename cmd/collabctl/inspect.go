package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var locksCmd = &cobra.Command{
	Use:   "locks <document-id>",
	Short: "List the active section leases of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runLocks,
}

var historyCmd = &cobra.Command{
	Use:   "history <document-id>",
	Short: "List a document's versions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(locksCmd)
	rootCmd.AddCommand(historyCmd)
}

func runLocks(cmd *cobra.Command, args []string) error {
	docId, err := documentArg(args)
	if err != nil {
		return err
	}
	b, err := backend()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	locks, err := b.ActiveLocks(ctx, docId)
	if err != nil {
		return err
	}

	if len(locks) == 0 {
		fmt.Println("No active leases")
		return nil
	}
	for _, l := range locks {
		left := time.Until(l.Holder.ExpiresAt).Round(time.Second)
		fmt.Printf("%s  held by %s  ", color.CyanString(l.SectionId), l.Holder.UserId)
		if left > 0 {
			color.Green("expires in %s", left)
		} else {
			color.Yellow("expired, awaiting reap")
		}
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	docId, err := documentArg(args)
	if err != nil {
		return err
	}
	b, err := backend()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	versions, err := b.History(ctx, docId)
	if err != nil {
		return err
	}

	for _, v := range versions {
		fmt.Printf("%s  %s  by %s  (%d sections)\n",
			color.CyanString("v%d", v.VersionNumber),
			v.CreatedAt.Format("2006-01-02 15:04:05"),
			v.AuthorId,
			v.SectionCount,
		)
	}
	return nil
}
