package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spec-kit/triage-service/internal/auth"
)

var hashPasswordFlags struct {
	cost int
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a webhook basic-auth password for WEBHOOK_BASIC_PASSWORD_HASH",
	Long:  "Reads the password from the first line of stdin and prints its bcrypt hash.",
	Args:  cobra.NoArgs,
	RunE:  runHashPassword,
}

func init() {
	hashPasswordCmd.Flags().IntVar(&hashPasswordFlags.cost, "cost", 12, "bcrypt cost")
}

func runHashPassword(cmd *cobra.Command, _ []string) error {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")

	hash, err := auth.HashPassword(password, hashPasswordFlags.cost)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
