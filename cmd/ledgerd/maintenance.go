package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"referral-ledger/internal/config"
	"referral-ledger/internal/credential"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report referral graph defects; exits non-zero when any are found",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.console.Integrity(cmd.Context(), a.cfg.BootstrapAdminID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if report.Clean() {
			fmt.Fprintln(out, "referral graph is consistent")
			return nil
		}
		printIDs(out, "dangling referrer", report.Dangling)
		printIDs(out, "self referral", report.Self)
		printIDs(out, "duplicate id", report.Duplicates)
		return fmt.Errorf("%d defect(s) found", report.Total())
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Reset dangling referrers and recount direct referrals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		actor := a.cfg.BootstrapAdminID
		repaired, err := a.console.RepairReferrers(cmd.Context(), actor)
		if err != nil {
			return err
		}
		changed, err := a.console.RecalcReferrals(cmd.Context(), actor)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset %d referrer(s), corrected %d referral count(s)\n", len(repaired), changed)
		return nil
	},
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:       "export members|ledger",
	Short:     "Write the member table or the ledger as CSV",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"members", "ledger"},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		w := cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		actor := a.cfg.BootstrapAdminID
		if args[0] == "members" {
			return a.console.ExportMembers(cmd.Context(), actor, w)
		}
		return a.console.ExportLedger(cmd.Context(), actor, w)
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print the stored credential form of a password (reads stdin when no argument is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := ""
		if len(args) == 1 {
			password = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && err != io.EOF {
				return err
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}

		cfg := config.LoadConfig()
		digest, err := credential.NewHasher(cfg.PBKDF2Iterations).Hash(password, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), digest)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write to this file instead of stdout")
}

func printIDs(w io.Writer, label string, ids []string) {
	for _, id := range ids {
		fmt.Fprintf(w, "%s: %s\n", label, id)
	}
}
