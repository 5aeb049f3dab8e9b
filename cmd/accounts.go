/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/blacktop/crosspost/internal/accounts"
	"github.com/blacktop/crosspost/internal/xpost"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newAccountsCommand(v *viper.Viper) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List configured accounts with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			accts, unconfigured, err := listAccounts(v.GetString("accounts"))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				redacted := make([]xpost.Account, 0, len(accts))
				for _, acct := range accts {
					redacted = append(redacted, accounts.Redact(acct))
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(redacted)
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("ID", "NAME", "PROVIDER", "ENABLED")
			for _, acct := range accts {
				t.Row(acct.ID, acct.Name, string(acct.Provider), strconv.FormatBool(acct.Enabled))
			}
			for _, p := range unconfigured {
				t.Row("-", "", string(p), "not configured")
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print accounts as JSON")

	return cmd
}

// listAccounts returns the file accounts, or one account per provider whose
// environment is complete along with the providers that are not configured.
func listAccounts(path string) ([]xpost.Account, []xpost.Provider, error) {
	if path != "" {
		accts, err := accounts.Load(path)
		return accts, nil, err
	}

	var (
		out          []xpost.Account
		unconfigured []xpost.Provider
	)
	for _, p := range xpost.Providers {
		accts, err := accounts.FromEnv([]xpost.Provider{p})
		if err != nil {
			unconfigured = append(unconfigured, p)
			continue
		}
		out = append(out, accts...)
	}
	return out, unconfigured, nil
}
