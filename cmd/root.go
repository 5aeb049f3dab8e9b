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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/blacktop/crosspost/internal/accounts"
	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/xpost"
	"github.com/blacktop/crosspost/internal/xpost/dispatch"
	"github.com/blacktop/crosspost/internal/xpost/exchange"
	"github.com/blacktop/crosspost/internal/xpost/metrics"
	"github.com/blacktop/crosspost/internal/xpost/twitter"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// Version is set at build time.
var Version = "dev"

const (
	envPrefix      = "CROSSPOST"
	defaultAltText = "Image attached via crosspost"

	// must exceed the Twitter media poll limit
	defaultAccountTimeout = 2 * twitter.DefaultPollTimeout
)

var defaultTargets = []string{"bluesky", "mastodon", "twitter"}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCommand().ExecuteContext(ctx)
}

type rootOptions struct {
	message      string
	imagePath    string
	imageAlt     string
	imageURL     string
	languages    []string
	targets      []string
	targetsSet   bool
	accountsFile string
	concurrency  int
	timeout      time.Duration
	pollTimeout  time.Duration
	metricsFile  string
	dryRun       bool
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "crosspost [message]",
		Short: "Cross-post to social networks",
		Long: "crosspost publishes the same update to Twitter/X, Bluesky, Mastodon, and Threads. " +
			"Provide your message as an argument or with --message and optional --image.",
		Version:       Version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loadDotEnv()
			logutil.SetVerbose(v.GetBool("verbose"))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, args, loadOptions(cmd, v))
		},
		Example: `  crosspost --message "hello world" --image ./shot.png
  crosspost "Ship it!" --target twitter --target mastodon
  echo "Release shipped" | crosspost --target all --accounts ~/.config/crosspost/accounts.jsonc`,
	}

	flags := cmd.Flags()
	flags.StringP("message", "m", "", "Message text to post")
	flags.String("image", "", "Path to an image to attach")
	flags.String("alt-text", "", "Alternative text to describe the image")
	flags.String("image-url", "", "Public URL of the image (required by Threads)")
	flags.StringSlice("lang", nil, "BCP-47 language tags for the post")
	flags.StringSlice("target", defaultTargets, "Targets to post to (twitter, bluesky, mastodon, threads, or all)")
	flags.Int("concurrency", dispatch.DefaultConcurrency, "Accounts published in parallel")
	flags.Duration("timeout", defaultAccountTimeout, "Per-account publish timeout (0 disables)")
	flags.Duration("poll-timeout", twitter.DefaultPollTimeout, "Maximum time to wait for Twitter media processing")
	flags.String("metrics-file", "", "Write publish metrics in Prometheus text format to this file")
	flags.Bool("dry-run", false, "Print actions without posting")
	flags.SortFlags = false

	persistent := cmd.PersistentFlags()
	persistent.String("accounts", "", "JSONC accounts file (defaults to CROSSPOST_* environment variables)")
	persistent.BoolP("verbose", "V", false, "Enable debug logging")

	bindFlags(v, cmd, "lang", "target", "concurrency", "timeout", "poll-timeout", "metrics-file", "dry-run", "accounts", "verbose")

	cmd.AddCommand(newCompletionCommand())
	cmd.AddCommand(newAccountsCommand(v))

	return cmd
}

// bindFlags exposes each flag as CROSSPOST_<NAME> through viper.
func bindFlags(v *viper.Viper, cmd *cobra.Command, names ...string) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range names {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			f = cmd.PersistentFlags().Lookup(name)
		}
		if f == nil {
			continue
		}
		_ = v.BindPFlag(name, f)
	}
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logutil.Warnf("load .env: %v", err)
	}
}

func loadOptions(cmd *cobra.Command, v *viper.Viper) rootOptions {
	flags := cmd.Flags()
	message, _ := flags.GetString("message")
	imagePath, _ := flags.GetString("image")
	imageAlt, _ := flags.GetString("alt-text")
	imageURL, _ := flags.GetString("image-url")

	return rootOptions{
		message:      message,
		imagePath:    imagePath,
		imageAlt:     imageAlt,
		imageURL:     imageURL,
		languages:    v.GetStringSlice("lang"),
		targets:      v.GetStringSlice("target"),
		targetsSet:   explicit(cmd, "target"),
		accountsFile: v.GetString("accounts"),
		concurrency:  v.GetInt("concurrency"),
		timeout:      v.GetDuration("timeout"),
		pollTimeout:  v.GetDuration("poll-timeout"),
		metricsFile:  v.GetString("metrics-file"),
		dryRun:       v.GetBool("dry-run"),
	}
}

// explicit reports whether name was given as a flag or as CROSSPOST_<NAME>.
func explicit(cmd *cobra.Command, name string) bool {
	if cmd.Flags().Changed(name) {
		return true
	}
	key := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return os.Getenv(key) != ""
}

func runRoot(cmd *cobra.Command, args []string, opts rootOptions) error {
	ctx := cmd.Context()

	message, err := resolveMessage(cmd, args, opts.message)
	if err != nil {
		return err
	}

	targets, err := normalizeTargets(opts.targets)
	if err != nil {
		return err
	}

	req := xpost.PostRequest{
		Text:      message,
		Languages: opts.languages,
	}
	if req.Image, err = loadImage(opts); err != nil {
		return err
	}

	accts, err := loadAccounts(opts.accountsFile, targets, opts.targetsSet)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.dryRun {
		printDryRun(out, req, accts, opts.imagePath)
		return nil
	}

	if opts.timeout > 0 && opts.timeout <= opts.pollTimeout {
		logutil.Warnf("--timeout %s does not leave room for --poll-timeout %s", opts.timeout, opts.pollTimeout)
	}

	dopts := []dispatch.Option{
		dispatch.WithFactories(dispatch.DefaultFactories(dispatch.Deps{
			HTTP:        exchange.New(exchange.WithUserAgent("crosspost/" + Version)),
			PollTimeout: opts.pollTimeout,
		})),
		dispatch.WithConcurrency(opts.concurrency),
		dispatch.WithAccountTimeout(opts.timeout),
	}
	var collector *metrics.Collector
	if opts.metricsFile != "" {
		collector = metrics.NewCollector()
		dopts = append(dopts, dispatch.WithObserver(collector))
	}

	for _, acct := range accts {
		fmt.Fprintf(out, "posting to %s...\n", acct.Label())
	}
	results := dispatch.New(dopts...).Dispatch(ctx, req, accts)
	for _, r := range results {
		fmt.Fprintln(out, r.String())
	}

	if collector != nil {
		if err := collector.WriteTextfile(opts.metricsFile); err != nil {
			logutil.Warnf("write metrics: %v", err)
		}
	}

	return dispatch.Failed(results)
}

func resolveMessage(cmd *cobra.Command, args []string, flagValue string) (string, error) {
	message := flagValue

	if len(args) > 0 {
		if message != "" {
			return "", errors.New("provide the message either as an argument or with --message, not both")
		}
		message = strings.Join(args, " ")
	}

	if message != "" {
		return strings.TrimSpace(message), nil
	}

	stdin := cmd.InOrStdin()
	if !isTerminal(stdin) {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		message = strings.TrimSpace(string(data))
	}

	if message == "" {
		return "", errors.New("message is required")
	}

	return message, nil
}

func isTerminal(r io.Reader) bool {
	file, ok := r.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

func normalizeTargets(values []string) ([]xpost.Provider, error) {
	if len(values) == 0 {
		values = defaultTargets
	}

	seen := map[xpost.Provider]struct{}{}
	var result []xpost.Provider
	for _, value := range values {
		for _, raw := range strings.Split(value, ",") {
			raw = strings.TrimSpace(strings.ToLower(raw))
			if raw == "" {
				continue
			}
			if raw == "all" {
				return sortedTargets(xpost.Providers), nil
			}
			p, err := xpost.ParseProvider(raw)
			if err != nil {
				return nil, fmt.Errorf("unsupported target %q", raw)
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			result = append(result, p)
		}
	}

	if len(result) == 0 {
		return nil, errors.New("no targets selected")
	}

	return sortedTargets(result), nil
}

func sortedTargets(targets []xpost.Provider) []xpost.Provider {
	out := append([]xpost.Provider(nil), targets...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func loadImage(opts rootOptions) (*xpost.Image, error) {
	alt := strings.TrimSpace(opts.imageAlt)
	if opts.imagePath == "" {
		if opts.imageURL == "" {
			return nil, nil
		}
		// hosted-only image, usable by Threads
		return &xpost.Image{URL: strings.TrimSpace(opts.imageURL), Alt: alt}, nil
	}
	if alt == "" {
		alt = defaultAltText
	}
	return xpost.LoadImage(opts.imagePath, alt, opts.imageURL)
}

// loadAccounts reads the accounts file when given, otherwise the environment.
// File accounts are filtered by target only when --target was set.
func loadAccounts(path string, targets []xpost.Provider, filterFile bool) ([]xpost.Account, error) {
	if path == "" {
		return accounts.FromEnv(targets)
	}

	all, err := accounts.Load(path)
	if err != nil {
		return nil, err
	}

	wanted := map[xpost.Provider]bool{}
	for _, p := range targets {
		wanted[p] = true
	}
	var out []xpost.Account
	for _, acct := range xpost.Enabled(all) {
		if filterFile && !wanted[acct.Provider] {
			continue
		}
		out = append(out, acct)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no enabled accounts in %s for the selected targets", path)
	}
	return out, nil
}

func printDryRun(out io.Writer, req xpost.PostRequest, accts []xpost.Account, imagePath string) {
	for _, acct := range accts {
		fmt.Fprintf(out, "[dry-run] would post to %s: %q\n", acct.Label(), req.Text)
	}
	if req.Image != nil {
		source := imagePath
		if source == "" {
			source = req.Image.URL
		}
		fmt.Fprintf(out, "[dry-run] image: %s (alt: %q)\n", source, req.Image.Alt)
	}
	if len(req.Languages) > 0 {
		fmt.Fprintf(out, "[dry-run] languages: %s\n", strings.Join(req.Languages, ", "))
	}
}
