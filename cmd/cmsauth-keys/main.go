// Command cmsauth-keys manages the signing key manifest on disk.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"filippo.io/age"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MrEthical07/cmsauth"
	"github.com/MrEthical07/cmsauth/internal/logging"
	"github.com/MrEthical07/cmsauth/keys"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	dir        string
	identity   string
	verbose    bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "cmsauth-keys",
		Short:        "Inspect and rotate cmsauth signing keys",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "cmsauth.yaml", "config file (keys.dir and keys.age_identity are read from it)")
	root.PersistentFlags().StringVar(&opts.dir, "dir", "", "key directory, overrides the config")
	root.PersistentFlags().StringVar(&opts.identity, "identity", "", "age identity used to seal private keys, overrides the config")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log key manager activity")

	root.AddCommand(
		listCmd(opts),
		generateCmd(opts),
		promoteCmd(opts),
		rotateCmd(opts),
		pruneCmd(opts),
		ageKeygenCmd(),
	)
	return root
}

// keyEnv holds the resolved config and an open manager.
type keyEnv struct {
	cfg     cmsauth.Config
	manager *keys.Manager
	logger  *zap.Logger
}

func openManager(ctx context.Context, opts *options) (*keyEnv, error) {
	cfg, err := cmsauth.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dir != "" {
		cfg.Keys.Dir = opts.dir
	}
	if opts.identity != "" {
		cfg.Keys.AgeIdentity = opts.identity
	}
	if cfg.Keys.Dir == "" {
		return nil, fmt.Errorf("no key directory: set --dir, keys.dir or CMSAUTH_KEYS_DIR")
	}

	logger := logging.Nop()
	if opts.verbose {
		logger = logging.New(logging.Config{Env: "dev", Level: "debug", Service: "cmsauth-keys"})
	}

	store, err := keys.NewFileStore(cfg.Keys.Dir, keys.FileStoreOptions{
		Identity: cfg.Keys.AgeIdentity,
		Backups:  cfg.Keys.Backups,
	})
	if err != nil {
		return nil, err
	}
	m, err := keys.Open(ctx, keys.Config{Store: store, Logger: logger})
	if err != nil {
		return nil, err
	}
	return &keyEnv{cfg: cfg, manager: m, logger: logger}, nil
}

func listCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openManager(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() { _ = env.logger.Sync() }()
			printManifest(cmd.OutOrStdout(), env.manager.Manifest())
			return nil
		},
	}
}

func generateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Add a new key version without promoting it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openManager(cmd.Context(), opts)
			if err != nil {
				return err
			}
			kp, err := env.manager.GenerateNewKey(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated v%d %s\n", kp.Version, keys.Fingerprint(kp.PublicKey))
			return nil
		},
	}
}

func promoteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "promote VERSION",
		Short: "Make VERSION the signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil || v == 0 {
				return fmt.Errorf("invalid version %q", args[0])
			}
			env, err := openManager(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if err := env.manager.Promote(cmd.Context(), uint32(v)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "current version is v%d\n", v)
			return nil
		},
	}
}

func rotateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Generate a new key and promote it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openManager(cmd.Context(), opts)
			if err != nil {
				return err
			}
			kp, err := env.manager.Rotate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rotated to v%d %s\n", kp.Version, keys.Fingerprint(kp.PublicKey))
			return nil
		},
	}
}

func pruneCmd(opts *options) *cobra.Command {
	var (
		retain int
		minAge time.Duration
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop old key versions",
		Long: "Drop versions beyond the newest --retain that are older than --min-age.\n" +
			"The current version is never removed. Tokens signed by a pruned version stop verifying.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openManager(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("retain") {
				retain = env.cfg.Keys.RetainCount
			}
			if !cmd.Flags().Changed("min-age") {
				minAge = env.cfg.Keys.MinAge()
			}
			pruned, err := env.manager.Prune(cmd.Context(), retain, minAge)
			if err != nil {
				return err
			}
			if len(pruned) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to prune")
				return nil
			}
			for _, v := range pruned {
				fmt.Fprintf(cmd.OutOrStdout(), "pruned v%d\n", v)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&retain, "retain", 0, "number of newest versions to keep (default keys.retain_count)")
	cmd.Flags().DurationVar(&minAge, "min-age", 0, "only prune versions older than this (default keys.min_age_secs)")
	return cmd
}

func ageKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "age-keygen",
		Short: "Print a fresh age identity for keys.age_identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := age.GenerateX25519Identity()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# recipient: %s\n%s\n", id.Recipient(), id)
			return nil
		},
	}
}

func printManifest(w io.Writer, m keys.Manifest) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tCURRENT\tCREATED\tFINGERPRINT")
	for _, k := range m.Keys {
		current := ""
		if k.Version == m.Current {
			current = "*"
		}
		fmt.Fprintf(tw, "v%d\t%s\t%s\t%s\n", k.Version, current, k.CreatedAt.UTC().Format(time.RFC3339), k.Fingerprint)
	}
	_ = tw.Flush()
}
