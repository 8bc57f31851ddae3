package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/diwise/kg-publisher/internal/pkg/application/config"
	"github.com/diwise/kg-publisher/internal/pkg/application/mapper"
	"github.com/diwise/kg-publisher/internal/pkg/application/ontology"
	"github.com/diwise/kg-publisher/internal/pkg/application/operations"
	"github.com/diwise/kg-publisher/internal/pkg/application/spaces"
	"github.com/diwise/kg-publisher/internal/pkg/infrastructure/chain"
	"github.com/diwise/kg-publisher/pkg/grc20/client"
	"github.com/diwise/kg-publisher/pkg/grc20/errors"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/spf13/cobra"
)

type options struct {
	envFile string
	network string
	apiURL  string
	rpcURL  string
	debug   bool

	spaceID     string
	batchSize   int
	source      string
	schema      string
	policy      string
	checkpoint  string
	controlAddr string
	startBatch  int
	all         bool
	dryRun      bool
	output      string

	name     string
	writeEnv string
	envKey   string
	space    string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Publish childcare and permit records to a GRC-20 knowledge graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.envFile, "env-file", ".env", "file to read settings from, existing environment variables take precedence")
	pf.StringVar(&opts.network, "network", "", "TESTNET or MAINNET")
	pf.StringVar(&opts.apiURL, "api-url", "", "base url of the knowledge graph API")
	pf.StringVar(&opts.rpcURL, "rpc-url", "", "JSON-RPC endpoint of the chain")
	pf.BoolVar(&opts.debug, "debug", false, "log API requests and responses")

	root.AddCommand(
		newPublishCommand(opts),
		newOpsCommand(opts),
		newLinksCommand(opts),
		newCheckSpacesCommand(opts),
		newCreateSpaceCommand(opts),
		newSetupOntologyCommand(opts),
		newBalanceCommand(opts),
	)

	return root
}

func newPublishCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish [types...]",
		Short: "Map, deduplicate and publish records as batches of operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}

			list, err := buildOperations(ctx, cfg, args, opts.all)
			if err != nil {
				return err
			}

			batches, err := operations.Batch(list, cfg.BatchSize)
			if err != nil {
				return err
			}

			log := logging.GetFromContext(ctx)
			log.Info("operations ready", "operations", len(list), "batches", len(batches), "batch_size", cfg.BatchSize)

			if opts.dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d operations in %d batches, nothing published\n", len(list), len(batches))
				return nil
			}

			if err = cfg.ValidatePublish(); err != nil {
				return err
			}

			results, err := publishBatches(ctx, cfg, cfg.SpaceID, batches, opts.startBatch)
			printResults(cmd.OutOrStdout(), results, len(batches))

			return err
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.all, "all", false, "publish every entity type of the schema")
	flags.StringVar(&opts.spaceID, "space-id", "", "space to publish to")
	flags.IntVar(&opts.batchSize, "batch-size", 0, "operations per batch")
	flags.StringVar(&opts.source, "source", "", "csv file, sqlite database or postgres url to read records from")
	flags.StringVar(&opts.schema, "schema", "", "builtin schema name or path to a schema file")
	flags.StringVar(&opts.policy, "property-policy", "", "last-write-wins or first-write-wins")
	flags.StringVar(&opts.checkpoint, "checkpoint", "", "file that records published batches so that a failed run can be resumed")
	flags.IntVar(&opts.startBatch, "start-batch", 0, "number of leading batches to skip")
	flags.StringVar(&opts.controlAddr, "control-addr", "", "address to serve health and progress on while publishing")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "build the batches without publishing them")

	return cmd
}

func newOpsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops [types...]",
		Short: "Print the deduplicated operations as JSON without publishing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}

			list, err := buildOperations(cmd.Context(), cfg, args, opts.all)
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), opts.output, func(w io.Writer) error {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			})
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.all, "all", false, "include every entity type of the schema")
	flags.StringVar(&opts.source, "source", "", "csv file, sqlite database or postgres url to read records from")
	flags.StringVar(&opts.schema, "schema", "", "builtin schema name or path to a schema file")
	flags.StringVar(&opts.policy, "property-policy", "", "last-write-wins or first-write-wins")
	flags.StringVarP(&opts.output, "output", "o", "-", "file to write to, - for stdout")

	return cmd
}

func newLinksCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links [types...]",
		Short: "Export a csv with a browser link for every entity in the records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}

			if cfg.SpaceID == "" {
				return errors.NewMissingSettingError("SPACE_ID")
			}

			m, recs, labels, err := loadRecords(ctx, cfg, args, opts.all)
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), opts.output, func(w io.Writer) error {
				return writeLinks(w, m, labels, recs, cfg.BrowserURL, cfg.SpaceID)
			})
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.all, "all", false, "include every entity type of the schema")
	flags.StringVar(&opts.spaceID, "space-id", "", "space the entities were published to")
	flags.StringVar(&opts.source, "source", "", "csv file, sqlite database or postgres url to read records from")
	flags.StringVar(&opts.schema, "schema", "", "builtin schema name or path to a schema file")
	flags.StringVarP(&opts.output, "output", "o", "-", "file to write to, - for stdout")

	return cmd
}

func newCheckSpacesCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-spaces",
		Short: "Report whether the configured spaces exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}

			if err = cfg.ValidateAPI(); err != nil {
				return err
			}

			reports := spaces.Check(ctx, newClient(cfg), cfg.NamedSpaces())
			if len(reports) == 0 {
				return errors.NewMissingSettingError("SPACE_ID")
			}

			missing := 0
			for _, r := range reports {
				line := fmt.Sprintf("%-18s %s %s", r.Setting, r.SpaceID, r.Status)
				if r.Err != nil {
					line += " (" + r.Err.Error() + ")"
				}
				if r.Status != client.SpaceExists {
					missing++
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}

			if missing > 0 {
				return fmt.Errorf("%d of %d spaces could not be confirmed to exist", missing, len(reports))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&opts.spaceID, "space-id", "", "space to check instead of SPACE_ID")

	return cmd
}

func newCreateSpaceCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-space",
		Short: "Deploy a new space and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}

			if opts.name == "" {
				return errors.NewMissingSettingError("--name")
			}

			if err = cfg.ValidateAPI(); err != nil {
				return err
			}
			if err = cfg.ValidateChain(); err != nil {
				return err
			}

			tx, closeBackend, err := newTransactor(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			created, err := spaces.Create(ctx, newClient(cfg), tx, opts.name)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "space %q created with id %s (tx %s, block %d)\n", opts.name, created.SpaceID, created.TxHash, created.Block)

			if opts.writeEnv != "" {
				if err = spaces.PersistSpaceID(opts.writeEnv, opts.envKey, created.SpaceID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s written to %s\n", opts.envKey, opts.writeEnv)
			}

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.name, "name", "", "name of the new space")
	flags.StringVar(&opts.writeEnv, "write-env", "", "env file to store the new space id in")
	flags.StringVar(&opts.envKey, "env-key", "SPACE_ID", "setting to store the new space id under")

	return cmd
}

func newSetupOntologyCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup-ontology",
		Short: "Publish the types, properties and relation types of a schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}

			schema, err := mapper.Load(cfg.Schema)
			if err != nil {
				return err
			}

			spaceID := cfg.SpaceID
			if !cmd.Flags().Changed("space-id") && opts.space != "" {
				spaceID = cfg.SpaceFor(opts.space)
			}

			list, err := ontology.Generate(schema, opts.space)
			if err != nil {
				return err
			}

			if len(list) == 0 {
				return fmt.Errorf("schema %s has no types in space %q, known spaces are %v", schema.Name, opts.space, ontology.Spaces(schema))
			}

			batches, err := operations.Batch(list, cfg.BatchSize)
			if err != nil {
				return err
			}

			if opts.dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d ontology operations in %d batches, nothing published\n", len(list), len(batches))
				return nil
			}

			cfg.SpaceID = spaceID
			if err = cfg.ValidatePublish(); err != nil {
				return err
			}

			results, err := publishBatches(ctx, cfg, spaceID, batches, 0)
			printResults(cmd.OutOrStdout(), results, len(batches))

			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.spaceID, "space-id", "", "space to publish the ontology to")
	flags.StringVar(&opts.space, "space", "", "only include types tagged with this space (facility, license, date, location)")
	flags.StringVar(&opts.schema, "schema", "", "builtin schema name or path to a schema file")
	flags.IntVar(&opts.batchSize, "batch-size", 0, "operations per batch")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "generate the ontology without publishing it")

	return cmd
}

func newBalanceCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Print the address and balance of the configured wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}

			if err = cfg.ValidateChain(); err != nil {
				return err
			}

			tx, closeBackend, err := newTransactor(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			wei, err := tx.Balance(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s ETH (chain %s)\n", tx.Address(), chain.FormatEther(wei), tx.ChainID())
			return nil
		},
	}
}

// config loads the settings and lets flags given on the command line
// override them
func (o *options) config(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	overrides := []config.Override{}

	override := func(flag string, f config.Override) {
		if flags.Changed(flag) {
			overrides = append(overrides, f)
		}
	}

	override("network", func(c *config.Config) { c.Network = o.network })
	override("api-url", func(c *config.Config) { c.APIURL = o.apiURL })
	override("rpc-url", func(c *config.Config) { c.RPCURL = o.rpcURL })
	override("debug", func(c *config.Config) { c.Debug = o.debug })
	override("space-id", func(c *config.Config) { c.SpaceID = o.spaceID })
	override("batch-size", func(c *config.Config) { c.BatchSize = o.batchSize })
	override("source", func(c *config.Config) { c.Source = o.source })
	override("schema", func(c *config.Config) { c.Schema = o.schema })
	override("property-policy", func(c *config.Config) { c.PropertyPolicy = o.policy })
	override("checkpoint", func(c *config.Config) { c.Checkpoint = o.checkpoint })
	override("control-addr", func(c *config.Config) { c.ControlAddr = o.controlAddr })

	return config.Load(o.envFile, overrides...)
}

func writeOutput(stdout io.Writer, path string, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err = write(f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
