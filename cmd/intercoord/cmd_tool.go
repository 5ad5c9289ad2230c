package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/mistakeknot/intercoord/client"
	"github.com/mistakeknot/intercoord/internal/policy"
	"github.com/mistakeknot/intercoord/internal/tools"
	"github.com/spf13/cobra"
)

type toolOptions struct {
	store      storeFlags
	policyPath string
	url        string
	apiKey     string
}

// newToolCmd creates the "intercoord tool" subcommand. Without --url the
// tool runs in-process against the local store.
func newToolCmd(logLevel *string) *cobra.Command {
	opts := &toolOptions{}
	cmd := &cobra.Command{
		Use:   "tool <name> [json-args]",
		Short: "Invoke a coordination tool",
		Long:  "Runs one tool and prints its result as JSON. Arguments are a JSON\nobject in camelCase, e.g. '{\"taskId\":\"t1\",\"agentId\":\"builder\"}'.\nWith --list, prints the tool catalog instead.",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, _ := cmd.Flags().GetBool("list")
			if list {
				return listTools(cmd, opts, *logLevel)
			}
			if len(args) == 0 {
				return errors.New("tool name required")
			}
			var raw json.RawMessage
			if len(args) == 2 {
				raw = json.RawMessage(args[1])
				if !json.Valid(raw) {
					return fmt.Errorf("arguments are not valid JSON")
				}
			}
			if opts.url != "" {
				return callRemote(cmd, opts, args[0], raw)
			}
			return callLocal(cmd, opts, args[0], raw, *logLevel)
		},
	}
	f := cmd.Flags()
	f.Bool("list", false, "print the tool catalog")
	f.StringVar(&opts.url, "url", os.Getenv("INTERCOORD_URL"), "server base URL; empty runs in-process")
	f.StringVar(&opts.apiKey, "api-key", os.Getenv("INTERCOORD_API_KEY"), "bearer key for --url")
	f.StringVar(&opts.store.dbPath, "db", envOr("INTERCOORD_DB", defaultDBPath), "SQLite database path")
	f.StringVar(&opts.store.dsn, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL DSN; overrides --db")
	f.StringVar(&opts.policyPath, "policy", envOr("INTERCOORD_POLICY", policy.DefaultPath), "review policy file")
	return cmd
}

func (o *toolOptions) client() *client.Client {
	var opts []client.Option
	if o.apiKey != "" {
		opts = append(opts, client.WithAPIKey(o.apiKey))
	}
	return client.New(o.url, opts...)
}

func callRemote(cmd *cobra.Command, opts *toolOptions, name string, args json.RawMessage) error {
	var out json.RawMessage
	if err := opts.client().Call(cmd.Context(), name, args, &out); err != nil {
		var cerr *client.Error
		if errors.As(err, &cerr) {
			body := &tools.Error{Code: cerr.Code, Message: cerr.Message}
			if len(cerr.Detail) > 0 {
				body.Detail = cerr.Detail
			}
			_ = writeJSON(cmd.OutOrStdout(), tools.Result{Error: body})
		}
		return err
	}
	return writeJSON(cmd.OutOrStdout(), tools.Result{OK: true, Result: out})
}

func callLocal(cmd *cobra.Command, opts *toolOptions, name string, args json.RawMessage, logLevel string) error {
	d, closeFn, err := openDispatcher(cmd, opts, logLevel)
	if err != nil {
		return err
	}
	defer closeFn()

	res := d.Call(cmd.Context(), name, args)
	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%s: %s", res.Error.Code, res.Error.Message)
	}
	return nil
}

func listTools(cmd *cobra.Command, opts *toolOptions, logLevel string) error {
	if opts.url != "" {
		specs, err := opts.client().Tools(cmd.Context())
		if err != nil {
			return err
		}
		sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
		return writeJSON(cmd.OutOrStdout(), specs)
	}
	d, closeFn, err := openDispatcher(cmd, opts, logLevel)
	if err != nil {
		return err
	}
	defer closeFn()
	return writeJSON(cmd.OutOrStdout(), d.Catalog())
}

func openDispatcher(cmd *cobra.Command, opts *toolOptions, logLevel string) (*tools.Dispatcher, func(), error) {
	logger := newLogger(logLevel)
	cfg, err := loadPolicy(opts.policyPath, logger)
	if err != nil {
		return nil, nil, err
	}
	store, err := opts.store.open(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	d := tools.NewDispatcher(tools.NewServices(store, cfg, logger), logger)
	return d, func() { _ = store.Close() }, nil
}
