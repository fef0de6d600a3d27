package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"conclave/internal/config"
	"conclave/internal/gateway"
	"conclave/internal/onboarding"
	"conclave/internal/tui"
	"conclave/internal/webui"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newGateway(cmd *cobra.Command) *gateway.Gateway {
	gw := gateway.New(flags.configPath, logger)
	gw.In = cmd.InOrStdin()
	gw.Out = cmd.OutOrStdout()
	return gw
}

func chatCmd() *cobra.Command {
	var (
		model     string
		showUsage bool
	)
	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Answer one prompt, or start an interactive session when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw := newGateway(cmd)
			gw.ShowUsage = showUsage
			if len(args) == 0 {
				return gw.Run(cmd.Context())
			}
			return gw.Execute(cmd.Context(), model, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "canonical model id (default from config)")
	cmd.Flags().BoolVar(&showUsage, "usage", false, "print token usage after each answer")
	return cmd
}

func debateCmd() *cobra.Command {
	var (
		useTUI     bool
		transcript bool
	)
	cmd := &cobra.Command{
		Use:   "debate <topic>",
		Short: "Have the roster debate a topic, then synthesize a verdict",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.Join(args, " ")
			gw := newGateway(cmd)
			if !useTUI {
				return gw.Debate(cmd.Context(), topic)
			}

			rt, err := gw.Init()
			if err != nil {
				return err
			}
			defer rt.Close()
			sum, err := tui.RunDebate(cmd.Context(), rt.Debate, topic)
			if err != nil {
				return err
			}
			if transcript {
				fmt.Fprint(cmd.OutOrStdout(), sum.Transcript())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show the debate in a full-screen viewer")
	cmd.Flags().BoolVar(&transcript, "transcript", false, "print the markdown transcript when the viewer closes")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat and debate API over HTTP with Server-Sent Events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newGateway(cmd).Init()
			if err != nil {
				return err
			}
			defer rt.Close()
			if addr == "" {
				addr = rt.Config.Server.Addr
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return webui.NewServer(rt).Start(ctx, addr)
			})
			g.Go(func() error {
				<-ctx.Done()
				if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
					return cause
				}
				logger.Info("stopping", "reason", "signal")
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config or CONCLAVE_ADDR)")
	return cmd
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the routing table and which credentials are configured",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := newGateway(cmd).LoadConfig()
			if err != nil {
				return err
			}
			return printRoutes(cmd.OutOrStdout(), cfg, config.ResolveCredentials(cfg, os.LookupEnv))
		},
	}
}

func printRoutes(w io.Writer, cfg *config.Config, creds config.Credentials) error {
	routing, err := config.NewRouting(cfg)
	if err != nil {
		return err
	}
	auto := map[string]int{}
	for i, m := range routing.AutoRoute() {
		auto[m] = i + 1
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tVENDOR\tNATIVE\tCREDENTIAL\tKEY\tAUTO-ROUTE")
	for _, r := range routing.Routes() {
		key := "missing"
		if creds.Has(r.CredentialKey) {
			key = "set"
		}
		order := "-"
		if n, ok := auto[r.Model]; ok {
			order = fmt.Sprint(n)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Model, r.Vendor, r.Native, r.CredentialKey, key, order)
	}
	agg := routing.Aggregator()
	aggKey := "missing"
	if creds.Has(agg.Credential) {
		aggKey = "set"
	}
	fmt.Fprintf(tw, "(aggregator)\t%s\t%s\t%s\t%s\t-\n", config.VendorAggregator, agg.BaseURL, agg.Credential, aggKey)
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\ndefault: %s\ndebate: %s, synthesis by %s\n",
		cfg.DefaultModel, strings.Join(cfg.Debate.Roster, ", "), cfg.Debate.Synthesizer)
	return nil
}

func initCmd() *cobra.Command {
	var (
		plain   bool
		envPath string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Pick a default model and store API keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := newGateway(cmd).LoadConfig()
			if err != nil {
				return err
			}

			var setup onboarding.Setup
			if plain {
				setup, err = onboarding.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout()).Run(cfg)
			} else {
				setup, err = onboarding.RunTUI(cfg)
			}
			if err != nil {
				return err
			}

			if err := onboarding.Save(setup, cfg, flags.configPath, envPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s. Run `conclave chat` to start.\n", flags.configPath, envPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "ask questions line by line instead of the full-screen form")
	cmd.Flags().StringVar(&envPath, "env-file", ".env", "where to write API keys")
	return cmd
}
