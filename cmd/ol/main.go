package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"offerline/internal/app"
	"offerline/internal/config"
	"offerline/internal/consume"
	"offerline/internal/server"
)

// previewBytes bounds the artifact preview printed by consume.
const previewBytes = 500

var rootCmd = &cobra.Command{
	Use:   "ol",
	Short: "Offerline CLI",
	Long: `Offerline browses the offers of an IDS data space and consumes them.
Core concepts:
- Connector: your consumer connector; every request goes through it with its credentials.
- Broker: the index of connectors, queried through the connector.
- Catalog/offer: what a provider connector publishes; 'ol offers list' walks them all.
- Consumption: discover, catalog, description, contract, agreement and data, in that order; the first failing stage ends the run.
- Journal: optional sqlite log of stage events, view with 'ol log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default ./offerline.yml when present)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(connectorsCmd())
	rootCmd.AddCommand(offersCmd())
	rootCmd.AddCommand(consumeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP front end",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				handler, err := server.New(server.Config{App: a})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Offerline on http://%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func connectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List connectors indexed by the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res := a.Broker.GetAllConnectors(ctx)
				if res.Failed() {
					return fmt.Errorf("broker query failed (status %d): %s", res.StatusCode, res.Error)
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Maintainer", "Endpoints"})
				for _, c := range res.Connectors() {
					tw.AppendRow(table.Row{c.ID, c.Title, c.Maintainer, strings.Join(c.SameAs, "\n")})
				}
				tw.SetCaption("broker outcome: %s", res.Outcome)
				tw.Render()
				return nil
			})
		},
	}
}

func offersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "offers", Short: "Browse offers"}
	cmd.AddCommand(offersListCmd())
	cmd.AddCommand(offersShowCmd())
	return cmd
}

func offersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the offers of every reachable connector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res := a.ListOffers(ctx)
				if res.Broker.Failed() {
					return fmt.Errorf("broker query failed (status %d): %s", res.Broker.StatusCode, res.Broker.Error)
				}
				if viper.GetBool("json") {
					return printJSON(res.Listing)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Offer ID", "Title", "Catalog", "Connector", "Keywords"})
				for _, o := range res.Listing.Offers {
					tw.AppendRow(table.Row{o.OfferID, o.Title, o.CatalogTitle, o.ConnectorID, strings.Join(o.Keywords, ", ")})
				}
				tw.Render()
				for _, f := range res.Listing.Failures {
					fmt.Fprintf(os.Stderr, "skipped %s (%s): %s\n", f.URL, f.ConnectorID, f.Error)
				}
				return nil
			})
		},
	}
}

func offersShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <offer-id>",
		Short: "Show an offer with its policy and provider extras",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				detail, err := a.Provider.GetOffer(ctx, args[0])
				if err != nil {
					return err
				}
				extras := a.Provider.Extras(ctx, args[0])
				if viper.GetBool("json") {
					return printJSON(map[string]any{"offer": detail, "extras": extras})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRow(table.Row{"ID", detail.OfferID})
				tw.AppendRow(table.Row{"Title", detail.Title()})
				tw.AppendRow(table.Row{"URL", detail.OfferURL})
				tw.AppendRow(table.Row{"Policy", detail.PolicySummary})
				tw.AppendRow(table.Row{"Extras", extras.Status})
				if extras.DataModel != nil {
					tw.AppendRow(table.Row{"Data model", fmt.Sprint(extras.DataModel)})
				}
				if extras.PurposeOfUse != nil {
					tw.AppendRow(table.Row{"Purpose of use", fmt.Sprint(extras.PurposeOfUse)})
				}
				tw.Render()
				fmt.Println(detail.PolicyRaw)
				return nil
			})
		},
	}
}

func consumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume <offer-url|offer-id>",
		Short: "Run the consumption pipeline for one offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Consume(ctx, args[0])
				var se *consume.StageError
				if errors.As(err, &se) {
					if viper.GetBool("json") {
						_ = printJSON(map[string]any{"stage": se.Stage, "kind": se.Kind, "completed": se.Completed, "error": se.Err.Error()})
					} else {
						printSteps(se.Completed, se)
					}
					return err
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"run_id":        res.RunID,
						"offer_id":      res.OfferID,
						"catalog_url":   res.CatalogURL,
						"action":        res.Action,
						"artifact_id":   res.ArtifactID,
						"agreement_url": res.AgreementURL,
						"artifact_url":  res.ArtifactURL,
						"artifact":      res.Artifact,
						"preview":       res.Artifact.Preview(previewBytes),
						"steps":         res.Steps,
					})
				}
				printSteps(res.Steps, nil)
				fmt.Printf("run %s: artifact %s status %d (%s)\n", res.RunID, res.ArtifactURL, res.Artifact.StatusCode, res.Artifact.ContentType())
				fmt.Println(res.Artifact.Preview(previewBytes))
				return nil
			})
		},
	}
}

func printSteps(steps []consume.StepReport, failed *consume.StageError) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Stage", "Step", "Status", "Duration", "Message"})
	for _, s := range steps {
		tw.AppendRow(table.Row{s.Stage, s.Label, s.Status, s.Duration.Round(time.Millisecond), s.Message})
	}
	if failed != nil {
		tw.AppendRow(table.Row{failed.Stage, failed.Stage.Label(), "failed", "", failed.Err.Error()})
		for _, st := range consume.Stages[len(steps)+1:] {
			tw.AppendRow(table.Row{st, st.Label(), "skipped", "", ""})
		}
	}
	tw.Render()
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Consumption journal"}
	l.AddCommand(logTailCmd())
	l.AddCommand(logRunsCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var runID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail stage events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.RecentEvents(ctx, n, runID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Run", "Offer", "Stage", "Outcome", "ms", "Error"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.TS, e.RunID, e.OfferID, e.Stage, e.Outcome, e.DurationMS, e.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&runID, "run", "", "only events of this run")
	return cmd
}

func logRunsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Summarize recent consumption runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				runs, err := a.RecentRuns(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Run", "Offer", "Started", "Finished", "Stages", "ms", "Failed"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.RunID, r.OfferID, r.StartedAt, r.FinishedAt, r.Stages, r.DurationMS, r.FailedStage})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of runs")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long:  "Configuration comes from offerline.yml, OL_* environment variables and the legacy unprefixed names (CONNECTOR_BASE, BROKER, AUTH_SERVICE_*...).",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config with credentials masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := cfg.Redacted()
			if viper.GetBool("json") {
				return printJSON(redacted)
			}
			out, err := redacted.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file or the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				_, err = loadConfig()
			}
			if viper.GetBool("json") {
				if perr := printJSON(validationReport(err)); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file to validate on its own")
	return cmd
}

// --- helpers ---

func validationReport(err error) map[string]any {
	out := map[string]any{"ok": err == nil}
	if err != nil {
		out["error"] = err.Error()
	}
	return out
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.New(), viper.GetString("config"))
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, log.New(os.Stderr, "", log.LstdFlags), app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
