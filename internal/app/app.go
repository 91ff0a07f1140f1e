package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"offerline/internal/authgw"
	"offerline/internal/broker"
	"offerline/internal/catalog"
	"offerline/internal/config"
	"offerline/internal/consume"
	"offerline/internal/db"
	"offerline/internal/events"
	"offerline/internal/httpclient"
	"offerline/internal/migrate"
	"offerline/internal/paging"
	"offerline/internal/provider"
)

// App wires every component from one Config. It is built once per process
// and shared by the CLI commands and the HTTP server.
type App struct {
	Config    *config.Config
	Logger    *log.Logger
	Connector *httpclient.Client
	Broker    broker.Client
	Walker    catalog.Walker
	Provider  *provider.Client
	Gateway   *authgw.Gateway
	// Journal is nil unless journal.enabled is set.
	Journal *sql.DB
}

// Options tune New. The zero value opens the journal from the workspace
// configured in Config.
type Options struct {
	// MemoryJournal keeps the journal in memory; used by tests.
	MemoryJournal bool
}

// New builds the application. The journal, when enabled, is opened and
// migrated before New returns.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	connector := httpclient.New(httpclient.Options{
		Timeout:       cfg.Connector.Timeout,
		VerifyTLS:     cfg.Connector.VerifyTLS,
		Authorization: cfg.Connector.Authorization,
	})
	ui := httpclient.New(httpclient.Options{
		Timeout:       cfg.ProviderUI.Timeout,
		VerifyTLS:     cfg.Connector.VerifyTLS,
		Authorization: cfg.ProviderUI.Authorization,
	})
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Connector: connector,
		Broker: broker.Client{
			HTTP:      connector,
			Endpoint:  cfg.BrokerEndpoint(),
			Recipient: cfg.Broker.Recipient,
			Logger:    logger,
		},
		Walker: catalog.Walker{
			Fetcher:     paging.Fetcher{Client: connector, PageSize: cfg.Connector.PageSize},
			ProxyPrefix: cfg.Connector.ProxyPrefix,
			Logger:      logger,
		},
		Provider: &provider.Client{
			HTTP:       connector,
			UI:         ui,
			PublicBase: cfg.Connector.PublicBase,
			UIBases:    provider.Bases(cfg.ProviderUI.Base, cfg.Connector.PublicBase),
			Logger:     logger,
		},
		Gateway: authgw.New(authgw.Config{
			Enforce:         cfg.AuthService.Enforce,
			BaseURL:         cfg.AuthService.BaseURL,
			Timeout:         cfg.AuthService.Timeout,
			VerifySSL:       cfg.AuthService.VerifySSL,
			SessionCookie:   cfg.AuthService.SessionCookie,
			Allowlist:       cfg.AuthService.Allowlist,
			ProfileEndpoint: cfg.AuthService.ProfileEndpoint,
			LoginPage:       cfg.AuthService.LoginPage,
			LogoutPage:      cfg.AuthService.LogoutPage,
			LogoutRedirect:  cfg.AuthService.LogoutRedirect,
			Logger:          logger,
		}),
	}
	if cfg.Journal.Enabled {
		conn, err := db.Open(db.Config{Workspace: cfg.Journal.Workspace, Memory: opts.MemoryJournal})
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		applied, err := migrate.Migrate(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate journal: %w", err)
		}
		version, err := migrate.Version(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("journal schema version: %w", err)
		}
		path := db.Path(cfg.Journal.Workspace)
		if opts.MemoryJournal {
			path = ":memory:"
		}
		logger.Printf("journal: ready path=%s schema=%d applied=%d", path, version, applied)
		a.Journal = conn
	}
	return a, nil
}

// Close releases the journal.
func (a *App) Close() error {
	if a.Journal == nil {
		return nil
	}
	return a.Journal.Close()
}

// Observer logs every stage and, with a journal, records it.
func (a *App) Observer() consume.Observer {
	obs := consume.Observers{consume.LogObserver{Logger: a.Logger}}
	if a.Journal != nil {
		obs = append(obs, events.Recorder{Writer: events.Writer{DB: a.Journal}, Logger: a.Logger})
	}
	return obs
}

// Orchestrator returns a pipeline bound to the connector base. Each call
// yields an independent orchestrator; none of them share run state.
func (a *App) Orchestrator() *consume.Orchestrator {
	return consume.New(a.Connector, a.Config.Connector.Base, a.Observer())
}

// Consume resolves ref and runs the pipeline on it.
func (a *App) Consume(ctx context.Context, ref string) (*consume.Result, error) {
	return a.Orchestrator().Run(ctx, a.ResolveOfferURL(ref))
}

// Offers is the aggregated listing plus the broker outcome it came from.
type Offers struct {
	Listing catalog.Listing
	Broker  broker.GraphResult
}

// ListOffers queries the broker and walks every connector it returned. A
// failed broker query is not an error: the listing is empty and the failure
// is carried in Broker.
func (a *App) ListOffers(ctx context.Context) Offers {
	res := a.Broker.GetAllConnectors(ctx)
	if res.Failed() {
		a.Logger.Printf("app: broker query failed status=%d err=%s", res.StatusCode, res.Error)
		return Offers{Listing: catalog.Listing{Offers: []catalog.OfferSummary{}}, Broker: res}
	}
	return Offers{Listing: a.Walker.ListAllOffers(ctx, res.Connectors()), Broker: res}
}

// ResolveOfferURL accepts an absolute offer URL or a bare offer id.
func (a *App) ResolveOfferURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return a.Provider.OfferURL(ref)
}

// RecentEvents reads the journal; it fails when the journal is disabled.
func (a *App) RecentEvents(ctx context.Context, limit int, runID string) ([]events.Event, error) {
	if a.Journal == nil {
		return nil, ErrJournalDisabled
	}
	return events.Reader{DB: a.Journal}.Latest(ctx, limit, runID)
}

// RecentRuns summarizes the latest runs in the journal.
func (a *App) RecentRuns(ctx context.Context, limit int) ([]events.Run, error) {
	if a.Journal == nil {
		return nil, ErrJournalDisabled
	}
	return events.Reader{DB: a.Journal}.Runs(ctx, limit)
}
