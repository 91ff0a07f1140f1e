package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"offerline/internal/app"
	"offerline/internal/authgw"
	"offerline/internal/consume"
	"offerline/internal/httpclient"
)

// Config for the HTTP front end.
type Config struct {
	App *app.App
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"stage_failed"`
	Message string         `json:"message" example:"contract stage failed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"stage\":\"contract\"}"`
}

type requestKey struct{}

// apiError models the error envelope shared with the auth gateway.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the offer browsing and consumption API
// behind the auth gateway.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("server: app is required")
	}
	a := cfg.App
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", id)
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(a.Gateway.Middleware)
	hcfg := huma.DefaultConfig("Offerline API", "0.1.0")
	hcfg.OpenAPIPath = "" // served by registerOpenAPI
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)

	router.Method(http.MethodGet, "/logout", a.Gateway.LogoutHandler())
	registerDocs(router)
	registerHealth(api)
	registerProfile(api, a.Gateway)
	registerConnectors(api, a)
	registerOffers(api, a)
	registerConsume(api, a)
	registerRuns(api, a)
	registerOpenAPI(router, api)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps pipeline and upstream failures onto the envelope. Upstream
// problems are the connector's fault and surface as 502; a 404 from the
// connector is passed through as not_found.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se *consume.StageError
	if errors.As(err, &se) {
		details := map[string]any{
			"stage":     string(se.Stage),
			"kind":      string(se.Kind),
			"completed": completedStages(se.Completed),
		}
		var status *httpclient.StatusError
		if errors.As(se.Err, &status) {
			details["status_code"] = status.StatusCode
		}
		return newAPIError(http.StatusBadGateway, "stage_failed", se.Error(), details)
	}
	if errors.Is(err, app.ErrJournalDisabled) {
		return newAPIError(http.StatusServiceUnavailable, "journal_disabled", err.Error(), nil)
	}
	var status *httpclient.StatusError
	if errors.As(err, &status) {
		if status.StatusCode == http.StatusNotFound {
			return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
		}
		return newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), map[string]any{"status_code": status.StatusCode})
	}
	var ne *httpclient.NetworkError
	if errors.As(err, &ne) {
		return newAPIError(http.StatusBadGateway, "upstream_unreachable", err.Error(), map[string]any{"url": ne.URL})
	}
	var me *httpclient.MalformedError
	if errors.As(err, &me) {
		return newAPIError(http.StatusBadGateway, "upstream_malformed", err.Error(), map[string]any{"url": me.URL})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func completedStages(steps []consume.StepReport) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, string(s.Stage))
	}
	return out
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "upstream_error"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requestFromContext(ctx context.Context) *http.Request {
	r, _ := ctx.Value(requestKey{}).(*http.Request)
	return r
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

func registerOpenAPI(r chi.Router, api huma.API) {
	var (
		once    sync.Once
		spec    []byte
		specErr error
	)
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyCookieSecurity(oas)
			spec, specErr = json.Marshal(oas)
		})
		if specErr != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(newAPIError(http.StatusInternalServerError, "internal_error", "render openapi: "+specErr.Error(), nil))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

// applyCookieSecurity documents the session cookie on every operation the
// gateway does not allowlist.
func applyCookieSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["sessionCookie"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "cookie",
		Name: authgw.DefaultSessionCookie,
	}
	security := []map[string][]string{{"sessionCookie": {}}}
	oas.Security = security
	open := map[string]bool{}
	for _, p := range authgw.DefaultAllowlist {
		open[p] = true
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML() string {
	return `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Offerline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '/openapi.json',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Requests are authenticated with the auth service session cookie.
    </p>
  </body>
</html>`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// registerProfile serves the caller's identity. The path is allowlisted, so
// the handler verifies the session itself.
func registerProfile(api huma.API, gw *authgw.Gateway) {
	huma.Register(api, huma.Operation{
		OperationID: "profile",
		Method:      http.MethodGet,
		Path:        "/api/auth/profile",
		Summary:     "Current user profile",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		if !gw.Enforcing() {
			return &struct {
				Body ProfileResponse `json:"body"`
			}{Body: ProfileResponse{Profile: authgw.Profile{}}}, nil
		}
		r := requestFromContext(ctx)
		if r == nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "request unavailable", nil)
		}
		profile, err := gw.Verify(r)
		if err != nil {
			reason := "unauthenticated"
			var de *authgw.DeniedError
			if errors.As(err, &de) {
				reason = de.Reason
			}
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "Authentication required.", map[string]any{"reason": reason})
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: ProfileResponse{Enforced: true, UserID: profile.UserID(), Profile: profile}}, nil
	})
}

func registerConnectors(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-connectors",
		Method:      http.MethodGet,
		Path:        "/api/connectors",
		Summary:     "Connectors indexed by the broker",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ConnectorsResponse `json:"body"`
	}, error) {
		res := a.Broker.GetAllConnectors(ctx)
		if res.Failed() {
			details := map[string]any{}
			if res.StatusCode != 0 {
				details["status_code"] = res.StatusCode
			}
			if res.Body != "" {
				details["body"] = res.Body
			}
			return nil, newAPIError(http.StatusBadGateway, "broker_error", res.Error, details)
		}
		return &struct {
			Body ConnectorsResponse `json:"body"`
		}{Body: ConnectorsResponse{
			Outcome:    res.Outcome.String(),
			Connectors: res.Connectors(),
			Result:     res,
		}}, nil
	})
}

func registerOffers(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-offers",
		Method:      http.MethodGet,
		Path:        "/api/offers",
		Summary:     "Offers of every reachable connector",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body OffersResponse `json:"body"`
	}, error) {
		return &struct {
			Body OffersResponse `json:"body"`
		}{Body: offersResponse(a.ListOffers(ctx))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-offer",
		Method:      http.MethodGet,
		Path:        "/api/offers/{offer_id}",
		Summary:     "Offer detail with policy and provider extras",
		Errors:      []int{http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		OfferID string `path:"offer_id"`
	}) (*struct {
		Body OfferDetailResponse `json:"body"`
	}, error) {
		detail, err := a.Provider.GetOffer(ctx, input.OfferID)
		if err != nil {
			return nil, handleError(err)
		}
		extras := a.Provider.Extras(ctx, input.OfferID)
		return &struct {
			Body OfferDetailResponse `json:"body"`
		}{Body: offerDetailResponse(detail, extras)}, nil
	})
}

func registerConsume(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "consume-offer",
		Method:      http.MethodPost,
		Path:        "/api/offers/{offer_id}/consume",
		Summary:     "Negotiate a contract for the offer and fetch its artifact",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		OfferID string `path:"offer_id"`
	}) (*struct {
		Body ConsumeResponse `json:"body"`
	}, error) {
		res, err := a.Consume(ctx, input.OfferID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConsumeResponse `json:"body"`
		}{Body: consumeResponse(res)}, nil
	})
}

func registerRuns(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/api/runs",
		Summary:     "Recent consumption stage events",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Limit int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		RunID string `query:"run_id"`
	}) (*struct {
		Body RunsResponse `json:"body"`
	}, error) {
		items, err := a.RecentEvents(ctx, input.Limit, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunsResponse `json:"body"`
		}{Body: RunsResponse{Items: items}}, nil
	})
}
