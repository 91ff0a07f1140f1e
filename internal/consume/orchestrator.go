package consume

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"offerline/internal/httpclient"
	"offerline/internal/ids"
)

// listingSize is the page size used when only the first entry is needed.
const listingSize = 10

// Orchestrator drives one offer through the six consumption stages against a
// single connector. It holds no per-run state; concurrent runs are
// independent, and each one negotiates a fresh contract with the provider.
type Orchestrator struct {
	HTTP *httpclient.Client
	// Base is the connector base URL; it is normalized to end with '/'.
	Base     string
	Observer Observer
	Now      func() time.Time
	NewRunID func() string
}

// New builds an orchestrator pinned to base.
func New(client *httpclient.Client, base string, obs Observer) *Orchestrator {
	return &Orchestrator{
		HTTP:     client,
		Base:     ids.NormalizeBase(base),
		Observer: obs,
		Now:      time.Now,
		NewRunID: uuid.NewString,
	}
}

// State accumulates what each stage learned. A stage only sets its own field.
type State struct {
	OfferID      string
	Offer        map[string]any
	offerLinks   ids.Links
	CatalogURL   string
	Action       string
	ArtifactID   string
	AgreementURL string
	ArtifactURL  string
	Artifact     *Artifact
}

// Artifact is the raw data response; the payload is not interpreted.
type Artifact struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"headers"`
	Body       []byte      `json:"-"`
}

// ContentType returns the response Content-Type.
func (a *Artifact) ContentType() string {
	return a.Header.Get("Content-Type")
}

// Preview returns at most n bytes of the body as text, cut on a rune
// boundary.
func (a *Artifact) Preview(n int) string {
	if n <= 0 || len(a.Body) <= n {
		return string(a.Body)
	}
	for n > 0 && !utf8.RuneStart(a.Body[n]) {
		n--
	}
	return string(a.Body[:n])
}

// Result is a successful run with every intermediate value.
type Result struct {
	RunID string
	State
	Steps []StepReport
}

type stageFunc func(context.Context, State) (State, error)

func (o *Orchestrator) pipeline() []struct {
	stage Stage
	run   stageFunc
} {
	return []struct {
		stage Stage
		run   stageFunc
	}{
		{StageDiscover, o.Discover},
		{StageCatalog, o.ResolveCatalog},
		{StageDescription, o.Describe},
		{StageContract, o.Contract},
		{StageAgreement, o.ResolveAgreement},
		{StageData, o.FetchArtifact},
	}
}

// Run consumes the offer at offerURL; its last path segment is the offer id.
// Stages run strictly in order and the first failure ends the run as a
// *StageError. Nothing is retried.
func (o *Orchestrator) Run(ctx context.Context, offerURL string) (*Result, error) {
	runID := o.runID()
	st := State{OfferID: ids.LastSegment(offerURL)}
	var steps []StepReport
	for _, s := range o.pipeline() {
		started := o.now()
		next, err := s.run(ctx, st)
		elapsed := o.now().Sub(started)
		o.observe(ctx, StageEvent{RunID: runID, OfferID: st.OfferID, Stage: s.stage, Started: started, Duration: elapsed, Err: err})
		if err != nil {
			se := stageError(s.stage, err)
			se.Completed = steps
			return nil, se
		}
		st = next
		steps = append(steps, completedStep(s.stage, elapsed))
	}
	return &Result{RunID: runID, State: st, Steps: steps}, nil
}

// Discover fetches the offer by id.
func (o *Orchestrator) Discover(ctx context.Context, st State) (State, error) {
	res, err := o.HTTP.Get(ctx, o.Base+"api/offers/"+st.OfferID, nil)
	if err != nil {
		return st, err
	}
	if err := res.CheckStatus(); err != nil {
		return st, err
	}
	var offer map[string]any
	if err := res.DecodeJSON(&offer); err != nil {
		return st, err
	}
	var links struct {
		Links ids.Links `json:"_links"`
	}
	if err := res.DecodeJSON(&links); err != nil {
		return st, err
	}
	st.Offer = offer
	st.offerLinks = links.Links
	return st, nil
}

// ResolveCatalog finds the self link of the first catalog holding the offer.
func (o *Orchestrator) ResolveCatalog(ctx context.Context, st State) (State, error) {
	href := st.offerLinks.Href("catalogs")
	if href == "" {
		return st, httpclient.Missing(o.Base+"api/offers/"+st.OfferID, "_links.catalogs.href")
	}
	listURL, err := o.listingURL(ids.StripTemplate(href))
	if err != nil {
		return st, err
	}
	self, err := o.firstEmbeddedLink(ctx, listURL, "catalogs", "self")
	if err != nil {
		return st, err
	}
	catalogURL, err := ids.RebaseTemplated(o.Base, self)
	if err != nil {
		return st, &httpclient.MalformedError{URL: listURL, Reason: "catalog self href", Err: err}
	}
	st.CatalogURL = catalogURL
	return st, nil
}

// Describe asks the provider for the catalog's self-description and picks the
// permitted action and the artifact id of the first offered resource.
func (o *Orchestrator) Describe(ctx context.Context, st State) (State, error) {
	params := url.Values{
		"recipient": {o.Base + "api/ids/data"},
		"elementId": {st.CatalogURL},
	}
	res, err := o.HTTP.Post(ctx, o.Base+"api/ids/description", params, "", nil)
	if err != nil {
		return st, err
	}
	if err := res.CheckStatus(); err != nil {
		return st, err
	}
	desc, err := ids.ParseDescription(res.Body)
	if err != nil {
		return st, &httpclient.MalformedError{URL: res.URL, Reason: "invalid json", Err: err}
	}
	action, ok := desc.Action()
	if !ok {
		return st, httpclient.Missing(res.URL, "offeredResource[0].contractOffer[0].permission[0].action[0].@id")
	}
	artifact, ok := desc.Artifact()
	if !ok {
		return st, httpclient.Missing(res.URL, "offeredResource[0].representation[0].instance[0].@id")
	}
	st.Action = action
	st.ArtifactID = artifact
	return st, nil
}

// Contract requests a contract for the artifact and returns the agreement's
// artifacts link.
func (o *Orchestrator) Contract(ctx context.Context, st State) (State, error) {
	params := url.Values{
		"recipient":   {o.Base + "api/ids/data"},
		"resourceIds": {o.Base + "api/offers/" + st.OfferID},
		"artifactIds": {st.ArtifactID},
		"download":    {"false"},
	}
	body, err := json.Marshal([]ids.Permission{ids.NewPermission(st.Action, st.ArtifactID)})
	if err != nil {
		return st, err
	}
	res, err := o.HTTP.Post(ctx, o.Base+"api/ids/contract", params, "application/json", body)
	if err != nil {
		return st, err
	}
	if err := res.CheckStatus(); err != nil {
		return st, err
	}
	var agreement struct {
		Links ids.Links `json:"_links"`
	}
	if err := res.DecodeJSON(&agreement); err != nil {
		return st, err
	}
	href := agreement.Links.Href("artifacts")
	if href == "" {
		return st, httpclient.Missing(res.URL, "_links.artifacts.href")
	}
	st.AgreementURL = ids.Absolute(o.Base, ids.CutTemplate(href))
	return st, nil
}

// ResolveAgreement finds the data link of the agreement's first artifact.
func (o *Orchestrator) ResolveAgreement(ctx context.Context, st State) (State, error) {
	listURL, err := o.listingURL(st.AgreementURL)
	if err != nil {
		return st, err
	}
	data, err := o.firstEmbeddedLink(ctx, listURL, "artifacts", "data")
	if err != nil {
		return st, err
	}
	artifactURL, err := ids.RebaseTemplated(o.Base, data)
	if err != nil {
		return st, &httpclient.MalformedError{URL: listURL, Reason: "artifact data href", Err: err}
	}
	st.ArtifactURL = artifactURL
	return st, nil
}

// FetchArtifact downloads the artifact. Any HTTP status is returned to the
// caller; only transport failures fail the stage.
func (o *Orchestrator) FetchArtifact(ctx context.Context, st State) (State, error) {
	res, err := o.HTTP.Get(ctx, st.ArtifactURL, nil)
	if err != nil {
		return st, err
	}
	st.Artifact = &Artifact{StatusCode: res.StatusCode, Header: res.Header, Body: res.Body}
	return st, nil
}

// listingURL rebases href's path under the connector and asks for the first page.
func (o *Orchestrator) listingURL(href string) (string, error) {
	rebased, err := ids.Rebase(o.Base, href)
	if err != nil {
		return "", &httpclient.MalformedError{URL: href, Reason: "unparseable href", Err: err}
	}
	return ids.WithPage(ids.WithTrailingSlash(rebased), 0, listingSize), nil
}

// firstEmbeddedLink GETs a collection and returns _embedded[key][0]._links[rel].href.
func (o *Orchestrator) firstEmbeddedLink(ctx context.Context, listURL, key, rel string) (string, error) {
	res, err := o.HTTP.GetJSON(ctx, listURL)
	if err != nil {
		return "", err
	}
	if err := res.CheckStatus(); err != nil {
		return "", err
	}
	var page ids.Page
	if err := res.DecodeJSON(&page); err != nil {
		return "", err
	}
	items := page.Embedded[key]
	if len(items) == 0 {
		return "", httpclient.Missing(listURL, "_embedded."+key+"[0]")
	}
	var first ids.Resource
	if err := json.Unmarshal(items[0], &first); err != nil {
		return "", &httpclient.MalformedError{URL: listURL, Reason: "_embedded." + key + "[0]", Err: err}
	}
	href := first.Links.Href(rel)
	if href == "" {
		return "", httpclient.Missing(listURL, "_embedded."+key+"[0]._links."+rel+".href")
	}
	return href, nil
}

func (o *Orchestrator) observe(ctx context.Context, evt StageEvent) {
	if o.Observer != nil {
		o.Observer.ObserveStage(ctx, evt)
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) runID() string {
	if o.NewRunID != nil {
		return o.NewRunID()
	}
	return uuid.NewString()
}
