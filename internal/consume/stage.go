package consume

import (
	"fmt"
	"time"
)

// Stage is one network round-trip of the consumption pipeline.
type Stage string

const (
	StageDiscover    Stage = "discover"
	StageCatalog     Stage = "catalog"
	StageDescription Stage = "description"
	StageContract    Stage = "contract"
	StageAgreement   Stage = "agreement"
	StageData        Stage = "data"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageDiscover, StageCatalog, StageDescription, StageContract, StageAgreement, StageData}

// Kind names the failure class of a stage.
type Kind string

const (
	OfferNotFound             Kind = "OfferNotFound"
	CatalogResolutionFailed   Kind = "CatalogResolutionFailed"
	DescriptionMalformed      Kind = "DescriptionMalformed"
	ContractRejected          Kind = "ContractRejected"
	AgreementResolutionFailed Kind = "AgreementResolutionFailed"
	ArtifactFetchFailed       Kind = "ArtifactFetchFailed"
)

var stageInfo = map[Stage]struct {
	kind    Kind
	label   string
	message string
}{
	StageDiscover:    {OfferNotFound, "Offer discovery", "Offer metadata retrieved from the provider."},
	StageCatalog:     {CatalogResolutionFailed, "Catalog lookup", "Matched the offer to its catalog entry."},
	StageDescription: {DescriptionMalformed, "Description request", "Gathered IDS contract details."},
	StageContract:    {ContractRejected, "Contract negotiation", "Confirmed usage agreement with the provider."},
	StageAgreement:   {AgreementResolutionFailed, "Artifact agreement", "Located the artifact endpoint."},
	StageData:        {ArtifactFetchFailed, "Artifact retrieval", "Fetched the preview of the shared data."},
}

// Kind returns the failure class reported when s fails.
func (s Stage) Kind() Kind { return stageInfo[s].kind }

// Label is the human name of the stage.
func (s Stage) Label() string { return stageInfo[s].label }

// StageError is the first failure of a run, tagged with its stage. Err is the
// underlying *httpclient.NetworkError, *httpclient.StatusError or
// *httpclient.MalformedError.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
	// Completed holds the stages that succeeded before this one.
	Completed []StepReport
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: stage.Kind(), Err: err}
}

// StepReport summarizes one finished stage.
type StepReport struct {
	Stage    Stage         `json:"stage"`
	Label    string        `json:"label"`
	Status   string        `json:"status"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration_ns"`
}

func completedStep(stage Stage, d time.Duration) StepReport {
	return StepReport{
		Stage:    stage,
		Label:    stage.Label(),
		Status:   "completed",
		Message:  stageInfo[stage].message,
		Duration: d,
	}
}
