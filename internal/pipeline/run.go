package pipeline

import (
	"time"

	"flight-price-alerts/internal/alerting"
	"flight-price-alerts/internal/domain"
	"flight-price-alerts/internal/evaluator"
)

// Step names, in execution order.
const (
	StepFetch   = "fetch_data"
	StepPrepare = "prepare_price_alerts"
	StepIndex   = "index_data"
	StepGate    = "should_continue"
	StepRender  = "generate_email_content"
	StepSend    = "send_email"
)

// Hand-off slot names.
const (
	SlotFetched      = "fetched_data"
	SlotAllRows      = "all_rows"
	SlotRowsToNotify = "rows_to_notify"
	SlotReturnValue  = "return_value"
	SlotSummary      = "summary"
)

// summaryStep holds the run summary in the hand-off store.
const summaryStep = "run"

// Status is the state of a step or a whole run.
type Status string

const (
	StatusPending        Status = "pending"
	StatusSuccess        Status = "success"
	StatusFailed         Status = "failed"
	StatusUpstreamFailed Status = "upstream_failed"
	StatusSkipped        Status = "skipped"
)

// StepResult records how one step ended.
type StepResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Run is the typed context threaded through one pipeline execution. Each step
// reads what earlier steps left here.
type Run struct {
	ID          string       `json:"id"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	Status      Status       `json:"status"`
	Steps       []StepResult `json:"steps"`

	Fetched    []domain.RawResult   `json:"-"`
	Evaluation evaluator.Evaluation `json:"-"`
	Alert      *alerting.Alert      `json:"-"`
}

// Step returns the result for name.
func (r *Run) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

func (r *Run) setStep(res StepResult) {
	for i := range r.Steps {
		if r.Steps[i].Name == res.Name {
			r.Steps[i] = res
			return
		}
	}
	r.Steps = append(r.Steps, res)
}
