// Package jobrunner implements the instantiation job runner: a worker pool
// that executes template-read -> object-creation as a staged, cancellable,
// progress-reporting task against a Lifecycle Kernel.
package jobrunner

import (
	"errors"
	"time"
)

// Stage is an InstantiationTask's position in its staged lifecycle.
type Stage string

const (
	StageInitializing     Stage = "Initializing"
	StageReadingTemplates Stage = "ReadingTemplates"
	StageCreatingObjects  Stage = "CreatingObjects"
	StageComplete         Stage = "Complete"
	StageError            Stage = "Error"
)

// Cause identifies why a task reached StageError.
type Cause string

const (
	CauseInvalidInput Cause = "InvalidInput"
	CauseNotFound     Cause = "NotFound"
	CauseTimeout      Cause = "Timeout"
	CauseCancelled    Cause = "Cancelled"
	CauseTransient    Cause = "TransientStoreError"
	CauseInternal     Cause = "Internal"
)

// InstantiationTask is the user-visible record of one environment-creation
// request.
type InstantiationTask struct {
	RequestID  string
	TemplateID string
	UserID     string

	Stage      Stage
	Percentage int
	Message    string
	Details    map[string]interface{}

	StartedAt   time.Time
	CompletedAt *time.Time
	Error       error
	ErrorCause  Cause
}

// ExchangeTemplate, TraderTemplate, and StockTemplate are the shapes
// fetched through TemplateStore.
type ExchangeTemplate struct {
	ID                string
	Name              string
	Description       string
	TraderTemplateIDs []string
	StockTemplateIDs  []string
}

type TraderTemplate struct {
	ID             string
	Name           string
	InitialCapital float64
	RiskProfile    string
}

type StockTemplate struct {
	ID          string
	Symbol      string
	CompanyName string
	Category    string
	IssuePrice  float64
	TotalShares int64
}

// TemplateStore is the persistence collaborator consumed by the job
// runner — the simulation core never implements it.
type TemplateStore interface {
	FetchExchangeTemplate(id string) (ExchangeTemplate, error)
	FetchTraderTemplate(id string) (TraderTemplate, error)
	FetchStockTemplate(id string) (StockTemplate, error)
}

// TransientError marks a TemplateStore failure as retryable.
type TransientError struct{ Cause error }

func (e *TransientError) Error() string { return "transient store error: " + e.Cause.Error() }
func (e *TransientError) Unwrap() error { return e.Cause }

var (
	ErrCancelled        = errors.New("jobrunner: task cancelled")
	ErrTimeout          = errors.New("jobrunner: task timed out")
	ErrUnknownTask      = errors.New("jobrunner: unknown request id")
	ErrNotCancellable   = errors.New("jobrunner: task is already terminal")
	ErrTemplateNotFound = errors.New("jobrunner: template not found")
	ErrPoolStopped      = errors.New("jobrunner: pool is stopped")
)
