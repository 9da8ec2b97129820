// Package snapshot builds the JSON environment-export document and
// optionally uploads it to S3-compatible object storage. Exports are
// point-in-time snapshots; import is not supported.
package snapshot

import (
	"encoding/json"
	"time"
)

// Export is the top-level environment export document.
type Export struct {
	ExportedAt   time.Time          `json:"exportedAt"`
	Environment  EnvironmentSummary `json:"environment"`
	RuntimeState RuntimeState       `json:"runtimeState"`
}

// EnvironmentSummary identifies the exported environment.
type EnvironmentSummary struct {
	ID           uint64    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	VirtualTime  time.Time `json:"virtualTime"`
	TimeState    string    `json:"timeState"`
}

// RuntimeState captures the live entity state at export time.
type RuntimeState struct {
	Traders            []TraderSnapshot   `json:"traders"`
	Stocks             []StockSnapshot    `json:"stocks"`
	PerformanceMetrics PerformanceMetrics `json:"performanceMetrics"`
	Statistics         Statistics         `json:"statistics"`
}

// TraderSnapshot is one AI trader's exported state.
type TraderSnapshot struct {
	Name           string  `json:"name"`
	InitialCapital float64 `json:"initialCapital"`
	CurrentCapital float64 `json:"currentCapital"`
	RiskProfile    string  `json:"riskProfile"`
}

// StockSnapshot is one stock's exported state.
type StockSnapshot struct {
	Symbol                   string  `json:"symbol"`
	CompanyName              string  `json:"companyName"`
	Category                 string  `json:"category"`
	IssuePrice               float64 `json:"issuePrice"`
	TotalShares              int64   `json:"totalShares"`
	Price                    float64 `json:"price"`
	LastEmittedVirtualMillis int64   `json:"lastEmittedVirtualMillis"`
}

// PerformanceMetrics reports the owning kernel's health at export time.
type PerformanceMetrics struct {
	KernelRunning bool    `json:"kernelRunning"`
	FPS           int     `json:"fps"`
	TotalTicks    uint64  `json:"totalTicks"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	CPUPercent    float64 `json:"cpuPercent,omitempty"`
	RSSBytes      uint64  `json:"rssBytes,omitempty"`
}

// Statistics aggregates simple counts over the environment.
type Statistics struct {
	StockCount  int `json:"stockCount"`
	TraderCount int `json:"traderCount"`
}

// Marshal renders an export as indented JSON.
func Marshal(e Export) ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}
