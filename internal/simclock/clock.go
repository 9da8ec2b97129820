// Package simclock implements the per-exchange virtual clock: an
// accelerated, calendar- and interval-gated time source that advances only
// while its owning exchange is within a trading window.
package simclock

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// TimeState is the human-facing classification of where virtualTime
// currently sits relative to the configured trading day.
type TimeState int

const (
	PreMarket TimeState = iota
	Morning
	LunchBreak
	Afternoon
	PostMarket
	NonTradingDay
	ConfiguredNonTrading
)

func (s TimeState) String() string {
	switch s {
	case PreMarket:
		return "PreMarket"
	case Morning:
		return "Morning"
	case LunchBreak:
		return "LunchBreak"
	case Afternoon:
		return "Afternoon"
	case PostMarket:
		return "PostMarket"
	case NonTradingDay:
		return "NonTradingDay"
	case ConfiguredNonTrading:
		return "ConfiguredNonTrading"
	default:
		return "Unknown"
	}
}

// Window is a half-open intraday interval [StartMinute, EndMinute) in
// minutes since local midnight.
type Window struct {
	Name        string
	StartMinute int
	EndMinute   int
}

// defaultTradingWindows is used whenever no tradingIntervals config entry is
// present or the config file could not be parsed.
func defaultTradingWindows() []Window {
	return []Window{
		{Name: "morning", StartMinute: 9*60 + 30, EndMinute: 11*60 + 30},
		{Name: "afternoon", StartMinute: 13 * 60, EndMinute: 15 * 60},
	}
}

// Clock is a single exchange's virtual time source. Clocks are independent
// of one another; there is no process-wide clock.
type Clock struct {
	mu sync.Mutex

	virtualTime  time.Time
	acceleration float64

	tradingWindows    []Window
	nonTradingWindows []Window
}

// Config seeds a new Clock.
type Config struct {
	Acceleration      float64
	TradingWindows    []Window // empty => defaultTradingWindows()
	NonTradingWindows []Window
}

// New constructs a Clock. Acceleration must already be validated by the
// caller (see SetAcceleration for the same range check applied later).
func New(cfg Config) *Clock {
	windows := cfg.TradingWindows
	if len(windows) == 0 {
		windows = defaultTradingWindows()
	}
	sorted := append([]Window(nil), windows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMinute < sorted[j].StartMinute })

	nonTrading := append([]Window(nil), cfg.NonTradingWindows...)
	sort.Slice(nonTrading, func(i, j int) bool { return nonTrading[i].StartMinute < nonTrading[j].StartMinute })

	accel := cfg.Acceleration
	if accel == 0 {
		accel = 1.0
	}

	return &Clock{
		acceleration:      accel,
		tradingWindows:    sorted,
		nonTradingWindows: nonTrading,
	}
}

// Init sets virtualTime to the next occurrence of initialMinuteOfDay on or
// after now, snapping forward across non-trading (weekend) days. Called
// once on exchange BeginPlay.
func (c *Clock) Init(now time.Time, initialMinuteOfDay int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := atMinuteOfDay(now, initialMinuteOfDay)
	if t.Before(now) {
		t = t.AddDate(0, 0, 1)
	}
	for !isTradingDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	c.virtualTime = t
}

// VirtualTime returns the current virtual time.
func (c *Clock) VirtualTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.virtualTime
}

// SetAcceleration validates and applies a new acceleration factor.
func (c *Clock) SetAcceleration(x float64) error {
	if x < 0.1 || x > 1000 {
		return fmt.Errorf("simclock: acceleration must be in [0.1, 1000], got %v", x)
	}
	c.mu.Lock()
	c.acceleration = x
	c.mu.Unlock()
	return nil
}

// Advance runs one clock step for realDeltaSeconds of wall-clock elapsed
// time. No-op if the clock is currently gated off.
func (c *Clock) Advance(realDeltaSeconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isOpenLocked(c.virtualTime) {
		return
	}

	deltaMs := realDeltaSeconds * c.acceleration * 1000
	candidate := c.virtualTime.Add(time.Duration(deltaMs) * time.Millisecond)

	window, ok := c.currentWindowLocked(c.virtualTime)
	if !ok {
		// Shouldn't happen given isOpenLocked just returned true, but guard
		// against a nonTradingWindow carving up the exact instant.
		c.virtualTime = candidate
		return
	}

	windowEnd := atMinuteOfDay(c.virtualTime, window.EndMinute)
	if candidate.Before(windowEnd) {
		c.virtualTime = candidate
		return
	}

	c.virtualTime = c.nextWindowStartLocked(c.virtualTime)
}

// GetTimeState classifies the current virtual time.
func (c *Clock) GetTimeState() TimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeStateLocked(c.virtualTime)
}

// IsTrading reports whether the clock is currently within an open trading
// window (the same gate Advance uses to decide whether to move time).
func (c *Clock) IsTrading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpenLocked(c.virtualTime)
}

func (c *Clock) timeStateLocked(t time.Time) TimeState {
	if !isTradingDay(t) {
		return NonTradingDay
	}
	for _, w := range c.nonTradingWindows {
		if inWindow(t, w) {
			return ConfiguredNonTrading
		}
	}

	minute := minuteOfDay(t)
	windows := c.tradingWindows
	if len(windows) == 0 {
		return PostMarket
	}
	if minute < windows[0].StartMinute {
		return PreMarket
	}
	for i, w := range windows {
		if minute >= w.StartMinute && minute < w.EndMinute {
			if i == 0 {
				return Morning
			}
			return Afternoon
		}
		if i+1 < len(windows) && minute >= w.EndMinute && minute < windows[i+1].StartMinute {
			return LunchBreak
		}
	}
	return PostMarket
}

// isOpenLocked reports whether the clock should advance at time t: a
// trading-calendar day, inside a trading window, and outside every
// configured non-trading window.
func (c *Clock) isOpenLocked(t time.Time) bool {
	if !isTradingDay(t) {
		return false
	}
	if _, ok := c.currentWindowLocked(t); !ok {
		return false
	}
	for _, w := range c.nonTradingWindows {
		if inWindow(t, w) {
			return false
		}
	}
	return true
}

func (c *Clock) currentWindowLocked(t time.Time) (Window, bool) {
	for _, w := range c.tradingWindows {
		if inWindow(t, w) {
			return w, true
		}
	}
	return Window{}, false
}

// nextWindowStartLocked finds the next trading-window start strictly after
// t: the next window later the same day if one exists, else the first
// window of the next trading day.
func (c *Clock) nextWindowStartLocked(t time.Time) time.Time {
	minute := minuteOfDay(t)
	for _, w := range c.tradingWindows {
		if w.StartMinute > minute {
			return atMinuteOfDay(t, w.StartMinute)
		}
	}

	next := t.AddDate(0, 0, 1)
	for !isTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	firstStart := c.tradingWindows[0].StartMinute
	return atMinuteOfDay(next, firstStart)
}

func isTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func inWindow(t time.Time, w Window) bool {
	m := minuteOfDay(t)
	return m >= w.StartMinute && m < w.EndMinute
}

func atMinuteOfDay(t time.Time, minute int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, t.Location())
}
