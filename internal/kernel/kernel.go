package kernel

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is a point-in-time snapshot returned by GetStatus.
type Status struct {
	Running       bool
	FPS           int
	Uptime        time.Duration
	TotalTicks    uint64
	ObjectCount   int
	CountsByState map[State]int
	ProcessStats  *ProcessStats // best-effort, nil if sampling failed or was never attempted
}

// Config configures a Kernel.
type Config struct {
	// FPS is the tick cadence, 1-120 Hz. Defaults to 30 if zero.
	FPS int
	// MaxErrors is the number of OnTick faults an object may accumulate
	// before the kernel forces it to Destroying. The count is cumulative: a
	// successful tick does not reset it. Defaults to 3.
	MaxErrors int
	Log       zerolog.Logger
	// FaultSink, if set, receives every isolated Fault and FatalFault for
	// out-of-band observability. Never called on the object's behalf to
	// recover it — faults are always isolated regardless.
	FaultSink func(error)
}

// Kernel is a fixed-cadence, single-threaded-cooperative scheduler. Multiple
// kernels may coexist (e.g. in tests); production wiring uses exactly one.
type Kernel struct {
	mu sync.Mutex

	nextID  uint64
	objects map[ObjectID]GameObject
	state   map[ObjectID]State

	ready      *StateContainer
	active     *StateContainer
	paused     *StateContainer
	destroying *StateContainer
	destroyed  *StateContainer

	errorCounts map[ObjectID]int

	fps          int
	tickInterval time.Duration
	maxErrors    int

	running   bool
	startedAt time.Time
	totalTicks uint64

	stopCh   chan struct{}
	stoppedCh chan struct{}

	dispatchMu    sync.Mutex
	dispatchQueue []func()

	log       zerolog.Logger
	faultSink func(error)
}

// New creates a Kernel with the given configuration, clamping FPS to
// [1, 120] and defaulting MaxErrors to 3 if unset.
func New(cfg Config) *Kernel {
	fps := cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	if fps > 120 {
		fps = 120
	}
	maxErrors := cfg.MaxErrors
	if maxErrors <= 0 {
		maxErrors = 3
	}

	return &Kernel{
		objects:     make(map[ObjectID]GameObject),
		state:       make(map[ObjectID]State),
		ready:       NewStateContainer(),
		active:      NewStateContainer(),
		paused:      NewStateContainer(),
		destroying:  NewStateContainer(),
		destroyed:   NewStateContainer(),
		errorCounts: make(map[ObjectID]int),
		fps:         fps,
		tickInterval: time.Duration(float64(time.Second) / float64(fps)),
		maxErrors:   maxErrors,
		log:         cfg.Log.With().Str("component", "kernel").Logger(),
		faultSink:   cfg.FaultSink,
	}
}

// Factory constructs a GameObject once the kernel has reserved its id.
type Factory func(id ObjectID) GameObject

// CreateObject instantiates an object in Ready, assigns it a fresh id, and
// enrolls it in the Ready container. Fails if the kernel is stopped.
func (k *Kernel) CreateObject(factory Factory) (ObjectID, GameObject, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.running {
		return 0, nil, fmt.Errorf("kernel: cannot create object, kernel is stopped")
	}

	k.nextID++
	id := ObjectID(k.nextID)
	obj := factory(id)

	k.objects[id] = obj
	k.state[id] = StateReady
	k.ready.Add(id, obj)

	return id, obj, nil
}

// DestroyObject transitions id to Destroying if it is in
// {Active, Paused, Ready}. Idempotent for {Destroying, Destroyed}. Fails for
// unknown ids.
func (k *Kernel) DestroyObject(id ObjectID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	st, ok := k.state[id]
	if !ok {
		return fmt.Errorf("kernel: unknown object id %d", id)
	}

	switch st {
	case StateDestroying, StateDestroyed:
		return nil
	case StateReady:
		k.ready.Remove(id)
	case StateActive:
		k.active.Remove(id)
	case StatePaused:
		k.paused.Remove(id)
	default:
		return FatalFault{ObjectID: id, Cause: fmt.Errorf("illegal state %s for destroy", st)}
	}

	k.state[id] = StateDestroying
	k.destroying.Add(id, k.objects[id])
	return nil
}

// PauseObject transitions id from Active to Paused. Any other current state
// is an error.
func (k *Kernel) PauseObject(id ObjectID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	st, ok := k.state[id]
	if !ok {
		return fmt.Errorf("kernel: unknown object id %d", id)
	}
	if st != StateActive {
		return fmt.Errorf("kernel: cannot pause object %d in state %s", id, st)
	}

	k.active.Remove(id)
	k.paused.Add(id, k.objects[id])
	k.state[id] = StatePaused
	return nil
}

// ResumeObject transitions id from Paused to Active. Any other current
// state is an error.
func (k *Kernel) ResumeObject(id ObjectID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	st, ok := k.state[id]
	if !ok {
		return fmt.Errorf("kernel: unknown object id %d", id)
	}
	if st != StatePaused {
		return fmt.Errorf("kernel: cannot resume object %d in state %s", id, st)
	}

	k.paused.Remove(id)
	k.active.Add(id, k.objects[id])
	k.state[id] = StateActive
	return nil
}

// StateOf returns the current state of id, and whether it is known to the
// kernel at all. Entities use this to observe a parent's Destroying state by
// id.
func (k *Kernel) StateOf(id ObjectID) (State, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	st, ok := k.state[id]
	return st, ok
}

// Start launches the tick loop in a background goroutine. Calling Start on
// an already-running kernel is a no-op.
func (k *Kernel) Start() {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		return
	}
	k.running = true
	k.startedAt = time.Now()
	k.stopCh = make(chan struct{})
	k.stoppedCh = make(chan struct{})
	k.mu.Unlock()

	k.log.Info().Int("fps", k.fps).Msg("lifecycle kernel started")
	go k.loop()
}

// Stop halts the tick loop. The in-flight tick is allowed to finish; then a
// final pass through Destroying objects runs synchronously so every
// OnDestroy call is guaranteed to execute.
func (k *Kernel) Stop() {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return
	}
	stopCh := k.stopCh
	stoppedCh := k.stoppedCh
	k.mu.Unlock()

	close(stopCh)
	<-stoppedCh

	k.mu.Lock()
	k.running = false
	k.mu.Unlock()

	k.drainDispatch()
	k.runDestroyPhase()
	k.log.Info().Msg("lifecycle kernel stopped")
}

// Dispatch enqueues fn to run on the kernel's own goroutine at the start of
// the next tick. This is the safe point where worker goroutines hand off
// construct messages: the worker never touches a live object itself, the
// kernel drains the queue single-threadedly before any lifecycle phase
// runs. Functions still queued when Stop is called are drained by Stop's
// final pass; functions queued after Stop returns run only if the kernel is
// started again.
func (k *Kernel) Dispatch(fn func()) {
	k.dispatchMu.Lock()
	k.dispatchQueue = append(k.dispatchQueue, fn)
	k.dispatchMu.Unlock()
}

// drainDispatch runs every queued dispatch function, in submission order, on
// the calling goroutine.
func (k *Kernel) drainDispatch() {
	k.dispatchMu.Lock()
	queue := k.dispatchQueue
	k.dispatchQueue = nil
	k.dispatchMu.Unlock()

	for _, fn := range queue {
		fn()
	}
}

// GetStatus returns a snapshot of kernel health.
func (k *Kernel) GetStatus() Status {
	k.mu.Lock()
	running := k.running
	uptime := time.Duration(0)
	if running {
		uptime = time.Since(k.startedAt)
	}
	totalTicks := k.totalTicks
	objectCount := len(k.objects)
	counts := map[State]int{
		StateReady:      k.ready.Count(),
		StateActive:      k.active.Count(),
		StatePaused:      k.paused.Count(),
		StateDestroying:  k.destroying.Count(),
		StateDestroyed:   k.destroyed.Count(),
	}
	fps := k.fps
	k.mu.Unlock()

	return Status{
		Running:       running,
		FPS:           fps,
		Uptime:        uptime,
		TotalTicks:    totalTicks,
		ObjectCount:   objectCount,
		CountsByState: counts,
		ProcessStats:  sampleProcessStats(k.log),
	}
}

// loop runs the fixed-cadence tick driver until Stop is signalled.
func (k *Kernel) loop() {
	defer close(k.stoppedCh)

	ticker := time.NewTicker(k.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-k.stopCh:
			return
		case <-ticker.C:
			k.tick()
		}
	}
}

// tick runs one Destroy/Begin/Advance pass, after draining any
// dispatched construct messages. Destroy runs first
// so that an object moved to Destroying during this tick's own Advance
// phase is left visibly Destroying for the rest of the tick, and only
// drained (OnDestroy called) at the start of the *next* tick — one full
// tick of observable Destroying state before retirement.
func (k *Kernel) tick() {
	deltaSeconds := 1.0 / float64(k.fps)

	k.drainDispatch()
	k.runDestroyPhase()
	k.runBeginPhase()
	k.runAdvancePhase(deltaSeconds)

	k.mu.Lock()
	k.totalTicks++
	k.mu.Unlock()
}

func (k *Kernel) runBeginPhase() {
	k.ready.ForEach(func(id ObjectID, obj GameObject) {
		err := k.invoke(id, PhaseBegin, obj.OnBeginPlay)

		k.mu.Lock()
		defer k.mu.Unlock()

		k.ready.Remove(id)
		if err != nil {
			k.state[id] = StateDestroying
			k.destroying.Add(id, obj)
			return
		}
		k.state[id] = StateActive
		k.active.Add(id, obj)
	})
}

func (k *Kernel) runAdvancePhase(deltaSeconds float64) {
	k.active.ForEach(func(id ObjectID, obj GameObject) {
		err := k.invoke(id, PhaseAdvance, func() error { return obj.OnTick(deltaSeconds) })
		if err == nil {
			return
		}

		k.mu.Lock()
		defer k.mu.Unlock()

		k.errorCounts[id]++
		if k.errorCounts[id] >= k.maxErrors {
			k.active.Remove(id)
			k.state[id] = StateDestroying
			k.destroying.Add(id, obj)
			delete(k.errorCounts, id)
		}
	})
}

func (k *Kernel) runDestroyPhase() {
	k.destroying.ForEach(func(id ObjectID, obj GameObject) {
		_ = k.invoke(id, PhaseDestroy, obj.OnDestroy) // forced cleanup regardless of outcome

		k.mu.Lock()
		defer k.mu.Unlock()

		k.destroying.Remove(id)
		k.state[id] = StateDestroyed
		k.destroyed.Add(id, obj)
		delete(k.errorCounts, id)
	})
}

// invoke wraps a lifecycle call so a panic or error cannot escape the tick.
// Errors are reported through the fault sink as Faults; panics are reported
// as FatalFaults.
func (k *Kernel) invoke(id ObjectID, phase Phase, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fatal := FatalFault{ObjectID: id, Phase: phase, Cause: fmt.Errorf("panic: %v", r)}
			k.log.Error().Err(fatal).Msg("lifecycle method panicked")
			if k.faultSink != nil {
				k.faultSink(fatal)
			}
			err = fatal
		}
	}()

	if callErr := fn(); callErr != nil {
		fault := Fault{ObjectID: id, Phase: phase, Cause: callErr}
		k.log.Warn().Err(fault).Msg("lifecycle method faulted")
		if k.faultSink != nil {
			k.faultSink(fault)
		}
		return fault
	}
	return nil
}
