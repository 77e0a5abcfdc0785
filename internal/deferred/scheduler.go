package deferred

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/Loggableim/chatcmd/internal/dispatch"
)

// ScheduleInfo is the externally visible state of one schedule.
type ScheduleInfo struct {
	ID        string
	Command   string
	At        time.Time     // one-shot fire time
	Recurring bool
	Interval  time.Duration
	MaxRuns   int // 0 = unlimited
	Runs      int
	Paused    bool
}

// schedule is the internal state. Each running schedule owns one goroutine
// and a stop channel; pausing tears the goroutine down and resuming starts a
// fresh one, so a paused schedule holds no live timer.
type schedule struct {
	info ScheduleInfo
	msg  dispatch.Message
	stop chan struct{}
}

// Scheduler re-submits single command strings through the dispatcher at a
// future time. Safe for concurrent use.
type Scheduler struct {
	mu        sync.Mutex
	runner    Runner
	schedules map[string]*schedule
	log       *clog.Logger
	wg        sync.WaitGroup
}

// NewScheduler creates an empty scheduler.
func NewScheduler(r Runner, logger *clog.Logger) *Scheduler {
	if logger == nil {
		logger = clog.Default()
	}
	return &Scheduler{
		runner:    r,
		schedules: make(map[string]*schedule),
		log:       logger.With("component", "scheduler"),
	}
}

// Once schedules one execution of raw at the given time. A fire time in the
// past executes immediately.
func (s *Scheduler) Once(at time.Time, raw string, msg dispatch.Message) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("command string is required")
	}
	sc := &schedule{
		info: ScheduleInfo{
			ID:      uuid.NewString(),
			Command: raw,
			At:      at,
		},
		msg: msg,
	}
	s.mu.Lock()
	s.schedules[sc.info.ID] = sc
	s.startLocked(sc)
	s.mu.Unlock()
	return sc.info.ID, nil
}

// After schedules one execution of raw after delay.
func (s *Scheduler) After(delay time.Duration, raw string, msg dispatch.Message) (string, error) {
	return s.Once(time.Now().Add(delay), raw, msg)
}

// Every schedules recurring executions of raw on a fixed interval. maxRuns
// of 0 means unlimited; otherwise the schedule removes itself after that
// many firings.
func (s *Scheduler) Every(interval time.Duration, maxRuns int, raw string, msg dispatch.Message) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("command string is required")
	}
	if interval <= 0 {
		return "", fmt.Errorf("interval must be positive")
	}
	sc := &schedule{
		info: ScheduleInfo{
			ID:        uuid.NewString(),
			Command:   raw,
			Recurring: true,
			Interval:  interval,
			MaxRuns:   maxRuns,
		},
		msg: msg,
	}
	s.mu.Lock()
	s.schedules[sc.info.ID] = sc
	s.startLocked(sc)
	s.mu.Unlock()
	return sc.info.ID, nil
}

// startLocked arms the schedule's timer goroutine. Caller holds s.mu.
func (s *Scheduler) startLocked(sc *schedule) {
	sc.stop = make(chan struct{})
	sc.info.Paused = false
	stop := sc.stop
	s.wg.Add(1)

	if sc.info.Recurring {
		go s.runRecurring(sc, stop)
		return
	}
	go s.runOnce(sc, stop)
}

func (s *Scheduler) runOnce(sc *schedule, stop chan struct{}) {
	defer s.wg.Done()
	timer := time.NewTimer(time.Until(sc.info.At))
	defer timer.Stop()

	select {
	case <-stop:
		return
	case <-timer.C:
	}
	s.fire(sc)

	s.mu.Lock()
	// Only self-remove if this goroutine is still the live one; the
	// schedule may have been paused and resumed meanwhile.
	if cur, ok := s.schedules[sc.info.ID]; ok && cur == sc && cur.stop == stop {
		delete(s.schedules, sc.info.ID)
	}
	s.mu.Unlock()
}

func (s *Scheduler) runRecurring(sc *schedule, stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(sc.info.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		runs := s.fire(sc)
		if sc.info.MaxRuns > 0 && runs >= sc.info.MaxRuns {
			s.mu.Lock()
			if cur, ok := s.schedules[sc.info.ID]; ok && cur == sc && cur.stop == stop {
				delete(s.schedules, sc.info.ID)
			}
			s.mu.Unlock()
			return
		}
	}
}

// fire re-submits the command through the dispatcher and returns the updated
// run count.
func (s *Scheduler) fire(sc *schedule) int {
	msg := sc.msg
	msg.Raw = sc.info.Command
	res := s.runner.Dispatch(context.Background(), msg)
	if !res.Success {
		s.log.Warn("scheduled command failed",
			"schedule", sc.info.ID, "command", sc.info.Command, "code", res.ErrorCode)
	}

	s.mu.Lock()
	sc.info.Runs++
	runs := sc.info.Runs
	s.mu.Unlock()
	return runs
}

// Cancel removes a schedule, stopping its timer. Idempotent: cancelling an
// unknown or already-cancelled id reports false and does nothing.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return false
	}
	if sc.stop != nil && !sc.info.Paused {
		close(sc.stop)
	}
	delete(s.schedules, id)
	return true
}

// Pause stops a schedule's timer but keeps its state. Idempotent.
func (s *Scheduler) Pause(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return false
	}
	if sc.info.Paused {
		return true
	}
	close(sc.stop)
	sc.info.Paused = true
	return true
}

// Resume re-arms a paused schedule. A one-shot whose fire time already
// passed executes immediately. Idempotent.
func (s *Scheduler) Resume(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return false
	}
	if !sc.info.Paused {
		return true
	}
	s.startLocked(sc)
	return true
}

// Get returns a schedule's state.
func (s *Scheduler) Get(id string) (ScheduleInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return ScheduleInfo{}, false
	}
	return sc.info, true
}

// List returns every schedule, sorted by id.
func (s *Scheduler) List() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, sc.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StopAll cancels every schedule and waits for the timer goroutines to
// drain. Call on shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for id, sc := range s.schedules {
		if !sc.info.Paused {
			close(sc.stop)
		}
		delete(s.schedules, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
