package notify

import "time"

// NagState is the position of the escalation loop.
type NagState int

const (
	NagIdle NagState = iota
	NagArmed
	NagLooping
)

func (s NagState) String() string {
	switch s {
	case NagArmed:
		return "armed"
	case NagLooping:
		return "looping"
	default:
		return "idle"
	}
}

// Quiet window, local hours [QuietStartHour, QuietEndHour).
const (
	QuietStartHour = 23
	QuietEndHour   = 6
)

var defaultNagMessages = []string{
	"Your tasks are waiting. Come back when you can!",
	"A short session now keeps the streak alive.",
	"Five focused minutes is still progress.",
	"Did you forget about today's plan?",
	"Small steps every day add up.",
	"Ready to pick up where you left off?",
}

type nagLoop struct {
	state   NagState
	gen     uint64
	timer   Timer
	message string
}

// InQuietHours reports whether t falls in the nightly window where nag
// notifications are suppressed.
func InQuietHours(t time.Time) bool {
	h := t.Hour()
	return h >= QuietStartHour || h < QuietEndHour
}

// StartNag tears down any running escalation and arms a new one. After the
// nag delay one notification fires, then one every interval until StopNag.
// An empty message picks from the catalog on every firing.
func (s *Scheduler) StartNag(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.permittedLocked("start_nag") {
		return
	}
	s.startNagLocked(message)
	s.persistLocked()
}

// StopNag cancels the escalation in whatever state it is in.
func (s *Scheduler) StopNag() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nag.state == NagIdle {
		return
	}
	s.stopNagLocked()
	s.persistLocked()
}

// NagState returns the current escalation state.
func (s *Scheduler) NagState() NagState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nag.state
}

// OnVisibilityChange feeds a foreground transition into the nag loop. Going
// hidden arms the loop only if it is idle; becoming visible stops it.
func (s *Scheduler) OnVisibilityChange(visible bool, message string) {
	if visible {
		s.StopNag()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.nag.state != NagIdle || !s.permittedLocked("visibility_hidden") {
		return
	}
	s.startNagLocked(message)
	s.persistLocked()
}

func (s *Scheduler) startNagLocked(message string) {
	s.stopNagLocked()

	s.seq++
	gen := s.seq
	s.nag = nagLoop{
		state:   NagArmed,
		gen:     gen,
		message: message,
		timer:   s.clock.AfterFunc(s.nagDelay, func() { s.nagTick(gen) }),
	}
	s.logger.Debug("Nag armed", "delay", s.nagDelay)
}

func (s *Scheduler) stopNagLocked() {
	if s.nag.timer != nil {
		s.nag.timer.Stop()
	}
	if s.nag.state != NagIdle {
		s.logger.Debug("Nag stopped", "state", s.nag.state.String())
	}
	s.nag = nagLoop{}
}

// nagTick fires one nag and re-arms the next. The loop keeps its cadence
// through the quiet window and only skips the delivery.
func (s *Scheduler) nagTick(gen uint64) {
	s.mu.Lock()
	if s.closed || s.nag.state == NagIdle || s.nag.gen != gen {
		s.mu.Unlock()
		return
	}
	s.nag.state = NagLooping
	s.nag.timer = s.clock.AfterFunc(s.nagInterval, func() { s.nagTick(gen) })

	now := s.clock.Now().In(s.loc)
	quiet := InQuietHours(now)
	body := s.nag.message
	if body == "" && len(s.catalog) > 0 {
		body = s.catalog[s.pick(len(s.catalog))]
	}
	n := nagNotification(body, s.icon)
	s.mu.Unlock()

	if quiet {
		s.logger.Debug("Nag suppressed in quiet hours", "hour", now.Hour())
		return
	}
	s.deliver(n)
}
