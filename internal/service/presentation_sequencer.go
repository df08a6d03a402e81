package service

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"sarkari-sahayak/internal/domain"
)

// ErrSequencerClosed se devuelve al despachar despues de Close.
var ErrSequencerClosed = errors.New("sequencer closed")

const (
	DefaultRevealCharInterval = 20 * time.Millisecond
	DefaultRevealPerChar      = 18 * time.Millisecond
	DefaultRevealMinimum      = 1500 * time.Millisecond
	DefaultRevealBuffer       = 600 * time.Millisecond
)

// Timer es el handle cancelable de un temporizador.
type Timer interface {
	Stop() bool
}

// Clock crea temporizadores; se inyecta para tests deterministas.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock usa los temporizadores del runtime.
func RealClock() Clock {
	return realClock{}
}

// Timing define el ritmo de la revelacion simulada.
type Timing struct {
	CharInterval time.Duration
	PerChar      time.Duration
	Minimum      time.Duration
	Buffer       time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		CharInterval: DefaultRevealCharInterval,
		PerChar:      DefaultRevealPerChar,
		Minimum:      DefaultRevealMinimum,
		Buffer:       DefaultRevealBuffer,
	}
}

// RevealDuration = max(n*PerChar, Minimum) + Buffer.
func (t Timing) RevealDuration(n int) time.Duration {
	d := time.Duration(n) * t.PerChar
	if d < t.Minimum {
		d = t.Minimum
	}
	return d + t.Buffer
}

type TurnState int

const (
	TurnPending TurnState = iota
	TurnRevealing
	TurnSettled
	TurnAborted
)

func (s TurnState) String() string {
	switch s {
	case TurnPending:
		return "pending"
	case TurnRevealing:
		return "revealing"
	case TurnSettled:
		return "settled"
	case TurnAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Turn es una solicitud despachada en un slot. Termina en Settled o Aborted, nunca ambos.
type Turn struct {
	Slot string
	Seq  uint64

	seq  *Sequencer
	done chan struct{}

	state    TurnState
	answer   domain.Answer
	runes    []rune
	revealed int
	elapsed  time.Duration
	total    time.Duration
}

// Done se cierra cuando el turno llega a un estado terminal, despues de notificar a la View.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

func (t *Turn) State() TurnState {
	t.seq.mu.Lock()
	defer t.seq.mu.Unlock()
	return t.state
}

// View recibe las transiciones de cada turno. Se invoca con el lock del
// Sequencer tomado: una View no debe volver a llamar al Sequencer.
type View interface {
	Pending(t *Turn)
	Revealing(t *Turn, partial string)
	Settled(t *Turn, answer domain.Answer)
	Aborted(t *Turn)
}

type slotState struct {
	turn  *Turn
	timer Timer
}

// Sequencer es la maquina de estados Pending -> Revealing -> Settled por slot,
// con un unico temporizador cancelable por slot. El ultimo despacho gana.
type Sequencer struct {
	mu      sync.Mutex
	clock   Clock
	view    View
	timing  Timing
	logger  *zap.Logger
	slots   map[string]*slotState
	nextSeq uint64
	closed  bool
}

func NewSequencer(view View, timing Timing, clock Clock, logger *zap.Logger) *Sequencer {
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timing.CharInterval <= 0 {
		timing.CharInterval = DefaultRevealCharInterval
	}
	return &Sequencer{
		clock:  clock,
		view:   view,
		timing: timing,
		logger: logger,
		slots:  make(map[string]*slotState),
	}
}

// Dispatch abre un turno Pending en slot, abortando el turno anterior del mismo slot.
func (s *Sequencer) Dispatch(slot string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSequencerClosed
	}
	if st, ok := s.slots[slot]; ok {
		s.logger.Debug("turn superseded", zap.String("slot", slot), zap.Uint64("seq", st.turn.Seq))
		s.abortLocked(st)
	}

	s.nextSeq++
	t := &Turn{Slot: slot, Seq: s.nextSeq, seq: s, done: make(chan struct{}), state: TurnPending}
	s.slots[slot] = &slotState{turn: t}
	s.view.Pending(t)
	return t, nil
}

// Deliver entrega la respuesta del turno e inicia la revelacion. Devuelve false si el
// turno ya no es el activo de su slot: el resultado tardio se descarta.
func (s *Sequencer) Deliver(t *Turn, answer domain.Answer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.activeLocked(t)
	if st == nil || t.state != TurnPending {
		s.logger.Debug("late result discarded", zap.String("slot", t.Slot), zap.Uint64("seq", t.Seq))
		return false
	}

	t.answer = answer
	t.runes = []rune(answer.Summary)
	if len(t.runes) == 0 {
		s.settleLocked(st)
		return true
	}

	t.state = TurnRevealing
	t.total = s.timing.RevealDuration(len(t.runes))
	s.view.Revealing(t, "")
	st.timer = s.clock.AfterFunc(s.timing.CharInterval, func() { s.tick(t) })
	return true
}

// Cancel aborta t si sigue activo.
func (s *Sequencer) Cancel(t *Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.activeLocked(t)
	if st == nil {
		return false
	}
	s.abortLocked(st)
	return true
}

// Abort aborta el turno activo de slot, si existe.
func (s *Sequencer) Abort(slot string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.slots[slot]
	if !ok {
		return false
	}
	s.abortLocked(st)
	return true
}

// Active devuelve el turno en curso de slot, o nil.
func (s *Sequencer) Active(slot string) *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.slots[slot]; ok {
		return st.turn
	}
	return nil
}

// Close aborta todos los turnos y detiene sus temporizadores.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, st := range s.slots {
		s.abortLocked(st)
	}
}

func (s *Sequencer) tick(t *Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.activeLocked(t)
	if st == nil || t.state != TurnRevealing {
		return
	}

	interval := s.timing.CharInterval
	t.elapsed += interval
	if t.revealed < len(t.runes) {
		t.revealed++
		s.view.Revealing(t, string(t.runes[:t.revealed]))
	}

	remaining := t.total - t.elapsed
	if remaining <= 0 {
		s.settleLocked(st)
		return
	}
	if t.revealed == len(t.runes) || remaining <= interval {
		st.timer = s.clock.AfterFunc(remaining, func() { s.finish(t) })
		return
	}
	st.timer = s.clock.AfterFunc(interval, func() { s.tick(t) })
}

func (s *Sequencer) finish(t *Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.activeLocked(t)
	if st == nil || t.state != TurnRevealing {
		return
	}
	s.settleLocked(st)
}

func (s *Sequencer) activeLocked(t *Turn) *slotState {
	if t == nil {
		return nil
	}
	st, ok := s.slots[t.Slot]
	if !ok || st.turn != t {
		return nil
	}
	return st
}

func (s *Sequencer) settleLocked(st *slotState) {
	t := st.turn
	s.stopTimerLocked(st)
	delete(s.slots, t.Slot)
	t.state = TurnSettled
	s.view.Settled(t, t.answer)
	close(t.done)
}

func (s *Sequencer) abortLocked(st *slotState) {
	t := st.turn
	s.stopTimerLocked(st)
	delete(s.slots, t.Slot)
	t.state = TurnAborted
	s.view.Aborted(t)
	close(t.done)
}

func (s *Sequencer) stopTimerLocked(st *slotState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}
