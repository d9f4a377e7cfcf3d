// File: game/game.go
// License: Apache-2.0
//
// Game owns the lobby and the current phase. Every exported operation
// takes the game lock, applies one transition and returns a snapshot
// suitable for broadcasting.

package game

import (
	"sync"
	"time"

	"github.com/wordrush/wsreactor/internal/concurrency"
	"github.com/wordrush/wsreactor/router"
	"go.uber.org/zap"
)

// Timer job names registered with the scheduler.
const (
	JobRoundFinish = "round_finish"
	JobVoteEnd     = "vote_end"
)

// MinPlayers is the smallest lobby that can start a match.
const MinPlayers = 3

// Config holds the game rules that vary per deployment.
type Config struct {
	MaxPlayers    int
	RoundDuration time.Duration
	VoteDuration  time.Duration
}

// DefaultConfig returns the standard rules.
func DefaultConfig() Config {
	return Config{
		MaxPlayers:    6,
		RoundDuration: 3 * time.Minute,
		VoteDuration:  30 * time.Second,
	}
}

// Scheduler arms and disarms the round and vote timers. *concurrency.Cron
// satisfies it.
type Scheduler interface {
	SetJobSettings(id string, interval time.Duration, mode concurrency.JobMode) error
	SetMode(id string, mode concurrency.JobMode) error
}

// Option configures a Game.
type Option func(*Game)

// WithScheduler sets the timer backend. Without one, rounds and votes end
// only when every player has acted.
func WithScheduler(s Scheduler) Option { return func(g *Game) { g.sched = s } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(g *Game) { g.now = now } }

// WithWordSource replaces RandomWord.
func WithWordSource(pick func() string) Option { return func(g *Game) { g.pick = pick } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(g *Game) { g.log = l } }

// Game is safe for concurrent use.
type Game struct {
	mu    sync.Mutex
	cfg   Config
	lobby []*Player
	phase Phase

	sched Scheduler
	now   func() time.Time
	pick  func() string
	log   *zap.Logger
}

// New creates a game in the lobby phase.
func New(cfg Config, opts ...Option) *Game {
	d := DefaultConfig()
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = d.MaxPlayers
	}
	if cfg.RoundDuration <= 0 {
		cfg.RoundDuration = d.RoundDuration
	}
	if cfg.VoteDuration <= 0 {
		cfg.VoteDuration = d.VoteDuration
	}
	g := &Game{
		cfg:   cfg,
		phase: Lobby{},
		now:   time.Now,
		pick:  RandomWord,
		log:   zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// State returns the current snapshot.
func (g *Game) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot()
}

func (g *Game) snapshot() State {
	return snapshot(g.phase, g.lobby, g.cfg.MaxPlayers)
}

// Stats summarizes the game for debug probes.
func (g *Game) Stats() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := map[string]any{
		"phase": g.phase.phaseName(),
		"lobby": len(g.lobby),
	}
	if m, ok := g.phase.(*Match); ok {
		out["round"] = len(m.rounds)
		out["alive"] = len(m.alive())
		out["voting"] = m.trial != nil
	}
	return out
}

// Join adds name to the lobby. Names are unique across the lobby and the
// running match.
func (g *Game) Join(name string) (State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.lobby) >= g.cfg.MaxPlayers {
		return State{}, ErrLobbyFull
	}
	if g.lobbyIndex(name) >= 0 {
		return State{}, ErrNameTaken
	}
	if m, ok := g.phase.(*Match); ok && m.player(name) != nil {
		return State{}, ErrInGame
	}
	g.lobby = append(g.lobby, newPlayer(name))
	g.log.Info("player joined", zap.String("player", name), zap.Int("lobby", len(g.lobby)))
	return g.snapshot(), nil
}

// Leave removes name from the lobby.
func (g *Game) Leave(name string) (State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.lobbyIndex(name)
	if i < 0 {
		return State{}, ErrPlayerNotFound
	}
	g.lobby = append(g.lobby[:i], g.lobby[i+1:]...)
	g.log.Info("player left", zap.String("player", name))
	return g.snapshot(), nil
}

// SetReady marks name ready and starts the match when the lobby allows.
func (g *Game) SetReady(name string) (State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.lobbyIndex(name)
	if i < 0 {
		return State{}, ErrPlayerNotFound
	}
	g.lobby[i].Ready = true
	g.maybeStart()
	return g.snapshot(), nil
}

func (g *Game) lobbyIndex(name string) int {
	for i, p := range g.lobby {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (g *Game) maybeStart() {
	if _, ok := g.phase.(Lobby); !ok || len(g.lobby) < MinPlayers {
		return
	}
	for _, p := range g.lobby {
		if !p.Ready {
			return
		}
	}
	m := &Match{players: g.lobby, startedAt: g.now()}
	for _, p := range m.players {
		p.reset()
	}
	g.lobby = nil
	g.phase = m
	g.log.Info("match started", zap.Int("players", len(m.players)))
	g.startRound(m)
}

func (g *Game) startRound(m *Match) {
	now := g.now()
	r := &Round{
		number:    len(m.rounds) + 1,
		answer:    g.pick(),
		startedAt: now,
		endsAt:    now.Add(g.cfg.RoundDuration),
		guesses:   make(map[string][]Word),
	}
	for _, p := range m.alive() {
		p.RoundErrors = 0
		r.guesses[p.Name] = nil
	}
	m.rounds = append(m.rounds, r)
	g.schedule(JobVoteEnd, 0, concurrency.JobOff)
	g.schedule(JobRoundFinish, g.cfg.RoundDuration, concurrency.JobOnce)
	g.log.Info("round started", zap.Int("round", r.number), zap.Int("alive", len(r.guesses)))
}

// Guess scores guess for name in the current round and returns the
// player's guesses so far.
func (g *Game) Guess(name, guess string) (State, []Word, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.phase.(*Match)
	if !ok {
		return State{}, nil, ErrNoMatch
	}
	if m.trial != nil {
		return State{}, nil, ErrVoting
	}
	p := m.player(name)
	if p == nil {
		return State{}, nil, ErrPlayerNotFound
	}
	if !p.Alive {
		return State{}, nil, ErrEliminated
	}
	word, err := NormalizeGuess(guess)
	if err != nil {
		return State{}, nil, router.BadRequest("%v", err)
	}
	r := m.current()
	if r.done(name) || !g.now().Before(r.endsAt) {
		return State{}, nil, ErrRoundOver
	}

	w := Score(word, r.answer)
	r.guesses[name] = append(r.guesses[name], w)
	if !w.Solved() {
		p.RoundErrors++
	}
	history := append([]Word{}, r.guesses[name]...)
	if m.roundComplete() {
		g.finishRound(m)
	}
	return g.snapshot(), history, nil
}

// finishRound closes the current round and opens a trial for everyone who
// failed it, or moves on when nobody did.
func (g *Game) finishRound(m *Match) {
	r := m.current()
	r.finished = true
	g.schedule(JobRoundFinish, 0, concurrency.JobOff)

	var accused []*Vote
	for _, p := range m.alive() {
		p.AllErrors += p.RoundErrors
		if !r.solved(p.Name) {
			accused = append(accused, &Vote{Player: p.Name})
		}
	}
	g.log.Info("round finished", zap.Int("round", r.number), zap.Int("failed", len(accused)))
	if len(accused) == 0 {
		g.nextRoundOrEnd(m)
		return
	}
	m.trial = &Trial{endsAt: g.now().Add(g.cfg.VoteDuration), votes: accused}
	g.schedule(JobVoteEnd, g.cfg.VoteDuration, concurrency.JobOnce)
}

// Vote records voter's ballot on accused. voteFor keeps the accused in the
// game.
func (g *Game) Vote(voter, accused string, voteFor bool) (State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.phase.(*Match)
	if !ok {
		return State{}, ErrNoMatch
	}
	if m.trial == nil {
		return State{}, ErrNoVote
	}
	p := m.player(voter)
	if p == nil {
		return State{}, ErrPlayerNotFound
	}
	if !p.Alive {
		return State{}, ErrEliminated
	}
	if voter == accused {
		return State{}, ErrSelfVote
	}
	v := m.trial.find(accused)
	if v == nil {
		return State{}, ErrNotOnTrial
	}
	if v.hasVoted(voter) {
		return State{}, ErrAlreadyVoted
	}
	if voteFor {
		v.VotesFor = append(v.VotesFor, voter)
	} else {
		v.VotesAgainst = append(v.VotesAgainst, voter)
	}
	if m.trial.complete(m.alive()) {
		g.endVote(m)
	}
	return g.snapshot(), nil
}

func (g *Game) endVote(m *Match) {
	for _, v := range m.trial.votes {
		if v.Survives() {
			continue
		}
		if p := m.player(v.Player); p != nil {
			p.Alive = false
			g.log.Info("player eliminated", zap.String("player", p.Name),
				zap.Int("for", len(v.VotesFor)), zap.Int("against", len(v.VotesAgainst)))
		}
	}
	m.trial = nil
	g.schedule(JobVoteEnd, 0, concurrency.JobOff)
	g.nextRoundOrEnd(m)
}

func (g *Game) nextRoundOrEnd(m *Match) {
	alive := m.alive()
	if len(alive) > 1 {
		g.startRound(m)
		return
	}
	winner := ""
	if len(alive) == 1 {
		winner = alive[0].Name
	}
	for _, p := range m.players {
		p.reset()
	}
	g.lobby = append(append([]*Player{}, m.players...), g.lobby...)
	g.phase = Lobby{Winner: winner}
	g.schedule(JobRoundFinish, 0, concurrency.JobOff)
	g.log.Info("match over", zap.String("winner", winner), zap.Int("rounds", len(m.rounds)))
}

// RoundTimeout ends the current round when its timer fires. It reports
// false when there was no round to end.
func (g *Game) RoundTimeout() (State, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.phase.(*Match)
	if !ok || m.trial != nil || m.current().finished {
		return State{}, false
	}
	g.finishRound(m)
	return g.snapshot(), true
}

// VoteTimeout tallies the open trial when its timer fires.
func (g *Game) VoteTimeout() (State, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.phase.(*Match)
	if !ok || m.trial == nil {
		return State{}, false
	}
	g.endVote(m)
	return g.snapshot(), true
}

func (g *Game) schedule(job string, after time.Duration, mode concurrency.JobMode) {
	if g.sched == nil {
		return
	}
	var err error
	if mode == concurrency.JobOff {
		err = g.sched.SetMode(job, mode)
	} else {
		err = g.sched.SetJobSettings(job, after, mode)
	}
	if err != nil {
		g.log.Warn("timer update failed", zap.String("job", job), zap.Error(err))
	}
}
