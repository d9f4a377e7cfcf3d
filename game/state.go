// File: game/state.go
// License: Apache-2.0
//
// Game phases and their JSON snapshots.

package game

import "time"

// Player is a participant. The same value is used in the lobby and, after
// the start, in the match.
type Player struct {
	Name        string `json:"player_name"`
	RoundErrors int    `json:"round_errors"`
	AllErrors   int    `json:"all_errors"`
	Alive       bool   `json:"is_alive"`
	Ready       bool   `json:"is_ready"`
}

func newPlayer(name string) *Player {
	return &Player{Name: name, Alive: true}
}

func (p *Player) reset() {
	p.RoundErrors = 0
	p.AllErrors = 0
	p.Alive = true
	p.Ready = false
}

// Phase is either Lobby or *Match.
type Phase interface {
	phaseName() string
}

// Lobby is the waiting phase. Winner names the last match's winner, if any.
type Lobby struct {
	Winner string
}

func (Lobby) phaseName() string { return "lobby" }

// Match is a game in progress.
type Match struct {
	players   []*Player
	rounds    []*Round
	trial     *Trial
	startedAt time.Time
}

func (*Match) phaseName() string { return "match" }

func (m *Match) player(name string) *Player {
	for _, p := range m.players {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (m *Match) alive() []*Player {
	var out []*Player
	for _, p := range m.players {
		if p.Alive {
			out = append(out, p)
		}
	}
	return out
}

func (m *Match) current() *Round {
	if len(m.rounds) == 0 {
		return nil
	}
	return m.rounds[len(m.rounds)-1]
}

// roundComplete reports whether every alive player solved the word or
// used all guesses.
func (m *Match) roundComplete() bool {
	r := m.current()
	for _, p := range m.alive() {
		if !r.done(p.Name) {
			return false
		}
	}
	return true
}

// Round is one hidden word.
type Round struct {
	number    int
	answer    string
	startedAt time.Time
	endsAt    time.Time
	guesses   map[string][]Word
	finished  bool
}

func (r *Round) solved(name string) bool {
	g := r.guesses[name]
	return len(g) > 0 && g[len(g)-1].Solved()
}

func (r *Round) done(name string) bool {
	return r.solved(name) || len(r.guesses[name]) >= MaxGuesses
}

// Trial is the vote held after a round over the players who failed it.
type Trial struct {
	endsAt time.Time
	votes  []*Vote
}

func (t *Trial) find(name string) *Vote {
	for _, v := range t.votes {
		if v.Player == name {
			return v
		}
	}
	return nil
}

// complete reports whether every voter has voted on every accused player
// other than themselves.
func (t *Trial) complete(voters []*Player) bool {
	for _, v := range t.votes {
		for _, p := range voters {
			if p.Name != v.Player && !v.hasVoted(p.Name) {
				return false
			}
		}
	}
	return true
}

// Vote tallies the ballots on one accused player.
type Vote struct {
	Player       string   `json:"player_name"`
	VotesFor     []string `json:"votes_for"`
	VotesAgainst []string `json:"votes_against"`
}

// Survives reports whether votes for outnumber votes against.
func (v *Vote) Survives() bool {
	return len(v.VotesFor) > len(v.VotesAgainst)
}

func (v *Vote) hasVoted(voter string) bool {
	for _, n := range v.VotesFor {
		if n == voter {
			return true
		}
	}
	for _, n := range v.VotesAgainst {
		if n == voter {
			return true
		}
	}
	return false
}

// State is the JSON view broadcast to clients.
type State struct {
	Phase      string      `json:"phase"`
	MaxPlayers int         `json:"max_players"`
	Lobby      []Player    `json:"lobby"`
	Winner     string      `json:"last_winner,omitempty"`
	Match      *MatchState `json:"match,omitempty"`
}

// MatchState is the JSON view of a Match.
type MatchState struct {
	StartedAt Timestamp    `json:"started_at"`
	Round     int          `json:"round"`
	Players   []Player     `json:"players"`
	Rounds    []RoundState `json:"rounds"`
	Vote      *VoteState   `json:"vote,omitempty"`
}

// RoundState is the JSON view of a Round. The answer is revealed once the
// round is finished.
type RoundState struct {
	Number    int               `json:"number"`
	StartedAt Timestamp         `json:"started_at"`
	EndsAt    Timestamp         `json:"ends_at"`
	Finished  bool              `json:"finished"`
	Answer    string            `json:"answer,omitempty"`
	Guesses   map[string][]Word `json:"guesses"`
}

// VoteState is the JSON view of a Trial.
type VoteState struct {
	EndsAt Timestamp `json:"ends_at"`
	Trials []Vote    `json:"trials"`
}

func copyPlayers(ps []*Player) []Player {
	out := make([]Player, len(ps))
	for i, p := range ps {
		out[i] = *p
	}
	return out
}

func snapshot(phase Phase, lobby []*Player, maxPlayers int) State {
	s := State{
		Phase:      phase.phaseName(),
		MaxPlayers: maxPlayers,
		Lobby:      copyPlayers(lobby),
	}
	switch p := phase.(type) {
	case Lobby:
		s.Winner = p.Winner
	case *Match:
		s.Match = p.snapshot()
	}
	return s
}

func (m *Match) snapshot() *MatchState {
	ms := &MatchState{
		StartedAt: At(m.startedAt),
		Round:     len(m.rounds),
		Players:   copyPlayers(m.players),
		Rounds:    make([]RoundState, len(m.rounds)),
	}
	for i, r := range m.rounds {
		rs := RoundState{
			Number:    r.number,
			StartedAt: At(r.startedAt),
			EndsAt:    At(r.endsAt),
			Finished:  r.finished,
			Guesses:   make(map[string][]Word, len(r.guesses)),
		}
		if r.finished {
			rs.Answer = r.answer
		}
		for name, g := range r.guesses {
			rs.Guesses[name] = append([]Word{}, g...)
		}
		ms.Rounds[i] = rs
	}
	if m.trial != nil {
		vs := &VoteState{EndsAt: At(m.trial.endsAt), Trials: make([]Vote, len(m.trial.votes))}
		for i, v := range m.trial.votes {
			vs.Trials[i] = Vote{
				Player:       v.Player,
				VotesFor:     append([]string{}, v.VotesFor...),
				VotesAgainst: append([]string{}, v.VotesAgainst...),
			}
		}
		ms.Vote = vs
	}
	return ms
}
