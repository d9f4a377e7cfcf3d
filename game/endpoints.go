// File: game/endpoints.go
// License: Apache-2.0
//
// HTTP routes, timer jobs and the WebSocket relay that connect a Game to
// the server.

package game

import (
	"encoding/json"

	"github.com/wordrush/wsreactor/internal/concurrency"
	"github.com/wordrush/wsreactor/protocol"
	"github.com/wordrush/wsreactor/router"
	"github.com/wordrush/wsreactor/server"
	"go.uber.org/zap"
)

// Broadcaster delivers state updates to every WebSocket client.
// *server.Pool satisfies it.
type Broadcaster interface {
	BroadcastJSON(v any) (int, error)
}

// Service binds a Game to its transports.
type Service struct {
	game *Game
	out  Broadcaster
	log  *zap.Logger
}

// NewService creates a service. log may be nil.
func NewService(g *Game, out Broadcaster, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{game: g, out: out, log: log}
}

func (s *Service) publish(v any) {
	if s.out == nil {
		return
	}
	if _, err := s.out.BroadcastJSON(v); err != nil {
		s.log.Error("state broadcast failed", zap.Error(err))
	}
}

// Register installs the game API on r.
func (s *Service) Register(r *router.Router) {
	r.Handle("/join", protocol.MethodPost, router.JSON(func(req JoinRequest) (any, error) {
		return s.mutate(s.game.Join(req.PlayerName))
	}))
	r.Handle("/leave", protocol.MethodDelete, router.JSON(func(req JoinRequest) (any, error) {
		return s.mutate(s.game.Leave(req.PlayerName))
	}))
	r.Handle("/ready", protocol.MethodPost, router.JSON(func(req StateRequest) (any, error) {
		return s.mutate(s.game.SetReady(req.PlayerName))
	}))
	r.Handle("/", protocol.MethodGet, router.JSON(func(router.Empty) (any, error) {
		return s.game.State(), nil
	}))
	r.Handle("/guess", protocol.MethodPost, router.JSON(func(req GuessRequest) (any, error) {
		st, history, err := s.game.Guess(req.PlayerName, req.Guess)
		if err != nil {
			return nil, err
		}
		resp := GuessResponse{State: st, GuessResult: history}
		s.publish(resp)
		return resp, nil
	}))
	r.Handle("/vote", protocol.MethodPost, router.JSON(func(req VoteRequest) (any, error) {
		return s.mutate(s.game.Vote(req.VotingPlayer, req.VotedPlayer, *req.VoteFor))
	}))
}

func (s *Service) mutate(st State, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	s.publish(st)
	return st, nil
}

// RegisterJobs adds the round and vote timers to c, both initially off.
func (s *Service) RegisterJobs(c *concurrency.Cron) error {
	if err := c.AddJob(JobRoundFinish, s.game.cfg.RoundDuration, concurrency.JobOff, func() {
		if st, ok := s.game.RoundTimeout(); ok {
			s.publish(st)
		}
	}); err != nil {
		return err
	}
	return c.AddJob(JobVoteEnd, s.game.cfg.VoteDuration, concurrency.JobOff, func() {
		if st, ok := s.game.VoteTimeout(); ok {
			s.publish(st)
		}
	})
}

// Relay returns a WebSocket message handler that rebroadcasts every valid
// JSON text message to all clients of pool.
func Relay(pool *server.Pool, log *zap.Logger) func(*server.Conn, *protocol.Frame) (*protocol.Frame, error) {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *server.Conn, f *protocol.Frame) (*protocol.Frame, error) {
		if f.Opcode != protocol.OpcodeText || !json.Valid(f.Payload) {
			log.Debug("ignoring non-JSON message", zap.Uint64("conn", c.ID()), zap.Int("bytes", len(f.Payload)))
			return nil, nil
		}
		n := pool.Broadcast(f.Payload)
		log.Debug("message relayed", zap.Uint64("conn", c.ID()), zap.Int("recipients", n))
		return nil, nil
	}
}
