// File: game/requests.go
// License: Apache-2.0

package game

import (
	"errors"
	"strings"
)

// MaxNameLength bounds player names.
const MaxNameLength = 32

func validateName(field, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New(field + " field is missing")
	}
	if len(name) > MaxNameLength {
		return errors.New(field + " is too long")
	}
	return nil
}

// JoinRequest is the body of POST /join and DELETE /leave.
type JoinRequest struct {
	PlayerName string `json:"player_name"`
}

func (r JoinRequest) Validate() error { return validateName("player_name", r.PlayerName) }

// StateRequest is the body of POST /ready.
type StateRequest struct {
	PlayerName string    `json:"player_name"`
	Timestamp  Timestamp `json:"timestamp"`
}

func (r StateRequest) Validate() error {
	if err := validateName("player_name", r.PlayerName); err != nil {
		return err
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp field is missing")
	}
	return nil
}

// GuessRequest is the body of POST /guess.
type GuessRequest struct {
	PlayerName string    `json:"player_name"`
	Timestamp  Timestamp `json:"timestamp"`
	Guess      string    `json:"guess"`
}

func (r GuessRequest) Validate() error {
	if err := (StateRequest{PlayerName: r.PlayerName, Timestamp: r.Timestamp}).Validate(); err != nil {
		return err
	}
	if r.Guess == "" {
		return errors.New("guess field is missing")
	}
	return nil
}

// VoteRequest is the body of POST /vote.
type VoteRequest struct {
	VotingPlayer string `json:"voting_player"`
	VotedPlayer  string `json:"voted_player"`
	VoteFor      *bool  `json:"vote_for"`
}

func (r VoteRequest) Validate() error {
	if err := validateName("voting_player", r.VotingPlayer); err != nil {
		return err
	}
	if err := validateName("voted_player", r.VotedPlayer); err != nil {
		return err
	}
	if r.VoteFor == nil {
		return errors.New("vote_for field is missing")
	}
	return nil
}

// GuessResponse is the answer to POST /guess.
type GuessResponse struct {
	State       State  `json:"state"`
	GuessResult []Word `json:"guess_result"`
}
