// File: game/errors.go
// License: Apache-2.0

package game

import (
	"net/http"

	"github.com/wordrush/wsreactor/router"
)

// Rule violations, each carrying the HTTP status the API answers with.
var (
	ErrLobbyFull      = &router.Error{Status: http.StatusForbidden, Message: "Lobby is full"}
	ErrNameTaken      = &router.Error{Status: http.StatusForbidden, Message: "Player already in lobby"}
	ErrInGame         = &router.Error{Status: http.StatusForbidden, Message: "Player already in game"}
	ErrPlayerNotFound = &router.Error{Status: http.StatusNotFound, Message: "Player not found"}
	ErrNoMatch        = &router.Error{Status: http.StatusNotFound, Message: "Game not found"}
	ErrEliminated     = &router.Error{Status: http.StatusForbidden, Message: "Player eliminated"}
	ErrRoundOver      = &router.Error{Status: http.StatusBadRequest, Message: "No guesses left this round"}
	ErrVoting         = &router.Error{Status: http.StatusConflict, Message: "Voting in progress"}
	ErrNoVote         = &router.Error{Status: http.StatusConflict, Message: "No vote in progress"}
	ErrNotOnTrial     = &router.Error{Status: http.StatusNotFound, Message: "Player is not on trial"}
	ErrAlreadyVoted   = &router.Error{Status: http.StatusConflict, Message: "Player already voted"}
	ErrSelfVote       = &router.Error{Status: http.StatusBadRequest, Message: "Players cannot vote on themselves"}
)
