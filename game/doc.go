// Package game implements wordrush, an elimination word-guessing game
// played over the HTTP API and followed live over WebSocket broadcasts.
//
// Players gather in a lobby and the match starts once enough of them are
// ready. Each round everyone guesses the same hidden five-letter word with
// six attempts. Players who fail stand trial: the survivors vote, and a
// player stays in only if votes for outnumber votes against. The last
// player standing wins and everyone returns to the lobby.
package game
