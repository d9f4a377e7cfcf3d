// File: game/word.go
// License: Apache-2.0

package game

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// WordLength is the number of letters in every answer and guess.
const WordLength = 5

// MaxGuesses is the number of attempts each player gets per round.
const MaxGuesses = 6

// LetterColor is the feedback for one guessed letter.
type LetterColor string

const (
	Green  LetterColor = "green"  // right letter, right place
	Yellow LetterColor = "yellow" // letter occurs elsewhere
	Gray   LetterColor = "gray"
)

// Letter is one scored letter of a guess.
type Letter struct {
	Letter string      `json:"letter"`
	Type   LetterColor `json:"type"`
}

// Word is a scored guess.
type Word struct {
	Letters []Letter `json:"letters"`
}

// Solved reports whether every letter is green.
func (w Word) Solved() bool {
	if len(w.Letters) == 0 {
		return false
	}
	for _, l := range w.Letters {
		if l.Type != Green {
			return false
		}
	}
	return true
}

// Score colors guess against answer. Both must have the same length.
// A letter repeated in the guess is yellow only as many times as it still
// occurs in the answer after exact matches are taken.
func Score(guess, answer string) Word {
	colors := make([]LetterColor, len(guess))
	remaining := make(map[byte]int, len(answer))
	for i := 0; i < len(guess); i++ {
		if guess[i] == answer[i] {
			colors[i] = Green
			continue
		}
		remaining[answer[i]]++
	}
	for i := 0; i < len(guess); i++ {
		if colors[i] == Green {
			continue
		}
		if remaining[guess[i]] > 0 {
			remaining[guess[i]]--
			colors[i] = Yellow
		} else {
			colors[i] = Gray
		}
	}
	w := Word{Letters: make([]Letter, len(guess))}
	for i := range colors {
		w.Letters[i] = Letter{Letter: guess[i : i+1], Type: colors[i]}
	}
	return w
}

// NormalizeGuess lowercases g and checks it is WordLength ASCII letters.
func NormalizeGuess(g string) (string, error) {
	g = strings.ToLower(strings.TrimSpace(g))
	if len(g) != WordLength {
		return "", fmt.Errorf("guess must have %d letters", WordLength)
	}
	for i := 0; i < len(g); i++ {
		if g[i] < 'a' || g[i] > 'z' {
			return "", fmt.Errorf("guess may only contain letters a-z")
		}
	}
	return g, nil
}

var dictionary = []string{
	"apple", "grape", "lemon", "mango", "pearl",
	"bread", "chair", "zebra", "piano", "stone",
	"night", "light", "water", "candy", "snake",
	"crane", "plant", "storm", "brick", "flame",
	"ghost", "house", "knife", "money", "ocean",
	"queen", "river", "sugar", "tiger", "voice",
}

// RandomWord returns a word from the built-in dictionary.
func RandomWord() string {
	return dictionary[rand.IntN(len(dictionary))]
}
