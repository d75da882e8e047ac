package door

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

const (
	hiloStartingBank = 100
	hiloWager        = 10
	hiloMaxNumber    = 100
)

type hiloState struct {
	Target   int `json:"target"`
	Bankroll int `json:"bankroll"`
	Guesses  int `json:"guesses"`
	Rounds   int `json:"rounds"`
}

// HiLo is the classic number-guessing door: wager per round, guess the
// number, fewer guesses pay better.
type HiLo struct{}

func NewHiLo() *HiLo {
	return &HiLo{}
}

func (h *HiLo) ID() string   { return "hilo" }
func (h *HiLo) Name() string { return "Hi-Lo Casino" }

func (h *HiLo) NewGame() (json.RawMessage, string, error) {
	state := hiloState{
		Target:   rand.Intn(hiloMaxNumber) + 1,
		Bankroll: hiloStartingBank,
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, "", err
	}
	intro := fmt.Sprintf(
		"\x1b[1;33m*** Hi-Lo Casino ***\x1b[0m\r\n"+
			"I'm thinking of a number between 1 and %d.\r\n"+
			"Each round costs %d credits. You have %d.\r\n"+
			"Your guess? ",
		hiloMaxNumber, hiloWager, state.Bankroll)
	return raw, intro, nil
}

func (h *HiLo) Resume(state json.RawMessage) (string, error) {
	var s hiloState
	if err := json.Unmarshal(state, &s); err != nil {
		return "", fmt.Errorf("failed to decode hilo state: %w", err)
	}
	return fmt.Sprintf(
		"\x1b[1;33m*** Hi-Lo Casino ***\x1b[0m (resuming)\r\n"+
			"Bankroll: %d credits, round %d in progress.\r\nYour guess? ",
		s.Bankroll, s.Rounds+1), nil
}

func (h *HiLo) Input(state json.RawMessage, line string) (json.RawMessage, string, error) {
	var s hiloState
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, "", fmt.Errorf("failed to decode hilo state: %w", err)
	}

	guess, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || guess < 1 || guess > hiloMaxNumber {
		return state, fmt.Sprintf("Whole numbers between 1 and %d only.\r\nYour guess? ", hiloMaxNumber), nil
	}

	s.Guesses++
	var out string
	switch {
	case guess < s.Target:
		out = "Higher!\r\nYour guess? "
	case guess > s.Target:
		out = "Lower!\r\nYour guess? "
	default:
		payout := hiloWager*2 - s.Guesses
		if payout < 0 {
			payout = 0
		}
		s.Bankroll += payout - hiloWager
		s.Rounds++
		out = fmt.Sprintf(
			"\x1b[1;32mGot it in %d!\x1b[0m You win %d credits; bankroll is now %d.\r\n"+
				"New round. Your guess? ",
			s.Guesses, payout, s.Bankroll)
		s.Target = rand.Intn(hiloMaxNumber) + 1
		s.Guesses = 0
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, "", err
	}
	return raw, out, nil
}

func (h *HiLo) Exit(state json.RawMessage) (string, error) {
	var s hiloState
	if err := json.Unmarshal(state, &s); err != nil {
		return "", fmt.Errorf("failed to decode hilo state: %w", err)
	}
	return fmt.Sprintf("You leave the casino with %d credits after %d rounds. Come again!\r\n",
		s.Bankroll, s.Rounds), nil
}
