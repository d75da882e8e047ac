package door

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

var oracleAnswers = []string{
	"The signs point to yes.",
	"Ask again when the moon is fuller.",
	"Absolutely not, and you know why.",
	"Only if you log off before midnight.",
	"The answer hides in your uplink.",
	"Yes, but it will cost you a floppy.",
	"The spirits are busy compiling.",
	"Certain as a busy signal at 7pm.",
}

type oracleState struct {
	Asked        int    `json:"asked"`
	LastQuestion string `json:"last_question,omitempty"`
}

// Oracle answers questions. The same question always draws the same
// answer, which regulars consider proof of its powers.
type Oracle struct{}

func NewOracle() *Oracle {
	return &Oracle{}
}

func (o *Oracle) ID() string   { return "oracle" }
func (o *Oracle) Name() string { return "The Oracle" }

func (o *Oracle) NewGame() (json.RawMessage, string, error) {
	raw, err := json.Marshal(oracleState{})
	if err != nil {
		return nil, "", err
	}
	return raw, "\x1b[1;35m*** The Oracle ***\x1b[0m\r\n" +
		"Speak your question, mortal.\r\n> ", nil
}

func (o *Oracle) Resume(state json.RawMessage) (string, error) {
	var s oracleState
	if err := json.Unmarshal(state, &s); err != nil {
		return "", fmt.Errorf("failed to decode oracle state: %w", err)
	}
	return fmt.Sprintf("\x1b[1;35m*** The Oracle ***\x1b[0m (resuming)\r\n"+
		"You have asked %d question(s) so far.\r\n> ", s.Asked), nil
}

func (o *Oracle) Input(state json.RawMessage, line string) (json.RawMessage, string, error) {
	var s oracleState
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, "", fmt.Errorf("failed to decode oracle state: %w", err)
	}

	question := strings.TrimSpace(line)
	if question == "" {
		return state, "The Oracle cannot answer silence.\r\n> ", nil
	}

	s.Asked++
	s.LastQuestion = question
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, "", err
	}

	hasher := fnv.New32a()
	hasher.Write([]byte(strings.ToLower(question)))
	answer := oracleAnswers[hasher.Sum32()%uint32(len(oracleAnswers))]
	return raw, fmt.Sprintf("\x1b[36m%s\x1b[0m\r\n> ", answer), nil
}

func (o *Oracle) Exit(state json.RawMessage) (string, error) {
	var s oracleState
	if err := json.Unmarshal(state, &s); err != nil {
		return "", fmt.Errorf("failed to decode oracle state: %w", err)
	}
	return fmt.Sprintf("The Oracle dismisses you after %d question(s).\r\n", s.Asked), nil
}
