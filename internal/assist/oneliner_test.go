package assist

import (
	"testing"

	"github.com/agentuity/go-common/logger"
	"github.com/stretchr/testify/assert"
)

func TestOnelinerWithoutAPIKeyFallsBack(t *testing.T) {
	s := NewService(logger.NewTestLogger(), Config{})

	quip := s.Oneliner(t.Context())
	assert.NotEmpty(t, quip)
	assert.Contains(t, fallbackOneliners, quip)
}

func TestFallbackDrawsFromList(t *testing.T) {
	for i := 0; i < 20; i++ {
		assert.Contains(t, fallbackOneliners, fallback())
	}
}
