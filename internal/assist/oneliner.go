// Package assist holds the single-shot AI utilities. Nothing here has
// state or concurrency concerns of its own; every call degrades to a
// static fallback when the provider is unavailable.
package assist

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/agentuity/go-common/logger"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
)

const onelinerPrompt = "Write one short, dry, retro-BBS style oneliner to greet a caller. Plain text, no quotes, under 80 characters."

var fallbackOneliners = []string{
	"All lines are local lines if you believe hard enough.",
	"Remember to hang up the phone before your mom needs it.",
	"Today's weather: 2400 baud with a chance of line noise.",
	"Be kind to your sysop. They know where you live (roughly).",
}

const onelinerCacheTTL = 10 * time.Minute

type Config struct {
	APIKey string
	Model  string
}

type Service struct {
	logger  logger.Logger
	client  openai.Client
	model   openai.ChatModel
	enabled bool

	mu        sync.Mutex
	cached    string
	cachedAt  time.Time
	inFlight  bool
}

func NewService(log logger.Logger, cfg Config) *Service {
	s := &Service{
		logger:  log.WithPrefix("[assist]"),
		enabled: cfg.APIKey != "",
		model:   openai.ChatModelGPT5_2,
	}
	if cfg.Model != "" {
		s.model = openai.ChatModel(cfg.Model)
	}
	if s.enabled {
		s.client = openai.NewClient(option.WithAPIKey(cfg.APIKey))
	}
	return s
}

// Oneliner returns the menu quip. The provider is asked at most once per
// cache window; everything else is served from the cache or the
// fallback list, and a provider failure is only a debug log.
func (s *Service) Oneliner(ctx context.Context) string {
	if !s.enabled {
		return fallback()
	}

	s.mu.Lock()
	if s.cached != "" && time.Since(s.cachedAt) < onelinerCacheTTL {
		defer s.mu.Unlock()
		return s.cached
	}
	if s.inFlight {
		defer s.mu.Unlock()
		if s.cached != "" {
			return s.cached
		}
		return fallback()
	}
	s.inFlight = true
	s.mu.Unlock()

	quip := s.generate(ctx)

	s.mu.Lock()
	s.inFlight = false
	if quip != "" {
		s.cached = quip
		s.cachedAt = time.Now()
	}
	s.mu.Unlock()

	if quip == "" {
		return fallback()
	}
	return quip
}

func (s *Service) generate(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := s.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: s.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(onelinerPrompt),
		},
	})
	if err != nil {
		s.logger.Debug("oneliner generation failed: %v", err)
		return ""
	}
	quip := strings.TrimSpace(resp.OutputText())
	if len(quip) > 120 {
		quip = quip[:120]
	}
	return quip
}

func fallback() string {
	return fallbackOneliners[rand.Intn(len(fallbackOneliners))]
}
