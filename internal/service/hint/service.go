package hint

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/live-coach/backend/internal/metrics"
	"github.com/zhouzirui/live-coach/backend/internal/model/learner"
	"github.com/zhouzirui/live-coach/backend/internal/model/persona"
	"github.com/zhouzirui/live-coach/backend/internal/service/ratelimit"
)

// ErrEmptyQuestion 问题为空
var ErrEmptyQuestion = errors.New("question is required")

// Options 提示服务依赖
type Options struct {
	Directory learner.Directory
	Personas  persona.Store
	Gate      *ratelimit.Gate
	MaxWait   time.Duration
	Metrics   *metrics.Metrics
}

// Service 基于当前幻灯片给出文字提示，调用前经过限流闸门
type Service struct {
	chain     compose.Runnable[map[string]any, *schema.Message]
	directory learner.Directory
	personas  persona.Store
	gate      *ratelimit.Gate
	maxWait   time.Duration
	metrics   *metrics.Metrics
}

// NewService 编译 prompt -> chat model 链
func NewService(ctx context.Context, chatModel model.BaseChatModel, opts Options) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("hint service requires a chat model")
	}
	if opts.Gate == nil {
		opts.Gate = ratelimit.NewGate(10, time.Minute)
	}
	if opts.Personas == nil {
		opts.Personas = persona.NewMemoryStore(persona.Seed())
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{question}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile hint chain: %w", err)
	}

	return &Service{
		chain:     runnable,
		directory: opts.Directory,
		personas:  opts.Personas,
		gate:      opts.Gate,
		maxWait:   opts.MaxWait,
		metrics:   opts.Metrics,
	}, nil
}

// Stream 流式返回提示；超出限流时返回 ratelimit.ErrRateLimitExceeded
func (s *Service) Stream(ctx context.Context, learnerID, question string) (*schema.StreamReader[*schema.Message], error) {
	input, err := s.prepare(ctx, learnerID, question)
	if err != nil {
		return nil, err
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream hint: %w", err)
	}
	return stream, nil
}

// Generate 一次性返回提示
func (s *Service) Generate(ctx context.Context, learnerID, question string) (string, error) {
	input, err := s.prepare(ctx, learnerID, question)
	if err != nil {
		return "", err
	}

	msg, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to generate hint: %w", err)
	}
	log.Printf("[hint] generated hint learner=%s length=%d", learnerID, len(msg.Content))
	return msg.Content, nil
}

func (s *Service) prepare(ctx context.Context, learnerID, question string) (map[string]any, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	if err := s.gate.WaitUntilAllowed(ctx, learnerID, s.maxWait); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
			s.metrics.RecordRateLimited("hint")
			log.Printf("[hint] rate limited learner=%s remaining=%d reset=%s", learnerID, s.gate.Remaining(learnerID), s.gate.ResetTime(learnerID).Format(time.RFC3339))
		}
		return nil, err
	}

	return map[string]any{
		"system":   s.systemPrompt(ctx, learnerID),
		"question": question,
	}, nil
}

func (s *Service) systemPrompt(ctx context.Context, learnerID string) string {
	var profile learner.Profile
	var training learner.Training
	var slide learner.Slide
	if s.directory != nil {
		profile, _ = s.directory.Profile(ctx, learnerID)
		training, _ = s.directory.Training(ctx, learnerID)
		slide, _ = s.directory.CurrentSlide(ctx, learnerID)
	}
	p, _ := persona.Resolve(s.personas, profile.PersonaID)

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s. Tone: %s.\n", p.Name, p.Title, p.Tone)
	b.WriteString("Give the learner one short, concrete hint. Do not give the full answer.\n")
	if training.Title != "" {
		fmt.Fprintf(&b, "Training: %s. Goal: %s\n", training.Title, training.Goal)
	}
	if slide.Title != "" {
		fmt.Fprintf(&b, "Current slide #%d %s: %s\n", slide.SlideNumber, slide.Title, slide.Content)
	}
	if profile.Language != "" {
		fmt.Fprintf(&b, "Answer in %s.", profile.Language)
	}
	return b.String()
}
