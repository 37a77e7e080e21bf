package live

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
)

const instructionTemplate = `You are {persona_name}{persona_title}, a spoken-language coach.
Tone: {tone}
{prompt_hint}

Learner: {learner_name} (level: {learner_level}). Speak {language}.
Training: {training_title}
Goal: {training_goal}
Current slide #{slide_number}: {slide_title}
{slide_content}

Recent conversation:
{history}

Keep answers short and spoken. Ask one follow-up question at a time.`

const historyLines = 6

// InstructionBuilder 基于 eino 模板拼装上游系统指令
type InstructionBuilder struct {
	template prompt.ChatTemplate
}

// NewInstructionBuilder 创建指令构建器
func NewInstructionBuilder() *InstructionBuilder {
	return &InstructionBuilder{
		template: prompt.FromMessages(schema.FString, schema.SystemMessage(instructionTemplate)),
	}
}

// Build 渲染系统指令
func (b *InstructionBuilder) Build(ctx context.Context, content livemodel.ContentContext, persona livemodel.PersonaContext) (string, error) {
	messages, err := b.template.Format(ctx, instructionVars(content, persona))
	if err != nil {
		return "", fmt.Errorf("format system instruction: %w", err)
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("format system instruction: empty result")
	}
	return strings.TrimSpace(messages[0].Content), nil
}

func instructionVars(content livemodel.ContentContext, persona livemodel.PersonaContext) map[string]any {
	title := ""
	if persona.PersonaTitle != "" {
		title = ", " + persona.PersonaTitle
	}

	history := content.History
	if len(history) > historyLines {
		history = history[len(history)-historyLines:]
	}
	historyText := "(none)"
	if len(history) > 0 {
		historyText = "- " + strings.Join(history, "\n- ")
	}

	slideNumber := "?"
	if content.SlideNumber > 0 {
		slideNumber = strconv.Itoa(content.SlideNumber)
	}

	return map[string]any{
		"persona_name":   orDefault(persona.PersonaName, "Coach"),
		"persona_title":  title,
		"tone":           orDefault(persona.Tone, "friendly and encouraging"),
		"prompt_hint":    persona.PromptHint,
		"learner_name":   orDefault(persona.LearnerName, "the learner"),
		"learner_level":  orDefault(persona.LearnerLevel, "unknown"),
		"language":       orDefault(persona.Language, "the learner's language"),
		"training_title": orDefault(content.TrainingTitle, "General practice"),
		"training_goal":  orDefault(content.TrainingGoal, "Practice speaking about the current topic"),
		"slide_number":   slideNumber,
		"slide_title":    orDefault(content.SlideTitle, "Untitled"),
		"slide_content":  content.SlideContent,
		"history":        historyText,
	}
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
