package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

var templates = []string{
	"In this vision, %s carries a gentle symbolic meaning. It reflects a quiet shift within your inner world.",
	"The presence of %s suggests that you are entering a period of soft transformation and inner understanding.",
	"Symbolically, %s points toward intuition awakening and clarity forming in subtle ways.",
	"Dreams involving %s often indicate that guidance is nearby, calm and quietly supportive.",
	"This symbol, %s, whispers of balance returning and new emotional harmony emerging.",
	"The dream uses %s as a sign of reflection, a reminder to trust the calm voice within.",
}

// TemplateGenerator renders canned interpretations without any model. The
// template is chosen from the labels, so equal inputs give equal output.
// It serves local runs where no generation service is available.
type TemplateGenerator struct{}

func NewTemplateGenerator() *TemplateGenerator { return &TemplateGenerator{} }

func (g *TemplateGenerator) Name() string { return "mock" }

func (g *TemplateGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	symbol := "this symbol"
	if len(req.Labels) > 0 {
		symbol = strings.Join(req.Labels, " and ")
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol + "|" + req.Style))
	tmpl := templates[h.Sum32()%uint32(len(templates))]

	return Result{Text: fmt.Sprintf(tmpl, symbol), Provider: g.Name(), Model: "templates"}, nil
}

var _ Generator = (*TemplateGenerator)(nil)
