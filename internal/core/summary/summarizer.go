// Package summary はグラフの文脈からエンティティの説明文を生成します
// 関係・属性・言及文書をまとめた調書風の記述をノードに保存し、
// 名寄せの正準選択と検索結果の可読性を高めます
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/llm"
)

// typeGuidance は種別ごとに説明に含めるべき観点
var typeGuidance = map[graph.EntityType]string{
	graph.EntityTypePerson:       "For this person, include biographical info, roles, relationships to other people and organizations, and all document mentions with dates. Note any identifiers (account numbers, etc.).",
	graph.EntityTypeOrganization: "For this organization, describe what they do, their relationship to the document owner, services provided, account numbers or policy numbers, and all document interactions.",
	graph.EntityTypeMedicalTest:  "For this medical result, include the test name, value, units, reference range, whether it was flagged, the date it was taken, the provider, and any clinical significance.",
	graph.EntityTypeInvoice:      "For this financial item, include amounts, dates, payment status, vendor/source, invoice numbers, and any recurring patterns.",
	graph.EntityTypeTaxForm:      "For this tax filing, include the form type, tax year, income, tax owed and paid, filing status, and preparer.",
	graph.EntityTypeContract:     "For this contract, include parties involved, effective/expiration dates, key terms, renewal information, and obligations.",
	graph.EntityTypePolicy:       "For this insurance policy, include the provider, policy number, coverage type, premium, effective dates, and covered individuals.",
	graph.EntityTypeProperty:     "For this address, describe what it represents (home, business, property), who is associated with it, and any documents referencing it.",
}

const defaultGuidance = "Be comprehensive and factual."

// interRequestDelay は連続するLLM呼び出しの間隔（レート制限対策）
const interRequestDelay = 1500 * time.Millisecond

// Report は一括要約の集計結果
type Report struct {
	Total      int `json:"total"`
	Summarized int `json:"summarized"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Summarizer はエンティティの説明文を生成・保存します
type Summarizer struct {
	repo   graph.Repository
	client llm.Client
	delay  time.Duration
	logger *slog.Logger
}

// NewSummarizer は新しいSummarizerを作成します
func NewSummarizer(repo graph.Repository, client llm.Client, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		repo:   repo,
		client: client,
		delay:  interRequestDelay,
		logger: logger,
	}
}

// SummarizeEntity は1エンティティの説明文を生成して保存します
func (s *Summarizer) SummarizeEntity(ctx context.Context, id uuid.UUID) error {
	entity, err := s.repo.GetEntity(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load entity: %w", err)
	}
	detail, err := s.repo.GetNode(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load entity relationships: %w", err)
	}

	prompt := buildDossierPrompt(entity, detail.Relationships)
	resp, err := s.client.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Temperature: 0.2,
	})
	if err != nil {
		return fmt.Errorf("failed to generate description: %w", err)
	}

	description := strings.TrimSpace(resp.Content)
	if description == "" {
		return llm.ErrEmptyResponse
	}

	entity.Description = description
	if entity.Properties == nil {
		entity.Properties = map[string]any{}
	}
	entity.Properties["description_updated_at"] = time.Now().UTC().Format(time.RFC3339)

	if err := s.repo.UpdateEntity(ctx, entity); err != nil {
		return fmt.Errorf("failed to store description: %w", err)
	}

	s.logger.Info("エンティティの説明文を更新しました",
		"entity", entity.Name,
		"type", string(entity.Type),
		"description_length", len(description),
	)
	return nil
}

// SummarizeAll は全エンティティの説明文を生成します
// forceがfalseの場合、既に説明文を持つエンティティは読み飛ばします
func (s *Summarizer) SummarizeAll(ctx context.Context, force bool) (Report, error) {
	entities, err := s.repo.ListEntitiesByType(ctx, "")
	if err != nil {
		return Report{}, fmt.Errorf("failed to list entities: %w", err)
	}

	report := Report{Total: len(entities)}
	s.logger.Info("エンティティの一括要約を開始します", "total", report.Total, "force", force)

	for i, entity := range entities {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !force && entity.Description != "" {
			report.Skipped++
			continue
		}

		if err := s.SummarizeEntity(ctx, entity.ID); err != nil {
			s.logger.Error("エンティティの要約に失敗しました", "entity", entity.Name, "error", err)
			report.Failed++
		} else {
			report.Summarized++
		}

		if i < len(entities)-1 && s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return report, ctx.Err()
			}
		}
	}

	s.logger.Info("エンティティの一括要約が完了しました",
		"summarized", report.Summarized,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

// buildDossierPrompt はエンティティの既知情報から要約プロンプトを組み立てます
func buildDossierPrompt(entity graph.Entity, relationships []graph.RelationshipDetail) string {
	guidance, ok := typeGuidance[entity.Type]
	if !ok {
		guidance = defaultGuidance
	}

	var props strings.Builder
	for k, v := range entity.Properties {
		if k == "description_updated_at" || v == nil || v == "" {
			continue
		}
		fmt.Fprintf(&props, "  - %s: %v\n", k, v)
	}
	if len(entity.Aliases) > 0 {
		fmt.Fprintf(&props, "  - also known as: %s\n", strings.Join(entity.Aliases, ", "))
	}

	var rels strings.Builder
	var docs strings.Builder
	for _, r := range relationships {
		if r.Neighbor.Type == "Document" {
			docType, _ := r.Neighbor.Properties["doc_type"].(string)
			fmt.Fprintf(&docs, "  - %q (type: %s)\n", r.Neighbor.Name, docType)
			continue
		}
		arrow := "->"
		if r.Direction == "in" {
			arrow = "<-"
		}
		fmt.Fprintf(&rels, "  - %s [%s] %s: %s\n", arrow, r.Type, r.Neighbor.Type, r.Neighbor.Name)
	}

	orNone := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "  (none)"
		}
		return strings.TrimRight(s, "\n")
	}

	return fmt.Sprintf(`Given the following information about %q (%s) extracted from personal documents, write a comprehensive narrative description that consolidates all known facts.

%s

**Entity Properties:**
%s

**Relationships:**
%s

**Source Documents:**
%s

Write a well-organized, factual dossier-style description. Use prose paragraphs, not bullet points. Include all dates, identifiers, and specifics. If information is limited, state what is known concisely. Do not speculate or add information not present above.`,
		entity.Name, string(entity.Type), guidance,
		orNone(props.String()), orNone(rels.String()), orNone(docs.String()))
}
