package ingestion

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/extraction"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/resolution"
)

// confidenceThreshold を下回るエンティティ・関係は記録せず読み飛ばします
const confidenceThreshold = 0.5

// relCounter は1文書の処理で作成したノード・関係の数
type relCounter struct {
	entities      int
	relationships int
}

// processExtraction は抽出結果から文書種別に応じてグラフを構築します
func (p *Pipeline) processExtraction(ctx context.Context, docID int, docNodeID uuid.UUID, result extraction.Result) relCounter {
	var counter relCounter

	switch result.DocType {
	case extraction.DocTypeMedicalLab:
		p.processMedical(ctx, docID, docNodeID, result.Fields, &counter)
	case extraction.DocTypeFinancialInvoice:
		p.processFinancial(ctx, docID, docNodeID, result.Fields, &counter)
	case extraction.DocTypeLegalContract:
		p.processContract(ctx, docID, docNodeID, result.Fields, &counter)
	case extraction.DocTypeInsurance:
		p.processInsurance(ctx, docID, docNodeID, result.Fields, &counter)
	case extraction.DocTypeGovernmentTax:
		p.processTax(ctx, docID, docNodeID, result.Fields, &counter)
	case extraction.DocTypePropertyHome:
		p.processProperty(ctx, docID, docNodeID, result.Fields, &counter)
	default:
		p.processGeneric(ctx, docID, docNodeID, result.Fields, &counter)
	}

	return counter
}

func (p *Pipeline) processMedical(ctx context.Context, docID int, docNodeID uuid.UUID, fields map[string]any, counter *relCounter) {
	if patient := fieldString(fields, "patient_name"); patient != "" {
		p.linkResolved(ctx, docID, docNodeID, patient, graph.EntityTypePerson, "patient", "PATIENT_OF", counter)
	}
	if provider := fieldString(fields, "provider"); provider != "" {
		p.linkResolved(ctx, docID, docNodeID, provider, graph.EntityTypeOrganization, "medical", "PROVIDER_FOR", counter)
	}
	if physician := fieldString(fields, "ordering_physician"); physician != "" {
		p.linkResolved(ctx, docID, docNodeID, physician, graph.EntityTypePerson, "physician", "AUTHORED_BY", counter)
	}

	for _, test := range fieldList(fields, "tests") {
		name := fieldString(test, "name")
		if name == "" {
			continue
		}
		confidence := fieldFloat(test, "confidence", 1.0)
		if confidence < confidenceThreshold {
			p.logger.Debug("確信度の低い検査結果を読み飛ばします", "test", name, "confidence", confidence)
			continue
		}
		p.attachRecord(ctx, docID, docNodeID, graph.Entity{
			Name:       name,
			Type:       graph.EntityTypeMedicalTest,
			Confidence: confidence,
			Properties: map[string]any{
				"value":           fieldString(test, "value"),
				"unit":            fieldString(test, "unit"),
				"reference_range": fieldString(test, "reference_range"),
				"flag":            fieldString(test, "flag"),
			},
		}, "CONTAINS_RESULT", counter)
	}
}

func (p *Pipeline) processFinancial(ctx context.Context, docID int, docNodeID uuid.UUID, fields map[string]any, counter *relCounter) {
	if vendor := fieldString(fields, "vendor"); vendor != "" {
		p.linkResolved(ctx, docID, docNodeID, vendor, graph.EntityTypeOrganization, "financial", "INVOICED_BY", counter)
	}

	amount := fieldString(fields, "total_amount")
	if amount == "" {
		return
	}
	name := "Invoice"
	if ref := fieldString(fields, "invoice_number"); ref != "" {
		name = "Invoice " + ref
	}
	currency := fieldString(fields, "currency")
	if currency == "" {
		currency = "USD"
	}
	p.attachRecord(ctx, docID, docNodeID, graph.Entity{
		Name: name,
		Type: graph.EntityTypeInvoice,
		Properties: map[string]any{
			"amount":           amount,
			"date":             fieldString(fields, "date"),
			"reference_number": fieldString(fields, "invoice_number"),
			"currency":         currency,
			"payment_status":   fieldString(fields, "payment_status"),
		},
	}, "CONTAINS_RESULT", counter)
}

func (p *Pipeline) processContract(ctx context.Context, docID int, docNodeID uuid.UUID, fields map[string]any, counter *relCounter) {
	for _, party := range fieldList(fields, "parties") {
		name := fieldString(party, "name")
		if name == "" {
			continue
		}
		role := strings.ToLower(fieldString(party, "role"))
		relType := "PARTY_TO"
		if strings.Contains(role, "sign") || strings.Contains(role, "party") {
			relType = "CONTRACTED_WITH"
		}
		p.linkResolved(ctx, docID, docNodeID, name, graph.EntityTypeOrganization, "legal", relType, counter)
	}

	name := "Contract"
	if ct := fieldString(fields, "contract_type"); ct != "" {
		name = ct
	}
	p.attachRecord(ctx, docID, docNodeID, graph.Entity{
		Name: name,
		Type: graph.EntityTypeContract,
		Properties: map[string]any{
			"contract_type":   fieldString(fields, "contract_type"),
			"effective_date":  fieldString(fields, "effective_date"),
			"expiration_date": fieldString(fields, "expiration_date"),
			"terms_summary":   fieldString(fields, "terms_summary"),
			"renewal_info":    fieldString(fields, "renewal_info"),
		},
	}, "CONTAINS_RESULT", counter)
}

func (p *Pipeline) processInsurance(ctx context.Context, docID int, docNodeID uuid.UUID, fields map[string]any, counter *relCounter) {
	if provider := fieldString(fields, "provider"); provider != "" {
		p.linkResolved(ctx, docID, docNodeID, provider, graph.EntityTypeOrganization, "insurance", "PROVIDER_FOR", counter)
	}
	if holder := fieldString(fields, "policyholder"); holder != "" {
		p.linkResolved(ctx, docID, docNodeID, holder, graph.EntityTypePerson, "policyholder", "COVERS", counter)
	}

	name := "Policy"
	if num := fieldString(fields, "policy_number"); num != "" {
		name = "Policy " + num
	}
	p.attachRecord(ctx, docID, docNodeID, graph.Entity{
		Name: name,
		Type: graph.EntityTypePolicy,
		Properties: map[string]any{
			"policy_number":   fieldString(fields, "policy_number"),
			"provider":        fieldString(fields, "provider"),
			"coverage_type":   fieldString(fields, "coverage_type"),
			"premium":         fieldString(fields, "premium"),
			"effective_date":  fieldString(fields, "effective_date"),
			"expiration_date": fieldString(fields, "expiration_date"),
		},
	}, "CONTAINS_RESULT", counter)
}

func (p *Pipeline) processTax(ctx context.Context, docID int, docNodeID uuid.UUID, fields map[string]any, counter *relCounter) {
	if filer := fieldString(fields, "filer_name"); filer != "" {
		p.linkResolved(ctx, docID, docNodeID, filer, graph.EntityTypePerson, "filer", "AUTHORED_BY", counter)
	}
	if preparer := fieldString(fields, "preparer"); preparer != "" {
		p.linkResolved(ctx, docID, docNodeID, preparer, graph.EntityTypePerson, "tax_preparer", "MENTIONS", counter)
	}

	formType := fieldString(fields, "form_type")
	name := "Tax Filing"
	if formType != "" {
		name = formType
	}
	if year := fieldString(fields, "tax_year"); year != "" {
		name = name + " " + year
	}
	p.attachRecord(ctx, docID, docNodeID, graph.Entity{
		Name: name,
		Type: graph.EntityTypeTaxForm,
		Properties: map[string]any{
			"form_type":     formType,
			"tax_year":      fieldString(fields, "tax_year"),
			"total_income":  fieldString(fields, "total_income"),
			"filing_status": fieldString(fields, "filing_status"),
			"tax_owed":      fieldString(fields, "tax_owed"),
			"tax_paid":      fieldString(fields, "tax_paid"),
		},
	}, "CONTAINS_RESULT", counter)
}

func (p *Pipeline) processProperty(ctx context.Context, docID int, docNodeID uuid.UUID, fields map[string]any, counter *relCounter) {
	if address := fieldString(fields, "property_address"); address != "" {
		p.attachRecord(ctx, docID, docNodeID, graph.Entity{
			Name:       address,
			Type:       graph.EntityTypeProperty,
			Properties: map[string]any{"full_address": address},
		}, "LOCATED_AT", counter)
	}

	for _, party := range fieldList(fields, "parties") {
		name := fieldString(party, "name")
		if name == "" {
			continue
		}
		role := fieldString(party, "role")
		p.linkResolved(ctx, docID, docNodeID, name, graph.EntityTypePerson, role, "MENTIONS", counter)
	}
}

func (p *Pipeline) processGeneric(ctx context.Context, docID int, docNodeID uuid.UUID, fields map[string]any, counter *relCounter) {
	for _, person := range fieldRefs(fields, "people") {
		if person.confidence < confidenceThreshold {
			p.logger.Debug("確信度の低い人物を読み飛ばします", "name", person.name, "confidence", person.confidence)
			continue
		}
		p.linkResolved(ctx, docID, docNodeID, person.name, graph.EntityTypePerson, person.detail, "MENTIONS", counter)
	}

	for _, org := range fieldRefs(fields, "organizations") {
		if org.confidence < confidenceThreshold {
			p.logger.Debug("確信度の低い組織を読み飛ばします", "name", org.name, "confidence", org.confidence)
			continue
		}
		p.linkResolved(ctx, docID, docNodeID, org.name, graph.EntityTypeOrganization, org.detail, "MENTIONS", counter)
	}

	// 日付は独立したノードにせず、文書ノードの属性として扱います
}

// processImpliedRelationships はLLMが推定した関係をグラフに追加します
func (p *Pipeline) processImpliedRelationships(ctx context.Context, docID int, implied []extraction.ImpliedRelationship) int {
	created := 0
	for _, rel := range implied {
		if rel.Confidence < confidenceThreshold {
			p.logger.Debug("確信度の低い暗黙関係を読み飛ばします",
				"from", rel.FromEntity, "to", rel.ToEntity, "confidence", rel.Confidence)
			continue
		}

		fromID, err := p.resolveByTypeName(ctx, docID, rel.FromEntity, rel.FromType)
		if err != nil || fromID == uuid.Nil {
			continue
		}
		toID, err := p.resolveByTypeName(ctx, docID, rel.ToEntity, rel.ToType)
		if err != nil || toID == uuid.Nil {
			continue
		}

		relType := rel.Relationship
		if relType == "" {
			relType = "RELATED_TO"
		}
		if err := p.graphRepo.CreateRelationship(ctx, graph.Relationship{
			FromID:      fromID,
			ToID:        toID,
			Type:        relType,
			Confidence:  rel.Confidence,
			SourceDocID: docID,
			Implied:     true,
		}); err != nil {
			p.logger.Warn("暗黙関係の作成に失敗しました", "doc_id", docID, "error", err)
			continue
		}
		created++
	}
	return created
}

// storeEntityEmbeddings は抽出された人物・組織の埋め込みを保存します
// 意味検索でのエンティティ発見に使用します
func (p *Pipeline) storeEntityEmbeddings(ctx context.Context, docID int, fields map[string]any) {
	type target struct {
		name  string
		etype graph.EntityType
		desc  string
	}
	var targets []target
	for _, person := range fieldRefs(fields, "people") {
		targets = append(targets, target{person.name, graph.EntityTypePerson, person.detail})
	}
	for _, org := range fieldRefs(fields, "organizations") {
		targets = append(targets, target{org.name, graph.EntityTypeOrganization, org.detail})
	}
	for _, key := range []string{"patient_name", "ordering_physician", "filer_name", "policyholder"} {
		if name := fieldString(fields, key); name != "" {
			targets = append(targets, target{name, graph.EntityTypePerson, key})
		}
	}
	for _, key := range []string{"provider", "vendor"} {
		if name := fieldString(fields, key); name != "" {
			targets = append(targets, target{name, graph.EntityTypeOrganization, key})
		}
	}

	for _, t := range targets {
		if !IsValidEntityName(t.name) {
			continue
		}
		entity, err := p.graphRepo.FindEntityByName(ctx, t.name, t.etype)
		if err != nil {
			continue
		}

		content := fmt.Sprintf("%s | %s", entity.Name, strings.ToLower(string(t.etype)))
		if t.desc != "" {
			content += " | " + t.desc
		}
		embedding, err := p.embedder.Embed(ctx, content)
		if err != nil {
			p.logger.Warn("エンティティ埋め込みの生成に失敗しました", "doc_id", docID, "entity", entity.Name, "error", err)
			continue
		}
		if err := p.vectors.StoreEntityEmbedding(ctx, entity.ID, entity.Name, embedding); err != nil {
			p.logger.Warn("エンティティ埋め込みの保存に失敗しました", "doc_id", docID, "entity", entity.Name, "error", err)
		}
	}
}

// linkResolved は名前をエンティティへ解決し、文書ノードと関係で結びます
func (p *Pipeline) linkResolved(ctx context.Context, docID int, docNodeID uuid.UUID, name string, entityType graph.EntityType, description, relType string, counter *relCounter) {
	if !IsValidEntityName(name) {
		p.logger.Debug("エンティティ名として不適切なため読み飛ばします", "name", name)
		return
	}

	id, err := p.resolver.ResolveEntityRef(ctx, resolution.EntityRef{
		Name:        name,
		Type:        entityType,
		Description: description,
		SourceDocID: docID,
	})
	if err != nil {
		p.logger.Warn("エンティティ解決に失敗しました", "doc_id", docID, "name", name, "error", err)
		return
	}
	if id == uuid.Nil {
		return
	}
	counter.entities++

	if err := p.graphRepo.CreateRelationship(ctx, graph.Relationship{
		FromID:      docNodeID,
		ToID:        id,
		Type:        relType,
		SourceDocID: docID,
	}); err != nil {
		p.logger.Warn("関係の作成に失敗しました", "doc_id", docID, "name", name, "error", err)
		return
	}
	counter.relationships++
}

// attachRecord は文書固有のレコードノード（検査結果・請求・契約など）を作成します
// 文書間で共有されないため、エンティティ解決は通しません
func (p *Pipeline) attachRecord(ctx context.Context, docID int, docNodeID uuid.UUID, entity graph.Entity, relType string, counter *relCounter) {
	entity.SourceDocIDs = []int{docID}
	if entity.Confidence == 0 {
		entity.Confidence = 1.0
	}

	id, err := p.graphRepo.CreateEntity(ctx, entity)
	if err != nil {
		p.logger.Warn("レコードノードの作成に失敗しました", "doc_id", docID, "name", entity.Name, "error", err)
		return
	}
	counter.entities++

	if err := p.graphRepo.CreateRelationship(ctx, graph.Relationship{
		FromID:      docNodeID,
		ToID:        id,
		Type:        relType,
		SourceDocID: docID,
	}); err != nil {
		p.logger.Warn("関係の作成に失敗しました", "doc_id", docID, "name", entity.Name, "error", err)
		return
	}
	counter.relationships++
}

// resolveByTypeName は型ラベル文字列に応じてエンティティ解決を振り分けます
// 未知の型は名前の形から人物か組織かを推定します
func (p *Pipeline) resolveByTypeName(ctx context.Context, docID int, name, typeLabel string) (uuid.UUID, error) {
	if !IsValidEntityName(name) {
		return uuid.Nil, nil
	}

	entityType := graph.EntityTypePerson
	switch strings.ToLower(strings.TrimSpace(typeLabel)) {
	case "organization":
		entityType = graph.EntityTypeOrganization
	case "person", "":
		entityType = graph.EntityTypePerson
	default:
		if resolution.LooksLikeOrganization(name) {
			entityType = graph.EntityTypeOrganization
		}
	}

	return p.resolver.ResolveEntityRef(ctx, resolution.EntityRef{
		Name:        name,
		Type:        entityType,
		SourceDocID: docID,
	})
}

// entityRef は抽出フィールド中の人物・組織の表現
// 文字列と{name, role/type}オブジェクトの両方の形で返ってくることがあります
type entityRef struct {
	name       string
	detail     string
	confidence float64
}

func fieldRefs(fields map[string]any, key string) []entityRef {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}

	var refs []entityRef
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if v != "" {
				refs = append(refs, entityRef{name: v, confidence: 1.0})
			}
		case map[string]any:
			name := fieldString(v, "name")
			if name == "" {
				continue
			}
			detail := fieldString(v, "role")
			if detail == "" {
				detail = fieldString(v, "type")
			}
			refs = append(refs, entityRef{
				name:       name,
				detail:     detail,
				confidence: fieldFloat(v, "confidence", 1.0),
			})
		}
	}
	return refs
}

func fieldString(fields map[string]any, key string) string {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func fieldFloat(fields map[string]any, key string, fallback float64) float64 {
	raw, ok := fields[key]
	if !ok {
		return fallback
	}
	if v, ok := raw.(float64); ok {
		return v
	}
	return fallback
}

func fieldList(fields map[string]any, key string) []map[string]any {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}

	var out []map[string]any
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
