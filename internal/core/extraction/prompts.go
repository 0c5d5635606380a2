package extraction

import "strings"

// classificationPrompt は文書分類プロンプト
const classificationPrompt = `You are a document classification system. Analyze the following document content and classify it into exactly ONE of these categories:

- medical_lab: Medical lab results, blood work, pathology reports, diagnostic tests
- financial_invoice: Invoices, bills, receipts, financial statements
- legal_contract: Contracts, agreements, legal documents, terms of service
- insurance: Insurance policies, claims, coverage documents
- property_home: Property deeds, home inspection reports, mortgage documents, real estate
- government_tax: Tax forms, tax returns, government filings, W-2s, 1099s
- personal: Personal correspondence, identification documents, personal records
- work: Employment documents, work correspondence, professional documents

Respond with a JSON object containing:
- "doc_type": one of the category names listed above
- "confidence": a float between 0.0 and 1.0 indicating your confidence

Document title: {title}

Document content (first 3000 chars):
{content}
`

// impliedRelationshipsSchema は全スキーマ共通の暗黙関係フィールド
const impliedRelationshipsSchema = `  "confidence": "overall extraction confidence between 0.0 and 1.0",
  "implied_relationships": [
    {
      "from_entity": "source entity name",
      "from_type": "source entity type (Person, Organization, etc.)",
      "to_entity": "target entity name",
      "to_type": "target entity type",
      "relationship": "relationship label (e.g., EMPLOYED_BY, TREATED_BY)",
      "confidence": "confidence between 0.0 and 1.0"
    }
  ]`

// extractionPrompts は文書種別ごとの抽出プロンプト
var extractionPrompts = map[DocType]string{
	DocTypeMedicalLab: `Extract structured information from this medical lab document. Return a JSON object with:
{
  "provider": "name of lab/healthcare provider",
  "patient_name": "patient full name",
  "date": "date of results (YYYY-MM-DD if possible)",
  "tests": [
    {
      "name": "test name",
      "value": "result value",
      "unit": "unit of measurement",
      "reference_range": "normal range",
      "flag": "H/L/normal or null"
    }
  ],
  "diagnoses": ["list of diagnoses if mentioned"],
  "ordering_physician": "physician name if mentioned",
` + impliedRelationshipsSchema + `
}

Extract all information present. Use null for missing fields. Be thorough with test results.

Document title: {title}
Document content:
{content}`,

	DocTypeFinancialInvoice: `Extract structured information from this financial/invoice document. Return a JSON object with:
{
  "vendor": "vendor/company name",
  "invoice_number": "invoice or receipt number",
  "date": "invoice date (YYYY-MM-DD if possible)",
  "due_date": "due date if mentioned (YYYY-MM-DD if possible)",
  "total_amount": "total amount as number",
  "currency": "currency code (USD, EUR, etc.)",
  "line_items": [
    {
      "description": "item description",
      "amount": "item amount as number"
    }
  ],
  "payment_status": "paid/unpaid/partial if mentioned",
` + impliedRelationshipsSchema + `
}

Extract all information present. Use null for missing fields.

Document title: {title}
Document content:
{content}`,

	DocTypeLegalContract: `Extract structured information from this legal/contract document. Return a JSON object with:
{
  "parties": [
    {
      "name": "party name",
      "role": "role in contract (e.g., buyer, seller, licensor)"
    }
  ],
  "contract_type": "type of contract",
  "effective_date": "start date (YYYY-MM-DD if possible)",
  "expiration_date": "end date if mentioned (YYYY-MM-DD if possible)",
  "terms_summary": "brief summary of key terms",
  "obligations": [
    {
      "party": "party name",
      "obligation": "description of obligation"
    }
  ],
  "renewal_info": "renewal terms if mentioned",
` + impliedRelationshipsSchema + `
}

Extract all information present. Use null for missing fields.

Document title: {title}
Document content:
{content}`,

	DocTypeInsurance: `Extract structured information from this insurance document. Return a JSON object with:
{
  "provider": "insurance company name",
  "policy_number": "policy number",
  "policyholder": "policyholder name",
  "coverage_type": "type of coverage (health, auto, home, life, etc.)",
  "premium": "premium amount as number",
  "effective_date": "start date (YYYY-MM-DD if possible)",
  "expiration_date": "end date (YYYY-MM-DD if possible)",
  "covered_items": ["list of covered items or categories"],
` + impliedRelationshipsSchema + `
}

Extract all information present. Use null for missing fields.

Document title: {title}
Document content:
{content}`,

	DocTypeGovernmentTax: `Extract structured information from this tax/government document. Return a JSON object with:
{
  "form_type": "form type (W-2, 1099, 1040, etc.)",
  "tax_year": "tax year",
  "filer_name": "name of the filer",
  "filing_status": "filing status if mentioned",
  "total_income": "total income as number",
  "tax_owed": "tax owed as number",
  "tax_paid": "tax paid as number",
  "preparer": "tax preparer name if mentioned",
` + impliedRelationshipsSchema + `
}

Extract all information present. Use null for missing fields.

Document title: {title}
Document content:
{content}`,

	DocTypePropertyHome: `Extract structured information from this property/home document. Return a JSON object with:
{
  "property_address": "full property address",
  "parties": [
    {
      "name": "party name",
      "role": "role (buyer, seller, owner, inspector, etc.)"
    }
  ],
  "document_type": "specific type (deed, inspection, mortgage, etc.)",
  "date": "document date (YYYY-MM-DD if possible)",
  "amount": "monetary amount if applicable as number",
  "description": "brief description of the document purpose",
` + impliedRelationshipsSchema + `
}

Extract all information present. Use null for missing fields.

Document title: {title}
Document content:
{content}`,
}

// genericPrompt は専用スキーマを持たない種別（personal, work）向けの汎用プロンプト
// スキーマ抽出に失敗した場合のフォールバック抽出にも使用します
const genericPrompt = `Extract structured information from this document. Return a JSON object with:
{
  "people": [
    {
      "name": "person's full name",
      "role": "their role or relationship to the document"
    }
  ],
  "organizations": [
    {
      "name": "organization name",
      "type": "type of organization"
    }
  ],
  "dates": [
    {
      "date": "date value (YYYY-MM-DD if possible)",
      "description": "what this date represents"
    }
  ],
  "key_facts": ["list of key facts or data points"],
  "summary": "brief summary of the document",
` + impliedRelationshipsSchema + `
}

Extract all information present. Use null for missing fields. Be thorough.

Document title: {title}
Document content:
{content}`

// PromptForType は文書種別に対応する抽出プロンプトのテンプレートを返します
// 専用スキーマがない種別には汎用プロンプトを返します
func PromptForType(docType DocType) string {
	if prompt, ok := extractionPrompts[docType]; ok {
		return prompt
	}
	return genericPrompt
}

// buildPrompt はテンプレートにタイトルと本文を埋め込みます
func buildPrompt(template, title, content string) string {
	return strings.NewReplacer(
		"{title}", title,
		"{content}", content,
	).Replace(template)
}
