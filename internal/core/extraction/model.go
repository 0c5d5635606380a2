package extraction

// DocType は文書の分類ラベル
type DocType string

const (
	DocTypeMedicalLab       DocType = "medical_lab"
	DocTypeFinancialInvoice DocType = "financial_invoice"
	DocTypeLegalContract    DocType = "legal_contract"
	DocTypeInsurance        DocType = "insurance"
	DocTypePropertyHome     DocType = "property_home"
	DocTypeGovernmentTax    DocType = "government_tax"
	DocTypePersonal         DocType = "personal"
	DocTypeWork             DocType = "work"
)

// FallbackDocType は分類に失敗した場合に割り当てる種別
const FallbackDocType = DocTypePersonal

// ValidDocTypes は既知の分類ラベル一覧
var ValidDocTypes = []DocType{
	DocTypeMedicalLab,
	DocTypeFinancialInvoice,
	DocTypeLegalContract,
	DocTypeInsurance,
	DocTypePropertyHome,
	DocTypeGovernmentTax,
	DocTypePersonal,
	DocTypeWork,
}

// IsValidDocType はラベルが既知の分類かどうかを返します
func IsValidDocType(t DocType) bool {
	for _, v := range ValidDocTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Classification は分類結果
type Classification struct {
	DocType    DocType
	Confidence float64
}

// ImpliedRelationship はLLMが推定した暗黙の関係
type ImpliedRelationship struct {
	FromEntity   string  `json:"from_entity"`
	FromType     string  `json:"from_type"`
	ToEntity     string  `json:"to_entity"`
	ToType       string  `json:"to_type"`
	Relationship string  `json:"relationship"`
	Confidence   float64 `json:"confidence"`
}

// Result は抽出結果のペイロード
// Fieldsは文書種別ごとのスキーマに従うJSONオブジェクトです
type Result struct {
	// DocType は抽出に使用した文書種別
	DocType DocType

	// Fields は抽出された構造化フィールド
	Fields map[string]any

	// Confidence は抽出全体の確信度
	Confidence float64

	// ImpliedRelationships はLLMが推定した暗黙の関係
	ImpliedRelationships []ImpliedRelationship

	// Fallback はスキーマ抽出に失敗して汎用抽出に切り替えたかどうか
	Fallback bool
}
