package ingestion

import (
	"strings"
	"unicode"
)

// blockedEntityNames は固有名詞ではない一般語・役割語の集合
// LLMが「申請者」「顧客」のような役割をエンティティとして返すことがあるため、
// これらはグラフノードにしません
var blockedEntityNames = map[string]bool{
	"subject matter expert": true, "candidates": true, "applicant": true,
	"customer": true, "client": true,
	"employee": true, "employer": true, "vendor": true, "buyer": true,
	"seller": true, "user": true, "admin": true,
	"recipient": true, "sender": true, "owner": true, "tenant": true,
	"landlord": true, "borrower": true, "lender": true,
	"insured": true, "beneficiary": true, "claimant": true,
	"plaintiff": true, "defendant": true,
	"taxpayer": true, "filer": true, "spouse": true, "dependent": true,
	"subscriber": true, "member": true,
	"patient": true, "provider": true, "physician": true,
	"doctor": true, "nurse": true,
	"n/a": true, "unknown": true, "none": true, "null": true,
	"other": true, "various": true, "multiple": true,
	"not specified": true, "not applicable": true,
	"see above": true, "see below": true,
}

// IsValidEntityName はエンティティ名として登録可能か判定します
// 役割語・短すぎる名前・小文字のみの単語は拒否します
func IsValidEntityName(name string) bool {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < 3 {
		return false
	}
	if blockedEntityNames[strings.ToLower(trimmed)] {
		return false
	}

	// 小文字だけの単語は固有名詞ではない可能性が高い
	if !strings.ContainsAny(trimmed, " ") && !containsUpper(trimmed) {
		return false
	}

	return true
}

func containsUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}
