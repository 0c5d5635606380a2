package resolution

import (
	"regexp"
	"strings"
)

// commonOrgSuffixes は組織名の比較前に取り除く一般的な接尾辞
var commonOrgSuffixes = map[string]struct{}{
	"inc": {}, "llc": {}, "ltd": {}, "corp": {}, "corporation": {}, "co": {},
	"company": {}, "group": {}, "holdings": {}, "enterprises": {}, "partners": {},
	"lp": {}, "llp": {}, "plc": {}, "sa": {}, "ag": {}, "gmbh": {}, "pllc": {},
	"pa": {}, "pc": {}, "na": {}, "fsb": {}, "services": {}, "service": {},
	"mortgage": {}, "insurance": {}, "financial": {}, "bank": {}, "banking": {},
	"lending": {}, "solutions": {}, "associates": {}, "association": {},
	"foundation": {}, "trust": {}, "management": {}, "consulting": {},
	"advisors": {}, "advisory": {}, "capital": {}, "properties": {}, "realty": {},
	"real": {}, "estate": {}, "of": {}, "the": {}, "and": {}, "a": {},
}

// abbreviations は歴史的な名前の省略形
var abbreviations = map[string]string{
	"wm": "william", "chas": "charles", "geo": "george", "jas": "james",
	"jno": "john", "thos": "thomas", "robt": "robert", "benj": "benjamin",
	"danl": "daniel", "edw": "edward", "fredk": "frederick", "saml": "samuel",
}

// titlePrefixes は人名から取り除く敬称・称号
var titlePrefixes = map[string]struct{}{
	"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "prof": {}, "rev": {}, "hon": {},
	"sgt": {}, "cpl": {}, "sra": {}, "ssgt": {}, "tsgt": {}, "msgt": {},
	"smsgt": {}, "cmsgt": {}, "od": {}, "md": {}, "dds": {}, "dvm": {},
	"esq": {}, "jr": {}, "sr": {}, "ii": {}, "iii": {}, "iv": {},
}

// businessPrefixSuffixes は名前の先頭に現れた場合に末尾へ移す法人接尾辞
var businessPrefixSuffixes = map[string]struct{}{
	"llc": {}, "inc": {}, "corp": {}, "ltd": {}, "co": {}, "the": {},
}

var (
	specialCharsPattern = regexp.MustCompile(`[™®©.\-']`)
	multiSpacePattern   = regexp.MustCompile(`\s+`)
	uncleanCharsPattern = regexp.MustCompile(`[0-9#@&%]`)
)

// NormalizeName は比較用に名前を正規化します
// "LAST, FIRST"形式の入れ替えと特殊文字・連続空白の除去を行います
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	if parts := strings.Split(name, ","); len(parts) == 2 {
		name = strings.TrimSpace(parts[1]) + " " + strings.TrimSpace(parts[0])
	}

	name = specialCharsPattern.ReplaceAllString(name, " ")
	name = multiSpacePattern.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// NormalizePersonName は人名を正規化します
// 敬称・称号の接頭辞と連名分割由来の"AND"接頭辞を取り除きます
func NormalizePersonName(name string) string {
	name = NormalizeName(name)
	parts := strings.Fields(name)

	for len(parts) > 0 {
		head := strings.TrimSuffix(strings.ToLower(parts[0]), ".")
		if _, ok := titlePrefixes[head]; !ok {
			break
		}
		parts = parts[1:]
	}

	if len(parts) > 0 && strings.EqualFold(parts[0], "and") {
		parts = parts[1:]
	}

	if len(parts) == 0 {
		return name
	}
	return strings.Join(parts, " ")
}

// NormalizeOrgName は組織名を正規化します
// 先頭に置かれた法人接尾辞（"LLC RapidRoute"）を末尾へ移します
func NormalizeOrgName(name string) string {
	name = NormalizeName(name)
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return name
	}

	head := strings.TrimSuffix(strings.ToLower(parts[0]), ",")
	if _, ok := businessPrefixSuffixes[head]; ok && len(parts) > 1 {
		parts = append(parts[1:], head)
	}
	return strings.Join(parts, " ")
}

// NameParts は名前の有意な構成要素（小文字、イニシャル除外）を返します
func NameParts(name string) []string {
	normalized := strings.ToLower(NormalizeName(name))
	var parts []string
	for _, p := range strings.Fields(normalized) {
		if len(p) > 1 {
			parts = append(parts, p)
		}
	}
	return parts
}

// DistinctiveOrgWords は組織名から一般的な法人接尾辞を除いた特徴語を返します
func DistinctiveOrgWords(name string) map[string]struct{} {
	normalized := strings.ToLower(NormalizeName(name))
	words := make(map[string]struct{})
	for _, p := range strings.Fields(normalized) {
		if _, common := commonOrgSuffixes[p]; common {
			continue
		}
		if len(p) > 1 {
			words[p] = struct{}{}
		}
	}
	return words
}

// IsShortName は曖昧なファジーマッチを避けるべき短い名前かどうかを返します
func IsShortName(name string) bool {
	return len(NormalizeName(name)) <= 5
}

// expandAbbreviation は省略形を展開します（未知の場合はそのまま）
func expandAbbreviation(part string) string {
	p := strings.TrimSuffix(strings.ToLower(part), ".")
	if full, ok := abbreviations[p]; ok {
		return full
	}
	return p
}

// isInitialOf はshortがlongのイニシャルまたは省略形かどうかを判定します
func isInitialOf(short, long string) bool {
	s := strings.TrimSuffix(strings.ToLower(short), ".")
	l := strings.ToLower(long)
	if len(s) == 1 {
		return strings.HasPrefix(l, s)
	}
	return s == l || expandAbbreviation(s) == l
}

var jointNamePattern = regexp.MustCompile(`(?i)^(.+?)\s+(?:&|and)\s+(.+)$`)

// DetectJointNames は連名（"Blake & Chelsea McCarn"など）を個人名に分割します
// 連名でなければ元の名前を1要素で返します
func DetectJointNames(name string) []string {
	parts := strings.Fields(NormalizeName(name))
	if len(parts) <= 3 {
		return []string{name}
	}

	joined := strings.Join(parts, " ")

	if m := jointNamePattern.FindStringSubmatch(joined); m != nil {
		left := strings.TrimSpace(m[1])
		right := strings.TrimSpace(m[2])

		// 左側に姓がない場合は右側の末尾を共有姓として借りる
		leftParts := strings.Fields(left)
		rightParts := strings.Fields(right)
		if len(leftParts) <= 2 && len(rightParts) >= 2 {
			surname := rightParts[len(rightParts)-1]
			hasSurname := false
			for _, w := range leftParts {
				if strings.EqualFold(w, surname) {
					hasSurname = true
					break
				}
			}
			if !hasSurname {
				left = left + " " + surname
			}
		}
		return []string{left, right}
	}

	// 区切りなしで連結された2名（"BLAKE T MCCARN CHELSEA J MCCARN"）
	// 同じ姓が2回現れる位置で分割する
	if len(parts) >= 5 {
		lower := make([]string, len(parts))
		for i, p := range parts {
			lower[i] = strings.ToLower(p)
		}
		for i, word := range lower {
			if len(word) < 3 {
				continue
			}
			for j := i + 1; j < len(lower); j++ {
				if lower[j] != word {
					continue
				}
				left := parts[:i+1]
				right := parts[i+1:]
				if len(left) >= 2 && len(left) <= 4 && len(right) >= 2 && len(right) <= 4 {
					return []string{strings.Join(left, " "), strings.Join(right, " ")}
				}
				break
			}
		}
	}

	return []string{name}
}

// LooksLikeOrganization は人物として抽出された名前が組織名らしいかどうかを判定します
func LooksLikeOrganization(name string) bool {
	padded := " " + strings.ToLower(NormalizeName(name)) + " "
	indicators := []string{
		"llc", "inc", "corp", "ltd", "company", "co.", "solutions",
		"services", "association", "foundation", "bank", "mortgage",
		"insurance", "financial", "trust", "group", "partners",
	}
	for _, ind := range indicators {
		if strings.Contains(padded, " "+ind+" ") {
			return true
		}
	}
	return false
}
