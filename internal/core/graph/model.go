package graph

import (
	"time"

	"github.com/google/uuid"
)

// EntityType はエンティティの種別ラベル
type EntityType string

const (
	EntityTypePerson       EntityType = "Person"
	EntityTypeOrganization EntityType = "Organization"
	EntityTypeDate         EntityType = "Date"
	EntityTypeMedicalTest  EntityType = "MedicalTest"
	EntityTypeMedication   EntityType = "Medication"
	EntityTypeCondition    EntityType = "Condition"
	EntityTypeProperty     EntityType = "Property"
	EntityTypePolicy       EntityType = "Policy"
	EntityTypeTaxForm      EntityType = "TaxForm"
	EntityTypeContract     EntityType = "Contract"
	EntityTypeInvoice      EntityType = "Invoice"
	EntityTypeFact         EntityType = "Fact"
)

// Entity はグラフ内の1エンティティを表します
type Entity struct {
	// ID はエンティティの恒久的な識別子
	// マージ後も正準エンティティのIDは変わりません
	ID uuid.UUID

	// Name は表示名
	Name string

	// Type は種別ラベル
	Type EntityType

	// Aliases は過去の表記・別名の集合
	Aliases []string

	// Description はエンティティの説明文
	Description string

	// Confidence は抽出時の確信度（0.0〜1.0）
	Confidence float64

	// SourceDocIDs はこのエンティティに言及している文書ID
	SourceDocIDs []int

	// Properties は型ごとの付加情報
	Properties map[string]any

	// CreatedAt は初回登録日時
	CreatedAt time.Time
}

// Relationship はエンティティ間または文書との関係を表します
type Relationship struct {
	// FromID / ToID は関係の両端のノードID
	FromID uuid.UUID
	ToID   uuid.UUID

	// Type は関係ラベル（HAS_TEST_RESULT, PARTY_TO など）
	Type string

	// Confidence は関係の確信度
	Confidence float64

	// SourceDocID は関係の根拠となる文書ID
	SourceDocID int

	// Implied はLLMが推定した暗黙の関係かどうか
	Implied bool

	// Properties は関係の付加情報
	Properties map[string]any
}

// DocumentNode はグラフ内の文書ノードを表します
// アーカイブ側の文書IDをキーとして一意です
type DocumentNode struct {
	ID        uuid.UUID
	DocID     int
	Title     string
	DocType   string
	CreatedAt time.Time
}

// Node はグラフ探索結果の1ノード（エンティティまたは文書）
type Node struct {
	ID         uuid.UUID
	Name       string
	Type       string
	Properties map[string]any
}

// NodeDetail はノードとその関係の詳細
type NodeDetail struct {
	Node          Node
	Relationships []RelationshipDetail
}

// RelationshipDetail は隣接ノード込みの関係情報
type RelationshipDetail struct {
	Type       string
	Direction  string // "out" or "in"
	Confidence float64
	Implied    bool
	Neighbor   Node
}

// Neighborhood は展開結果のサブグラフ
type Neighborhood struct {
	Nodes []Node
	Edges []Relationship
}

// Counts はグラフ統計
type Counts struct {
	Entities      int `json:"entities"`
	Documents     int `json:"documents"`
	Relationships int `json:"relationships"`
}
