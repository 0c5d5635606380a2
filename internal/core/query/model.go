package query

import (
	"time"

	"github.com/google/uuid"
)

// EventType はストリーム上のイベント種別
type EventType string

const (
	// EventStatus は進捗の説明
	EventStatus EventType = "status"
	// EventAnswerChunk は回答テキストの増分
	EventAnswerChunk EventType = "answer_chunk"
	// EventComplete は最終結果（終端イベント）
	EventComplete EventType = "complete"
	// EventError は回復不能な失敗（終端イベント）
	EventError EventType = "error"
)

// Event は回答ストリームの1要素
// CompleteまたはErrorが流れた後にチャネルは閉じられます
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	Content string    `json:"content,omitempty"`
	Result  *Result   `json:"result,omitempty"`
}

// Source は回答の根拠となった文書
type Source struct {
	DocumentID int     `json:"document_id"`
	Similarity float64 `json:"similarity"`
}

// EntityRef は回答に使用されたエンティティ
type EntityRef struct {
	ID   uuid.UUID `json:"entity_id"`
	Name string    `json:"name"`
}

// Result は1つの質問への最終回答
type Result struct {
	Question   string      `json:"question"`
	Answer     string      `json:"answer"`
	Sources    []Source    `json:"sources"`
	Entities   []EntityRef `json:"entities"`
	Confidence float64     `json:"confidence"`
	FollowUps  []string    `json:"follow_up_questions,omitempty"`
	Cached     bool        `json:"cached,omitempty"`
}

// Turn は過去の質問と回答の1往復
// 呼び出し側が保持し、読み取り専用の文脈として渡されます
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Options は検索・展開・ギャップ分析の制御パラメータ
type Options struct {
	// MaxGapRounds はギャップ分析による追加検索の最大回数
	MaxGapRounds int

	// ExpansionDepth はグラフ展開のホップ数
	ExpansionDepth int

	// ExpansionNodeBudget は展開で取り込むノード総数の上限
	ExpansionNodeBudget int

	// RetrievalTimeout は検索ソース1つあたりの待ち時間
	RetrievalTimeout time.Duration
}

// DefaultOptions は既定の制御パラメータを返します
func DefaultOptions() Options {
	return Options{
		MaxGapRounds:        2,
		ExpansionDepth:      2,
		ExpansionNodeBudget: 60,
		RetrievalTimeout:    10 * time.Second,
	}
}
