package task

import (
	"time"

	"github.com/google/uuid"
)

// Kind はバックグラウンドタスクの種別
type Kind string

const (
	KindSync            Kind = "sync"
	KindReindex         Kind = "reindex"
	KindReindexDocument Kind = "reindex_document"
	KindResolveEntities Kind = "resolve_entities"
)

// Status はタスクの状態
// pending → running → {completed, failed, cancelled} と遷移し、
// 終端状態から戻ることはありません
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal は終端状態かどうかを返します
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Outcome は直近の文書処理結果
type Outcome struct {
	DocID         int    `json:"doc_id"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	Entities      int    `json:"entities,omitempty"`
	Relationships int    `json:"relationships,omitempty"`
	Error         string `json:"error,omitempty"`
}

// recentLimit は保持する直近結果の件数
const recentLimit = 10

// Snapshot はタスク状態の一貫したコピー
// 進捗の更新と競合せず、読み手が破れた値を見ることはありません
type Snapshot struct {
	ID            uuid.UUID  `json:"task_id"`
	Kind          Kind       `json:"type"`
	Status        Status     `json:"status"`
	StartedAt     time.Time  `json:"started"`
	FinishedAt    *time.Time `json:"finished,omitempty"`
	TotalDocs     int        `json:"total_docs"`
	Processed     int        `json:"processed"`
	Skipped       int        `json:"skipped"`
	Errors        int        `json:"errors"`
	CurrentDoc    string     `json:"current_doc"`
	ElapsedSec    float64    `json:"elapsed_seconds"`
	DocsPerMinute float64    `json:"docs_per_minute"`
	ETASec        float64    `json:"estimated_remaining_seconds"`
	Recent        []Outcome  `json:"recent_results"`
	Error         string     `json:"error,omitempty"`
	Result        any        `json:"result,omitempty"`
}
