package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTaskConflict は他の変更系タスクが実行中の場合のエラー
	ErrTaskConflict = errors.New("another task is already running")

	// ErrTaskNotFound はタスクが存在しない場合のエラー
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskFinished は終端状態のタスクをキャンセルしようとした場合のエラー
	ErrTaskFinished = errors.New("task already finished")
)

// DefaultRetention は完了タスクを保持する期間
const DefaultRetention = 1 * time.Hour

// Runner はタスク本体の処理
// コンテキストのキャンセルを文書境界で確認し、協調的に停止します
type Runner func(ctx context.Context, progress *Progress) (any, error)

// Progress は実行中タスクの進捗を報告するハンドルです
// 書き込みはRunnerの単一ゴルーチンから行われます
type Progress struct {
	task *record
}

// SetTotal は処理対象の総数を設定します
func (p *Progress) SetTotal(total int) {
	p.task.update(func(s *Snapshot) {
		s.TotalDocs = total
	})
}

// SetCurrent は処理中の文書タイトルを設定します
func (p *Progress) SetCurrent(title string) {
	p.task.update(func(s *Snapshot) {
		s.CurrentDoc = title
	})
}

// Record は1文書の処理結果を記録し、経過時間・スループット・残り時間を更新します
func (p *Progress) Record(outcome Outcome) {
	p.task.update(func(s *Snapshot) {
		switch outcome.Status {
		case "processed":
			s.Processed++
		case "skipped":
			s.Skipped++
		case "error":
			s.Errors++
		}

		elapsed := time.Since(s.StartedAt)
		s.ElapsedSec = roundSec(elapsed)
		done := s.Processed + s.Skipped + s.Errors
		if done > 0 && elapsed > 0 {
			s.DocsPerMinute = round1(float64(done) / elapsed.Minutes())
			remaining := s.TotalDocs - done
			if remaining < 0 {
				remaining = 0
			}
			secsPerDoc := elapsed.Seconds() / float64(done)
			s.ETASec = round1(float64(remaining) * secsPerDoc)
		}

		s.Recent = append(s.Recent, outcome)
		if len(s.Recent) > recentLimit {
			s.Recent = s.Recent[len(s.Recent)-recentLimit:]
		}
	})
}

// record はレジストリ内部のタスク状態
type record struct {
	mu       sync.Mutex
	snapshot Snapshot
	cancel   context.CancelFunc
}

func (r *record) update(fn func(*Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.snapshot)
}

// view はスナップショットの値コピーを返します
func (r *record) view() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.snapshot
	s.Recent = append([]Outcome(nil), r.snapshot.Recent...)
	return s
}

// Registry はバックグラウンドタスクのライフサイクルを管理します
// 変更系タスクは同時に1つしか実行できません
type Registry struct {
	mu        sync.Mutex
	tasks     map[uuid.UUID]*record
	retention time.Duration
	logger    *slog.Logger
}

// NewRegistry はRegistryを作成します
func NewRegistry(retention time.Duration, logger *slog.Logger) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		tasks:     make(map[uuid.UUID]*record),
		retention: retention,
		logger:    logger,
	}
}

// Start はタスクを登録してバックグラウンドで実行します
// 他の変更系タスクが終端状態でない場合はErrTaskConflictを返します
func (reg *Registry) Start(kind Kind, runner Runner) (uuid.UUID, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.gcLocked()

	for _, t := range reg.tasks {
		if !t.view().Status.IsTerminal() {
			return uuid.Nil, ErrTaskConflict
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New()
	rec := &record{
		snapshot: Snapshot{
			ID:        id,
			Kind:      kind,
			Status:    StatusPending,
			StartedAt: time.Now(),
			Recent:    []Outcome{},
		},
		cancel: cancel,
	}
	reg.tasks[id] = rec

	go reg.run(ctx, rec, runner)

	reg.logger.Info("タスクを開始しました", "task_id", id.String(), "type", string(kind))
	return id, nil
}

func (reg *Registry) run(ctx context.Context, rec *record, runner Runner) {
	rec.update(func(s *Snapshot) {
		s.Status = StatusRunning
	})

	result, err := runner(ctx, &Progress{task: rec})

	now := time.Now()
	rec.update(func(s *Snapshot) {
		s.CurrentDoc = ""
		s.FinishedAt = &now
		s.ElapsedSec = roundSec(now.Sub(s.StartedAt))
		s.ETASec = 0

		switch {
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			// キャンセル時点までの完了分はそのまま残る
			s.Status = StatusCancelled
		case err != nil:
			s.Status = StatusFailed
			s.Error = err.Error()
		default:
			s.Status = StatusCompleted
			s.Result = result
		}
	})

	snapshot := rec.view()
	reg.logger.Info("タスクが終了しました",
		"task_id", snapshot.ID.String(),
		"type", string(snapshot.Kind),
		"status", string(snapshot.Status),
		"processed", snapshot.Processed,
		"skipped", snapshot.Skipped,
		"errors", snapshot.Errors,
	)
}

// Get はタスクのスナップショットを返します
func (reg *Registry) Get(id uuid.UUID) (Snapshot, bool) {
	reg.mu.Lock()
	rec, ok := reg.tasks[id]
	reg.mu.Unlock()

	if !ok {
		return Snapshot{}, false
	}
	return rec.view(), true
}

// List は全タスクのスナップショットを返します
func (reg *Registry) List() []Snapshot {
	reg.mu.Lock()
	reg.gcLocked()
	records := make([]*record, 0, len(reg.tasks))
	for _, rec := range reg.tasks {
		records = append(records, rec)
	}
	reg.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(records))
	for _, rec := range records {
		snapshots = append(snapshots, rec.view())
	}
	return snapshots
}

// Cancel は実行中タスクのコンテキストをキャンセルします
// 処理中の文書は完了してから停止します（協調的キャンセル）
func (reg *Registry) Cancel(id uuid.UUID) error {
	reg.mu.Lock()
	rec, ok := reg.tasks[id]
	reg.mu.Unlock()

	if !ok {
		return ErrTaskNotFound
	}
	if rec.view().Status.IsTerminal() {
		return ErrTaskFinished
	}

	rec.cancel()
	reg.logger.Info("タスクのキャンセルを要求しました", "task_id", id.String())
	return nil
}

// gcLocked は保持期間を過ぎた終端タスクを破棄します
// 呼び出し側がreg.muを保持している必要があります
func (reg *Registry) gcLocked() {
	cutoff := time.Now().Add(-reg.retention)
	for id, rec := range reg.tasks {
		s := rec.view()
		if s.Status.IsTerminal() && s.FinishedAt != nil && s.FinishedAt.Before(cutoff) {
			delete(reg.tasks, id)
		}
	}
}

func roundSec(d time.Duration) float64 {
	return round1(d.Seconds())
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
