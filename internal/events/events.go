package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shouni/go-slide-kit/pkg/domain"
)

// EventHeader は全イベント共通のメタデータなのだ。
type EventHeader struct {
	Timestamp  time.Time `json:"timestamp"`
	EventID    string    `json:"event_id"`
	WorkflowID string    `json:"workflow_id"`
}

// NewHeader は新しいイベント ID と現在時刻でヘッダーを作るのだ。WorkflowID は引き継ぐのだ。
func NewHeader(workflowID string) EventHeader {
	return EventHeader{
		Timestamp:  time.Now().UTC(),
		EventID:    uuid.NewString(),
		WorkflowID: workflowID,
	}
}

// RunRequestedEvent は原稿1本の処理要求なのだ。原稿本体はオブジェクトストアにあるのだ。
type RunRequestedEvent struct {
	Header     EventHeader     `json:"header"`
	ScriptKey  string          `json:"script_key"`
	Overrides  domain.Metadata `json:"overrides,omitempty"`
	UserPrompt string          `json:"user_prompt,omitempty"`
}

// RunCompletedEvent は処理結果なのだ。失敗時は ErrorKind と Error が入るのだ。
type RunCompletedEvent struct {
	Header    EventHeader      `json:"header"`
	ScriptKey string           `json:"script_key"`
	RunID     string           `json:"run_id,omitempty"`
	DeckKey   string           `json:"deck_key,omitempty"`
	Contract  *domain.Contract `json:"contract,omitempty"`
	Warnings  []domain.Warning `json:"warnings,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Succeeded は処理が成功したかを返すのだ。
func (e RunCompletedEvent) Succeeded() bool {
	return e.Error == ""
}
