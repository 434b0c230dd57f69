package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/yourusername/dossier-forge/internal/config"
)

const (
	taskTypeResearch = "research:run"
	queueResearch    = "research"
)

// Runner はジョブ1件のリサーチパイプラインを実行します。
// 実装はステージ失敗を内部で吸収し、ジョブレベルの失敗のみを返します。
type Runner interface {
	Run(ctx context.Context, record *Record) error
}

// Manager はジョブの投入とワーカー実行を担います。
type Manager struct {
	cfg    *config.Config
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  *Store
	runner Runner
	logger *log.Logger
}

// TaskPayload はリサーチジョブのペイロードです。
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, store *Store, runner Runner, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				queueResearch: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:    cfg,
		client: client,
		server: server,
		mux:    mux,
		store:  store,
		runner: runner,
		logger: logger,
	}
	mux.HandleFunc(taskTypeResearch, manager.handleResearchTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			if m.logger != nil {
				m.logger.Printf("asynq server stopped with error: %v", err)
			} else {
				log.Printf("asynq server stopped with error: %v", err)
			}
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	m.client.Close()
	return nil
}

// Enqueue は作成済みジョブをキューに投入します。
// パイプラインの再試行はステージ内で行うため、タスク自体は再試行しません。
func (m *Manager) Enqueue(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	body, err := json.Marshal(&TaskPayload{JobID: jobID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskTypeResearch, body, asynq.Queue(queueResearch))
	_, err = m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0))
	return err
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) handleResearchTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload")
	}

	record, err := m.store.Get(ctx, payload.JobID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("job not found: %s", payload.JobID)
	}
	if record.Status.Terminal() {
		// 再配送された終端済みジョブは黙って捨てる。
		return nil
	}

	if err := m.runner.Run(ctx, record); err != nil {
		if m.logger != nil {
			m.logger.Printf("research job failed job=%s: %v", payload.JobID, err)
		}
	}
	return nil
}
