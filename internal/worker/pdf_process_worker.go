package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"qachat-backend/internal/app"
	"qachat-backend/internal/platform/rabbitmq"
)

// Processor is the external PDF pipeline. Given the stored upload path it
// produces the annotated-PDF path and the markdown path.
type Processor interface {
	Process(ctx context.Context, filePath string) (annotatedPath, mdPath string, err error)
}

// PDFProcessWorker consumes queued PDF tasks, runs the external pipeline and
// reports the derived paths back into the knowledge store. Processing is
// fire-and-forget from the uploader's point of view: progress is visible
// only through the task store.
type PDFProcessWorker struct {
	conn      *amqp.Connection
	knowledge *app.KnowledgeService
	processor Processor
	tasks     *TaskStore
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPDFProcessWorker(
	conn *amqp.Connection,
	knowledge *app.KnowledgeService,
	processor Processor,
	tasks *TaskStore,
	queueName string,
	logger *zap.Logger,
) *PDFProcessWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFProcessWorker{
		conn:      conn,
		knowledge: knowledge,
		processor: processor,
		tasks:     tasks,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *PDFProcessWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *PDFProcessWorker) handle(ctx context.Context, d amqp.Delivery) {
	var task rabbitmq.PDFTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		w.logger.Error("worker decode task failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	w.setStatus(ctx, task.TaskID, TaskRunning)

	annotatedPath, mdPath, err := w.processor.Process(ctx, task.FilePath)
	if err != nil {
		w.logger.Error("pdf processing failed",
			zap.String("task_id", task.TaskID),
			zap.String("document_id", task.DocumentID),
			zap.Error(err))
		w.setStatus(ctx, task.TaskID, TaskFailed)
		_ = d.Nack(false, false)
		return
	}

	// Some processors only produce one rendition; leave the other column
	// untouched rather than clearing it.
	var annPtr, mdPtr *string
	if annotatedPath != "" {
		annPtr = &annotatedPath
	}
	if mdPath != "" {
		mdPtr = &mdPath
	}
	if annPtr != nil || mdPtr != nil {
		if err := w.knowledge.UpdateDocumentPaths(task.DocumentID, annPtr, mdPtr); err != nil {
			w.logger.Error("update document paths failed",
				zap.String("task_id", task.TaskID),
				zap.String("document_id", task.DocumentID),
				zap.Error(err))
			w.setStatus(ctx, task.TaskID, TaskFailed)
			_ = d.Nack(false, false)
			return
		}
	}

	w.setStatus(ctx, task.TaskID, TaskDone)
	_ = d.Ack(false)
}

func (w *PDFProcessWorker) setStatus(ctx context.Context, taskID string, status TaskStatus) {
	if w.tasks == nil {
		return
	}
	if err := w.tasks.Set(ctx, taskID, status); err != nil {
		w.logger.Warn("set task status failed",
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}

func (w *PDFProcessWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
