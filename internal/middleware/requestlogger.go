package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/getoutvideo/gateway/internal/models"
	"github.com/getoutvideo/gateway/internal/proxy"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogWriter persists a batch of request logs.
type LogWriter interface {
	CreateBatch(ctx context.Context, logs []models.RequestLog) error
}

// RequestLogger queues one entry per request and writes them in batches
// from a single background worker. When the queue is full entries are
// dropped rather than blocking the request.
type RequestLogger struct {
	writer        LogWriter
	entries       chan models.RequestLog
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewRequestLogger(writer LogWriter, bufferSize, batchSize int, flushInterval time.Duration, logger *zap.Logger) *RequestLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return &RequestLogger{
		writer:        writer,
		entries:       make(chan models.RequestLog, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Starts the background worker
func (l *RequestLogger) Start() {
	go l.run()
}

// Stop flushes queued entries and waits for the worker, or for ctx.
func (l *RequestLogger) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.quit) })

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *RequestLogger) run() {
	defer close(l.done)

	batch := make([]models.RequestLog, 0, l.batchSize)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.insertBatch(batch)
		batch = make([]models.RequestLog, 0, l.batchSize)
	}

	for {
		select {
		case entry := <-l.entries:
			batch = append(batch, entry)
			if len(batch) >= l.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.quit:
			for {
				select {
				case entry := <-l.entries:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *RequestLogger) insertBatch(logs []models.RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := l.writer.CreateBatch(ctx, logs); err != nil {
		l.logger.Warn("failed to insert request logs", zap.Int("count", len(logs)), zap.Error(err))
	}
}

// Middleware records every request after it has been handled
func (l *RequestLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		var apiKeyID *uuid.UUID
		if apiKey, ok := APIKeyFromContext(c); ok {
			id := apiKey.ID
			apiKeyID = &id
		}

		entry := models.RequestLog{
			Timestamp:      start.UTC(),
			RequestID:      c.GetString(ContextRequestIDKey),
			APIKeyID:       apiKeyID,
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
			BackendServer:  c.GetString(proxy.ContextBackendKey),
		}

		select {
		case l.entries <- entry:
		default:
			l.logger.Warn("request log queue full, dropping entry")
		}
	}
}
