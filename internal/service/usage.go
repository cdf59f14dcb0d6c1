package service

import (
	"context"
	"time"

	"github.com/getoutvideo/gateway/internal/models"
	"github.com/getoutvideo/gateway/internal/repository"
	"github.com/google/uuid"
)

type UsageService struct {
	repository *repository.RequestLogRepository
}

func NewUsageService(repo *repository.RequestLogRepository) *UsageService {
	return &UsageService{repository: repo}
}

// Holds recent requests made with one API key
type KeyUsage struct {
	APIKeyID      uuid.UUID           `json:"api_key_id"`
	TotalRequests int64               `json:"total_requests"`
	Requests      []models.RequestLog `json:"requests"`
}

func (s *UsageService) GetKeyUsage(ctx context.Context, apiKeyID uuid.UUID, limit, offset int) (*KeyUsage, error) {
	total, err := s.repository.CountByAPIKey(ctx, apiKeyID)
	if err != nil {
		return nil, err
	}

	logs, err := s.repository.FindByAPIKey(ctx, apiKeyID, limit, offset)
	if err != nil {
		return nil, err
	}

	return &KeyUsage{
		APIKeyID:      apiKeyID,
		TotalRequests: total,
		Requests:      logs,
	}, nil
}

// Deletes logs older than the retention period
func (s *UsageService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repository.DeleteOlderThan(ctx, time.Now().UTC().Add(-retention))
}
