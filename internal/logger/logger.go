package logger

import (
	"go.uber.org/zap"
)

// New builds a zap logger for the given environment.
func New(environment string) (*zap.Logger, error) {
	switch environment {
	case "production":
		return zap.NewProduction()
	case "test":
		return zap.NewNop(), nil
	default:
		return zap.NewDevelopment()
	}
}

func MustNew(environment string) *zap.Logger {
	return zap.Must(New(environment))
}
