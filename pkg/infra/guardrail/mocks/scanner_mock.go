package mocks

import (
	"context"

	"github.com/NeuralTrust/GuardProxy/pkg/infra/guardrail"
	"github.com/stretchr/testify/mock"
)

// Scanner is a testify double for guardrail.Scanner.
type Scanner struct {
	mock.Mock
}

func (m *Scanner) Scan(ctx context.Context, text string) (guardrail.ScanResult, error) {
	args := m.Called(ctx, text)
	res, _ := args.Get(0).(guardrail.ScanResult)
	return res, args.Error(1)
}
