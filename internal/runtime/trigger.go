package runtime

import (
	"context"
	"fmt"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
	"github.com/kemock/kem/internal/runtime/operations"
)

func (s *Service) producer(operationID string) (*operations.ProducerOperation, error) {
	if s == nil || s.table == nil {
		return nil, errspkg.ErrServiceRequired
	}
	p, ok := s.table.Producer(operationID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownProducer, operationID)
	}
	return p, nil
}

// Trigger schedules a producer as if a consumer had launched it: its own
// delay and repeat interval apply. The producer runs alongside any schedule
// it already has.
func (s *Service) Trigger(ctx context.Context, operationID string) error {
	p, err := s.producer(operationID)
	if err != nil {
		return err
	}
	return s.executor.Execute(ctx, p, TriggerManual)
}

// EmitNow sends one message for the producer immediately, ignoring its delay
// and schedule.
func (s *Service) EmitNow(ctx context.Context, operationID string) error {
	p, err := s.producer(operationID)
	if err != nil {
		return err
	}
	return s.executor.Emit(ctx, p, TriggerManual)
}
