package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultCompensationTimeout = 10 * time.Second

// compensation 一个已完成步骤的逆操作
type compensation struct {
	name      string
	productID int64
	quantity  int
	reference string
	undo      func(ctx context.Context) error
}

// Saga 记录已完成的库存步骤，失败时按相反顺序执行补偿。
// 不是并发安全的，一次结算对应一个 Saga。
type Saga struct {
	logger  *zap.Logger
	timeout time.Duration
	steps   []compensation
}

// NewSaga 创建 Saga，timeout 为单个补偿步骤的超时
func NewSaga(logger *zap.Logger, timeout time.Duration) *Saga {
	if timeout <= 0 {
		timeout = defaultCompensationTimeout
	}
	return &Saga{logger: logger, timeout: timeout}
}

// Push 登记一个补偿步骤
func (s *Saga) Push(name string, productID int64, quantity int, reference string, undo func(ctx context.Context) error) {
	s.steps = append(s.steps, compensation{
		name:      name,
		productID: productID,
		quantity:  quantity,
		reference: reference,
		undo:      undo,
	})
}

// Len 已登记的补偿步骤数
func (s *Saga) Len() int {
	return len(s.steps)
}

// Compensate 逆序执行全部补偿。
// 补偿在脱离调用方取消信号的上下文中运行，请求被取消后也会执行完；
// 每个步骤有独立的超时，前一步耗尽时间不会拖累后续步骤。
// 单个补偿失败不会中断其余补偿，失败以 CRITICAL 级别记录，需要人工介入。
func (s *Saga) Compensate(ctx context.Context) error {
	if len(s.steps) == 0 {
		return nil
	}
	base := context.WithoutCancel(ctx)

	var errs []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := s.undo(base, step); err != nil {
			s.logger.Error("compensation failed, manual reconciliation required",
				zap.String("severity", "CRITICAL"),
				zap.String("step", step.name),
				zap.Int64("product_id", step.productID),
				zap.Int("quantity", step.quantity),
				zap.String("reference", step.reference),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s product %d: %w", step.name, step.productID, err))
			continue
		}
		s.logger.Debug("compensation applied",
			zap.String("step", step.name),
			zap.Int64("product_id", step.productID),
			zap.Int("quantity", step.quantity),
			zap.String("reference", step.reference),
		)
	}
	s.steps = nil
	return errors.Join(errs...)
}

func (s *Saga) undo(ctx context.Context, step compensation) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return step.undo(cctx)
}
