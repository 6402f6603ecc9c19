package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSaga_CompensatesInReverse(t *testing.T) {
	saga := NewSaga(zap.NewNop(), 0)
	var order []int64
	for _, id := range []int64{1, 2, 3} {
		id := id
		saga.Push("undo", id, 1, "ref", func(context.Context) error {
			order = append(order, id)
			return nil
		})
	}

	if err := saga.Compensate(context.Background()); err != nil {
		t.Fatalf("Compensate() error = %v", err)
	}
	if len(order) != 3 || order[0] != 3 || order[2] != 1 {
		t.Errorf("compensation order = %v, want [3 2 1]", order)
	}
	if saga.Len() != 0 {
		t.Errorf("steps not cleared")
	}
}

func TestSaga_DetachedFromCancellation(t *testing.T) {
	saga := NewSaga(zap.NewNop(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawErr error
	saga.Push("undo", 1, 1, "ref", func(cctx context.Context) error {
		sawErr = cctx.Err()
		return nil
	})
	if err := saga.Compensate(ctx); err != nil {
		t.Fatalf("Compensate() error = %v", err)
	}
	if sawErr != nil {
		t.Errorf("compensation context already done: %v", sawErr)
	}
}

func TestSaga_FailureContinuesAndLogsCritical(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	saga := NewSaga(zap.New(core), 0)
	boom := errors.New("boom")

	ran := 0
	saga.Push("first", 1, 2, "ORD-1", func(context.Context) error { ran++; return nil })
	saga.Push("second", 2, 5, "ORD-1", func(context.Context) error { ran++; return boom })

	err := saga.Compensate(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Compensate() error = %v, want boom", err)
	}
	if ran != 2 {
		t.Errorf("ran %d compensations, want 2", ran)
	}

	entries := logs.FilterField(zap.String("severity", "CRITICAL")).All()
	if len(entries) != 1 {
		t.Fatalf("got %d critical entries, want 1", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel {
		t.Errorf("level = %v, want error", entries[0].Level)
	}
	if got := entries[0].ContextMap()["reference"]; got != "ORD-1" {
		t.Errorf("reference = %v", got)
	}
}

func TestSaga_EachStepGetsItsOwnDeadline(t *testing.T) {
	saga := NewSaga(zap.NewNop(), 50*time.Millisecond)

	var firstErr error
	saga.Push("first", 1, 1, "ref", func(cctx context.Context) error {
		firstErr = cctx.Err()
		return nil
	})
	// 最后登记的步骤先执行，耗尽自己的超时
	saga.Push("slow", 2, 1, "ref", func(cctx context.Context) error {
		<-cctx.Done()
		return nil
	})

	if err := saga.Compensate(context.Background()); err != nil {
		t.Fatalf("Compensate() error = %v", err)
	}
	if firstErr != nil {
		t.Errorf("later step started with expired context: %v", firstErr)
	}
}
