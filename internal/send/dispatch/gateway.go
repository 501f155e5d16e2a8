// Package dispatch hands finished transactions to the external signer and broadcaster
package dispatch

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
	"github.com/Aidin1998/walletsend/pkg/metrics"
	"github.com/Aidin1998/walletsend/pkg/observability"
)

// Gateway is a stateless pass-through to the Dispatcher that normalizes its errors.
// It never retries and is safe to share between orchestrators.
type Gateway struct {
	dispatcher interfaces.Dispatcher
	log        *zap.Logger
}

// NewGateway wraps dispatcher
func NewGateway(dispatcher interfaces.Dispatcher, log *zap.Logger) *Gateway {
	return &Gateway{dispatcher: dispatcher, log: log.Named("dispatch")}
}

// Send dispatches tx. Cancelling ctx does not abort a dispatch that already started.
func (g *Gateway) Send(ctx context.Context, tx interfaces.DispatchTransaction) (*interfaces.DispatchResult, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := observability.Tracer().Start(ctx, "dispatch.send")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.kind", string(tx.Kind)))

	start := time.Now()
	result, err := g.dispatcher.Send(ctx, tx)
	metrics.DispatchLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		de := normalize(tx, err)
		metrics.DispatchResults.WithLabelValues(string(de.Kind)).Inc()
		span.RecordError(de)
		span.SetStatus(codes.Error, string(de.Kind))
		g.log.Warn("dispatch failed",
			zap.String("transaction_kind", string(tx.Kind)),
			zap.String("error_kind", string(de.Kind)),
			zap.Error(err))
		return nil, de
	}

	metrics.DispatchResults.WithLabelValues("success").Inc()
	span.SetAttributes(
		attribute.String("signer.type", result.SignerType),
		attribute.String("transaction.hash", result.Hash),
	)
	g.log.Info("transaction dispatched",
		zap.String("transaction_kind", string(tx.Kind)),
		zap.String("hash", result.Hash),
		zap.String("signer_type", result.SignerType))
	return result, nil
}

func normalize(tx interfaces.DispatchTransaction, err error) *interfaces.DispatchError {
	var de *interfaces.DispatchError
	if errors.As(err, &de) {
		return de
	}

	kind := interfaces.DispatchSendTxError
	switch {
	case errors.Is(err, interfaces.ErrUserCancelled):
		kind = interfaces.DispatchUserCancelled
	case errors.Is(err, interfaces.ErrDemoMode):
		kind = interfaces.DispatchDemoAlert
	case errors.Is(err, interfaces.ErrActionNotSupported):
		kind = interfaces.DispatchActionNotSupported
	}

	de = interfaces.NewDispatchError(kind, err)
	if kind == interfaces.DispatchSendTxError {
		de.Transaction = &tx
	}
	return de
}
