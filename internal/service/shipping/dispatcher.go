// internal/service/shipping/dispatcher.go
package shipping

import (
	"context"
	"encoding/json"
	"net/http"

	"orderhub/internal/pkg/logger"
	"orderhub/internal/pkg/mq"
	"orderhub/internal/service/order/domain"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher 是履约侧的事件发布方：发货、签收时向订单状态 topic 发布 OrderStatusChanged，
// 由订单服务的状态消费者推进订单。
type Dispatcher struct {
	writer mq.Publisher
	tracer trace.Tracer
	lookup OrderLookup
}

// NewDispatcher writer 需要预先绑定订单状态 topic
func NewDispatcher(writer mq.Publisher, tracer trace.Tracer) *Dispatcher {
	return &Dispatcher{writer: writer, tracer: tracer}
}

// WithOrderLookup 发布前先确认订单可以流转到目标状态
func (d *Dispatcher) WithOrderLookup(lookup OrderLookup) *Dispatcher {
	d.lookup = lookup
	return d
}

func (d *Dispatcher) Ship(ctx context.Context, orderID string) error {
	return d.publish(ctx, orderID, domain.StatusShipped)
}

func (d *Dispatcher) Deliver(ctx context.Context, orderID string) error {
	return d.publish(ctx, orderID, domain.StatusDelivered)
}

func (d *Dispatcher) publish(ctx context.Context, orderID string, status domain.Status) error {
	ctx, span := d.tracer.Start(ctx, "shipping.PublishStatus", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.status", string(status)))

	if orderID == "" {
		return errors.WithMessage(domain.ErrInvalidArgument, "order id is required")
	}
	if d.lookup != nil {
		current, err := d.lookup.OrderStatus(ctx, orderID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !domain.CanTransition(current, status) {
			return errors.WithMessagef(domain.ErrInvalidState, "order %s is %s, cannot move to %s", orderID, current, status)
		}
	}
	body, err := json.Marshal(domain.OrderStatusChanged{OrderID: orderID, Status: string(status)})
	if err != nil {
		return errors.Wrap(err, "marshal status event")
	}
	// 以订单号为 key，同一订单的事件落在同一分区，保证先发货后签收
	if err := mq.ProduceMessage(ctx, d.writer, []byte(orderID), body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish status event")
		return errors.Wrapf(err, "publish %s for order %s", status, orderID)
	}
	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("status", string(status)).Msg("order status event published")
	return nil
}

func (d *Dispatcher) Close() error {
	return d.writer.Close()
}

// RegisterRoutes 注册发货、签收两个入口，成功时返回 202，订单状态异步生效。
func (d *Dispatcher) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/shipments/{orderId}/ship", d.handle(d.Ship))
	mux.HandleFunc("POST /api/shipments/{orderId}/deliver", d.handle(d.Deliver))
}

func (d *Dispatcher) handle(action func(ctx context.Context, orderID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		orderID := r.PathValue("orderId")
		if err := action(ctx, orderID); err != nil {
			code := http.StatusBadGateway
			switch {
			case errors.Is(err, domain.ErrInvalidArgument):
				code = http.StatusBadRequest
			case errors.Is(err, domain.ErrNotFound):
				code = http.StatusNotFound
			case errors.Is(err, domain.ErrInvalidState):
				code = http.StatusConflict
			}
			logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("failed to dispatch status event")
			http.Error(w, err.Error(), code)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
