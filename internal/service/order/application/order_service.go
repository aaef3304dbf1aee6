// internal/service/order/application/order_service.go
package application

import (
	"context"
	"time"

	"orderhub/internal/pkg/logger"
	"orderhub/internal/service/order/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OrderService 编排订单的创建、查询和状态流转。
type OrderService struct {
	orders domain.OrderRepository
	views  *ReadModel
	tracer trace.Tracer

	newID func() string
	now   func() time.Time
}

func NewOrderService(orders domain.OrderRepository, views *ReadModel, tracer trace.Tracer) *OrderService {
	return &OrderService{
		orders: orders,
		views:  views,
		tracer: tracer,
		newID:  func() string { return uuid.New().String() },
		now:    time.Now,
	}
}

// CreateOrder 持久化新订单并写入单条订单视图。列表视图不做修补，依靠 TTL 过期后重建。
func (s *OrderService) CreateOrder(ctx context.Context, customerID string, initial domain.Status) (*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID))

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	order, err := domain.NewOrder(s.newID(), customerID, initial, s.now())
	if err != nil {
		span.SetStatus(codes.Error, "invalid order")
		return nil, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, failSpan(span, cancelledOr(ctx, err), "failed to save order")
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	view := toOrderView(order)
	pctx, cancel := s.views.patchContext(ctx)
	defer cancel()
	s.views.put(pctx, viewOrder, orderKey(order.ID), schemaOrder, view, s.views.opts.ViewTTL)

	logger.Ctx(ctx).Info().Str("order_id", order.ID).Str("customer_id", customerID).Msg("order created")
	return &view, nil
}

// GetOrderByID 读穿透查询单个订单，不存在时返回 ErrNotFound。
func (s *OrderService) GetOrderByID(ctx context.Context, orderID string) (*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetOrderById")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	view, err := loadView(ctx, s.views, viewOrder, orderKey(orderID), schemaOrder, s.views.opts.ViewTTL,
		func(ctx context.Context) (OrderView, error) {
			order, err := s.orders.FindByID(ctx, orderID)
			if err != nil {
				return OrderView{}, err
			}
			return toOrderView(order), nil
		})
	if err != nil {
		return nil, cancelledOr(ctx, err)
	}
	return &view, nil
}

// GetAllOrders 返回全部订单，没有订单时返回空列表。
func (s *OrderService) GetAllOrders(ctx context.Context) ([]OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetAllOrders")
	defer span.End()

	views, err := loadView(ctx, s.views, viewAllOrders, keyAllOrders, schemaOrderList, s.views.opts.ListViewTTL,
		func(ctx context.Context) ([]OrderView, error) {
			orders, err := s.orders.FindAll(ctx)
			if err != nil {
				return nil, err
			}
			return toOrderViews(orders), nil
		})
	if err != nil {
		return nil, cancelledOr(ctx, err)
	}
	return nonNil(views), nil
}

func (s *OrderService) GetUserOrders(ctx context.Context, customerID string) ([]OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetUserOrders")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID))

	views, err := loadView(ctx, s.views, viewUserOrders, userOrdersKey(customerID), schemaOrderList, s.views.opts.ListViewTTL,
		func(ctx context.Context) ([]OrderView, error) {
			orders, err := s.orders.FindByCustomer(ctx, customerID)
			if err != nil {
				return nil, err
			}
			return toOrderViews(orders), nil
		})
	if err != nil {
		return nil, cancelledOr(ctx, err)
	}
	return nonNil(views), nil
}

// UpdateOrderStatus 按状态流转表推进订单。写库后覆盖单条视图，并修补 AllOrders。
// UserOrders:{customerId} 不修补，由列表 TTL 限定其陈旧时间。
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID string, next domain.Status) (*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.UpdateOrderStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status.next", string(next)),
	)

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, failSpan(span, cancelledOr(ctx, err), "failed to load order")
	}
	previous := order.Status
	changed, err := order.TransitionTo(next)
	if err != nil {
		span.SetStatus(codes.Error, "rejected transition")
		return nil, err
	}
	view := toOrderView(order)
	if !changed {
		span.AddEvent("status unchanged, nothing to write")
		return &view, nil
	}

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	if err := s.orders.UpdateStatus(ctx, orderID, next); err != nil {
		return nil, failSpan(span, cancelledOr(ctx, err), "failed to update order status")
	}

	pctx, cancel := s.views.patchContext(ctx)
	defer cancel()
	s.views.put(pctx, viewOrder, orderKey(orderID), schemaOrder, view, s.views.opts.ViewTTL)
	patchList(pctx, s.views, viewAllOrders, keyAllOrders, schemaOrderList,
		replace(view, func(v OrderView) bool { return v.ID == orderID }))

	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("from", string(previous)).
		Str("to", string(next)).
		Msg("order status updated")
	return &view, nil
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.WithMessage(domain.ErrCancelled, err.Error())
	}
	return nil
}

// cancelledOr 在调用方已经取消时把底层错误统一转换为 ErrCancelled。
func cancelledOr(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, domain.ErrCancelled) {
		return errors.WithMessage(domain.ErrCancelled, err.Error())
	}
	return err
}

func failSpan(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
