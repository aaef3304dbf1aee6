// internal/service/order/application/order_product_service.go
package application

import (
	"context"

	"orderhub/internal/pkg/logger"
	"orderhub/internal/service/order/domain"
	"orderhub/internal/service/order/domain/port"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OrderProductService 编排订单商品行的增删改。
// 每次变更的顺序固定为：校验订单 -> 库存 RPC -> 写库 -> 修补缓存。
type OrderProductService struct {
	orders    domain.OrderRepository
	products  domain.OrderProductRepository
	inventory port.InventoryService
	views     *ReadModel
	tracer    trace.Tracer
}

func NewOrderProductService(orders domain.OrderRepository, products domain.OrderProductRepository, inventory port.InventoryService, views *ReadModel, tracer trace.Tracer) *OrderProductService {
	return &OrderProductService{
		orders:    orders,
		products:  products,
		inventory: inventory,
		views:     views,
		tracer:    tracer,
	}
}

// AddProduct 预占库存后插入商品行，商品名取自库存服务的应答。
func (s *OrderProductService) AddProduct(ctx context.Context, orderID, productID string, quantity int) (*OrderProductView, error) {
	ctx, span := s.startSpan(ctx, "app.AddProduct", orderID, productID)
	defer span.End()
	span.SetAttributes(attribute.Int("product.quantity", quantity))

	// 先校验参数，商品名在库存应答后补上
	line, err := domain.NewOrderProduct(orderID, productID, "", quantity)
	if err != nil {
		return nil, failSpan(span, err, "invalid product line")
	}
	if err := s.requireMutableOrder(ctx, orderID); err != nil {
		return nil, failSpan(span, err, "order guard failed")
	}

	_, err = s.products.Find(ctx, orderID, productID)
	switch {
	case err == nil:
		return nil, failSpan(span, errors.WithMessagef(domain.ErrInvalidState, "product %s is already in order %s", productID, orderID), "duplicate product")
	case !errors.Is(err, domain.ErrNotFound):
		return nil, failSpan(span, cancelledOr(ctx, err), "failed to load product line")
	}

	reply, err := s.callInventory(ctx, port.InventoryReserve, productID, quantity)
	if err != nil {
		return nil, failSpan(span, err, "inventory reserve failed")
	}

	line.Name = reply.Name
	if err := s.products.Create(ctx, line); err != nil {
		s.compensate(ctx, port.InventoryRelease, productID, quantity)
		return nil, failSpan(span, cancelledOr(ctx, err), "failed to save product line")
	}

	view := toOrderProductView(line)
	pctx, cancel := s.views.patchContext(ctx)
	defer cancel()
	s.views.put(pctx, viewOrderProduct, orderProductKey(orderID, productID), schemaOrderProduct, view, s.views.opts.ViewTTL)
	patchList(pctx, s.views, viewOrderProductList, orderProductsKey(orderID), schemaOrderProductList,
		upsert(view, sameProduct(productID)))

	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("product_id", productID).
		Int("quantity", quantity).
		Msg("product added to order")
	return &view, nil
}

// UpdateProduct 按 newQuantity - 当前数量 调整库存后更新商品行。
func (s *OrderProductService) UpdateProduct(ctx context.Context, orderID, productID string, newQuantity int) (*OrderProductView, error) {
	ctx, span := s.startSpan(ctx, "app.UpdateProduct", orderID, productID)
	defer span.End()
	span.SetAttributes(attribute.Int("product.quantity", newQuantity))

	if newQuantity < 0 {
		return nil, errors.WithMessagef(domain.ErrInvalidArgument, "quantity must not be negative, got %d", newQuantity)
	}
	if err := s.requireMutableOrder(ctx, orderID); err != nil {
		return nil, failSpan(span, err, "order guard failed")
	}
	line, err := s.products.Find(ctx, orderID, productID)
	if err != nil {
		return nil, failSpan(span, cancelledOr(ctx, err), "failed to load product line")
	}

	delta := newQuantity - line.Quantity
	span.SetAttributes(attribute.Int("inventory.delta", delta))
	if _, err := s.callInventory(ctx, port.InventoryAdjust, productID, delta); err != nil {
		return nil, failSpan(span, err, "inventory adjust failed")
	}

	if err := s.products.UpdateQuantity(ctx, orderID, productID, newQuantity); err != nil {
		s.compensate(ctx, port.InventoryAdjust, productID, -delta)
		return nil, failSpan(span, cancelledOr(ctx, err), "failed to update product line")
	}
	line.Quantity = newQuantity

	view := toOrderProductView(line)
	pctx, cancel := s.views.patchContext(ctx)
	defer cancel()
	s.views.put(pctx, viewOrderProduct, orderProductKey(orderID, productID), schemaOrderProduct, view, s.views.opts.ViewTTL)
	patchList(pctx, s.views, viewOrderProductList, orderProductsKey(orderID), schemaOrderProductList,
		replace(view, sameProduct(productID)))

	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("product_id", productID).
		Int("delta", delta).
		Msg("order product quantity updated")
	return &view, nil
}

// RemoveProduct 释放全部数量的库存后删除商品行。
// 商品行不存在时返回 (false, ErrNotFound)，与"已删除"区分开。
func (s *OrderProductService) RemoveProduct(ctx context.Context, orderID, productID string) (bool, error) {
	ctx, span := s.startSpan(ctx, "app.RemoveProduct", orderID, productID)
	defer span.End()

	if err := s.requireMutableOrder(ctx, orderID); err != nil {
		return false, failSpan(span, err, "order guard failed")
	}
	line, err := s.products.Find(ctx, orderID, productID)
	if err != nil {
		return false, failSpan(span, cancelledOr(ctx, err), "failed to load product line")
	}

	if _, err := s.callInventory(ctx, port.InventoryRelease, productID, line.Quantity); err != nil {
		return false, failSpan(span, err, "inventory release failed")
	}

	if err := s.products.Delete(ctx, orderID, productID); err != nil {
		s.compensate(ctx, port.InventoryReserve, productID, line.Quantity)
		return false, failSpan(span, cancelledOr(ctx, err), "failed to delete product line")
	}

	pctx, cancel := s.views.patchContext(ctx)
	defer cancel()
	s.views.evict(pctx, orderProductKey(orderID, productID))
	patchList(pctx, s.views, viewOrderProductList, orderProductsKey(orderID), schemaOrderProductList,
		without(sameProduct(productID)))

	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("product_id", productID).
		Int("released", line.Quantity).
		Msg("product removed from order")
	return true, nil
}

// GetProducts 读穿透查询订单的全部商品行，没有商品行时返回空列表。
func (s *OrderProductService) GetProducts(ctx context.Context, orderID string) ([]OrderProductView, error) {
	ctx, span := s.startSpan(ctx, "app.GetProducts", orderID, "")
	defer span.End()

	views, err := loadView(ctx, s.views, viewOrderProductList, orderProductsKey(orderID), schemaOrderProductList, s.views.opts.ListViewTTL,
		func(ctx context.Context) ([]OrderProductView, error) {
			lines, err := s.products.FindByOrder(ctx, orderID)
			if err != nil {
				return nil, err
			}
			return toOrderProductViews(lines), nil
		})
	if err != nil {
		return nil, cancelledOr(ctx, err)
	}
	return nonNil(views), nil
}

// GetProduct 读穿透查询单个商品行，不存在时返回 ErrNotFound。
func (s *OrderProductService) GetProduct(ctx context.Context, orderID, productID string) (*OrderProductView, error) {
	ctx, span := s.startSpan(ctx, "app.GetProduct", orderID, productID)
	defer span.End()

	view, err := loadView(ctx, s.views, viewOrderProduct, orderProductKey(orderID, productID), schemaOrderProduct, s.views.opts.ViewTTL,
		func(ctx context.Context) (OrderProductView, error) {
			line, err := s.products.Find(ctx, orderID, productID)
			if err != nil {
				return OrderProductView{}, err
			}
			return toOrderProductView(line), nil
		})
	if err != nil {
		return nil, cancelledOr(ctx, err)
	}
	return &view, nil
}

func (s *OrderProductService) startSpan(ctx context.Context, name, orderID, productID string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("order.id", orderID))
	if productID != "" {
		span.SetAttributes(attribute.String("product.id", productID))
	}
	return ctx, span
}

// requireMutableOrder 先判断订单是否存在，再判断是否处于 Processing。
func (s *OrderProductService) requireMutableOrder(ctx context.Context, orderID string) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return cancelledOr(ctx, err)
	}
	return order.EnsureMutable()
}

func (s *OrderProductService) callInventory(ctx context.Context, op port.InventoryOperation, productID string, delta int) (port.InventoryReply, error) {
	reply, err := s.inventory.Call(ctx, op, productID, delta)
	if err != nil {
		return port.InventoryReply{}, cancelledOr(ctx, err)
	}
	if !reply.Available {
		return port.InventoryReply{}, errors.WithMessagef(domain.ErrInventoryUnavailable, "%s %d of product %s", op, delta, productID)
	}
	// 库存已经变更，之后的取消不再生效，由写库和修补收尾
	return reply, nil
}

// compensate 在写库失败后尽力回滚库存，失败只记录日志。
func (s *OrderProductService) compensate(ctx context.Context, op port.InventoryOperation, productID string, delta int) {
	cctx, cancel := s.views.patchContext(ctx)
	defer cancel()

	reply, err := s.inventory.Call(cctx, op, productID, delta)
	switch {
	case err != nil:
		logger.Ctx(ctx).Error().Err(err).Str("product_id", productID).Str("op", string(op)).Msg("CRITICAL: inventory compensation failed")
	case !reply.Available:
		logger.Ctx(ctx).Error().Str("product_id", productID).Str("op", string(op)).Int("delta", delta).Msg("CRITICAL: inventory compensation rejected")
	default:
		trace.SpanFromContext(ctx).AddEvent("inventory compensated", trace.WithAttributes(attribute.String("op", string(op))))
	}
}

func sameProduct(productID string) func(OrderProductView) bool {
	return func(v OrderProductView) bool { return v.ProductID == productID }
}
