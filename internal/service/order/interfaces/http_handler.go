package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"orderhub/internal/pkg/logger"
	"orderhub/internal/pkg/metrics"
	"orderhub/internal/service/order/application"
	"orderhub/internal/service/order/domain"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// statusClientClosedRequest 表示客户端在处理完成前取消了请求
const statusClientClosedRequest = 499

// OrderAPI 是 HTTP 层依赖的订单用例，由 *application.OrderService 实现。
type OrderAPI interface {
	CreateOrder(ctx context.Context, customerID string, initial domain.Status) (*application.OrderView, error)
	GetOrderByID(ctx context.Context, orderID string) (*application.OrderView, error)
	GetAllOrders(ctx context.Context) ([]application.OrderView, error)
	GetUserOrders(ctx context.Context, customerID string) ([]application.OrderView, error)
	UpdateOrderStatus(ctx context.Context, orderID string, next domain.Status) (*application.OrderView, error)
}

// OrderProductAPI 由 *application.OrderProductService 实现。
type OrderProductAPI interface {
	AddProduct(ctx context.Context, orderID, productID string, quantity int) (*application.OrderProductView, error)
	UpdateProduct(ctx context.Context, orderID, productID string, newQuantity int) (*application.OrderProductView, error)
	RemoveProduct(ctx context.Context, orderID, productID string) (bool, error)
	GetProducts(ctx context.Context, orderID string) ([]application.OrderProductView, error)
	GetProduct(ctx context.Context, orderID, productID string) (*application.OrderProductView, error)
}

// OrderHandler 封装了订单服务的 HTTP 处理器
type OrderHandler struct {
	orders   OrderAPI
	products OrderProductAPI
	metrics  *metrics.Metrics
	timeout  time.Duration
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(orders OrderAPI, products OrderProductAPI, m *metrics.Metrics) *OrderHandler {
	return &OrderHandler{orders: orders, products: products, metrics: m}
}

// WithRequestTimeout 为每个请求设置处理时限，0 表示不限制。
func (h *OrderHandler) WithRequestTimeout(d time.Duration) *OrderHandler {
	h.timeout = d
	return h
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", metrics.Handler())

	h.handle(mux, "GET /api/orders", "list_orders", h.handleListOrders)
	h.handle(mux, "GET /api/orders/{orderId}", "get_order", h.handleGetOrder)
	h.handle(mux, "POST /api/orders/create-order", "create_order", h.handleCreateOrder)
	h.handle(mux, "PUT /api/orders/update-order/{orderId}", "update_order", h.handleUpdateOrder)

	h.handle(mux, "GET /api/orders/products/{orderId}/products", "list_order_products", h.handleListProducts)
	h.handle(mux, "GET /api/orders/products/{orderId}/products/{productId}", "get_order_product", h.handleGetProduct)
	h.handle(mux, "POST /api/orders/products/add-product", "add_product", h.handleAddProduct)
	h.handle(mux, "PUT /api/orders/products/update-product", "update_product", h.handleUpdateProduct)
	h.handle(mux, "DELETE /api/orders/products/delete-product", "delete_product", h.handleDeleteProduct)
}

func (h *OrderHandler) handle(mux *http.ServeMux, pattern, name string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, h.metrics.InstrumentHandler(name, fn))
}

type createOrderRequest struct {
	CustomerID string `json:"customerId"`
}

type updateOrderRequest struct {
	Status string `json:"status"`
}

type productRequest struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	var (
		views []application.OrderView
		err   error
	)
	if customerID := r.URL.Query().Get("customerId"); customerID != "" {
		views, err = h.orders.GetUserOrders(ctx, customerID)
	} else {
		views, err = h.orders.GetAllOrders(ctx)
	}
	if err != nil {
		writeError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	view, err := h.orders.GetOrderByID(ctx, r.PathValue("orderId"))
	if err != nil {
		writeError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	view, err := h.orders.CreateOrder(ctx, req.CustomerID, domain.StatusProcessing)
	if err != nil {
		writeError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *OrderHandler) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeError(ctx, w, r, err)
		return
	}
	view, err := h.orders.UpdateOrderStatus(ctx, r.PathValue("orderId"), status)
	if err != nil {
		writeError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrderHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	views, err := h.products.GetProducts(ctx, r.PathValue("orderId"))
	if err != nil {
		writeError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *OrderHandler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	view, err := h.products.GetProduct(ctx, r.PathValue("orderId"), r.PathValue("productId"))
	if err != nil {
		writeError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrderHandler) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	view, err := h.products.AddProduct(ctx, req.OrderID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *OrderHandler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	view, err := h.products.UpdateProduct(ctx, req.OrderID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrderHandler) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	removed, err := h.products.RemoveProduct(ctx, req.OrderID, req.ProductID)
	if err != nil {
		writeError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

// requestContext 恢复上游的追踪上下文，并套上请求处理时限。
func (h *OrderHandler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

// StatusCode 根据错误类型返回不同的 HTTP 状态码
func StatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInventoryUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCancelled):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	if code == statusClientClosedRequest && r.Context().Err() == nil {
		// 客户端还在，是服务端的处理时限到了
		code = http.StatusGatewayTimeout
	}
	if code >= http.StatusInternalServerError {
		logger.Ctx(ctx).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
