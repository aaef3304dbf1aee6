package shipping

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"orderhub/internal/pkg/httpclient"
	"orderhub/internal/service/order/domain"

	"github.com/pkg/errors"
)

// OrderLookup 查询订单当前状态
type OrderLookup interface {
	OrderStatus(ctx context.Context, orderID string) (domain.Status, error)
}

// HTTPOrderLookup 通过订单服务的 GET /api/orders/{id} 查询状态
type HTTPOrderLookup struct {
	client  *httpclient.Client
	baseURL string
}

func NewHTTPOrderLookup(client *httpclient.Client, baseURL string) *HTTPOrderLookup {
	return &HTTPOrderLookup{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (l *HTTPOrderLookup) OrderStatus(ctx context.Context, orderID string) (domain.Status, error) {
	var view struct {
		Status string `json:"status"`
	}
	err := l.client.GetJSON(ctx, l.baseURL+"/api/orders/"+url.PathEscape(orderID), &view)
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return "", errors.WithMessagef(domain.ErrNotFound, "order %s", orderID)
	}
	if err != nil {
		return "", errors.Wrapf(err, "lookup order %s", orderID)
	}
	return domain.ParseStatus(view.Status)
}
