package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"orderhub/internal/pkg/httpclient"
	"orderhub/internal/service/order/domain"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func TestDispatcher_PublishesStatusEvents(t *testing.T) {
	w := &memWriter{}
	d := NewDispatcher(w, noop.NewTracerProvider().Tracer("test"))
	ctx := context.Background()

	require.NoError(t, d.Ship(ctx, "O1"))
	require.NoError(t, d.Deliver(ctx, "O1"))

	require.Len(t, w.msgs, 2)
	var first, second domain.OrderStatusChanged
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &first))
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &second))
	assert.Equal(t, domain.OrderStatusChanged{OrderID: "O1", Status: "Shipped"}, first)
	assert.Equal(t, domain.OrderStatusChanged{OrderID: "O1", Status: "Delivered"}, second)
	assert.Equal(t, []byte("O1"), w.msgs[0].Key)

	assert.True(t, errors.Is(d.Ship(ctx, ""), domain.ErrInvalidArgument))
}

func TestDispatcher_Routes(t *testing.T) {
	w := &memWriter{}
	mux := http.NewServeMux()
	NewDispatcher(w, noop.NewTracerProvider().Tracer("test")).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/shipments/O9/ship", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, w.msgs, 1)
	assert.JSONEq(t, `{"orderId":"O9","status":"Shipped"}`, string(w.msgs[0].Value))

	w.err = errors.New("broker down")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/shipments/O9/deliver", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/shipments/O9/ship", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDispatcher_ChecksOrderStatus(t *testing.T) {
	statuses := map[string]string{"O1": "Processing", "O2": "Delivered"}
	orderSvc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/orders/")
		status, ok := statuses[id]
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "status": status})
	}))
	defer orderSvc.Close()

	tracer := noop.NewTracerProvider().Tracer("test")
	w := &memWriter{}
	lookup := NewHTTPOrderLookup(httpclient.NewClient(tracer, 0), orderSvc.URL+"/")
	d := NewDispatcher(w, tracer).WithOrderLookup(lookup)
	ctx := context.Background()

	require.NoError(t, d.Ship(ctx, "O1"))
	assert.True(t, errors.Is(d.Deliver(ctx, "O1"), domain.ErrInvalidState), "processing order cannot skip shipping")
	assert.True(t, errors.Is(d.Ship(ctx, "O2"), domain.ErrInvalidState))
	assert.True(t, errors.Is(d.Ship(ctx, "O404"), domain.ErrNotFound))
	assert.Len(t, w.msgs, 1)

	mux := http.NewServeMux()
	d.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/shipments/O404/ship", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/shipments/O2/deliver", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code, "same status is idempotent")
}
