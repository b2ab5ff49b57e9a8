package apex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapcredits/zapcredits-backend/pkg/config"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.ApexConfig{
		BaseURL: srv.URL,
		APIKey:  "panel-key",
		Timeout: 2 * time.Second,
	}, logger.New(logger.Options{ServiceName: "test"}))
	require.NoError(t, err)
	return client
}

func TestCostForUsesRatePerThousand(t *testing.T) {
	svc := Service{Rate: decimal.RequireFromString("50.00")}

	assert.True(t, svc.CostFor(500).Equal(decimal.RequireFromString("25")))
	assert.True(t, svc.CostFor(1000).Equal(decimal.RequireFromString("50")))
}

func TestServicesParsesCatalog(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "panel-key", r.PostFormValue("key"))
		assert.Equal(t, "services", r.PostFormValue("action"))
		w.Write([]byte(`[{"service":101,"name":"Instagram Followers","category":"instagram","rate":"50.00","min":50,"max":10000}]`))
	})

	services, err := client.Services(context.Background())
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, 101, services[0].ID)
	assert.Equal(t, 50, services[0].Min)
	assert.True(t, services[0].Rate.Equal(decimal.RequireFromString("50.00")))
}

func TestCreateOrderReturnsPanelID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "add", r.PostFormValue("action"))
		assert.Equal(t, "101", r.PostFormValue("service"))
		assert.Equal(t, "500", r.PostFormValue("quantity"))
		w.Write([]byte(`{"order":99817}`))
	})

	orderID, err := client.CreateOrder(context.Background(), 101, "https://instagram.com/someone", 500)
	require.NoError(t, err)
	assert.Equal(t, "99817", orderID)
}

func TestCreateOrderSurfacesPanelError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"error":"not enough funds"}`))
	})

	_, err := client.CreateOrder(context.Background(), 101, "https://instagram.com/someone", 500)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
}

func TestOrderStateParsesStringNumerics(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"Partial","charge":"22.00","start_count":"120","remains":"30"}`))
	})

	state, err := client.OrderState(context.Background(), "99817")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPartial, state.Status)
	assert.Equal(t, 120, state.StartCount)
	assert.Equal(t, 30, state.Remains)
	assert.True(t, state.Status.IsTerminal())
}
