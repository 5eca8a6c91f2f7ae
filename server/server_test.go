package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobsim/config"
	"lobsim/engine"
	"lobsim/metrics"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{CORSOrigin: "*", StreamBuffer: 16, DefaultDepth: 10}
}

func newTestServer(t *testing.T, cfg config.ServerConfig) (*httptest.Server, *engine.Runner) {
	t.Helper()
	runner := engine.NewRunner(64)
	t.Cleanup(runner.Stop)
	reg := prometheus.NewRegistry()
	srv := New(runner, cfg, metrics.New(reg), reg, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, runner
}

func call(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func order(id uint64, side, typ, price string, qty int64) map[string]any {
	body := map[string]any{"id": id, "side": side, "type": typ, "quantity": qty}
	if price != "" {
		body["price"] = price
	}
	return body
}

func TestSubmitAndQuery(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())

	resp, body := call(t, http.MethodPost, ts.URL+"/orders", order(1, "buy", "limit", "100.50", 200))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	first := decode[executionResponse](t, body)
	assert.Equal(t, "rested", first.Status)
	assert.Equal(t, int64(200), first.Rested)
	assert.Empty(t, first.Fills)

	resp, body = call(t, http.MethodPost, ts.URL+"/orders", order(2, "SELL", "LIMIT", "100.50", 50))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	second := decode[executionResponse](t, body)
	assert.Equal(t, "filled", second.Status)
	require.Len(t, second.Fills, 1)
	assert.Equal(t, uint64(1), second.Fills[0].BuyOrderID)
	assert.Equal(t, uint64(2), second.Fills[0].SellOrderID)
	assert.True(t, second.Fills[0].Price.Equal(decimal.RequireFromString("100.5")))
	assert.Equal(t, int64(50), second.Fills[0].Quantity)

	resp, body = call(t, http.MethodGet, ts.URL+"/orders/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[orderView](t, body)
	assert.Equal(t, "BUY", view.Side)
	assert.Equal(t, int64(150), view.Quantity)

	resp, body = call(t, http.MethodGet, ts.URL+"/book?depth=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	book := decode[bookResponse](t, body)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, int64(150), book.Bids[0].Quantity)
	assert.Equal(t, 1, book.Bids[0].Orders)
	assert.Empty(t, book.Asks)

	resp, body = call(t, http.MethodGet, ts.URL+"/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[statsResponse](t, body)
	assert.Equal(t, uint64(1), stats.TotalFills)
	assert.True(t, stats.TotalVolume.Equal(decimal.RequireFromString("5025")), stats.TotalVolume.String())
	assert.Equal(t, 1, stats.TotalOrders)
	require.NotNil(t, stats.BestBid)
	assert.Nil(t, stats.BestAsk)
	assert.Nil(t, stats.Spread)
}

func TestSubmitAssignsID(t *testing.T) {
	ts, runner := newTestServer(t, testConfig())

	resp, body := call(t, http.MethodPost, ts.URL+"/orders", map[string]any{
		"side": "sell", "type": "limit", "price": "10", "quantity": 3,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	res := decode[executionResponse](t, body)
	assert.Equal(t, uint64(firstServerID), res.ID)

	resting, err := runner.Resting(context.Background(), engine.OrderID(res.ID))
	require.NoError(t, err)
	assert.True(t, resting)
}

func TestSubmitErrors(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())
	resp, _ := call(t, http.MethodPost, ts.URL+"/orders", order(1, "buy", "limit", "10", 5))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cases := []struct {
		name string
		body any
		want int
	}{
		{"malformed json", `{"side":`, http.StatusBadRequest},
		{"unknown side", order(2, "hold", "limit", "10", 5), http.StatusBadRequest},
		{"unknown type", order(2, "buy", "stop", "10", 5), http.StatusBadRequest},
		{"zero quantity", order(2, "buy", "limit", "10", 0), http.StatusBadRequest},
		{"zero price", order(2, "buy", "limit", "0", 5), http.StatusBadRequest},
		{"duplicate id", order(1, "buy", "limit", "9", 5), http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := call(t, http.MethodPost, ts.URL+"/orders", tc.body)
			assert.Equal(t, tc.want, resp.StatusCode, string(body))
			assert.Contains(t, decode[map[string]string](t, body), "error")
		})
	}
}

func TestCancelAndModify(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())
	resp, _ := call(t, http.MethodPost, ts.URL+"/orders", order(7, "sell", "limit", "101", 10))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, http.MethodPatch, ts.URL+"/orders/7", map[string]any{"quantity": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = call(t, http.MethodPatch, ts.URL+"/orders/99", map[string]any{"quantity": 5})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := call(t, http.MethodPatch, ts.URL+"/orders/7", map[string]any{"quantity": 30})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, statusResponse{ID: 7, Status: "modified", Quantity: 30}, decode[statusResponse](t, body))

	_, body = call(t, http.MethodGet, ts.URL+"/orders/7", nil)
	assert.Equal(t, int64(30), decode[orderView](t, body).Quantity)

	resp, _ = call(t, http.MethodDelete, ts.URL+"/orders/7", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = call(t, http.MethodDelete, ts.URL+"/orders/7", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = call(t, http.MethodGet, ts.URL+"/orders/7", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = call(t, http.MethodDelete, ts.URL+"/orders/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBookDepth(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())

	resp, body := call(t, http.MethodGet, ts.URL+"/book", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"bids":[],"asks":[]}`, string(body))

	for _, raw := range []string{"0", "-1", "x"} {
		resp, _ = call(t, http.MethodGet, ts.URL+"/book?depth="+raw, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, raw)
	}

	for i, price := range []string{"101", "102", "103"} {
		resp, _ = call(t, http.MethodPost, ts.URL+"/orders", order(uint64(i+1), "sell", "limit", price, 1))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	_, body = call(t, http.MethodGet, ts.URL+"/book?depth=2", nil)
	book := decode[bookResponse](t, body)
	require.Len(t, book.Asks, 2)
	assert.True(t, book.Asks[0].Price.Equal(decimal.NewFromInt(101)))
	assert.True(t, book.Asks[1].Price.Equal(decimal.NewFromInt(102)))
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())
	resp, _ := call(t, http.MethodPut, ts.URL+"/orders", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAuthAndCORS(t *testing.T) {
	cfg := testConfig()
	cfg.AuthToken = "secret"
	ts, _ := newTestServer(t, cfg)

	resp, _ := call(t, http.MethodGet, ts.URL+"/book", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = call(t, http.MethodGet, ts.URL+"/book?token=secret", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/book", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, http.MethodOptions, ts.URL+"/orders", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestRequestID(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))

	resp, _ = call(t, http.MethodGet, ts.URL+"/healthz", nil)
	_, err = uuid.Parse(resp.Header.Get(RequestIDHeader))
	assert.NoError(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())
	call(t, http.MethodPost, ts.URL+"/orders", order(1, "buy", "limit", "10", 5))
	call(t, http.MethodDelete, ts.URL+"/orders/1", nil)
	call(t, http.MethodPatch, ts.URL+"/orders/1", map[string]any{"quantity": 0})
	call(t, http.MethodPatch, ts.URL+"/orders/1", map[string]any{"quantity": 4})

	resp, body := call(t, http.MethodGet, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, `lobsim_orders_total{outcome="rested",type="LIMIT"} 1`)
	assert.Contains(t, text, `lobsim_cancels_total{result="ok"} 1`)
	assert.Contains(t, text, `lobsim_modifies_total{result="rejected"} 1`)
	assert.Contains(t, text, `lobsim_modifies_total{result="not_found"} 1`)
	assert.Contains(t, text, `route="/orders"`)
}

func TestUnhealthyAfterStop(t *testing.T) {
	ts, runner := newTestServer(t, testConfig())
	runner.Stop()

	resp, _ := call(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = call(t, http.MethodPost, ts.URL+"/orders", order(1, "buy", "limit", "10", 5))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

type message[T any] struct {
	Type string `json:"type"`
	Data T      `json:"data"`
}

func TestFillStream(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())
	conn := dial(t, ts, "/ws/fills")

	call(t, http.MethodPost, ts.URL+"/orders", order(1, "sell", "limit", "99.75", 40))
	call(t, http.MethodPost, ts.URL+"/orders", order(2, "buy", "market", "", 25))

	var msg message[fillView]
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "fill", msg.Type)
	assert.Equal(t, uint64(2), msg.Data.BuyOrderID)
	assert.Equal(t, uint64(1), msg.Data.SellOrderID)
	assert.Equal(t, int64(25), msg.Data.Quantity)
	assert.True(t, msg.Data.Price.Equal(decimal.RequireFromString("99.75")))
}

func TestBookStream(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())
	conn := dial(t, ts, "/ws/book")

	var snapshot message[topOfBookView]
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "book", snapshot.Type)
	assert.Nil(t, snapshot.Data.BestBid)
	assert.Nil(t, snapshot.Data.BestAsk)

	call(t, http.MethodPost, ts.URL+"/orders", order(1, "buy", "limit", "50", 12))

	var update message[topOfBookView]
	require.NoError(t, conn.ReadJSON(&update))
	require.NotNil(t, update.Data.BestBid)
	assert.Equal(t, int64(12), update.Data.BestBid.Quantity)
	assert.True(t, update.Data.BestBid.Price.Equal(decimal.NewFromInt(50)))
}

func TestStreamClosesWhenRunnerStops(t *testing.T) {
	ts, runner := newTestServer(t, testConfig())
	conn := dial(t, ts, "/ws/fills")

	runner.Stop()
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
}
