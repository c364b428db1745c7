package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"codelab.org/internal/auth"
	"codelab.org/internal/enrollment"
	"codelab.org/internal/events"
	"codelab.org/internal/payment"
)

type stubIntents struct {
	err error
}

func (s stubIntents) CreateChargeIntent(ctx context.Context, amount decimal.Decimal) (payment.ChargeIntent, error) {
	if s.err != nil {
		return payment.ChargeIntent{}, s.err
	}
	return payment.ChargeIntent{
		ClientSecret: "pi_test_secret",
		Amount:       amount.Mul(decimal.NewFromInt(100)).IntPart(),
		Currency:     "usd",
	}, nil
}

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *enrollment.InMemory
	stream  *events.Stream
	t       *testing.T
}

func newTestAPI(t *testing.T, opts ...func(*Options)) *apiClient {
	t.Helper()

	store := enrollment.NewInMemory()
	store.PutOffering(enrollment.ClassOffering{
		ID: "c1", InstructorEmail: "t@example.com", ClassName: "Intro to Go",
		Price: decimal.RequireFromString("25.00"), AvailableSeats: 1, TotalEnrolled: 10,
	})
	store.PutOffering(enrollment.ClassOffering{
		ID: "c2", InstructorEmail: "u@example.com", ClassName: "Concurrency",
		Price: decimal.RequireFromString("40.00"), AvailableSeats: 5, TotalEnrolled: 0,
	})

	authority, err := auth.NewAuthority("test-secret")
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	stream := events.NewStream()
	o := Options{
		Version:    "test",
		Ready:      ReadyProbe{Store: store},
		Authority:  authority,
		Enrollment: enrollment.NewService(store, enrollment.WithObserver(events.NewFanout(stream, nil))),
		Catalog:    store,
		Payments:   stubIntents{},
		Stream:     stream,
		RateBurst:  1000,
		RatePerSec: 1000,
	}
	for _, fn := range opts {
		fn(&o)
	}

	srv := httptest.NewServer(New(o).Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		stream:  stream,
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	resp, err := c.client.Get(u.String())
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(email string) string {
	c.t.Helper()
	resp := c.post("/jwt", map[string]any{"email": email}, nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	payload := decode[tokenResponse](c.t, resp)
	if payload.Token == "" || payload.ExpiresAt.IsZero() {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPIEnrollmentFlow(t *testing.T) {
	api := newTestAPI(t)
	api.store.AddCartItem(enrollment.CartItem{StudentEmail: "s@example.com", ClassOfferingID: "c1"})

	resp := api.post("/create-payment-intent", map[string]any{"price": 25.00}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected intent status: %d", resp.StatusCode)
	}
	intent := decode[map[string]any](t, resp)
	if intent["clientSecret"] != "pi_test_secret" || intent["amount"].(float64) != 2500 {
		t.Fatalf("unexpected intent: %v", intent)
	}

	token := api.obtainToken("s@example.com")
	resp = api.post("/payments", map[string]any{"classOfferingId": "c1", "amount": "25.00"}, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected payment status: %d", resp.StatusCode)
	}
	res := decode[enrollment.SettlementResult](t, resp)
	if res.SeatUpdate == nil || res.SeatUpdate.AvailableSeats != 0 || res.SeatUpdate.TotalEnrolled != 11 {
		t.Fatalf("unexpected seat update: %+v", res.SeatUpdate)
	}
	if !res.PaymentWrite.Acknowledged || res.PaymentWrite.Record == nil || res.PaymentWrite.Record.AmountMinor != 2500 {
		t.Fatalf("unexpected payment write: %+v", res.PaymentWrite)
	}
	if res.CartItemsRemoved != 1 {
		t.Fatalf("expected cart cleanup, got %d", res.CartItemsRemoved)
	}

	// Last seat taken: the next student is rejected and nothing is written.
	other := api.obtainToken("o@example.com")
	resp = api.post("/payments", map[string]any{"_id": "c1", "amount": 25}, bearerHeader(other))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	errBody := decode[map[string]any](t, resp)
	if errBody["error"] == "" || errBody["request_id"] == "" {
		t.Fatalf("expected structured error, got %v", errBody)
	}

	resp = api.get("/payments/enrolled/student", url.Values{"email": {"s@example.com"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected enrolled status: %d", resp.StatusCode)
	}
	recs := decode[[]enrollment.PaymentRecord](t, resp)
	if len(recs) != 1 || recs[0].ClassOfferingID != "c1" {
		t.Fatalf("unexpected records: %+v", recs)
	}

	resp = api.get("/payments/enrolled/student", url.Values{"email": {"o@example.com"}})
	if got := decode[[]enrollment.PaymentRecord](t, resp); got == nil || len(got) != 0 {
		t.Fatalf("expected empty list, got %+v", got)
	}

	off, err := api.store.GetOffering(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetOffering: %v", err)
	}
	if off.AvailableSeats+off.TotalEnrolled != 11 {
		t.Fatalf("seat conservation broken: %+v", off)
	}
}

func TestPaymentsRejectsBadInput(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("s@example.com")

	cases := []struct {
		name string
		body any
		want int
	}{
		{"missing offering", map[string]any{"amount": 25}, http.StatusBadRequest},
		{"missing amount", map[string]any{"classOfferingId": "c1"}, http.StatusBadRequest},
		{"zero amount", map[string]any{"classOfferingId": "c1", "amount": 0}, http.StatusBadRequest},
		{"unparseable amount", map[string]any{"classOfferingId": "c1", "amount": "abc"}, http.StatusBadRequest},
		{"above column range", map[string]any{"classOfferingId": "c1", "amount": "10000000000"}, http.StatusBadRequest},
		{"int64 overflow", map[string]any{"classOfferingId": "c1", "amount": "200000000000000000"}, http.StatusBadRequest},
		{"non-object body", "not an object", http.StatusBadRequest},
		{"unknown offering", map[string]any{"classOfferingId": "nope", "amount": 5}, http.StatusNotFound},
		{"foreign email", map[string]any{"classOfferingId": "c1", "amount": 5, "email": "x@example.com"}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := api.post("/payments", tc.body, bearerHeader(token))
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}

	off, _ := api.store.GetOffering(context.Background(), "c1")
	if off.AvailableSeats != 1 {
		t.Fatalf("rejected requests must not move seats: %+v", off)
	}
}

func TestPaymentsConcurrentLastSeat(t *testing.T) {
	api := newTestAPI(t)
	const clients = 12

	tokens := make([]string, clients)
	for i := range tokens {
		tokens[i] = api.obtainToken("student" + string(rune('a'+i)) + "@example.com")
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[int]int{}
	)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			resp := api.post("/payments", map[string]any{"classOfferingId": "c1", "amount": 25}, bearerHeader(token))
			resp.Body.Close()
			mu.Lock()
			codes[resp.StatusCode]++
			mu.Unlock()
		}(tokens[i])
	}
	wg.Wait()

	if codes[http.StatusOK] != 1 || codes[http.StatusConflict] != clients-1 {
		t.Fatalf("expected exactly one success, got %v", codes)
	}
	off, _ := api.store.GetOffering(context.Background(), "c1")
	if off.AvailableSeats != 0 || off.TotalEnrolled != 11 {
		t.Fatalf("unexpected offering after race: %+v", off)
	}
}

func TestCreatePaymentIntentErrors(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	api := newTestAPI(t, func(o *Options) {
		o.Payments = payment.NewClient(payment.Config{BaseURL: gateway.URL, Timeout: time.Second})
	})

	resp := api.post("/create-payment-intent", map[string]any{"price": 10}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}

	resp = api.post("/create-payment-intent", map[string]any{"price": -1}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	resp = api.post("/create-payment-intent", map[string]any{}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing price, got %d", resp.StatusCode)
	}
}

func TestClassEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/classes", nil)
	if list := decode[[]enrollment.ClassOffering](t, resp); len(list) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(list))
	}
	resp = api.get("/classes", url.Values{"email": {"u@example.com"}})
	if list := decode[[]enrollment.ClassOffering](t, resp); len(list) != 1 || list[0].ID != "c2" {
		t.Fatalf("unexpected filtered list: %+v", list)
	}
	resp = api.get("/classes/c2", nil)
	if off := decode[enrollment.ClassOffering](t, resp); off.ClassName != "Concurrency" {
		t.Fatalf("unexpected class: %+v", off)
	}
	resp = api.get("/classes/missing", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/jwt", map[string]any{"email": " "}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	resp = api.get("/jwt", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestDocumentBodiesIgnoreExtraFields(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/jwt", map[string]any{
		"email": "s@example.com", "name": "Student", "photoURL": "https://example.com/a.png",
	}, nil)
	tok := decode[tokenResponse](t, resp)
	if tok.Token == "" {
		t.Fatal("expected token for user document")
	}

	resp = api.post("/payments", map[string]any{
		"_id": "c2", "amount": "40.00", "transactionId": "pi_123", "className": "Concurrency",
	}, bearerHeader(tok.Token))
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("expected 200 for payment document, got %d", resp.StatusCode)
	}
	res := decode[enrollment.SettlementResult](t, resp)
	if res.SeatUpdate == nil || res.SeatUpdate.AvailableSeats != 4 {
		t.Fatalf("unexpected seat update: %+v", res.SeatUpdate)
	}

	resp = api.post("/create-payment-intent", map[string]any{"price": 10, "x": 1}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected strict decoding on intents, got %d", resp.StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/"} {
		resp := api.get(path, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	down := newTestAPI(t, func(o *Options) { o.Ready = ReadyProbe{Store: failingPinger{}} })
	resp := down.get("/readyz", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestEnrollmentStreamDeliversSettlements(t *testing.T) {
	api := newTestAPI(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/events/enrollments", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("expected stream preamble, got %q (%v)", line, err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for api.stream.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	token := api.obtainToken("s@example.com")
	pay := api.post("/payments", map[string]any{"classOfferingId": "c2", "amount": 40}, bearerHeader(token))
	pay.Body.Close()
	if pay.StatusCode != http.StatusOK {
		t.Fatalf("unexpected payment status: %d", pay.StatusCode)
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		var evt events.EnrollmentEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.ClassOfferingID != "c2" || evt.AvailableSeats != 4 || evt.StudentEmail != "" {
			t.Fatalf("unexpected event: %+v", evt)
		}
		return
	}
}

func TestEnrollmentStreamEndsWhenStreamCloses(t *testing.T) {
	api := newTestAPI(t)

	resp, err := api.client.Get(api.baseURL + "/events/enrollments")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	deadline := time.Now().Add(2 * time.Second)
	for api.stream.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	api.stream.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(resp.Body)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not return after close")
	}
}
