// Package testutil provides a paged mock backend for feed and server tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Route names used by counters and failure injection.
const (
	RouteMarkets      = "markets"
	RouteQuotes       = "quotes"
	RouteTransactions = "transactions"
	RouteHistory      = "history"
)

// MockResponse is a canned response served instead of the generated data.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockMarket is one row of the generated markets table.
type MockMarket struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change_24h"`
	MarketCap decimal.Decimal `json:"market_cap"`
}

// MockBackend serves generated markets, transactions and card history pages
// from an httptest server. Every response carries X-RateLimit headers.
type MockBackend struct {
	server *httptest.Server

	mu       sync.Mutex
	markets  []MockMarket
	txCount  map[string]int
	cards    map[string]int
	factor   decimal.Decimal
	failures map[string][]MockResponse
	requests map[string]int
	delay    map[string]time.Duration
	header   http.Header

	rateRemaining int
	rateReset     int
}

// NewMockBackend starts a backend with markets generated markets.
func NewMockBackend(markets int) *MockBackend {
	m := &MockBackend{
		markets:       GenerateMarkets(markets),
		txCount:       make(map[string]int),
		cards:         make(map[string]int),
		factor:        decimal.NewFromInt(1),
		failures:      make(map[string][]MockResponse),
		requests:      make(map[string]int),
		delay:         make(map[string]time.Duration),
		rateRemaining: 100,
		rateReset:     60,
	}

	r := chi.NewRouter()
	r.Get("/v1/markets", m.route(RouteMarkets, m.handleMarkets))
	r.Get("/v1/quotes", m.route(RouteQuotes, m.handleQuotes))
	r.Get("/v1/networks/{network}/addresses/{address}/transactions", m.route(RouteTransactions, m.handleTransactions))
	r.Get("/v1/cards/{card}/history", m.route(RouteHistory, m.handleHistory))

	m.server = httptest.NewServer(r)
	return m
}

// GenerateMarkets builds n markets ordered by market cap, largest first.
func GenerateMarkets(n int) []MockMarket {
	markets := make([]MockMarket, n)
	for i := range markets {
		markets[i] = MockMarket{
			ID:        fmt.Sprintf("token-%03d", i),
			Symbol:    fmt.Sprintf("TK%03d", i),
			Name:      fmt.Sprintf("Token %d", i),
			Price:     decimal.NewFromInt(int64(1000 - i)).Div(decimal.NewFromInt(10)),
			Change24h: decimal.NewFromFloat(float64(i%7) - 3),
			MarketCap: decimal.NewFromInt(int64(n-i) * 1_000_000),
		}
	}
	return markets
}

// URL returns the server base URL.
func (m *MockBackend) URL() string {
	return m.server.URL
}

// Close shuts down the server.
func (m *MockBackend) Close() {
	m.server.Close()
}

// AddTransactions registers count transactions for an address.
func (m *MockBackend) AddTransactions(network, address string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount[network+"/"+address] = count
}

// AddCard registers count history entries for a card.
func (m *MockBackend) AddCard(card string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[card] = count
}

// SetQuoteFactor multiplies every quoted price by factor.
func (m *MockBackend) SetQuoteFactor(factor decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factor = factor
}

// SetRateLimit changes the budget advertised in response headers.
func (m *MockBackend) SetRateLimit(remaining, resetSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateRemaining = remaining
	m.rateReset = resetSeconds
}

// SetDelay delays every response on route.
func (m *MockBackend) SetDelay(route string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay[route] = d
}

// FailNext serves resp for the next n requests on route.
func (m *MockBackend) FailNext(route string, n int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for range n {
		m.failures[route] = append(m.failures[route], resp)
	}
}

// Requests returns how many requests hit route.
func (m *MockBackend) Requests(route string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[route]
}

// Reset clears the request counters.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.header = nil
}

// LastRequestHeader returns the header of the most recent request.
func (m *MockBackend) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.header
}

func (m *MockBackend) route(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests[name]++
		m.header = r.Header.Clone()
		delay := m.delay[name]
		var canned *MockResponse
		if queue := m.failures[name]; len(queue) > 0 {
			canned = &queue[0]
			m.failures[name] = queue[1:]
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(m.rateRemaining))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(m.rateReset))
		m.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if canned != nil {
			writeCanned(w, *canned)
			return
		}
		next(w, r)
	}
}

func writeCanned(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// paging reads offset and limit. limit defaults to 20.
func paging(r *http.Request) (offset, limit int, ok bool) {
	q := r.URL.Query()
	offset, limit = 0, 20
	var err error
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, false
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, false
		}
	}
	return offset, limit, true
}

func window(total, offset, limit int) (from, to int) {
	from = min(offset, total)
	to = min(offset+limit, total)
	return from, to
}

func (m *MockBackend) handleMarkets(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := paging(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid paging")
		return
	}

	m.mu.Lock()
	rows := slices.Clone(m.markets)
	m.mu.Unlock()

	q := r.URL.Query()
	if search := strings.ToLower(q.Get("search")); search != "" {
		rows = slices.DeleteFunc(rows, func(row MockMarket) bool {
			return !strings.Contains(strings.ToLower(row.Symbol), search) &&
				!strings.Contains(strings.ToLower(row.Name), search)
		})
	}
	if q.Get("order") == "asc" {
		slices.Reverse(rows)
	}

	from, to := window(len(rows), offset, limit)
	writeJSON(w, map[string]any{"items": rows[from:to]})
}

func (m *MockBackend) handleQuotes(w http.ResponseWriter, r *http.Request) {
	ids := strings.Split(r.URL.Query().Get("ids"), ",")

	m.mu.Lock()
	factor := m.factor
	byID := make(map[string]MockMarket, len(m.markets))
	for _, row := range m.markets {
		byID[row.ID] = row
	}
	m.mu.Unlock()

	type quote struct {
		ID        string          `json:"id"`
		Price     decimal.Decimal `json:"price"`
		Change24h decimal.Decimal `json:"change_24h"`
	}
	quotes := make([]quote, 0, len(ids))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			continue
		}
		quotes = append(quotes, quote{ID: id, Price: row.Price.Mul(factor), Change24h: row.Change24h})
	}
	writeJSON(w, map[string]any{"quotes": quotes})
}

func (m *MockBackend) handleTransactions(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")
	address := chi.URLParam(r, "address")

	m.mu.Lock()
	total, known := m.txCount[network+"/"+address]
	m.mu.Unlock()
	if !known {
		writeError(w, http.StatusNotFound, "address not found")
		return
	}

	q := r.URL.Query()
	start := 0
	if cursor := q.Get("cursor"); cursor != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(cursor, "c"))
		if err != nil || !strings.HasPrefix(cursor, "c") {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		start = n
	}
	_, limit, ok := paging(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid paging")
		return
	}

	from, to := window(total, start, limit)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := make([]map[string]any, 0, to-from)
	for i := from; i < to; i++ {
		items = append(items, map[string]any{
			"hash":       fmt.Sprintf("0x%s%06d", network, i),
			"block_time": base.Add(-time.Duration(i) * time.Minute),
			"from":       address,
			"to":         fmt.Sprintf("addr-%d", i),
			"amount":     decimal.NewFromInt(int64(i + 1)).Div(decimal.NewFromInt(100)),
			"fee":        decimal.RequireFromString("0.0001"),
			"status":     "confirmed",
		})
	}

	next := ""
	if to < total {
		next = fmt.Sprintf("c%d", to)
	}
	writeJSON(w, map[string]any{"items": items, "next_cursor": next})
}

// HistoryID is the deterministic id of entry i of a card history.
func HistoryID(card string, i int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("card:%s:%d", card, i)))
}

func (m *MockBackend) handleHistory(w http.ResponseWriter, r *http.Request) {
	card := chi.URLParam(r, "card")

	m.mu.Lock()
	total, known := m.cards[card]
	m.mu.Unlock()
	if !known {
		writeError(w, http.StatusNotFound, "card not found")
		return
	}

	offset, limit, ok := paging(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid paging")
		return
	}

	from, to := window(total, offset, limit)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := make([]map[string]any, 0, to-from)
	for i := from; i < to; i++ {
		items = append(items, map[string]any{
			"id":         HistoryID(card, i),
			"merchant":   fmt.Sprintf("Merchant %d", i%5),
			"amount":     decimal.NewFromInt(int64(i*3 + 1)).Div(decimal.NewFromInt(4)),
			"currency":   "EUR",
			"status":     "settled",
			"created_at": base.Add(-time.Duration(i) * time.Hour),
		})
	}
	writeJSON(w, map[string]any{"items": items, "has_more": to < total})
}

// NewServerErrorResponse returns a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse returns a 429 response with a Retry-After hint.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
			"Retry-After":  "1",
		},
	}
}

// NewNotFoundResponse returns a 404 response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
