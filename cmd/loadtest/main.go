package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	idempotencyHeader = "Idempotency-Key"
	apiPrefix         = "/api/v1"

	outcomeTransport = "transport_error"
	outcomeTimeout   = "timeout"
)

type loadMode string

const (
	modeOrder    loadMode = "order"
	modeTransfer loadMode = "transfer"
	modeMixed    loadMode = "mixed"
)

type config struct {
	baseURL        string
	total          int
	totalSet       bool
	duration       time.Duration
	concurrency    int
	timeout        time.Duration
	mode           loadMode
	quantity       int64
	initialStock   int64
	paymentMethod  string
	allowConflicts bool
	outputPath     string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// stockCheck сверяет остатки после прогона: переводы сохраняют сумму, заказы уменьшают её.
type stockCheck struct {
	ExpectedTotal   int64 `json:"expected_total"`
	ActualTotal     int64 `json:"actual_total"`
	NegativeRecords int   `json:"negative_records"`
	OrdersPlaced    int64 `json:"orders_placed"`
}

func (s stockCheck) ok() bool {
	return s.NegativeRecords == 0 && s.ExpectedTotal == s.ActualTotal
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Stock             *stockCheck             `json:"stock_check,omitempty"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// record учитывает вызов: outcome — HTTP-статус или класс транспортной ошибки.
func (c *collector) record(method string, latency time.Duration, outcome string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.methods[method]
	if !exists {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[outcome]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}
	return stats.report(), true
}

func (s *methodStats) report() methodReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codesCopy[code] = count
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods["scenario"]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		result.Methods[name] = stats.report()
	}

	return result
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "inventory service base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeOrder), "load mode: order | transfer | mixed")
	fs.Int64Var(&cfg.quantity, "quantity", 1, "units per order line or transfer")
	fs.Int64Var(&cfg.initialStock, "initial-stock", 1000, "starting quantity in each of the two warehouses")
	fs.StringVar(&cfg.paymentMethod, "payment-method", "card", "order payment method")
	fs.BoolVar(&cfg.allowConflicts, "allow-conflicts", true, "treat 409 insufficient stock as an expected outcome")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	if cfg.baseURL == "" {
		return cfg, errors.New("url is required")
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	if cfg.initialStock < 0 {
		return cfg, errors.New("initial-stock must be >= 0")
	}
	if strings.TrimSpace(cfg.paymentMethod) == "" {
		return cfg, errors.New("payment-method is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeOrder:
		return modeOrder, nil
	case modeTransfer:
		return modeTransfer, nil
	case modeMixed:
		return modeMixed, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, cfg, &http.Client{Timeout: cfg.timeout})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || (result.Stock != nil && !result.Stock.ok()) {
		os.Exit(1)
	}
}

// run готовит справочные данные через API, гоняет сценарии и сверяет остатки.
func run(ctx context.Context, cfg config, httpClient *http.Client) (report, error) {
	client := &apiClient{baseURL: cfg.baseURL, http: httpClient, timeout: cfg.timeout}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())

	fx, err := setupFixture(ctx, client, cfg, runID)
	if err != nil {
		return report{}, fmt.Errorf("setup: %w", err)
	}

	col := newCollector()
	var ordersPlaced int64
	jobs := make(chan int, cfg.concurrency*2)

	var g errgroup.Group
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		g.Go(func() error {
			for id := range jobs {
				placed, _ := runScenario(ctx, client, cfg, fx, id, runID, col)
				if placed {
					atomic.AddInt64(&ordersPlaced, 1)
				}
			}
			return nil
		})
	}

	dispatchJobs(ctx, jobs, cfg)
	_ = g.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)

	check, err := verifyStock(ctx, client, cfg, fx, atomic.LoadInt64(&ordersPlaced))
	if err != nil {
		return result, fmt.Errorf("verify stock: %w", err)
	}
	result.Stock = &check
	return result, nil
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type fixture struct {
	productID    string
	customerID   string
	warehouseIDs [2]string
}

// setupFixture создаёт товар, покупателя, два склада и остатки на обоих складах.
func setupFixture(ctx context.Context, client *apiClient, cfg config, runID string) (fixture, error) {
	var fx fixture
	var err error

	fx.productID, err = client.create(ctx, "/products", map[string]any{
		"name":       "Load test product " + runID,
		"category":   "loadtest",
		"unit_price": "1.00",
		"sku":        "LT-" + runID,
	})
	if err != nil {
		return fx, fmt.Errorf("create product: %w", err)
	}

	fx.customerID, err = client.create(ctx, "/customers", map[string]any{
		"full_name": "Load Test " + runID,
		"email":     "lt-" + runID + "@example.com",
	})
	if err != nil {
		return fx, fmt.Errorf("create customer: %w", err)
	}

	for i := range fx.warehouseIDs {
		fx.warehouseIDs[i], err = client.create(ctx, "/warehouses", map[string]any{
			"name":     fmt.Sprintf("LT-%s-%d", runID, i+1),
			"location": "loadtest",
		})
		if err != nil {
			return fx, fmt.Errorf("create warehouse: %w", err)
		}

		if _, err = client.create(ctx, "/inventory", map[string]any{
			"product_id":   fx.productID,
			"warehouse_id": fx.warehouseIDs[i],
			"quantity":     cfg.initialStock,
			"reason":       "loadtest",
		}); err != nil {
			return fx, fmt.Errorf("create stock record: %w", err)
		}
	}

	return fx, nil
}

// runScenario выполняет один сценарий и сообщает, был ли размещён заказ.
func runScenario(
	ctx context.Context,
	client *apiClient,
	cfg config,
	fx fixture,
	index int,
	runID string,
	col *collector,
) (bool, error) {
	scenarioStart := time.Now()
	var (
		status int
		err    error
	)
	defer func() {
		col.record("scenario", time.Since(scenarioStart), outcomeOf(status, err), callOK(cfg, err))
	}()

	if scenarioKind(cfg.mode, index) == modeOrder {
		status, err = placeOrder(ctx, client, cfg, fx, index, runID, col)
		if err == nil {
			return true, nil
		}
	} else {
		status, err = transferStock(ctx, client, cfg, fx, index, runID, col)
	}
	if callOK(cfg, err) {
		return false, nil
	}
	return false, err
}

// callOK считает 409 ожидаемым исходом, если конфликты остатков разрешены.
func callOK(cfg config, err error) bool {
	return err == nil || (cfg.allowConflicts && isConflict(err))
}

func scenarioKind(mode loadMode, index int) loadMode {
	if mode != modeMixed {
		return mode
	}
	if index%2 == 0 {
		return modeOrder
	}
	return modeTransfer
}

func placeOrder(ctx context.Context, client *apiClient, cfg config, fx fixture, index int, runID string, col *collector) (int, error) {
	body := map[string]any{
		"customer_id":    fx.customerID,
		"payment_method": cfg.paymentMethod,
		"items": []map[string]any{
			{"product_id": fx.productID, "quantity": cfg.quantity},
		},
	}
	key := fmt.Sprintf("lt-order-%s-%d", runID, index)

	start := time.Now()
	status, _, err := client.call(ctx, http.MethodPost, "/orders", body, key)
	col.record("CreateOrder", time.Since(start), outcomeOf(status, err), callOK(cfg, err))
	return status, err
}

func transferStock(ctx context.Context, client *apiClient, cfg config, fx fixture, index int, runID string, col *collector) (int, error) {
	from, to := fx.warehouseIDs[index%2], fx.warehouseIDs[(index+1)%2]
	body := map[string]any{
		"product_id":        fx.productID,
		"from_warehouse_id": from,
		"to_warehouse_id":   to,
		"quantity":          cfg.quantity,
		"reason":            "loadtest",
	}
	key := fmt.Sprintf("lt-transfer-%s-%d", runID, index)

	start := time.Now()
	status, _, err := client.call(ctx, http.MethodPost, "/inventory/transfer", body, key)
	col.record("TransferStock", time.Since(start), outcomeOf(status, err), callOK(cfg, err))
	return status, err
}

func verifyStock(ctx context.Context, client *apiClient, cfg config, fx fixture, ordersPlaced int64) (stockCheck, error) {
	_, data, err := client.call(ctx, http.MethodGet, "/inventory?product_id="+fx.productID, nil, "")
	if err != nil {
		return stockCheck{}, err
	}

	var records []struct {
		Quantity int64 `json:"quantity"`
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return stockCheck{}, fmt.Errorf("decode stock records: %w", err)
	}

	check := stockCheck{
		ExpectedTotal: cfg.initialStock*int64(len(fx.warehouseIDs)) - ordersPlaced*cfg.quantity,
		OrdersPlaced:  ordersPlaced,
	}
	for _, rec := range records {
		check.ActualTotal += rec.Quantity
		if rec.Quantity < 0 {
			check.NegativeRecords++
		}
	}
	return check, nil
}

// statusError — ответ API с кодом вне 2xx.
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.message)
}

func isConflict(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusConflict
}

// outcomeOf возвращает HTTP-статус ответа или класс ошибки, если ответа не было.
func outcomeOf(status int, err error) string {
	if status > 0 {
		return strconv.Itoa(status)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return outcomeTimeout
	}
	return outcomeTransport
}

type apiClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// create отправляет POST и возвращает id созданной сущности.
func (c *apiClient) create(ctx context.Context, path string, body any) (string, error) {
	_, data, err := c.call(ctx, http.MethodPost, path, body, "")
	if err != nil {
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("decode %s response: %w", path, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("%s response returned empty id", path)
	}
	return created.ID, nil
}

// call выполняет запрос к /api/v1 и возвращает статус и поле data из конверта ответа.
func (c *apiClient) call(ctx context.Context, method, path string, body any, key string) (int, json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, nil, &statusError{status: resp.StatusCode, message: env.Message}
	}
	if decodeErr != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	return resp.StatusCode, env.Data, nil
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}

	if result.Stock != nil {
		_, _ = fmt.Fprintf(w, "stock: expected=%d actual=%d negative_records=%d orders=%d consistent=%t\n",
			result.Stock.ExpectedTotal,
			result.Stock.ActualTotal,
			result.Stock.NegativeRecords,
			result.Stock.OrdersPlaced,
			result.Stock.ok(),
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
