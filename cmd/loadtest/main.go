// Команда loadtest нагружает PlaceOrder конкурентными корзинами и проверяет,
// что сервис не продал больше, чем было на складе.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	storefrontv1 "github.com/vladislavdragonenkov/storefront/api/storefront/v1"
)

type config struct {
	addr         string
	total        int
	totalSet     bool
	duration     time.Duration
	concurrency  int
	connections  int
	timeout      time.Duration
	items        int
	stock        int
	price        string
	linesPerCart int
	maxQty       int
	itemPrefix   string
	ownerTag     string
	seed         bool
	outputPath   string
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
	RejectedBaskets   int64                   `json:"rejected_baskets"`
	StockChecks       []stockCheck            `json:"stock_checks,omitempty"`
	Violations        int                     `json:"violations"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu       sync.Mutex
	methods  map[string]*methodStats
	sold     map[string]int64
	rejected int64
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
		sold:    make(map[string]int64),
	}
}

// recordSale учитывает единицы, списанные успешным заказом.
func (c *collector) recordSale(lines []*storefrontv1.OrderLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range lines {
		c.sold[line.ItemId] += int64(line.Quantity)
	}
}

func (c *collector) recordRejected() {
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()
}

func (c *collector) soldUnits(itemID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sold[itemID]
}

func (c *collector) record(method string, latency time.Duration, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if code == codes.OK {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
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
		RejectedBaskets: c.rejected,
	}

	scenarioStats := c.methods["scenario"]
	if scenarioStats != nil {
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

// stockCheck — сверка остатка одного товара после прогона.
type stockCheck struct {
	ItemID   string `json:"item_id"`
	Initial  int32  `json:"initial"`
	Sold     int64  `json:"sold"`
	Final    int32  `json:"final"`
	Expected int64  `json:"expected"`
	Oversold bool   `json:"oversold"`
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var timeoutValue string
	var durationValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "total baskets to place in count mode; in duration mode only used when explicitly set")
	fs.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 1m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 8, "number of gRPC client connections")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-RPC timeout")
	fs.IntVar(&cfg.items, "items", 5, "number of catalog items competing for stock")
	fs.IntVar(&cfg.stock, "stock", 100, "initial stock per item when seeding")
	fs.StringVar(&cfg.price, "price", "9.99", "item price when seeding")
	fs.IntVar(&cfg.linesPerCart, "lines", 2, "lines per basket")
	fs.IntVar(&cfg.maxQty, "max-qty", 3, "maximum quantity per line")
	fs.StringVar(&cfg.itemPrefix, "item-prefix", "LOAD-SKU", "catalog item id prefix")
	fs.StringVar(&cfg.ownerTag, "owner-tag", "load", "owner id prefix")
	fs.BoolVar(&cfg.seed, "seed", true, "reset catalog items with admin role before the run")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.items <= 0:
		return cfg, errors.New("items must be > 0")
	case cfg.stock < 0 || cfg.stock > math.MaxInt32:
		return cfg, errors.New("stock must be between 0 and 2147483647")
	case cfg.linesPerCart <= 0:
		return cfg, errors.New("lines must be > 0")
	case cfg.maxQty <= 0:
		return cfg, errors.New("max-qty must be > 0")
	case strings.TrimSpace(cfg.itemPrefix) == "":
		return cfg, errors.New("item-prefix is required")
	case strings.TrimSpace(cfg.ownerTag) == "":
		return cfg, errors.New("owner-tag is required")
	}

	return cfg, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]storefrontv1.StorefrontServiceClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, storefrontv1.NewStorefrontServiceClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	ctx := context.Background()
	initial, err := prepareCatalog(ctx, clients[0], cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to prepare catalog: %v\n", err)
		os.Exit(1)
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var g errgroup.Group
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		client := clients[workerID%len(clients)]
		g.Go(func() error {
			for id := range jobs {
				_ = runScenario(client, cfg, id, runID, col)
			}
			return nil
		})
	}

	dispatchJobs(jobs, cfg)
	_ = g.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)

	checks, err := verifyStock(ctx, clients[0], cfg, initial, col)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to verify stock: %v\n", err)
		os.Exit(1)
	}
	result.StockChecks = checks
	for _, check := range checks {
		if check.Oversold || int64(check.Final) != check.Expected {
			result.Violations++
		}
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || result.Violations > 0 {
		os.Exit(1)
	}
}

func itemID(cfg config, n int) string {
	return cfg.itemPrefix + "-" + strconv.Itoa(n)
}

func adminContext(ctx context.Context, cfg config) context.Context {
	return metadata.AppendToOutgoingContext(ctx,
		storefrontv1.MetadataOwnerID, cfg.ownerTag+"-admin",
		storefrontv1.MetadataOwnerRole, storefrontv1.RoleAdmin,
	)
}

// prepareCatalog сбрасывает остатки (при -seed) и запоминает стартовое состояние.
func prepareCatalog(ctx context.Context, client storefrontv1.StorefrontServiceClient, cfg config) (map[string]int32, error) {
	initial := make(map[string]int32, cfg.items)
	for n := 0; n < cfg.items; n++ {
		id := itemID(cfg, n)
		callCtx, cancel := context.WithTimeout(adminContext(ctx, cfg), cfg.timeout)

		var (
			item *storefrontv1.Item
			err  error
		)
		if cfg.seed {
			var resp *storefrontv1.PutItemResponse
			resp, err = client.PutItem(callCtx, &storefrontv1.PutItemRequest{Item: &storefrontv1.Item{
				Id:    id,
				Name:  "load item " + strconv.Itoa(n),
				Price: cfg.price,
				Stock: int32(cfg.stock), //nolint:gosec // bounded in parseConfig.
			}})
			item = resp.GetItem()
		} else {
			var resp *storefrontv1.GetItemResponse
			resp, err = client.GetItem(callCtx, &storefrontv1.GetItemRequest{ItemId: id})
			item = resp.GetItem()
		}
		cancel()
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", id, err)
		}
		if item == nil {
			return nil, fmt.Errorf("item %s: empty response", id)
		}
		initial[id] = item.Stock
	}
	return initial, nil
}

func verifyStock(
	ctx context.Context,
	client storefrontv1.StorefrontServiceClient,
	cfg config,
	initial map[string]int32,
	col *collector,
) ([]stockCheck, error) {
	checks := make([]stockCheck, 0, len(initial))
	for n := 0; n < cfg.items; n++ {
		id := itemID(cfg, n)
		callCtx, cancel := context.WithTimeout(adminContext(ctx, cfg), cfg.timeout)
		resp, err := client.GetItem(callCtx, &storefrontv1.GetItemRequest{ItemId: id})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", id, err)
		}
		checks = append(checks, buildStockCheck(id, initial[id], col.soldUnits(id), resp.GetItem().GetStock()))
	}
	return checks, nil
}

func buildStockCheck(id string, initial int32, sold int64, final int32) stockCheck {
	return stockCheck{
		ItemID:   id,
		Initial:  initial,
		Sold:     sold,
		Final:    final,
		Expected: int64(initial) - sold,
		Oversold: final < 0 || sold > int64(initial),
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
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
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// buildBasket детерминированно раскладывает корзину по индексу сценария,
// чтобы корзины пересекались по товарам.
func buildBasket(cfg config, index int) []*storefrontv1.BasketLine {
	n := min(cfg.linesPerCart, cfg.items)
	lines := make([]*storefrontv1.BasketLine, 0, n)
	for l := 0; l < n; l++ {
		qty := (index+l)%cfg.maxQty + 1
		lines = append(lines, &storefrontv1.BasketLine{
			ItemId:   itemID(cfg, (index+l)%cfg.items),
			Quantity: json.Number(strconv.Itoa(qty)),
		})
	}
	return lines
}

// runScenario размещает одну корзину. Отказ по остатку — ожидаемый исход, а не ошибка.
func runScenario(
	client storefrontv1.StorefrontServiceClient,
	cfg config,
	index int,
	runID string,
	col *collector,
) error {
	scenarioStart := time.Now()
	scenarioCode := codes.OK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioCode)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx,
		storefrontv1.MetadataOwnerID, fmt.Sprintf("%s-%d", cfg.ownerTag, index%97),
		storefrontv1.MetadataIdempotencyKey, fmt.Sprintf("lt-%s-%d", runID, index),
	)

	start := time.Now()
	resp, err := client.PlaceOrder(ctx, &storefrontv1.PlaceOrderRequest{Lines: buildBasket(cfg, index)})
	code := grpcCode(err)
	col.record("PlaceOrder", time.Since(start), code)

	switch code {
	case codes.OK:
		if resp.GetOrder() == nil || resp.GetOrder().Id == "" {
			scenarioCode = codes.Internal
			return errors.New("place order returned empty order")
		}
		col.recordSale(resp.GetOrder().Lines)
		return nil
	case codes.FailedPrecondition:
		col.recordRejected()
		return nil
	default:
		scenarioCode = code
		return err
	}
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
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

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("run=%s total=%d success=%d rejected=%d failed=%d error_rate=%.4f\n",
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios-result.RejectedBaskets,
		result.RejectedBaskets,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := result.Methods[name]
		fmt.Printf("%s: calls=%d success=%d failed=%d p95=%.2fms codes=%v\n",
			name, m.Calls, m.Success, m.Failed, m.LatencyMs.P95, m.Codes)
	}

	for _, check := range result.StockChecks {
		fmt.Printf("%s: initial=%d sold=%d final=%d expected=%d oversold=%t\n",
			check.ItemID, check.Initial, check.Sold, check.Final, check.Expected, check.Oversold)
	}
	if result.Violations > 0 {
		fmt.Printf("STOCK VIOLATIONS: %d\n", result.Violations)
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
