package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	targetURL    string
	concurrency  int
	transactions int
	deliveries   int
	failRatio    float64
)

var (
	totalRequests uint64
	success200    uint64
	fail4xx       uint64
	fail5xx       uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:5000", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.IntVar(&transactions, "transactions", 200, "Distinct checkout ids to settle")
	flag.IntVar(&deliveries, "deliveries", 3, "Callback deliveries per checkout id")
	flag.Float64Var(&failRatio, "fail-ratio", 0.2, "Share of checkout ids settled as failed")
}

type job struct {
	checkoutID string
	resultCode int
}

type transaction struct {
	ID                string `json:"id"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	Status            string `json:"status"`
}

// Every checkout id is delivered several times by competing workers. A
// ledger that serializes its read-modify-write ends with exactly one record
// per id, each with the status its callbacks carried.
func main() {
	flag.Parse()
	runID := time.Now().UnixNano()
	log.Printf("Starting Benchmark: %d ids x %d deliveries | Workers: %d", transactions, deliveries, concurrency)

	expected := make(map[string]string, transactions)
	jobs := make([]job, 0, transactions*deliveries)
	for i := 0; i < transactions; i++ {
		id := fmt.Sprintf("ws_bench_%d_%d", runID, i)
		code, status := 0, "COMPLETED"
		if rand.Float64() < failRatio {
			code, status = 1032, "FAILED"
		}
		expected[id] = status
		for d := 0; d < deliveries; d++ {
			jobs = append(jobs, job{checkoutID: id, resultCode: code})
		}
	}
	rand.Shuffle(len(jobs), func(i, j int) { jobs[i], jobs[j] = jobs[j], jobs[i] })

	queue := make(chan job)
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, queue)
	}
	for _, j := range jobs {
		queue <- j
	}
	close(queue)
	wg.Wait()
	elapsed := time.Since(start)

	missing, duplicated, wrongStatus := verify(expected)
	printResults(elapsed, missing, duplicated, wrongStatus)
	if missing+duplicated+wrongStatus > 0 {
		os.Exit(1)
	}
}

func worker(wg *sync.WaitGroup, queue <-chan job) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for j := range queue {
		payload := map[string]interface{}{
			"checkoutRequestID": j.checkoutID,
			"amount":            100,
			"phoneNumber":       "254712345678",
			"resultCode":        j.resultCode,
		}
		body, _ := json.Marshal(payload)

		resp, err := client.Post(targetURL+"/api/simulate-callback", "application/json", bytes.NewBuffer(body))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode == http.StatusOK:
			atomic.AddUint64(&success200, 1)
		case resp.StatusCode >= 500:
			atomic.AddUint64(&fail5xx, 1)
		case resp.StatusCode >= 400:
			atomic.AddUint64(&fail4xx, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// verify reads the ledger back and compares it with the expected outcome
// of every checkout id this run produced.
func verify(expected map[string]string) (missing, duplicated, wrongStatus int) {
	resp, err := http.Get(targetURL + "/api/transactions")
	if err != nil {
		log.Fatalf("Reading ledger failed: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Success bool          `json:"success"`
		Data    []transaction `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("Decoding ledger failed: %v", err)
	}

	seen := make(map[string]int, len(expected))
	for _, tx := range out.Data {
		want, ok := expected[tx.CheckoutRequestID]
		if !ok {
			continue
		}
		seen[tx.CheckoutRequestID]++
		if tx.Status != want {
			wrongStatus++
		}
	}
	for id := range expected {
		switch n := seen[id]; {
		case n == 0:
			missing++
		case n > 1:
			duplicated += n - 1
		}
	}
	return missing, duplicated, wrongStatus
}

func printResults(d time.Duration, missing, duplicated, wrongStatus int) {
	total := atomic.LoadUint64(&totalRequests)

	results := map[string]interface{}{
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_rps":    float64(total) / d.Seconds(),
		"success":           atomic.LoadUint64(&success200),
		"client_errors":     atomic.LoadUint64(&fail4xx),
		"server_errors":     atomic.LoadUint64(&fail5xx),
		"transport_errors":  atomic.LoadUint64(&failOther),
		"missing_records":   missing,
		"duplicate_records": duplicated,
		"wrong_status":      wrongStatus,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	file, err := os.Create("results_callbacks.json")
	if err != nil {
		log.Printf("Saving results failed: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
