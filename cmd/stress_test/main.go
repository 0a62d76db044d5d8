package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Load generator for the no-oversell property: fires concurrent single-unit
// reservations at a running server and counts outcomes. With an item seeded
// at stock N and M > N requests, exactly N must succeed.
func main() {
	var (
		baseURL       = flag.String("url", "http://localhost:8080", "server base URL")
		productID     = flag.String("product", "stress-item", "product to reserve")
		businessID    = flag.String("business", "stress-biz", "business id")
		totalRequests = flag.Int("requests", 50, "number of concurrent reservations")
		expectSuccess = flag.Int("expect", 20, "expected number of successes (initial stock)")
	)
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	var successCount atomic.Int32
	var shortfallCount atomic.Int32
	var errorCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			body, _ := json.Marshal(map[string]any{
				"order_id":    fmt.Sprintf("stress-order-%d-%d", start.UnixNano(), n),
				"business_id": *businessID,
				"items": []map[string]any{
					{"product_id": *productID, "quantity": 1},
				},
			})

			resp, err := client.Post(*baseURL+"/api/orders/reserve", "application/json", bytes.NewReader(body))
			if err != nil {
				errorCount.Add(1)
				return
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusOK:
				successCount.Add(1)
			case http.StatusConflict:
				shortfallCount.Add(1)
			default:
				errorCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	shortfall := shortfallCount.Load()
	errs := errorCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Reserved:         %d\n", success)
	fmt.Printf("Shortfalls:       %d\n", shortfall)
	fmt.Printf("Errors:           %d\n", errs)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if errs > 0 {
		log.Fatalf("FAIL: %d requests errored", errs)
	}
	if int(success) == *expectSuccess {
		fmt.Printf("PASS: exactly %d reservations succeeded\n", *expectSuccess)
	} else {
		log.Fatalf("FAIL: expected %d successes, got %d", *expectSuccess, success)
	}
}
