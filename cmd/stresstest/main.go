// Command stresstest hammers a running escrow API with concurrent
// confirmations and releases on a single escrow. It checks that the escrow
// reaches confirmed once every party has confirmed, and that exactly one of
// many simultaneous release calls succeeds.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yashasviy/escrow-payments-api/models"
)

const (
	// DefaultURL is the base URL of the API under test
	DefaultURL = "http://localhost:8000"

	// DefaultRecipients is the number of recipients sharing the escrow
	DefaultRecipients = 20

	// DefaultReleases is the number of concurrent release calls
	DefaultReleases = 50
)

// TestConfig holds the stress test configuration
type TestConfig struct {
	URL        string
	Recipients int
	Repeats    int
	Releases   int
}

// TestResults tracks the outcomes of all requests
type TestResults struct {
	ConfirmOK       int32
	ConfirmErrors   int32
	ReleaseOK       int32
	ReleaseRejected int32
	ReleaseErrors   int32
	FinalStatus     models.Status
	Duration        time.Duration
}

var (
	logger = zap.NewExample()
	client = &http.Client{Timeout: 10 * time.Second}
)

func main() {
	config := TestConfig{}
	flag.StringVar(&config.URL, "url", DefaultURL, "API base URL")
	flag.IntVar(&config.Recipients, "recipients", DefaultRecipients, "Number of recipients (must divide 100)")
	flag.IntVar(&config.Repeats, "repeats", 3, "How many times each party confirms")
	flag.IntVar(&config.Releases, "releases", DefaultReleases, "Number of concurrent release calls")
	flag.Parse()

	if config.Recipients <= 0 || 100%config.Recipients != 0 {
		fmt.Fprintln(os.Stderr, "recipients must be a positive divisor of 100")
		os.Exit(2)
	}

	fmt.Println("  ESCROW API - CONCURRENT CONFIRMATION STRESS TEST")
	fmt.Printf("Endpoint:       %s\n", config.URL)
	fmt.Printf("Recipients:     %d (each confirms %d times)\n", config.Recipients, config.Repeats)
	fmt.Printf("Releases:       %d concurrent calls\n", config.Releases)
	fmt.Println("---------------------------------------------------------------")

	results, err := runStressTest(config)
	if err != nil {
		logger.Fatal("stress test aborted", zap.Error(err))
	}
	if !printResults(results, config) {
		os.Exit(1)
	}
}

func runStressTest(config TestConfig) (TestResults, error) {
	var results TestResults
	start := time.Now()

	req := models.CreateEscrowRequest{
		Title:       "stress test",
		PayerEmail:  "payer@stress.test",
		TotalAmount: decimal.NewFromInt(1000),
		Currency:    "USDC",
		Chain:       "testnet",
		Recipients:  make([]models.Recipient, 0, config.Recipients),
	}
	share := decimal.NewFromInt(int64(100 / config.Recipients))
	for i := 0; i < config.Recipients; i++ {
		req.Recipients = append(req.Recipients, models.Recipient{
			Email:      fmt.Sprintf("r%d@stress.test", i),
			Percentage: share,
		})
	}

	var receipt models.Receipt
	if code, err := postJSON(config.URL+"/api/escrows", req, &receipt); err != nil {
		return results, err
	} else if code != http.StatusCreated {
		return results, fmt.Errorf("create escrow: unexpected status %d", code)
	}
	fmt.Printf("Created escrow %s\n", receipt.ID)

	actors := []string{req.PayerEmail}
	for _, r := range req.Recipients {
		actors = append(actors, r.Email)
	}

	var wg sync.WaitGroup
	fmt.Printf("\nLaunching %d concurrent confirmations...\n", len(actors)*config.Repeats)
	for i := 0; i < config.Repeats; i++ {
		for _, actor := range actors {
			wg.Add(1)
			go func(actor string) {
				defer wg.Done()
				code, err := postJSON(config.URL+"/api/escrows/"+receipt.ID+"/confirm", models.ConfirmRequest{Actor: actor}, nil)
				if err != nil || code != http.StatusOK {
					logger.Warn("confirm failed", zap.String("actor", actor), zap.Int("status", code), zap.Error(err))
					atomic.AddInt32(&results.ConfirmErrors, 1)
					return
				}
				atomic.AddInt32(&results.ConfirmOK, 1)
			}(actor)
		}
	}
	wg.Wait()

	fmt.Printf("Launching %d concurrent releases...\n", config.Releases)
	for i := 0; i < config.Releases; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := postJSON(config.URL+"/api/escrows/"+receipt.ID+"/release", nil, nil)
			switch {
			case err != nil:
				atomic.AddInt32(&results.ReleaseErrors, 1)
			case code == http.StatusOK:
				atomic.AddInt32(&results.ReleaseOK, 1)
			case code == http.StatusConflict:
				atomic.AddInt32(&results.ReleaseRejected, 1)
			default:
				logger.Warn("unexpected release status", zap.Int("status", code))
				atomic.AddInt32(&results.ReleaseErrors, 1)
			}
		}()
	}
	wg.Wait()

	resp, err := client.Get(config.URL + "/api/escrows/" + receipt.ID)
	if err != nil {
		return results, err
	}
	defer resp.Body.Close()
	var final models.Escrow
	if err := json.NewDecoder(resp.Body).Decode(&final); err != nil {
		return results, fmt.Errorf("decode escrow: %w", err)
	}
	results.FinalStatus = final.Status
	results.Duration = time.Since(start)
	return results, nil
}

// postJSON sends body (if any) and decodes the response into out (if any).
func postJSON(url string, body, out interface{}) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	resp, err := client.Post(url, "application/json", &buf)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// printResults displays the results and reports whether the run passed
func printResults(results TestResults, config TestConfig) bool {
	fmt.Println("                    TEST RESULTS")
	fmt.Printf("Duration:                     %v\n", results.Duration)
	fmt.Printf("[CONFIRM] Accepted:           %d\n", results.ConfirmOK)
	fmt.Printf("[CONFIRM] Errors:             %d\n", results.ConfirmErrors)
	fmt.Printf("[RELEASE] Succeeded:          %d\n", results.ReleaseOK)
	fmt.Printf("[RELEASE] Rejected (409):     %d\n", results.ReleaseRejected)
	fmt.Printf("[RELEASE] Errors:             %d\n", results.ReleaseErrors)
	fmt.Printf("Final status:                 %s\n", results.FinalStatus)

	passed := results.ConfirmErrors == 0 &&
		results.ReleaseOK == 1 &&
		results.ReleaseRejected == int32(config.Releases-1) &&
		results.FinalStatus == models.StatusReleased

	if passed {
		fmt.Println("TEST PASSED: confirmations serialized, funds released exactly once")
	} else {
		fmt.Println("TEST FAILED")
		if results.ReleaseOK > 1 {
			fmt.Printf("  * CRITICAL: escrow released %d times\n", results.ReleaseOK)
		}
		if results.ReleaseOK == 0 {
			fmt.Println("  * escrow never released; a confirmation transition was missed")
		}
	}
	return passed
}
