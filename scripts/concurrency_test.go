//go:build ignore
// +build ignore

// Manual concurrency stress test for the copy state machine.
//
// Usage:
//
//	go run ./scripts/concurrency_test.go <label_number> <user1_id> [user2_id ...]
//
// Or with environment variables:
//
//	COPY_LABEL=<label> USER_IDS=<uuid1>,<uuid2>,... go run ./scripts/concurrency_test.go
//
// What it does:
//  1. Fires N goroutines (one per user) all attempting to approve a loan on
//     the same copy simultaneously.
//  2. Tallies how many won the copy vs. were turned away with a 409.
//
// Because a copy has exactly one holder, a correct run ends with exactly one
// 200 and N-1 conflict responses, no matter how the requests interleave.
//
// Prerequisites:
//   - A running server (SERVER_ADDR, default http://localhost:8080).
//   - One AVAILABLE copy and N users already in the store.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultServerAddr = "http://localhost:8080"

type approveResult struct {
	UserID     string
	StatusCode int
	Body       string
	Err        error
}

func main() {
	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}

	label := os.Getenv("COPY_LABEL")
	var userIDs []string
	if env := os.Getenv("USER_IDS"); env != "" {
		userIDs = strings.Split(env, ",")
	}

	args := os.Args[1:]
	if len(args) >= 1 {
		label = args[0]
	}
	if len(args) >= 2 {
		userIDs = args[1:]
	}

	if label == "" {
		log.Fatal("Usage: COPY_LABEL=<label> USER_IDS=<u1,u2,...> go run ./scripts/concurrency_test.go\n" +
			"  or: go run ./scripts/concurrency_test.go <label_number> <user1_id> [user2_id ...]")
	}
	if len(userIDs) == 0 {
		log.Fatal("At least one user ID must be provided via USER_IDS env or positional args")
	}

	fmt.Printf("=== Copy Approval Concurrency Test ===\n")
	fmt.Printf("Server : %s\n", serverAddr)
	fmt.Printf("Copy   : %s\n", label)
	fmt.Printf("Users  : %d\n\n", len(userIDs))

	results := make([]approveResult, len(userIDs))
	var wg sync.WaitGroup

	// Barrier so every request leaves in the same instant.
	start := make(chan struct{})

	for i, uid := range userIDs {
		wg.Add(1)
		go func(idx int, userID string) {
			defer wg.Done()
			<-start
			results[idx] = attemptApprove(serverAddr, label, strings.TrimSpace(userID))
		}(i, uid)
	}

	fmt.Println("Firing all requests simultaneously...")
	close(start)

	wg.Wait()
	fmt.Println("All requests completed.")
	fmt.Println()

	var won, turnedAway, failures int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failures++
			fmt.Printf("  [ERR ] user=%-38s err=%v\n", r.UserID, r.Err)
		case r.StatusCode == http.StatusOK:
			won++
			fmt.Printf("  [RENT] user=%-38s status=%d\n", r.UserID, r.StatusCode)
		case r.StatusCode == http.StatusConflict:
			turnedAway++
			fmt.Printf("  [BUSY] user=%-38s status=%d %s\n", r.UserID, r.StatusCode, r.Body)
		default:
			failures++
			fmt.Printf("  [FAIL] user=%-38s status=%d unexpected response\n", r.UserID, r.StatusCode)
		}
	}

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Won the copy : %d\n", won)
	fmt.Printf("Turned away  : %d\n", turnedAway)
	fmt.Printf("Failures     : %d\n", failures)
	fmt.Printf("Total        : %d\n\n", len(userIDs))

	fmt.Println("--- Invariant Check ---")
	fmt.Println("A copy has exactly one holder: the conditional status write lets at most")
	fmt.Println("one approval through, every other request sees a 409.")
	if won == 1 && failures == 0 {
		fmt.Println("PASS: exactly one approval went through.")
		return
	}
	fmt.Printf("FAIL: expected exactly 1 winner and 0 failures, got %d winner(s) and %d failure(s).\n", won, failures)
	os.Exit(1)
}

// attemptApprove sends POST /copies/{label}/approve for the given user and
// captures the status plus response body.
func attemptApprove(serverAddr, label, userID string) approveResult {
	url := fmt.Sprintf("%s/copies/%s/approve", serverAddr, label)
	body := fmt.Sprintf(`{"user_id":%q}`, userID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		return approveResult{UserID: userID, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return approveResult{UserID: userID, StatusCode: resp.StatusCode, Err: fmt.Errorf("bad JSON: %s", raw)}
	}

	return approveResult{
		UserID:     userID,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(raw)),
	}
}
