// ABOUTME: Responder CLI for the firstaid-gateway assistance queue
// ABOUTME: Lists, claims and closes requests and chats over the HTTP API

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const banner = `
  __ _          _        _     _                 _           _
 / _(_)_ __ ___| |_ __ _(_) __| |       __ _  __| |_ __ ___ (_)_ __
| |_| | '__/ __| __/ _' | |/ _' |_____ / _' |/ _' | '_ ' _ \| | '_ \
|  _| | |  \__ \ || (_| | | (_| |_____| (_| | (_| | | | | | | | | | |
|_| |_|_|  |___/\__\__,_|_|\__,_|      \__,_|\__,_|_| |_| |_|_|_| |_|
`

// requestView mirrors the gateway's request JSON.
type requestView struct {
	ID          string `json:"id"`
	RequesterID string `json:"requester_id"`
	AdminID     string `json:"admin_id,omitempty"`
	Status      string `json:"status"`
	Category    string `json:"category,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// messageView mirrors the gateway's message JSON.
type messageView struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Body       string `json:"body"`
	CreatedAt  string `json:"created_at"`
}

// messagePageView mirrors GET /api/messages responses.
type messagePageView struct {
	Messages   []messageView `json:"messages"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// conflictView mirrors 409 bodies carrying the current request state.
type conflictView struct {
	Error   string       `json:"error"`
	Current *requestView `json:"current,omitempty"`
}

// errorView mirrors plain JSON error bodies.
type errorView struct {
	Error string `json:"error"`
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: loading .env: %v\n", err)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := getBaseURL()
	token := getToken()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(baseURL, token)
	case "open":
		err = cmdOpen(baseURL, token, args)
	case "requests":
		err = cmdRequests(baseURL, token, args)
	case "claim":
		err = cmdClaim(baseURL, token, args)
	case "close":
		err = cmdClose(baseURL, token, args)
	case "chat":
		err = cmdChat(baseURL, token, args)
	case "watch":
		err = cmdWatch(baseURL, token)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: firstaid-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                  Show gateway health")
	fmt.Println("  open [--category C]     List open assistance requests")
	fmt.Println("  requests [--status S]   List requests by status (open/accepted/closed)")
	fmt.Println("  claim <request-id>      Claim an open request")
	fmt.Println("  close <request-id>      Close a request you participate in")
	fmt.Println("  chat <user-id> [msg]    Chat with a requester (REPL if no message)")
	fmt.Println("  watch                   Stream the open queue as it changes")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  FIRSTAID_GATEWAY_URL     Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  FIRSTAID_TOKEN           JWT authentication token (required)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export FIRSTAID_TOKEN=\"eyJhbG...\"")
	fmt.Println("  firstaid-admin open --category doctor")
	fmt.Println("  firstaid-admin claim 3f2a...")
	fmt.Println("  firstaid-admin chat alice 'An ambulance is on its way'")
	fmt.Println()
}

// getBaseURL returns the gateway base URL from the environment.
func getBaseURL() string {
	if url := os.Getenv("FIRSTAID_GATEWAY_URL"); url != "" {
		return strings.TrimRight(url, "/")
	}
	if host := os.Getenv("FIRSTAID_GATEWAY_HOST"); host != "" {
		return "http://" + host
	}
	return "http://localhost:8080"
}

// getToken returns the JWT token from FIRSTAID_TOKEN or ~/.config/firstaid/token.
func getToken() string {
	if token := os.Getenv("FIRSTAID_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "firstaid", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// doRequest performs an authenticated HTTP request and returns the response.
func doRequest(baseURL, token, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", baseURL, err)
	}
	return resp, nil
}

// decodeOrError decodes a 2xx body into out, or turns an error body into an error.
func decodeOrError(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var apiErr errorView
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

// cmdStatus checks gateway reachability and readiness.
func cmdStatus(baseURL, token string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	resp, err := doRequest(baseURL, token, http.MethodGet, "/health", nil)
	if err != nil {
		yellow.Printf("  Gateway:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}
	resp.Body.Close()

	green.Printf("  Gateway:  ")
	fmt.Printf("connected to %s\n", baseURL)

	resp, err = doRequest(baseURL, token, http.MethodGet, "/health/ready", nil)
	if err == nil {
		green.Printf("  Ready:    ")
		if resp.StatusCode == http.StatusOK {
			fmt.Println("yes")
		} else {
			fmt.Printf("no (status %d)\n", resp.StatusCode)
		}
		resp.Body.Close()
	}

	if token == "" {
		yellow.Printf("  Identity: ")
		fmt.Println("(no token - set FIRSTAID_TOKEN)")
	}

	fmt.Println()
	return nil
}

// cmdOpen lists the open queue, optionally filtered by category.
func cmdOpen(baseURL, token string, args []string) error {
	var category string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--category", "-c":
			if i+1 < len(args) {
				category = args[i+1]
				i++
			}
		}
	}

	path := "/api/requests?status=open"
	if category != "" {
		path += "&category=" + category
	}
	return listRequests(baseURL, token, path, "Open Requests")
}

// cmdRequests lists requests filtered by status and category.
func cmdRequests(baseURL, token string, args []string) error {
	status := "open"
	var category string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--status", "-s":
			if i+1 < len(args) {
				status = args[i+1]
				i++
			}
		case "--category", "-c":
			if i+1 < len(args) {
				category = args[i+1]
				i++
			}
		}
	}

	path := "/api/requests?status=" + status
	if category != "" {
		path += "&category=" + category
	}
	return listRequests(baseURL, token, path, "Requests ("+status+")")
}

func listRequests(baseURL, token, path, title string) error {
	if token == "" {
		return fmt.Errorf("FIRSTAID_TOKEN environment variable is required")
	}

	resp, err := doRequest(baseURL, token, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	var requests []requestView
	if err := decodeOrError(resp, &requests); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  " + title)
	cyan.Println("  " + strings.Repeat("-", len(title)))

	if len(requests) == 0 {
		fmt.Println("  (no requests)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tREQUESTER\tCATEGORY\tSTATUS\tRESPONDER\tCREATED")
	fmt.Fprintln(w, "  --\t---------\t--------\t------\t---------\t-------")

	for _, req := range requests {
		id := truncate(req.ID, 12)
		requester := truncate(req.RequesterID, 20)
		responder := truncate(req.AdminID, 20)
		if responder == "" {
			responder = "-"
		}
		created := req.CreatedAt
		if t, err := time.Parse(time.RFC3339Nano, req.CreatedAt); err == nil {
			created = t.Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n", id, requester, req.Category, req.Status, responder, created)
	}
	w.Flush()
	fmt.Println()

	return nil
}

// cmdClaim claims an open request. A lost race prints the winner from the
// conflict body.
func cmdClaim(baseURL, token string, args []string) error {
	if token == "" {
		return fmt.Errorf("FIRSTAID_TOKEN environment variable is required")
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: claim <request-id>")
	}

	requestID := args[0]

	resp, err := doRequest(baseURL, token, http.MethodPost, "/api/requests/"+requestID+"/claim", nil)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusConflict {
		defer resp.Body.Close()
		var conflict conflictView
		if err := json.NewDecoder(resp.Body).Decode(&conflict); err == nil && conflict.Current != nil {
			yellow := color.New(color.FgYellow)
			yellow.Printf("✗ Request already taken by %s (status: %s)\n", conflict.Current.AdminID, conflict.Current.Status)
			return nil
		}
		return fmt.Errorf("request already assigned")
	}

	var req requestView
	if err := decodeOrError(resp, &req); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Claimed request: %s\n", req.ID)
	fmt.Printf("  Requester: %s\n", req.RequesterID)
	fmt.Printf("  Category:  %s\n", req.Category)
	fmt.Println()
	fmt.Printf("  Start chatting:  firstaid-admin chat %s\n", req.RequesterID)

	return nil
}

// cmdClose closes a request the caller participates in.
func cmdClose(baseURL, token string, args []string) error {
	if token == "" {
		return fmt.Errorf("FIRSTAID_TOKEN environment variable is required")
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: close <request-id>")
	}

	requestID := args[0]

	resp, err := doRequest(baseURL, token, http.MethodPost, "/api/requests/"+requestID+"/close", nil)
	if err != nil {
		return err
	}

	var req requestView
	if err := decodeOrError(resp, &req); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Closed request: %s\n", req.ID)

	return nil
}

// cmdChat provides one-shot or interactive chat with a user.
func cmdChat(baseURL, token string, args []string) error {
	if token == "" {
		return fmt.Errorf("FIRSTAID_TOKEN environment variable is required")
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: chat <user-id> [message]")
	}

	peerID := args[0]

	if len(args) >= 2 {
		message := strings.Join(args[1:], " ")
		return sendMessage(baseURL, token, peerID, message)
	}

	return chatREPL(baseURL, token, peerID)
}

// sendMessage posts a single message with a fresh dedup token.
func sendMessage(baseURL, token, peerID, message string) error {
	body := map[string]string{
		"receiver_id": peerID,
		"body":        message,
		"dedup_token": uuid.New().String(),
	}

	resp, err := doRequest(baseURL, token, http.MethodPost, "/api/messages", body)
	if err != nil {
		return err
	}

	var msg messageView
	if err := decodeOrError(resp, &msg); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Sent to %s\n", peerID)
	return nil
}

// chatREPL prints recent history then runs a read-eval-print loop.
func chatREPL(baseURL, token, peerID string) error {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	cyan.Printf("Chat with %s (Ctrl+D to exit)\n\n", peerID)

	// Show recent history, oldest first
	resp, err := doRequest(baseURL, token, http.MethodGet, "/api/messages?peer="+peerID+"&limit=20", nil)
	if err != nil {
		return err
	}
	var page messagePageView
	if err := decodeOrError(resp, &page); err != nil {
		return err
	}
	for i := len(page.Messages) - 1; i >= 0; i-- {
		msg := page.Messages[i]
		if msg.SenderID == peerID {
			cyan.Printf("%s: ", msg.SenderID)
		} else {
			gray.Printf("%s: ", msg.SenderID)
		}
		fmt.Println(msg.Body)
	}
	if len(page.Messages) > 0 {
		fmt.Println()
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 1024*1024) // 1MB max input
	for {
		green.Print("> ")
		if !scanner.Scan() {
			// EOF (Ctrl+D) or error
			fmt.Println()
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := sendMessage(baseURL, token, peerID, line); err != nil {
			fmt.Fprintf(os.Stderr, "Error sending: %v\n", err)
		}
	}
}

// cmdWatch streams the open queue over SSE and prints each change.
func cmdWatch(baseURL, token string) error {
	if token == "" {
		return fmt.Errorf("FIRSTAID_TOKEN environment variable is required")
	}

	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/events/open", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr errorView
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	cyan := color.New(color.FgCyan)
	cyan.Println("Watching the open queue (Ctrl+C to stop)...")
	fmt.Println()

	scanner := bufio.NewScanner(resp.Body)
	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			printWatchEvent(eventName, strings.TrimPrefix(line, "data: "))
		}
	}
	return scanner.Err()
}

// printWatchEvent renders a single SSE frame from the open queue stream.
func printWatchEvent(name, data string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	switch name {
	case "open_requests":
		var requests []requestView
		if err := json.Unmarshal([]byte(data), &requests); err != nil {
			return
		}
		gray.Printf("%d open request(s)\n", len(requests))
		for _, req := range requests {
			fmt.Printf("  %s  %s  %s\n", truncate(req.ID, 12), req.Category, req.RequesterID)
		}
	case "request":
		var event struct {
			Type    string       `json:"type"`
			Request *requestView `json:"request,omitempty"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil || event.Request == nil {
			return
		}
		req := event.Request
		switch req.Status {
		case "open":
			green.Printf("+ %s  %s  %s\n", truncate(req.ID, 12), req.Category, req.RequesterID)
		case "accepted":
			yellow.Printf("- %s  claimed by %s\n", truncate(req.ID, 12), req.AdminID)
		default:
			gray.Printf("- %s  %s\n", truncate(req.ID, 12), req.Status)
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
