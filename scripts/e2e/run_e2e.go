// Package main runs E2E scenarios against a deployed intake service.
//
// Scenarios cover:
//   - Session start with page-aware greeting and starter questions
//   - Pain and age disclosure raising urgency and fit
//   - Booking suggestion once the visitor has engaged and asked to schedule
//   - Contact capture surfacing in the admin lead list
//   - Reset starting a fresh session
//   - Empty message rejection
//
// Usage:
//
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go [scenario-name]
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go              # runs all
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go contact-capture
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/movement-intake/internal/leads"
	"github.com/wolfman30/movement-intake/internal/session"
	"github.com/wolfman30/movement-intake/internal/webchat"
)

var (
	apiBase  string
	adminJWT string
	client   = &http.Client{Timeout: 45 * time.Second}
)

// ---------------------------------------------------------------------------
// Scenario definition
// ---------------------------------------------------------------------------

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
	name   string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...any) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func visitorID(name string) string {
	return fmt.Sprintf("e2e-%s-%d", name, time.Now().UnixNano())
}

func call(method, path string, body any, token string, out any) (int, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, apiBase+path, r)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 || out == nil {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return resp.StatusCode, nil
}

func start(visitor, page string) (webchat.SessionResponse, error) {
	var resp webchat.SessionResponse
	status, err := call(http.MethodPost, "/widget/sessions", map[string]string{
		"visitor_id": visitor,
		"page_path":  page,
		"referrer":   "e2e",
	}, "", &resp)
	if err == nil && status != http.StatusOK {
		err = fmt.Errorf("start session returned %d", status)
	}
	return resp, err
}

func send(visitor, text string) (webchat.MessageResponse, int, error) {
	var resp webchat.MessageResponse
	status, err := call(http.MethodPost, "/widget/sessions/"+visitor+"/messages", map[string]string{"text": text}, "", &resp)
	return resp, status, err
}

func generateJWT(secret string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "e2e",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	return token.SignedString([]byte(secret))
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

// 1. Greeting: a fresh visitor gets one assistant message and starter questions
func scenarioGreeting(t *T) {
	resp, err := start(visitorID("greeting"), "/programs/strength")
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("new conversation", !resp.Existing)
	t.check("one greeting message", len(resp.Session.Messages) == 1 &&
		resp.Session.Messages[0].Role == session.RoleAssistant)
	t.check("programs page detected", resp.Session.PageContext == string(session.PagePrograms))
	t.check("starter questions offered", len(resp.Session.SuggestedQuestions) > 0)
	t.check("listen phase", resp.Session.Phase == session.PhaseListen)
}

// 2. Pain and age raise urgency and fit
func scenarioPainAndAge(t *T) {
	visitor := visitorID("pain")
	if _, err := start(visitor, "/"); err != nil {
		t.fatalf("%v", err)
		return
	}
	resp, status, err := send(visitor, "I have chronic back pain and I'm 52")
	if err != nil || status != http.StatusOK {
		t.fatalf("send: status=%d err=%v", status, err)
		return
	}
	a := resp.Turn.Analysis
	t.check("pain detected", a.MentionedPain)
	t.check("age detected", a.MentionedAge)
	t.check("urgency scored", a.LeadScore.Urgency > 0)
	t.check("fit scored", a.LeadScore.Fit > 0)
	t.check("reply recorded", resp.Turn.Reply.Content != "")
	t.check("transcript grew by two", len(resp.Session.Messages) == 3)
}

// 3. Booking is suggested after three visitor messages with a scheduling ask
func scenarioBookingSuggestion(t *T) {
	visitor := visitorID("booking")
	if _, err := start(visitor, "/"); err != nil {
		t.fatalf("%v", err)
		return
	}
	texts := []string{"hi there", "my shoulder is stiff", "can I schedule an intro session?"}
	var last webchat.MessageResponse
	for i, text := range texts {
		resp, status, err := send(visitor, text)
		if err != nil || status != http.StatusOK {
			t.fatalf("send %d: status=%d err=%v", i+1, status, err)
			return
		}
		if i < 2 {
			t.check(fmt.Sprintf("no booking after %d messages", i+1), !resp.Turn.SuggestBooking)
		}
		last = resp
	}
	t.check("booking suggested", last.Turn.SuggestBooking)
	t.check("booking ask detected", last.Turn.Analysis.AskedAboutBooking)
}

// 4. Contact details in a message become a lead visible to admins
func scenarioContactCapture(t *T) {
	visitor := visitorID("contact")
	if _, err := start(visitor, "/contact"); err != nil {
		t.fatalf("%v", err)
		return
	}
	email := fmt.Sprintf("%s@e2e.example", visitor)
	if _, status, err := send(visitor, "My knee hurts after PT, reach me at "+email); err != nil || status != http.StatusOK {
		t.fatalf("send: status=%d err=%v", status, err)
		return
	}

	var list leads.ListLeadsResponse
	status, err := call(http.MethodGet, "/admin/leads?limit=100", nil, adminJWT, &list)
	if err != nil || status != http.StatusOK {
		t.fatalf("list leads: status=%d err=%v", status, err)
		return
	}
	var found *leads.Lead
	for _, l := range list.Leads {
		if l.Email == email {
			found = l
		}
	}
	t.check("lead captured", found != nil)
	if found != nil {
		t.check("lead scored", found.Score > 0)
		t.check("page context kept", found.PageContext == string(session.PageContact))
	}

	status, _ = call(http.MethodGet, "/admin/leads", nil, "", nil)
	t.check("admin requires token", status == http.StatusUnauthorized)
}

// 5. Reset discards the transcript under a new session id
func scenarioReset(t *T) {
	visitor := visitorID("reset")
	first, err := start(visitor, "/")
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	if _, status, err := send(visitor, "what does it cost?"); err != nil || status != http.StatusOK {
		t.fatalf("send: status=%d err=%v", status, err)
		return
	}

	var reset webchat.SessionResponse
	status, err := call(http.MethodDelete, "/widget/sessions/"+visitor, nil, "", &reset)
	if err != nil || status != http.StatusOK {
		t.fatalf("reset: status=%d err=%v", status, err)
		return
	}
	t.check("new session id", reset.Session.SessionID != first.Session.SessionID)
	t.check("only the greeting remains", len(reset.Session.Messages) <= 1)

	again, err := start(visitor, "/")
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("reload keeps the reset session", again.Session.SessionID == reset.Session.SessionID)
}

// 6. Blank input is refused without touching the transcript
func scenarioEmptyMessage(t *T) {
	visitor := visitorID("empty")
	if _, err := start(visitor, "/"); err != nil {
		t.fatalf("%v", err)
		return
	}
	_, status, err := send(visitor, "   ")
	t.check("blank message rejected", err == nil && status == http.StatusBadRequest)

	resp, err := start(visitor, "/")
	t.check("transcript unchanged", err == nil && len(resp.Session.Messages) == 1)
}

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if apiBase == "" || secret == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL and ADMIN_JWT_SECRET required")
		os.Exit(1)
	}
	var err error
	if adminJWT, err = generateJWT(secret); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: sign admin token: %v\n", err)
		os.Exit(1)
	}

	scenarios := []scenario{
		{"greeting", scenarioGreeting},
		{"pain-and-age", scenarioPainAndAge},
		{"booking-suggestion", scenarioBookingSuggestion},
		{"contact-capture", scenarioContactCapture},
		{"reset", scenarioReset},
		{"empty-message", scenarioEmptyMessage},
	}

	// Filter by name if argument provided
	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed := 0
	totalFailed := 0
	scenarioResults := make([]string, 0)

	for _, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}

		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		t := &T{name: s.Name}
		s.Fn(t)

		totalPassed += t.passed
		totalFailed += t.failed

		status := "PASS"
		if t.failed > 0 {
			status = "FAIL"
		}
		scenarioResults = append(scenarioResults, fmt.Sprintf("  %s %s (%d passed, %d failed)", status, s.Name, t.passed, t.failed))
	}

	fmt.Printf("\n========================================\n")
	fmt.Println("SUMMARY")
	fmt.Printf("========================================\n")
	for _, r := range scenarioResults {
		fmt.Println(r)
	}
	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)

	if totalFailed > 0 {
		fmt.Println("\nSOME TESTS FAILED")
		os.Exit(1)
	}
	fmt.Println("\nALL TESTS PASSED")
}
