package session

import (
	"errors"
	"strings"
	"time"
)

// ErrExpired is returned when a message is offered to a session past its expiry.
var ErrExpired = errors.New("session: expired")

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry. Messages are never mutated once appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PageContext is the site section the widget was opened on.
type PageContext string

const (
	PageHome     PageContext = "home"
	PageAbout    PageContext = "about"
	PagePrograms PageContext = "programs"
	PageContact  PageContext = "contact"
	PageServices PageContext = "services"
)

// Valid reports whether p is a known page context.
func (p PageContext) Valid() bool {
	switch p {
	case PageHome, PageAbout, PagePrograms, PageContact, PageServices:
		return true
	}
	return false
}

// DetectPageContext maps a site path to a page context. Program and service
// pages both count as programs; anything unknown is home.
func DetectPageContext(path string) PageContext {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "about"):
		return PageAbout
	case strings.Contains(p, "program"), strings.Contains(p, "service"):
		return PagePrograms
	case strings.Contains(p, "contact"):
		return PageContact
	default:
		return PageHome
	}
}

// Metadata describes where and how the conversation started.
type Metadata struct {
	PageContext PageContext `json:"pageContext"`
	Referrer    string      `json:"referrer,omitempty"`
	ClientInfo  string      `json:"clientInfo,omitempty"`
}

// merge fills blank fields of m from fallback.
func (m Metadata) merge(fallback Metadata) Metadata {
	if !m.PageContext.Valid() {
		m.PageContext = fallback.PageContext
	}
	if m.Referrer == "" {
		m.Referrer = fallback.Referrer
	}
	if m.ClientInfo == "" {
		m.ClientInfo = fallback.ClientInfo
	}
	if !m.PageContext.Valid() {
		m.PageContext = PageHome
	}
	return m
}

// Phase is the coarse conversation stage derived from message count.
type Phase int

const (
	PhaseListen  Phase = 1
	PhaseEducate Phase = 2
	PhaseAct     Phase = 3
)

func (p Phase) String() string {
	switch p {
	case PhaseListen:
		return "listen"
	case PhaseEducate:
		return "educate"
	case PhaseAct:
		return "act"
	default:
		return "unknown"
	}
}
