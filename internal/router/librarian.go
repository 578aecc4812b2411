package router

import (
	"strconv"
	"strings"
)

type LibKind string

const (
	LibSave     LibKind = "save"
	LibList     LibKind = "list"
	LibSearch   LibKind = "search"
	LibCategory LibKind = "category"
	LibView     LibKind = "view"
	LibDelete   LibKind = "delete"
)

// LibRequest is the parsed form of a "<sub>:<rest>" librarian payload.
// Kind carries the raw word when it is not one of the known sub-actions.
type LibRequest struct {
	Kind  LibKind `json:"kind"`
	Query string  `json:"query,omitempty"`
	Page  int     `json:"page,omitempty"`
	Name  string  `json:"name,omitempty"`
	ID    string  `json:"id,omitempty"`
}

// ParseLibrarian decodes a librarian payload once so workers never re-parse strings.
func ParseLibrarian(payload string) LibRequest {
	sub, rest, _ := strings.Cut(payload, ":")
	kind := LibKind(strings.ToLower(strings.TrimSpace(sub)))
	rest = strings.TrimSpace(rest)

	switch kind {
	case LibList:
		page := 0
		if rest != "" && allDigits(rest) {
			page, _ = strconv.Atoi(rest)
		}
		return LibRequest{Kind: kind, Page: page}
	case LibSearch:
		query, page := splitPage(rest)
		return LibRequest{Kind: kind, Query: query, Page: page}
	case LibCategory:
		return LibRequest{Kind: kind, Name: rest}
	case LibView, LibDelete:
		return LibRequest{Kind: kind, ID: rest}
	default:
		return LibRequest{Kind: kind, Query: rest}
	}
}

// Payload re-encodes the request; used for pagination callback data.
func (r LibRequest) Payload() string {
	switch r.Kind {
	case LibList:
		return "list:" + strconv.Itoa(r.Page)
	case LibSearch:
		return "search:" + r.Query + ":" + strconv.Itoa(r.Page)
	case LibCategory:
		return "category:" + r.Name
	case LibView, LibDelete:
		return string(r.Kind) + ":" + r.ID
	default:
		return string(r.Kind) + ":" + r.Query
	}
}

// splitPage treats an all-digit segment after the last colon as a zero-based page.
func splitPage(s string) (string, int) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return s, 0
	}
	head, tail := s[:idx], s[idx+1:]
	if tail == "" || !allDigits(tail) {
		return s, 0
	}
	page, err := strconv.Atoi(tail)
	if err != nil {
		return s, 0
	}
	return strings.TrimSpace(head), page
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
