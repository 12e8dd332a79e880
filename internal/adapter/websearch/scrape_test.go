package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExtractText(t *testing.T) {
	html := `<html><head><title>ignored</title><style>p{color:red}</style></head>
	<body><h1>Heading</h1><p>First &amp; second.</p>
	<script>var x = "hidden";</script>
	<div>Tail&nbsp;text</div></body></html>`

	got := extractText(html)

	for _, want := range []string{"Heading", "First & second.", "Tail text"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
	for _, absent := range []string{"ignored", "hidden", "color:red"} {
		if strings.Contains(got, absent) {
			t.Errorf("did not expect %q in %q", absent, got)
		}
	}
}

func TestExtractText_AttributeValuesStayHidden(t *testing.T) {
	// A ">" inside a quoted attribute value must not end the tag early.
	got := extractText(`<p data-note="a>b">hi</p>`)
	if got != "hi" {
		t.Errorf("expected %q, got %q", "hi", got)
	}
}

func TestExtractText_DecodesNumericEntities(t *testing.T) {
	got := extractText("<p>it&#8217;s &amp; more</p>")
	if got != "it’s & more" {
		t.Errorf("got %q", got)
	}
}

func TestExtractText_CollapsesWhitespace(t *testing.T) {
	got := extractText("<p>a</p>\n\n\t  <p>b</p>")
	if got != "a b" {
		t.Errorf("expected %q, got %q", "a b", got)
	}
}

func TestFetch_RejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	s := newScraper(5 * time.Second)
	if _, err := s.fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for non-HTML content type")
	}
}

func TestFetch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	s := newScraper(5 * time.Second)
	if _, err := s.fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 410 status")
	}
}

func TestFetch_ExtractsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body><p>hello world</p></body></html>"))
	}))
	defer srv.Close()

	s := newScraper(5 * time.Second)
	got, err := s.fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "hello world") {
		t.Errorf("expected extracted text, got %q", got)
	}
}
