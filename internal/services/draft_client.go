package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"stashd/internal/models"
)

// DraftClient derives metadata for capture payloads. With a backend URL
// configured it POSTs the payload to the drafting service; a connection
// failure or 5xx maps to a nil result so the enrichment loop pauses instead
// of burning through its queue. Without a backend URL it falls back to local
// heuristics, which never report unavailable.
//
// Results are memoized by payload hash: the same clipboard content observed
// twice costs one backend call.
type DraftClient struct {
	httpClient *http.Client
	baseURL    string
	memo       *gocache.Cache
	markdown   goldmark.Markdown
}

// NewDraftClient creates a drafter. baseURL may be empty to run on local
// heuristics only.
func NewDraftClient(baseURL string) *DraftClient {
	return &DraftClient{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		memo:       gocache.New(30*time.Minute, 10*time.Minute),
		markdown:   goldmark.New(),
	}
}

// Draft derives metadata for payload. A nil result with a nil error means
// the backend is unavailable right now.
func (d *DraftClient) Draft(ctx context.Context, payload string) (*models.DerivedMetadata, error) {
	key := memoKey(payload)
	if cached, ok := d.memo.Get(key); ok {
		meta := cached.(models.DerivedMetadata)
		return &meta, nil
	}

	var meta *models.DerivedMetadata
	if d.baseURL == "" {
		meta = d.localDraft(payload)
	} else {
		var err error
		meta, err = d.remoteDraft(ctx, payload)
		if err != nil {
			log.Printf("⚠️  [DRAFT] Backend unreachable: %v", err)
			return nil, nil
		}
	}

	if meta != nil {
		d.memo.Set(key, *meta, gocache.DefaultExpiration)
	}
	return meta, nil
}

func memoKey(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func (d *DraftClient) remoteDraft(ctx context.Context, payload string) (*models.DerivedMetadata, error) {
	body, err := json.Marshal(map[string]string{"payload": payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode draft request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.baseURL+"/draft", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read draft response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("draft backend returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// A 4xx means the payload itself is undraftable; fall back to the
		// local heuristics rather than pausing the loop.
		return d.localDraft(payload), nil
	}

	var meta models.DerivedMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode draft response: %w", err)
	}
	return &meta, nil
}

// localDraft classifies and names a payload without a backend. URLs get a
// website reference named after the host; markdown gets its first heading as
// the name; everything else is plain text named after its first line.
func (d *DraftClient) localDraft(payload string) *models.DerivedMetadata {
	trimmed := strings.TrimSpace(payload)

	if u, err := url.Parse(trimmed); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" && !strings.ContainsAny(trimmed, " \n") {
		return &models.DerivedMetadata{
			Classification: "text/url",
			Name:           u.Host,
			Websites:       []models.WebsiteRef{{URL: trimmed}},
			Tags:           []models.TagRef{{Text: "link"}},
		}
	}

	if heading := d.firstHeading(trimmed); heading != "" {
		return &models.DerivedMetadata{
			Classification: "text/markdown",
			Name:           heading,
			Tags:           []models.TagRef{{Text: "note"}},
		}
	}

	return &models.DerivedMetadata{
		Classification: "text/plain",
		Name:           firstLine(trimmed, 60),
	}
}

// firstHeading parses the payload as markdown and returns the text of the
// first heading node, if any.
func (d *DraftClient) firstHeading(payload string) string {
	source := []byte(payload)
	doc := d.markdown.Parser().Parse(text.NewReader(source))

	var heading string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			heading = strings.TrimSpace(string(h.Text(source)))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return heading
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = s[:max]
	}
	if s == "" {
		s = "untitled capture"
	}
	return s
}
