package integrations

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeready-toolchain/verihub/pkg/models"
)

const defaultUserAgent = "verihub-worker/1.0 (+company verification)"

// WebsiteClient fetches a company's homepage and extracts a small amount of
// structured signal (spec.md §4.2). It follows redirects and defaults to
// https:// when the stored domain carries no scheme.
type WebsiteClient struct {
	httpClient *http.Client
}

// NewWebsiteClient builds a client with a fixed user agent and a
// conservative transport; per-call timeout is enforced via context.
func NewWebsiteClient() *WebsiteClient {
	return &WebsiteClient{
		httpClient: &http.Client{
			// No per-request Timeout: the context deadline set in Lookup owns it.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
	}
}

// Lookup fetches domain's homepage within timeout and extracts title and
// meta description when the response is text/html.
func (c *WebsiteClient) Lookup(ctx context.Context, domain string, timeout time.Duration) models.StageResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := domain
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Failed(fmt.Sprintf("website: build request: %v", err))
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Failed(fmt.Sprintf("website: %v", err))
	}
	defer resp.Body.Close()

	statusCode := resp.StatusCode
	result := &models.WebsiteResult{
		Reachable:  resp.StatusCode >= 200 && resp.StatusCode < 400,
		StatusCode: &statusCode,
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err == nil {
		result.ContentLength = len(body)
	}

	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "text/html") && err == nil {
		if title, desc, parseErr := extractHTML(strings.NewReader(string(body))); parseErr == nil {
			result.Title = title
			result.Description = desc
		}
	}

	return models.StageResult{Status: models.IntegrationSuccess, Website: result}
}

func extractHTML(r io.Reader) (title *string, description *string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, nil, err
	}

	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		title = &t
	}

	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		desc = strings.TrimSpace(desc)
		if desc != "" {
			description = &desc
		}
	}

	return title, description, nil
}
