package nodescan

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// SolscanAPI is the subset of Solscan used by the fetchers.
type SolscanAPI interface {
	Profile(ctx context.Context, votePubkey string) (*SolscanProfile, error)
	TotalStake(ctx context.Context, votePubkey string) (float64, error)
}

// SolscanProfile holds the metadata scraped from a validator page.
type SolscanProfile struct {
	Name    string
	Logo    string
	Website string
}

func (p *SolscanProfile) empty() bool {
	return p == nil || (p.Name == "" && p.Logo == "" && p.Website == "")
}

// SolscanClient scrapes validator pages and reads the stake endpoint.
type SolscanClient struct {
	rest *restClient
}

// NewSolscanClient builds a Solscan client rooted at baseURL.
func NewSolscanClient(baseURL string, cfg SourcesConfig, transport http.RoundTripper, log *zap.Logger) *SolscanClient {
	return &SolscanClient{rest: newRESTClient(SourceSolscan, baseURL, cfg, transport, log)}
}

// Profile fetches the validator page and extracts name, logo and website.
func (c *SolscanClient) Profile(ctx context.Context, votePubkey string) (*SolscanProfile, error) {
	body, err := c.rest.get(ctx, "/validator/"+url.PathEscape(votePubkey), "text/html", c.rest.maxHTML)
	if err != nil {
		return nil, err
	}
	profile := parseSolscanProfile(body)
	if profile.empty() {
		return nil, ErrNoData
	}
	return profile, nil
}

// TotalStake returns the activated stake reported by Solscan, in SOL.
func (c *SolscanClient) TotalStake(ctx context.Context, votePubkey string) (float64, error) {
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			ActivatedStake flexUint64 `json:"activatedStake"`
		} `json:"data"`
	}
	if err := c.rest.getJSON(ctx, "/api/validator/"+url.PathEscape(votePubkey)+"/stake", &resp); err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, ErrNoData
	}
	return lamportsToSOL(uint64(resp.Data.ActivatedStake)), nil
}

var (
	solscanTitleSuffix = regexp.MustCompile(`\s*[|\-]\s*Solscan.*$`)
	solscanNamePattern = regexp.MustCompile(`"(?:validatorName|name)"\s*:\s*"([^"]+)"`)
	solscanLogoPattern = regexp.MustCompile(`"(?:avatar|icon|image)"\s*:\s*"(https?://[^"]+)"`)
	solscanSitePattern = regexp.MustCompile(`"website"\s*:\s*"(https?://[^"]+)"`)
)

// parseSolscanProfile reads og/twitter meta tags and falls back to matching
// the JSON embedded in the page.
func parseSolscanProfile(body []byte) *SolscanProfile {
	profile := &SolscanProfile{}
	if doc, err := html.Parse(bytes.NewReader(body)); err == nil {
		walkMeta(doc, func(key, content string) {
			switch key {
			case "og:title", "twitter:title":
				if profile.Name == "" {
					profile.Name = cleanSolscanTitle(content)
				}
			case "og:image", "twitter:image":
				if profile.Logo == "" {
					profile.Logo = content
				}
			case "og:see_also", "validator:website":
				if profile.Website == "" {
					profile.Website = content
				}
			}
		})
	}

	raw := string(body)
	if profile.Name == "" {
		profile.Name = firstSubmatch(solscanNamePattern, raw)
	}
	if profile.Logo == "" {
		profile.Logo = firstSubmatch(solscanLogoPattern, raw)
	}
	if profile.Website == "" {
		profile.Website = firstSubmatch(solscanSitePattern, raw)
	}
	return profile
}

func walkMeta(n *html.Node, visit func(key, content string)) {
	if n.Type == html.ElementNode && n.Data == "meta" {
		var key, content string
		for _, attr := range n.Attr {
			switch attr.Key {
			case "property", "name":
				key = strings.ToLower(strings.TrimSpace(attr.Val))
			case "content":
				content = strings.TrimSpace(attr.Val)
			}
		}
		if key != "" && content != "" {
			visit(key, content)
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walkMeta(child, visit)
	}
}

func cleanSolscanTitle(title string) string {
	title = strings.TrimSpace(solscanTitleSuffix.ReplaceAllString(title, ""))
	// generic page titles carry no validator name
	if strings.EqualFold(title, "validator") || strings.HasPrefix(strings.ToLower(title), "validator ") {
		return ""
	}
	return title
}

func firstSubmatch(re *regexp.Regexp, s string) string {
	match := re.FindStringSubmatch(s)
	if len(match) < 2 {
		return ""
	}
	return strings.TrimSpace(match[1])
}
