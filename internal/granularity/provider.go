package granularity

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Provider supplies the minute allow-list.
type Provider interface {
	StationCodes(ctx context.Context) ([]string, error)
}

// Static is a fixed allow-list.
type Static []string

// StationCodes returns a copy of the list.
func (s Static) StationCodes(context.Context) ([]string, error) {
	return slices.Clone([]string(s)), nil
}

// PageFetcher retrieves a page from the remote service.
type PageFetcher interface {
	Page(ctx context.Context, path string) ([]byte, error)
}

// Network status page defaults.
const (
	DefaultStatusPath   = "/ws/davis/estado_red_cmet.php"
	DefaultStatusPrefix = "cmet_"
)

// statusColumn is the zero-based cell holding the node id.
const statusColumn = 2

// NetworkStatus reads the allow-list from the network status page: the
// third cell of every table row, keeping node ids with Prefix and
// stripping it.
type NetworkStatus struct {
	Fetcher PageFetcher
	Path    string
	Prefix  string
}

// StationCodes fetches and parses the status page.
func (n NetworkStatus) StationCodes(ctx context.Context) ([]string, error) {
	path := n.Path
	if path == "" {
		path = DefaultStatusPath
	}
	prefix := n.Prefix
	if prefix == "" {
		prefix = DefaultStatusPrefix
	}

	page, err := n.Fetcher.Page(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("fetching network status: %w", err)
	}
	return ParseNetworkStatus(page, prefix)
}

// ParseNetworkStatus extracts station codes from a status page. Codes are
// returned in page order without duplicates.
func ParseNetworkStatus(page []byte, prefix string) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parsing network status: %w", err)
	}

	var (
		codes []string
		seen  = make(map[string]bool)
	)
	for row := range doc.Descendants() {
		if row.Type != html.ElementNode || row.DataAtom != atom.Tr {
			continue
		}
		cell := nthCell(row, statusColumn)
		if cell == nil {
			continue
		}
		text := strings.TrimSpace(textContent(cell))
		code, ok := strings.CutPrefix(text, prefix)
		if !ok || code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes, nil
}

// nthCell returns the n-th td child of a row.
func nthCell(row *html.Node, n int) *html.Node {
	i := 0
	for c := range row.ChildNodes() {
		if c.Type != html.ElementNode || c.DataAtom != atom.Td {
			continue
		}
		if i == n {
			return c
		}
		i++
	}
	return nil
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	for d := range n.Descendants() {
		if d.Type == html.TextNode {
			sb.WriteString(d.Data)
		}
	}
	return sb.String()
}
