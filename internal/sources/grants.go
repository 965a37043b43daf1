package sources

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/propbot/propbot/internal/storage"
)

// GrantsGov fetches grant opportunities from the grants.gov daily XML extract.
// The extract directory page links to dated ZIP archives; the adapter scrapes
// the page for the latest link, downloads the archive, and stream-parses the
// contained XML.
type GrantsGov struct {
	extractURL string
	client     *http.Client
	logger     *slog.Logger
}

// NewGrantsGov creates a grants.gov adapter. If client is nil a default with
// a generous download timeout is used.
func NewGrantsGov(extractURL string, client *http.Client) *GrantsGov {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &GrantsGov{
		extractURL: extractURL,
		client:     client,
		logger:     slog.Default().With("source", storage.SourceGrantsGov),
	}
}

func (g *GrantsGov) Name() string {
	return storage.SourceGrantsGov
}

// Fetch downloads and parses the latest XML extract, emitting one record per
// opportunity synopsis. Individual records that fail to decode are skipped.
func (g *GrantsGov) Fetch(ctx context.Context, emit func(RawRecord) error) error {
	zipURL, err := g.latestZipURL(ctx)
	if err != nil {
		return fmt.Errorf("finding latest extract: %w", err)
	}

	xmlPath, err := g.downloadAndExtract(ctx, zipURL)
	if err != nil {
		return fmt.Errorf("downloading extract: %w", err)
	}
	defer os.Remove(xmlPath)

	return g.parseXML(xmlPath, emit)
}

// latestZipURL scrapes the extract directory page for ZIP links and returns
// the lexicographically last one (filenames are dated, so last is newest).
func (g *GrantsGov) latestZipURL(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.extractURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extract directory returned status %d", resp.StatusCode)
	}

	links, err := zipLinks(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parsing extract directory page: %w", err)
	}
	if len(links) == 0 {
		return "", fmt.Errorf("no ZIP links found on extract directory page")
	}
	sort.Strings(links)

	latest := links[len(links)-1]
	resolved, err := resolveURL(g.extractURL, latest)
	if err != nil {
		return "", err
	}
	g.logger.Info("found latest extract", "url", resolved)
	return resolved, nil
}

// zipLinks walks an HTML document and collects hrefs ending in .zip.
func zipLinks(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && strings.HasSuffix(attr.Val, ".zip") {
					links = append(links, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// downloadAndExtract streams the ZIP to a temp file and extracts the first
// XML member to another temp file, returning its path. The caller removes it.
func (g *GrantsGov) downloadAndExtract(ctx context.Context, zipURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extract download returned status %d", resp.StatusCode)
	}

	tmpZip, err := os.CreateTemp("", "grants-extract-*.zip")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmpZip.Name())

	if _, err := io.Copy(tmpZip, resp.Body); err != nil {
		tmpZip.Close()
		return "", fmt.Errorf("saving ZIP: %w", err)
	}
	if err := tmpZip.Close(); err != nil {
		return "", err
	}

	zr, err := zip.OpenReader(tmpZip.Name())
	if err != nil {
		return "", fmt.Errorf("opening ZIP: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		src, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("opening ZIP member %s: %w", f.Name, err)
		}
		dst, err := os.CreateTemp("", "grants-extract-*.xml")
		if err != nil {
			src.Close()
			return "", fmt.Errorf("creating temp XML file: %w", err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			src.Close()
			dst.Close()
			os.Remove(dst.Name())
			return "", fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		src.Close()
		if err := dst.Close(); err != nil {
			os.Remove(dst.Name())
			return "", err
		}
		g.logger.Info("extracted XML", "member", f.Name)
		return dst.Name(), nil
	}
	return "", fmt.Errorf("no XML file found in ZIP")
}

// grantSynopsis mirrors the OpportunitySynopsisDetail_1_0 element of the
// grants.gov extract schema.
type grantSynopsis struct {
	OpportunityID                string   `xml:"OpportunityID"`
	OpportunityTitle             string   `xml:"OpportunityTitle"`
	Description                  string   `xml:"Description"`
	AgencyName                   string   `xml:"AgencyName"`
	CloseDate                    string   `xml:"CloseDate"` // MMDDYYYY
	EstimatedTotalProgramFunding string   `xml:"EstimatedTotalProgramFunding"`
	CFDANumbers                  []string `xml:"CFDANumber"`
	AdditionalInformationURL     string   `xml:"AdditionalInformationURL"`
}

// parseXML stream-decodes the extract so the full document is never held in
// memory. Decode failures on individual synopses are logged and skipped.
func (g *GrantsGov) parseXML(path string, emit func(RawRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening XML: %w", err)
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	count := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading XML token: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "OpportunitySynopsisDetail_1_0" {
			continue
		}

		var syn grantSynopsis
		if err := dec.DecodeElement(&syn, &start); err != nil {
			g.logger.Warn("skipping malformed synopsis", "error", err)
			continue
		}
		if strings.TrimSpace(syn.OpportunityID) == "" {
			g.logger.Warn("skipping synopsis with empty OpportunityID")
			continue
		}

		if err := emit(g.toRecord(syn)); err != nil {
			return err
		}
		count++
	}

	g.logger.Info("parsed extract", "records", count)
	return nil
}

func (g *GrantsGov) toRecord(syn grantSynopsis) RawRecord {
	id := strings.TrimSpace(syn.OpportunityID)

	recURL := strings.TrimSpace(syn.AdditionalInformationURL)
	if recURL == "" {
		recURL = "https://www.grants.gov/web/grants/view-opportunity.html?oppId=" + id
	}

	var funding *int64
	if raw := strings.TrimSpace(syn.EstimatedTotalProgramFunding); raw != "" {
		raw = strings.ReplaceAll(raw, ",", "")
		if i := strings.IndexByte(raw, '.'); i >= 0 {
			raw = raw[:i]
		}
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			funding = &v
		}
	}

	var cfda []string
	for _, c := range syn.CFDANumbers {
		if c = strings.TrimSpace(c); c != "" {
			cfda = append(cfda, c)
		}
	}

	return RawRecord{
		OpportunityID: id,
		Title:         strings.TrimSpace(syn.OpportunityTitle),
		Description:   strings.TrimSpace(syn.Description),
		Agency:        strings.TrimSpace(syn.AgencyName),
		Deadline:      strings.TrimSpace(syn.CloseDate),
		FundingAmount: funding,
		CFDANumbers:   cfda,
		URL:           recURL,
	}
}
