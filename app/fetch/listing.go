package fetch

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/capradar/capradar/app/database"
)

// Candidate is one (url, title) pair pulled from a source listing.
type Candidate struct {
	URL   string
	Title string
}

// Lister pulls discovery candidates from a source.
type Lister interface {
	FetchListing(ctx context.Context, src database.Source) ([]Candidate, error)
}

// Listers routes a source to the lister for its type.
type Listers struct {
	feed   *FeedLister
	scrape *ScrapeLister
	list   *CuratedLister
}

func NewListers(client *Client) *Listers {
	return &Listers{
		feed:   NewFeedLister(client),
		scrape: NewScrapeLister(client),
		list:   &CuratedLister{},
	}
}

func (l *Listers) FetchListing(ctx context.Context, src database.Source) ([]Candidate, error) {
	switch src.Type {
	case database.SourceTypeFeed:
		return l.feed.FetchListing(ctx, src)
	case database.SourceTypeScrape:
		return l.scrape.FetchListing(ctx, src)
	case database.SourceTypeList:
		return l.list.FetchListing(ctx, src)
	default:
		return nil, fmt.Errorf("unknown source type %q", src.Type)
	}
}

// FeedLister reads RSS/Atom listings.
type FeedLister struct {
	client       *Client
	gofeedParser *gofeed.Parser
}

func NewFeedLister(client *Client) *FeedLister {
	return &FeedLister{
		client:       client,
		gofeedParser: gofeed.NewParser(),
	}
}

func (l *FeedLister) FetchListing(ctx context.Context, src database.Source) ([]Candidate, error) {
	data, err := l.client.Get(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	feed, err := l.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	candidates := make([]Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := cmp.Or(item.Link, item.GUID)
		if link == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			URL:   resolveURL(src.URL, link),
			Title: strings.TrimSpace(item.Title),
		})
	}

	return candidates, nil
}

// ScrapeLister reads HTML listings using the source's CSS selectors.
type ScrapeLister struct {
	client *Client
}

func NewScrapeLister(client *Client) *ScrapeLister {
	return &ScrapeLister{client: client}
}

func (l *ScrapeLister) FetchListing(ctx context.Context, src database.Source) ([]Candidate, error) {
	data, err := l.client.Get(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML listing: %w", err)
	}

	conf := src.QueryConfig
	var candidates []Candidate

	scope := doc.Selection
	if conf.ItemSelector != "" {
		scope = doc.Find(conf.ItemSelector)
	}

	scope.Find(conf.LinkSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}

		title := strings.TrimSpace(sel.Text())
		if conf.TitleSelector != "" {
			if t := strings.TrimSpace(sel.Find(conf.TitleSelector).First().Text()); t != "" {
				title = t
			}
		}

		candidates = append(candidates, Candidate{
			URL:   resolveURL(src.URL, href),
			Title: title,
		})
	})

	return candidates, nil
}

// CuratedLister returns the source's configured URL list.
type CuratedLister struct{}

func (l *CuratedLister) FetchListing(ctx context.Context, src database.Source) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(src.QueryConfig.URLs))
	for _, u := range src.QueryConfig.URLs {
		candidates = append(candidates, Candidate{URL: u})
	}
	return candidates, nil
}

func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
