package webscrape

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func findElement(root *html.Node, tag string) *html.Node {
	for n := range root.Descendants() {
		if n.Type == html.ElementNode && n.Data == tag {
			return n
		}
	}
	return nil
}

// firstText returns the flattened text of the first descendant matching
// any of the given tags, in tag priority order.
func firstText(root *html.Node, tags ...string) string {
	for _, tag := range tags {
		if n := findElement(root, tag); n != nil {
			if text := innerText(n); text != "" {
				return text
			}
		}
	}
	return ""
}

func firstAttr(root *html.Node, tag, name string) string {
	if n := findElement(root, tag); n != nil {
		return attr(n, name)
	}
	return ""
}

func textByClass(root *html.Node, class string) string {
	for n := range root.Descendants() {
		if n.Type == html.ElementNode && hasClass(n, class) {
			return innerText(n)
		}
	}
	return ""
}

// innerText flattens a subtree to whitespace-normalized text, skipping
// script and style blocks.
func innerText(root *html.Node) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(parts, " ")
}

func absoluteLink(base, href string) string {
	if href == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}

var frenchMonths = map[string]time.Month{
	"janvier":   time.January,
	"février":   time.February,
	"fevrier":   time.February,
	"mars":      time.March,
	"avril":     time.April,
	"mai":       time.May,
	"juin":      time.June,
	"juillet":   time.July,
	"août":      time.August,
	"aout":      time.August,
	"septembre": time.September,
	"octobre":   time.October,
	"novembre":  time.November,
	"décembre":  time.December,
	"decembre":  time.December,
}

// parseFrenchDate accepts ISO dates, numeric French dates (12/05/2023)
// and spelled-out French dates (12 mai 2023). A zero time means the text
// carried no recognizable date.
func parseFrenchDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02", "02/01/2006", "02.01.2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	fields := strings.Fields(strings.ToLower(raw))
	if len(fields) == 3 {
		if month, ok := frenchMonths[fields[1]]; ok {
			day, errD := time.Parse("2", fields[0])
			year, errY := time.Parse("2006", fields[2])
			if errD == nil && errY == nil {
				return time.Date(year.Year(), month, day.Day(), 0, 0, 0, 0, time.UTC)
			}
		}
	}
	return time.Time{}
}
