// Package optimizer post-processes rendered HTML for crawler consumption.
// It strips scripts, styles and non-SEO attributes while preserving
// structured data, meta tags and the minimal icon/manifest set.
package optimizer

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Options enumerate the attribute removals. Zero value disables everything;
// use DefaultOptions for the standard set.
type Options struct {
	RemoveDataAttributes  bool
	RemoveAriaAttributes  bool
	RemoveStyleAttributes bool
	RemoveInlineStyles    bool
}

// DefaultOptions returns the options with every removal enabled.
func DefaultOptions() Options {
	return Options{
		RemoveDataAttributes:  true,
		RemoveAriaAttributes:  true,
		RemoveStyleAttributes: true,
		RemoveInlineStyles:    true,
	}
}

// Link rel values that only matter to a browser executing the page.
var removableLinkRels = map[string]bool{
	"preload":      true,
	"prefetch":     true,
	"dns-prefetch": true,
	"modulepreload": true,
	"preconnect":   true,
	"stylesheet":   true,
	"mask-icon":    true,
}

// Elements never pruned by the empty-element pass.
var keepWhenEmpty = map[string]bool{
	"script": true, "style": true, "meta": true, "link": true,
	"img": true, "br": true, "hr": true, "input": true,
	"source": true, "track": true, "area": true, "col": true,
	"embed": true, "param": true, "wbr": true,
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	spaceRun      = regexp.MustCompile(` {2,}`)
)

// Optimize transforms rendered HTML into its SEO-minimal form. The
// transformation is deterministic and idempotent. Any failure returns the
// input unchanged.
func Optimize(input string, opts Options) (out string) {
	out = input
	defer func() {
		if recover() != nil {
			out = input
		}
	}()

	root, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return input
	}

	removeScripts(root)
	removeLinkRels(root)
	if opts.RemoveInlineStyles {
		removeElements(root, "style")
	}
	dedupeLinks(root)
	removeMetaTags(root)
	removeAttrEverywhere(root, "data-testid")
	removeComments(root)
	removeElements(root, "noscript")
	removeHiddenElements(root)
	stripAttributes(root, opts)
	if body := findElement(root, "body"); body != nil {
		pruneEmptyElements(body)
	}
	collapseTextNodes(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return input
	}
	return collapseDocument(buf.String())
}

// removeScripts drops every <script> except JSON-LD structured data.
func removeScripts(root *html.Node) {
	for _, n := range collect(root, func(n *html.Node) bool {
		if !isElement(n, "script") {
			return false
		}
		return !strings.EqualFold(strings.TrimSpace(getAttr(n, "type")), "application/ld+json")
	}) {
		detach(n)
	}
}

func removeLinkRels(root *html.Node) {
	for _, n := range collect(root, func(n *html.Node) bool {
		return isElement(n, "link") && removableLinkRels[strings.ToLower(getAttr(n, "rel"))]
	}) {
		detach(n)
	}
}

// dedupeLinks keeps a single manifest, a single icon, and a single
// apple-touch-icon (preferring the 180x180 variant).
func dedupeLinks(root *html.Node) {
	var manifests, icons, touchIcons []*html.Node

	for _, n := range collect(root, func(n *html.Node) bool { return isElement(n, "link") }) {
		switch strings.ToLower(getAttr(n, "rel")) {
		case "manifest":
			manifests = append(manifests, n)
		case "icon":
			icons = append(icons, n)
		case "apple-touch-icon":
			touchIcons = append(touchIcons, n)
		}
	}

	keepFirst(manifests)
	keepFirst(icons)

	// Prefer the 180x180 touch icon when present
	preferred := -1
	for i, n := range touchIcons {
		if strings.Contains(getAttr(n, "sizes"), "180x180") {
			preferred = i
			break
		}
	}
	if preferred < 0 {
		keepFirst(touchIcons)
		return
	}
	for i, n := range touchIcons {
		if i != preferred {
			detach(n)
		}
	}
}

func keepFirst(nodes []*html.Node) {
	for i, n := range nodes {
		if i > 0 {
			detach(n)
		}
	}
}

func removeMetaTags(root *html.Node) {
	for _, n := range collect(root, func(n *html.Node) bool {
		if !isElement(n, "meta") {
			return false
		}
		name := strings.ToLower(getAttr(n, "name"))
		return strings.HasPrefix(name, "msapplication-") || name == "next-head-count"
	}) {
		detach(n)
	}
}

func removeComments(root *html.Node) {
	var comments []*html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.CommentNode {
			comments = append(comments, n)
		}
		return true
	})
	for _, n := range comments {
		detach(n)
	}
}

func removeElements(root *html.Node, tag string) {
	for _, n := range collect(root, func(n *html.Node) bool { return isElement(n, tag) }) {
		detach(n)
	}
}

// removeHiddenElements drops elements carrying the hidden attribute or an
// inline style that makes them invisible. The document skeleton is kept.
func removeHiddenElements(root *html.Node) {
	for _, n := range collect(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || isSkeleton(n) {
			return false
		}
		if hasAttr(n, "hidden") {
			return true
		}
		style := getAttr(n, "style")
		return strings.Contains(style, "display:none") ||
			strings.Contains(style, "display: none") ||
			strings.Contains(style, "visibility:hidden")
	}) {
		detach(n)
	}
}

// removeAttrEverywhere drops the named attribute from every element.
func removeAttrEverywhere(root *html.Node, name string) {
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		kept := n.Attr[:0]
		for _, attr := range n.Attr {
			if !strings.EqualFold(attr.Key, name) {
				kept = append(kept, attr)
			}
		}
		n.Attr = kept
		return true
	})
}

// stripAttributes removes data-, aria-, on-prefixed and style attributes
// according to options. Meta elements keep their data- attributes.
func stripAttributes(root *html.Node, opts Options) {
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		isMeta := isElement(n, "meta")
		kept := n.Attr[:0]
		for _, attr := range n.Attr {
			key := strings.ToLower(attr.Key)
			switch {
			case opts.RemoveDataAttributes && !isMeta && strings.HasPrefix(key, "data-"):
			case opts.RemoveAriaAttributes && strings.HasPrefix(key, "aria-"):
			case strings.HasPrefix(key, "on"):
			case opts.RemoveStyleAttributes && key == "style":
			default:
				kept = append(kept, attr)
			}
		}
		n.Attr = kept
		return true
	})
}

// pruneEmptyElements removes childless, attributeless elements with no text.
// Post-order, so removals cascade up in a single traversal.
func pruneEmptyElements(n *html.Node) {
	c := n.FirstChild
	for c != nil {
		next := c.NextSibling
		pruneEmptyElements(c)
		c = next
	}

	if n.Type != html.ElementNode || isSkeleton(n) {
		return
	}
	if keepWhenEmpty[strings.ToLower(n.Data)] {
		return
	}
	if len(n.Attr) > 0 || hasElementChild(n) {
		return
	}
	if strings.TrimSpace(getTextContent(n)) != "" {
		return
	}
	detach(n)
}

// collapseTextNodes trims text nodes, drops empty ones, and collapses
// internal whitespace runs to a single space.
func collapseTextNodes(root *html.Node) {
	var texts []*html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.TextNode {
			texts = append(texts, n)
		}
		return true
	})
	for _, n := range texts {
		trimmed := strings.TrimSpace(n.Data)
		if trimmed == "" {
			detach(n)
			continue
		}
		n.Data = whitespaceRun.ReplaceAllString(trimmed, " ")
	}
}

// collapseDocument is the final pure-string pass over the serialized HTML.
func collapseDocument(doc string) string {
	doc = strings.ReplaceAll(doc, "> <", "><")
	lines := strings.Split(doc, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, spaceRun.ReplaceAllString(line, " "))
	}
	return strings.Join(out, "\n")
}

// --- DOM helpers ---

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && strings.EqualFold(n.Data, tag)
}

func isSkeleton(n *html.Node) bool {
	return isElement(n, "html") || isElement(n, "head") || isElement(n, "body")
}

func getAttr(n *html.Node, name string) string {
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, name) {
			return attr.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, name) {
			return true
		}
	}
	return false
}

func hasElementChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return true
		}
	}
	return false
}

func getTextContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}

func findElement(n *html.Node, tag string) *html.Node {
	if isElement(n, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// walk visits n and its descendants in document order. Returning false from
// fn skips the node's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

// collect returns all descendants matching the predicate. Collection happens
// before mutation so removals never invalidate the traversal.
func collect(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var results []*html.Node
	walk(root, func(n *html.Node) bool {
		if match(n) {
			results = append(results, n)
		}
		return true
	})
	return results
}

func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}
