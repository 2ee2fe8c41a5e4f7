package services

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"listing-harvester/models"
	"listing-harvester/utils"
)

// defaultConfidence encodes the trust ranking between strategy types.
var defaultConfidence = map[models.StrategyType]float64{
	models.StrategyStructuredKey: 0.95,
	models.StrategyCSSSelector:   0.85,
	models.StrategyLabeledText:   0.75,
	models.StrategyRegex:         0.60,
	models.StrategyDOMProximity:  0.45,
	models.StrategyReadability:   0.40,
}

// blockTags get a line break when a DOM is flattened to text, so labels and
// values keep their line structure.
var blockTags = map[string]bool{
	"address": true, "article": true, "br": true, "dd": true, "div": true, "dl": true, "dt": true,
	"footer": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "ol": true, "p": true, "section": true,
	"table": true, "td": true, "th": true, "tr": true, "ul": true,
}

const proximityTags = "dt, th, td, label, span, div, p, strong, b, em, h3, h4, h5, li, small"

// strategy yields candidate raw strings from a document, best first.
type strategy interface {
	name() string
	confidence() float64
	candidates(doc *document) []string
}

// document is the per-unit view shared by all strategies. Parsing is lazy and
// happens at most once per unit.
type document struct {
	unit *models.RawContentUnit

	dom       *goquery.Document
	domParsed bool

	data       map[string]any
	dataParsed bool

	text       string
	textParsed bool

	article       *readability.Article
	articleParsed bool
}

func newDocument(unit *models.RawContentUnit) *document {
	return &document{unit: unit}
}

// DOM returns the parsed HTML, or nil for API units.
func (d *document) DOM() *goquery.Document {
	if d.domParsed {
		return d.dom
	}
	d.domParsed = true
	if d.unit.Kind != models.SourceDOM || d.unit.Text == "" {
		return nil
	}
	dom, err := goquery.NewDocumentFromReader(strings.NewReader(d.unit.Text))
	if err != nil {
		return nil
	}
	d.dom = dom
	return dom
}

// Data returns structured data: the API object, or JSON-LD / embedded JSON
// objects found in a rendered page.
func (d *document) Data() map[string]any {
	if d.dataParsed {
		return d.data
	}
	d.dataParsed = true
	if len(d.unit.JSON) > 0 {
		d.data = d.unit.JSON
		return d.data
	}
	dom := d.DOM()
	if dom == nil {
		return nil
	}
	merged := make(map[string]any)
	dom.Find(`script[type="application/ld+json"], script#__NEXT_DATA__`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return
		}
		mergeObjects(merged, v)
	})
	if len(merged) > 0 {
		d.data = merged
	}
	return d.data
}

func mergeObjects(dst map[string]any, v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if _, exists := dst[k]; !exists {
				dst[k] = val
			}
		}
	case []any:
		for _, item := range t {
			mergeObjects(dst, item)
		}
	}
}

// Text returns the unit flattened to lines of text. API objects become
// "key path: value" lines so text strategies work on both kinds.
func (d *document) Text() string {
	if d.textParsed {
		return d.text
	}
	d.textParsed = true
	switch {
	case len(d.unit.JSON) > 0:
		var lines []string
		flattenJSON("", d.unit.JSON, &lines)
		d.text = strings.Join(lines, "\n")
	case d.DOM() != nil:
		var b strings.Builder
		for _, n := range d.DOM().Find("body").Nodes {
			writeText(&b, n)
		}
		d.text = cleanLines(b.String())
	default:
		d.text = d.unit.Text
	}
	return d.text
}

// Article returns the readability extraction of a rendered page.
func (d *document) Article() *readability.Article {
	if d.articleParsed {
		return d.article
	}
	d.articleParsed = true
	if d.unit.Kind != models.SourceDOM || d.unit.Text == "" {
		return nil
	}
	pageURL, err := url.Parse(d.unit.URL)
	if err != nil || d.unit.URL == "" {
		pageURL = &url.URL{Scheme: "http", Host: "localhost"}
	}
	article, err := readability.FromReader(strings.NewReader(d.unit.Text), pageURL)
	if err != nil {
		return nil
	}
	d.article = &article
	return d.article
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
			return
		}
	}
	block := n.Type == html.ElementNode && blockTags[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}

func cleanLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = utils.NormaliseText(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func flattenJSON(prefix string, v any, lines *[]string) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			flattenJSON(p, t[k], lines)
		}
	case []any:
		for i, item := range t {
			flattenJSON(prefix+"."+strconv.Itoa(i), item, lines)
		}
	default:
		if s, ok := scalarString(t); ok {
			label := strings.NewReplacer("_", " ", ".", " ", "-", " ").Replace(prefix)
			*lines = append(*lines, label+": "+s)
		}
	}
}

// scalarString renders a JSON scalar as the raw text a strategy returns.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	}
	return "", false
}

// lookupPath resolves a dotted path ("financials.monthly_profit", "images.0")
// against decoded JSON. Keys fall back to a case-insensitive match.
func lookupPath(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				for k, candidate := range node {
					if strings.EqualFold(k, part) {
						v, ok = candidate, true
						break
					}
				}
			}
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// structured-key lookup

type structuredKey struct {
	keys []string
	conf float64
}

func (s *structuredKey) name() string        { return string(models.StrategyStructuredKey) }
func (s *structuredKey) confidence() float64 { return s.conf }

func (s *structuredKey) candidates(doc *document) []string {
	data := doc.Data()
	if data == nil {
		return nil
	}
	var out []string
	for _, k := range s.keys {
		v, ok := lookupPath(data, k)
		if !ok {
			continue
		}
		if str, ok := scalarString(v); ok {
			out = append(out, str)
		}
	}
	return out
}

// labeled-text pattern match

type labeledText struct {
	patterns []*regexp.Regexp
	conf     float64
}

func newLabeledText(labels []string, conf float64) *labeledText {
	lt := &labeledText{conf: conf}
	for _, label := range labels {
		q := regexp.QuoteMeta(strings.TrimSpace(label))
		lt.patterns = append(lt.patterns, regexp.MustCompile(
			`(?im)(?:^|[^\p{L}\p{N}])`+q+`\s*(?:[:=\-–—]|\n)\s*([^\n|]{1,120})`+
				`|(?:^|[^\p{L}\p{N}])`+q+`\s+([$€£]\s*\d[^\n|]{0,60})`))
	}
	return lt
}

func (s *labeledText) name() string        { return string(models.StrategyLabeledText) }
func (s *labeledText) confidence() float64 { return s.conf }

func (s *labeledText) candidates(doc *document) []string {
	text := doc.Text()
	if text == "" {
		return nil
	}
	var out []string
	for _, re := range s.patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if m[1] != "" {
				out = append(out, m[1])
			} else if m[2] != "" {
				out = append(out, m[2])
			}
		}
	}
	return out
}

// contextual regex

type contextualRegex struct {
	re   *regexp.Regexp
	html bool
	conf float64
}

func (s *contextualRegex) name() string        { return string(models.StrategyRegex) }
func (s *contextualRegex) confidence() float64 { return s.conf }

func (s *contextualRegex) candidates(doc *document) []string {
	src := doc.Text()
	if s.html {
		src = doc.unit.Text
	}
	var out []string
	for _, m := range s.re.FindAllStringSubmatch(src, -1) {
		if len(m) > 1 {
			out = append(out, m[1])
		} else {
			out = append(out, m[0])
		}
	}
	return out
}

// CSS selector

type cssSelector struct {
	matcher cascadia.Selector
	attr    string
	conf    float64
}

func (s *cssSelector) name() string        { return string(models.StrategyCSSSelector) }
func (s *cssSelector) confidence() float64 { return s.conf }

func (s *cssSelector) candidates(doc *document) []string {
	dom := doc.DOM()
	if dom == nil {
		return nil
	}
	var out []string
	dom.FindMatcher(s.matcher).Each(func(_ int, sel *goquery.Selection) {
		if s.attr != "" {
			if v, ok := sel.Attr(s.attr); ok {
				out = append(out, v)
			}
			return
		}
		out = append(out, sel.Text())
	})
	return out
}

// DOM-proximity heuristic: a short element whose text is the label, with
// the value in the next sibling (or the parent's next sibling).

type domProximity struct {
	labels []string
	conf   float64
}

func (s *domProximity) name() string        { return string(models.StrategyDOMProximity) }
func (s *domProximity) confidence() float64 { return s.conf }

func (s *domProximity) candidates(doc *document) []string {
	dom := doc.DOM()
	if dom == nil {
		return nil
	}
	var out []string
	for _, label := range s.labels {
		want := utils.FoldKey(strings.TrimSuffix(strings.TrimSpace(label), ":"))
		dom.Find(proximityTags).Each(func(_ int, sel *goquery.Selection) {
			own := utils.FoldKey(strings.TrimSuffix(strings.TrimSpace(sel.Text()), ":"))
			if own != want {
				return
			}
			if v := utils.NormaliseText(sel.Next().Text()); v != "" {
				out = append(out, v)
				return
			}
			if v := utils.NormaliseText(sel.Parent().Next().Text()); v != "" {
				out = append(out, v)
			}
		})
	}
	return out
}

// readability fallback for titles and descriptions

type readabilityField struct {
	attr string
	conf float64
}

func (s *readabilityField) name() string        { return string(models.StrategyReadability) }
func (s *readabilityField) confidence() float64 { return s.conf }

func (s *readabilityField) candidates(doc *document) []string {
	article := doc.Article()
	if article == nil {
		return nil
	}
	switch s.attr {
	case "excerpt":
		return []string{article.Excerpt}
	case "text":
		content, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
		if err != nil {
			return nil
		}
		return []string{utils.Truncate(utils.NormaliseText(content.Text()), defaultMaxChars)}
	default:
		return []string{article.Title}
	}
}

// compileStrategy validates a StrategySpec and builds its strategy.
func compileStrategy(field string, spec models.StrategySpec) (strategy, error) {
	conf := spec.Confidence
	if conf == 0 {
		conf = defaultConfidence[spec.Type]
	}
	if conf < 0 || conf > 1 {
		return nil, fmt.Errorf("field %q: %s confidence %v outside [0,1]", field, spec.Type, conf)
	}

	switch spec.Type {
	case models.StrategyStructuredKey:
		if len(spec.Keys) == 0 {
			return nil, fmt.Errorf("field %q: structured_key needs keys", field)
		}
		return &structuredKey{keys: spec.Keys, conf: conf}, nil

	case models.StrategyLabeledText:
		if len(spec.Labels) == 0 {
			return nil, fmt.Errorf("field %q: labeled_text needs labels", field)
		}
		return newLabeledText(spec.Labels, conf), nil

	case models.StrategyRegex:
		if spec.Pattern == "" {
			return nil, fmt.Errorf("field %q: regex needs a pattern", field)
		}
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("field %q: regex: %w", field, err)
		}
		return &contextualRegex{re: re, html: spec.Attr == "html", conf: conf}, nil

	case models.StrategyCSSSelector:
		if spec.Selector == "" {
			return nil, fmt.Errorf("field %q: css_selector needs a selector", field)
		}
		m, err := cascadia.Compile(spec.Selector)
		if err != nil {
			return nil, fmt.Errorf("field %q: css_selector %q: %w", field, spec.Selector, err)
		}
		return &cssSelector{matcher: m, attr: spec.Attr, conf: conf}, nil

	case models.StrategyDOMProximity:
		if len(spec.Labels) == 0 {
			return nil, fmt.Errorf("field %q: dom_proximity needs labels", field)
		}
		return &domProximity{labels: spec.Labels, conf: conf}, nil

	case models.StrategyReadability:
		switch spec.Attr {
		case "", "title", "excerpt", "text":
		default:
			return nil, fmt.Errorf("field %q: readability attr %q not one of title/excerpt/text", field, spec.Attr)
		}
		return &readabilityField{attr: spec.Attr, conf: conf}, nil
	}
	return nil, fmt.Errorf("field %q: unknown strategy type %q", field, spec.Type)
}
