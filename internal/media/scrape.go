package media

import (
	"html"
	"strings"

	nethtml "golang.org/x/net/html"
)

// ExtractMediaURLs returns the X media URLs in a post page: every match in the
// raw markup, then og:image / twitter:image meta content and img src values.
func ExtractMediaURLs(page string) []string {
	var urls []string
	seen := make(map[string]bool)
	add := func(u string) {
		u = html.UnescapeString(strings.TrimSpace(u))
		if u == "" || seen[u] || !mediaURLRe.MatchString(u) {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	for _, m := range mediaURLRe.FindAllString(page, -1) {
		add(m)
	}
	for _, u := range attributeURLs(page) {
		add(u)
	}
	return urls
}

func attributeURLs(page string) []string {
	var urls []string
	tokenizer := nethtml.NewTokenizer(strings.NewReader(page))

	for {
		tt := tokenizer.Next()
		switch tt {
		case nethtml.ErrorToken:
			return urls

		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)
			if !hasAttr || (tagName != "meta" && tagName != "img") {
				continue
			}

			var property, content, src string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "property", "name":
					property = strings.ToLower(string(val))
				case "content":
					content = string(val)
				case "src":
					src = string(val)
				}
				if !more {
					break
				}
			}

			switch tagName {
			case "meta":
				if property == "og:image" || property == "twitter:image" {
					urls = append(urls, content)
				}
			case "img":
				urls = append(urls, src)
			}
		}
	}
}
