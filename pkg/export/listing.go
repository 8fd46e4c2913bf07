package export

import (
	"bytes"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// RepodataLinks returns the absolute URLs of the files listed by an HTML
// directory index served at base. Parent, sort and subdirectory links are
// skipped.
func RepodataLinks(page []byte, base string) ([]string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				if link, ok := fileLink(baseURL, a.Val); ok && !seen[link] {
					seen[link] = true
					links = append(links, link)
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

func fileLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") || strings.HasSuffix(href, "/") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil || ref.RawQuery != "" {
		return "", false
	}
	u := base.ResolveReference(ref)
	if !strings.HasPrefix(u.String(), base.String()) {
		return "", false
	}
	if name := path.Base(u.Path); name == "." || strings.HasSuffix(name, "..") {
		return "", false
	}
	return u.String(), true
}

// repodataURL joins "repodata/" onto a repository URL the way a browser
// resolves a relative link; a URL without a trailing slash loses its last
// segment.
func repodataURL(repoURL string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", err
	}
	ref, _ := url.Parse("repodata/")
	out := u.ResolveReference(ref).String()
	if !strings.HasSuffix(out, "/") {
		out += "/"
	}
	return out, nil
}
