package rest

import (
	"net/http"
	"net/url"
	"strings"
)

// Links は一覧レスポンスのページングリンク。空文字のリンクは出力しない。
type Links struct {
	Next string
	Prev string
}

// Header はLinkヘッダーの値を返す。
func (l Links) Header() string {
	var parts []string
	if l.Next != "" {
		parts = append(parts, "<"+l.Next+`>; rel="next"`)
	}
	if l.Prev != "" {
		parts = append(parts, "<"+l.Prev+`>; rel="prev"`)
	}
	return strings.Join(parts, ", ")
}

// BuildLinks はページングリンクを組み立てる。
// hasMoreがtrueの場合はskip+limitのnextを、skipが正の場合はskip-limit（0未満は0）のprevを作る。
func BuildLinks(base *url.URL, c Cursor, original url.Values, hasMore bool) Links {
	var l Links
	if hasMore {
		l.Next = pageURL(base, c, original, c.Skip+c.Limit)
	}
	if c.Skip > 0 {
		l.Prev = pageURL(base, c, original, max(c.Skip-c.Limit, 0))
	}
	return l
}

func pageURL(base *url.URL, c Cursor, original url.Values, skip int) string {
	u := *base
	u.RawQuery = c.Query(original, skip).Encode()
	return u.String()
}

// RequestURL はリンクの基点となる絶対URLを返す。
// baseURLが設定されていればそれを、なければリクエストのホストを使う。
func RequestURL(r *http.Request, baseURL, path string) *url.URL {
	if baseURL != "" {
		if u, err := url.Parse(strings.TrimRight(baseURL, "/")); err == nil {
			u.Path += path
			return u
		}
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return &url.URL{Scheme: scheme, Host: r.Host, Path: path}
}
