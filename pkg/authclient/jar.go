package authclient

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// resetJar - http.CookieJar, который можно атомарно очистить при сбросе сессии.
type resetJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newResetJar() *resetJar {
	j, _ := cookiejar.New(nil) // ошибку возвращает только PublicSuffixList
	return &resetJar{jar: j}
}

func (j *resetJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.jar.SetCookies(u, cookies)
}

func (j *resetJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

func (j *resetJar) Reset() {
	fresh, _ := cookiejar.New(nil)

	j.mu.Lock()
	j.jar = fresh
	j.mu.Unlock()
}
