// audience определяет пространства токенов (admin/frontend): имена и атрибуты
// cookie, выбор токенов из запроса и привязку субъекта к audience по маршруту.
//
// Resolver не хранит изменяемого состояния и безопасен для конкурентного использования.
package audience

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pribylovaa/edu-auth/internal/config"
)

var (
	// ErrUnknownAudience - строка не соответствует ни одному audience.
	ErrUnknownAudience = errors.New("unknown audience")
	// ErrForbidden - роль субъекта не допускается в audience маршрута.
	ErrForbidden = errors.New("audience forbidden for role")
)

// adminRole - единственная роль, допускаемая в пространство admin.
const adminRole = "admin"

// Audience - закрытое перечисление клиентских популяций.
type Audience int

const (
	None Audience = iota
	Admin
	Frontend
)

func (a Audience) String() string {
	switch a {
	case Admin:
		return "admin"
	case Frontend:
		return "frontend"
	default:
		return "none"
	}
}

// Parse переводит строковое значение claim/запроса в Audience.
// "none" и пустая строка audience не являются.
func Parse(s string) (Audience, error) {
	switch s {
	case "admin":
		return Admin, nil
	case "frontend":
		return Frontend, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownAudience, s)
	}
}

// CookiePair - имена и httpOnly-атрибуты пары cookie одного audience.
type CookiePair struct {
	AccessName      string
	RefreshName     string
	AccessHTTPOnly  bool
	RefreshHTTPOnly bool
}

var cookiePairs = map[Audience]CookiePair{
	Admin: {
		AccessName:      "accessToken",
		RefreshName:     "refreshToken",
		AccessHTTPOnly:  true,
		RefreshHTTPOnly: true,
	},
	// Клиент студента читает токены из JS, поэтому без httpOnly.
	Frontend: {
		AccessName:  "client-access-token-win",
		RefreshName: "client-refresh-token-win",
	},
}

// CookiePairFor возвращает пару cookie для audience; для None - нулевое значение.
func CookiePairFor(a Audience) CookiePair {
	return cookiePairs[a]
}

// Selection - токены, найденные в запросе, и пространство, из которого они взяты.
type Selection struct {
	AccessToken  string
	RefreshToken string
	Audience     Audience
}

// Resolver выбирает audience по маршруту, роли и cookie запроса.
type Resolver struct {
	adminPrefix    string
	frontendPrefix string
	fallback       Audience
	frontendRoles  map[string]struct{}
	cookies        config.CookiesConfig
}

// New создаёт Resolver из секций routes и cookies конфигурации.
func New(routes config.RoutesConfig, cookies config.CookiesConfig) (*Resolver, error) {
	const op = "audience.New"

	fallback, err := Parse(routes.FallbackAudience)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	roles := make(map[string]struct{}, len(routes.FrontendRoles))
	for _, r := range routes.FrontendRoles {
		roles[strings.TrimSpace(r)] = struct{}{}
	}

	return &Resolver{
		adminPrefix:    strings.TrimSuffix(routes.AdminPrefix, "/"),
		frontendPrefix: strings.TrimSuffix(routes.FrontendPrefix, "/"),
		fallback:       fallback,
		frontendRoles:  roles,
		cookies:        cookies,
	}, nil
}

// RouteAudience возвращает audience, заданный префиксом пути, или None для
// неоднозначных маршрутов.
func (r *Resolver) RouteAudience(path string) Audience {
	switch {
	case hasPrefix(path, r.adminPrefix):
		return Admin
	case hasPrefix(path, r.frontendPrefix):
		return Frontend
	default:
		return None
	}
}

func hasPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}

	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// SelectTokens читает cookie обоих пространств. Если заполнены оба, выбирается
// audience маршрута, а для неоднозначного маршрута - fallback.
func (r *Resolver) SelectTokens(req *http.Request) Selection {
	admin := ReadTokens(req, Admin)
	front := ReadTokens(req, Frontend)

	hasAdmin := admin.AccessToken != "" || admin.RefreshToken != ""
	hasFront := front.AccessToken != "" || front.RefreshToken != ""

	switch {
	case hasAdmin && hasFront:
		pick := r.RouteAudience(req.URL.Path)
		if pick == None {
			pick = r.fallback
		}
		if pick == Admin {
			return admin
		}
		return front
	case hasAdmin:
		return admin
	case hasFront:
		return front
	default:
		return Selection{Audience: None}
	}
}

// ReadTokens читает пару cookie конкретного audience, не глядя на второе пространство.
func ReadTokens(req *http.Request, a Audience) Selection {
	pair := CookiePairFor(a)
	s := Selection{Audience: a}

	if c, err := req.Cookie(pair.AccessName); err == nil {
		s.AccessToken = c.Value
	}

	if c, err := req.Cookie(pair.RefreshName); err == nil {
		s.RefreshToken = c.Value
	}

	return s
}

// Allowed сообщает, может ли роль держать токены audience.
func (r *Resolver) Allowed(role string, a Audience) bool {
	switch a {
	case Admin:
		return role == adminRole
	case Frontend:
		_, ok := r.frontendRoles[role]
		return ok
	default:
		return false
	}
}

// ResolveAudienceForSubject выбирает audience для субъекта с ролью role на маршруте path.
// Префиксные маршруты требуют допустимой роли, иначе ErrForbidden. Для
// неоднозначных маршрутов audience выводится из роли, неизвестные роли получают fallback.
func (r *Resolver) ResolveAudienceForSubject(role, path string) (Audience, error) {
	switch a := r.RouteAudience(path); a {
	case Admin, Frontend:
		if !r.Allowed(role, a) {
			return None, ErrForbidden
		}
		return a, nil
	}

	switch {
	case role == adminRole:
		return Admin, nil
	case r.Allowed(role, Frontend):
		return Frontend, nil
	default:
		return r.fallback, nil
	}
}

// Bind привязывает ротацию к пространству cookie, из которого пришёл refresh-токен.
// На префиксных маршрутах audience маршрута обязан совпасть с cookieNS; на
// неоднозначных сохраняется cookieNS при условии, что роль в нём допустима.
func (r *Resolver) Bind(role, path string, cookieNS Audience) (Audience, error) {
	if cookieNS == None {
		return None, ErrForbidden
	}

	if r.RouteAudience(path) == None {
		if !r.Allowed(role, cookieNS) {
			return None, ErrForbidden
		}
		return cookieNS, nil
	}

	a, err := r.ResolveAudienceForSubject(role, path)
	if err != nil {
		return None, err
	}

	if a != cookieNS {
		return None, ErrForbidden
	}

	return a, nil
}

// Cookies строит пару cookie audience с атрибутами из конфигурации.
func (r *Resolver) Cookies(a Audience, access, refresh string, accessExp, refreshExp time.Time) []*http.Cookie {
	pair := CookiePairFor(a)

	return []*http.Cookie{
		r.cookie(pair.AccessName, access, accessExp, pair.AccessHTTPOnly),
		r.cookie(pair.RefreshName, refresh, refreshExp, pair.RefreshHTTPOnly),
	}
}

// ExpiredCookies возвращает cookie, удаляющие пару audience у клиента.
func (r *Resolver) ExpiredCookies(a Audience) []*http.Cookie {
	pair := CookiePairFor(a)

	access := r.cookie(pair.AccessName, "", time.Unix(0, 0), pair.AccessHTTPOnly)
	access.MaxAge = -1
	refresh := r.cookie(pair.RefreshName, "", time.Unix(0, 0), pair.RefreshHTTPOnly)
	refresh.MaxAge = -1

	return []*http.Cookie{access, refresh}
}

func (r *Resolver) cookie(name, value string, exp time.Time, httpOnly bool) *http.Cookie {
	path := r.cookies.Path
	if path == "" {
		path = "/"
	}

	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   r.cookies.Domain,
		Expires:  exp.UTC(),
		Secure:   r.cookies.Secure,
		HttpOnly: httpOnly,
		SameSite: r.cookies.SameSiteMode(),
	}
}
