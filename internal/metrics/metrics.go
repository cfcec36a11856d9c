// metrics - счётчики Prometheus для логина, ротации и очистки журнала.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Исходы ротации refresh-токена.
const (
	RefreshRotated        = "rotated"
	RefreshNoToken        = "no_token"
	RefreshInvalid        = "invalid"
	RefreshReplayed       = "replayed"
	RefreshSubjectGone    = "subject_gone"
	RefreshAudienceDenied = "audience_denied"
	RefreshRaceLost       = "race_lost"
	RefreshError          = "error"
)

// Исходы логина.
const (
	LoginSuccess   = "success"
	LoginBadCreds  = "bad_credentials"
	LoginForbidden = "forbidden"
	LoginError     = "error"
)

// Metrics - набор коллекторов сервиса. Нулевой *Metrics допустим: методы ничего не делают.
type Metrics struct {
	refresh   *prometheus.CounterVec
	login     *prometheus.CounterVec
	gcDeleted prometheus.Counter
}

// New создаёт коллекторы и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		login: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		gcDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_ledger_gc_deleted_total",
			Help: "Refresh records removed by the janitor.",
		}),
	}

	reg.MustRegister(m.refresh, m.login, m.gcDeleted)

	return m
}

// Refresh учитывает исход попытки ротации.
func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.refresh.WithLabelValues(outcome).Inc()
}

// Login учитывает исход логина.
func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.login.WithLabelValues(outcome).Inc()
}

// GCDeleted учитывает удалённые janitor-ом записи.
func (m *Metrics) GCDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.gcDeleted.Add(float64(n))
}
