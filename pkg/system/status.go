package system

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RuleStatus struct {
	Name      string `json:"name"`
	Pattern   string `json:"pattern"`
	Action    string `json:"action"`
	Level     string `json:"level"`
	RateLimit int64  `json:"rate_limit_seconds"`
}

type RulesReply struct {
	Loaded            bool          `json:"loaded"`
	StopOnFirstAction bool          `json:"stop_on_first_action"`
	ReloadSeconds     int64         `json:"rule_reload_seconds"`
	Rules             []*RuleStatus `json:"rules"`
}

func (system *System) registerRoutes() {

	route, _ := system.admin.createRoute("admin", "/")
	route.Use(noStore)
	route.Mount("/metrics", promhttp.HandlerFor(system.registry, promhttp.HandlerOpts{}))
	route.Handle(http.MethodGet, "/healthz", system.health)
	route.Handle(http.MethodGet, "/rules", system.listRules)
	route.Handle(http.MethodPost, "/rules/reload", system.reloadRules, system.listRules)
}

// Replies describe live state
func noStore(ctx *Context) {
	ctx.Res.Header.Set("Cache-Control", "no-store")
}

func (system *System) health(ctx *Context) {
	ctx.Res.Data = map[string]string{
		"status": "ok",
	}
}

func (system *System) listRules(ctx *Context) {

	store := system.watchdog.Rules()
	rs := store.Current()

	reply := &RulesReply{
		Loaded:            store.Loaded(),
		StopOnFirstAction: rs.StopOnFirstAction,
		ReloadSeconds:     int64(rs.ReloadInterval.Seconds()),
		Rules:             make([]*RuleStatus, 0, rs.Len()),
	}

	for _, rule := range rs.List() {
		reply.Rules = append(reply.Rules, &RuleStatus{
			Name:      rule.Name,
			Pattern:   rule.Pattern.String(),
			Action:    string(rule.Action),
			Level:     string(rule.Level),
			RateLimit: int64(rule.RateLimit.Seconds()),
		})
	}

	ctx.Res.Data = reply
}

func (system *System) reloadRules(ctx *Context) {

	err := system.watchdog.Reload()
	if err != nil {
		ctx.Fail(http.StatusUnprocessableEntity, err)
	}
}
