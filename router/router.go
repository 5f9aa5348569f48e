// Package router resolves (endpoint, requested model, payload hints) to a
// concrete provider and upstream model against a config snapshot. Resolution
// is pure: same snapshot and request always yield the same target.
package router

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/config"
	"github.com/ccgw/cc-gw/protocol"
	"github.com/ccgw/cc-gw/types"
)

// Rule names identify which ladder step produced a route.
const (
	RuleExact         = "exact"
	RuleWildcard      = "wildcard"
	RuleAlias         = "alias"
	RuleDirect        = "direct"
	RuleReasoning     = "reasoning"
	RuleLongContext   = "long-context"
	RuleCompletion    = "completion"
	RuleFirstProvider = "first-provider"
)

// Route is a resolved target.
type Route struct {
	Provider      *config.Provider
	Model         string
	TokenEstimate int
	Rule          string
}

// Router resolves routes. It holds no config; every call works on the
// snapshot passed in, so in-flight requests are isolated from updates.
type Router struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{logger: logger.Named("router")}
}

// Resolve walks the resolution ladder, stopping at the first hit:
// exact route, wildcard route, both retried under the alias map, direct
// provider match, thinking default, long-context default, completion
// default, first provider. Mapped targets that do not resolve against the
// snapshot are logged and skipped, never fatal.
func (r *Router) Resolve(cfg *config.Config, endpoint string, p *protocol.Payload) (*Route, error) {
	if len(cfg.Providers) == 0 {
		return nil, types.NewError(types.ErrRouteUnresolved, "no providers configured")
	}

	requested := p.Model
	estimate := protocol.EstimateTokens(p, protocol.DefaultBytesPerToken)
	routing := cfg.Routing(endpoint)

	finish := func(route *Route) (*Route, error) {
		route.TokenEstimate = estimate
		r.logger.Debug("route resolved",
			zap.String("endpoint", endpoint),
			zap.String("requested", requested),
			zap.String("provider", route.Provider.ID),
			zap.String("model", route.Model),
			zap.String("rule", route.Rule),
			zap.Int("tokenEstimate", estimate))
		return route, nil
	}

	if routing != nil {
		if route := r.mappedRoute(cfg, routing, requested, requested); route != nil {
			return finish(route)
		}
	}

	alias := Alias(requested)
	if alias != "" && routing != nil {
		if route := r.mappedRoute(cfg, routing, alias, requested); route != nil {
			route.Rule = RuleAlias
			return finish(route)
		}
	}

	for i := range cfg.Providers {
		prov := &cfg.Providers[i]
		if prov.HasModel(requested) {
			return finish(&Route{Provider: prov, Model: requested, Rule: RuleDirect})
		}
		if alias != "" && prov.HasModel(alias) {
			return finish(&Route{Provider: prov, Model: alias, Rule: RuleDirect})
		}
	}

	if routing != nil {
		defaults := routing.Defaults
		if p.Thinking {
			if route := r.target(cfg, defaults.Reasoning, requested); route != nil {
				route.Rule = RuleReasoning
				return finish(route)
			}
		}
		threshold := defaults.LongContextThreshold
		if threshold <= 0 {
			threshold = config.DefaultLongContextThreshold
		}
		if estimate > threshold {
			if route := r.target(cfg, defaults.Background, requested); route != nil {
				route.Rule = RuleLongContext
				return finish(route)
			}
		}
		if route := r.target(cfg, defaults.Completion, requested); route != nil {
			route.Rule = RuleCompletion
			return finish(route)
		}
	}

	first := &cfg.Providers[0]
	model := first.DefaultModel
	if model == "" && len(first.Models) > 0 {
		model = first.Models[0].ID
	}
	if model == "" {
		return nil, types.NewError(types.ErrRouteUnresolved, "first provider exposes no model")
	}
	return finish(&Route{Provider: first, Model: model, Rule: RuleFirstProvider})
}

// mappedRoute tries the exact entry for the key, then the most specific
// wildcard entry. The requested model is what `providerId:*` passes through.
func (r *Router) mappedRoute(cfg *config.Config, routing *config.EndpointRouting, key, requested string) *Route {
	if target, ok := routing.ModelRoutes.Get(key); ok {
		if route := r.target(cfg, target, requested); route != nil {
			route.Rule = RuleExact
			return route
		}
	}

	bestScore := -1
	bestTarget := ""
	for _, entry := range routing.ModelRoutes {
		if !strings.Contains(entry.Pattern, "*") {
			continue
		}
		if !wildcardMatch(entry.Pattern, key) {
			continue
		}
		// Specificity is the count of literal characters; first entry
		// wins ties because > is strict.
		score := len(entry.Pattern) - strings.Count(entry.Pattern, "*")
		if score > bestScore {
			bestScore = score
			bestTarget = entry.Target
		}
	}
	if bestScore >= 0 {
		if route := r.target(cfg, bestTarget, requested); route != nil {
			route.Rule = RuleWildcard
			return route
		}
	}
	return nil
}

// target resolves a route-target string against the snapshot. Returns nil
// for empty or unresolvable targets; the latter are logged.
func (r *Router) target(cfg *config.Config, target, requested string) *Route {
	if target == "" {
		return nil
	}
	providerID, modelID, split := config.SplitTarget(target)
	if split {
		prov := cfg.FindProvider(providerID)
		if prov == nil {
			r.logger.Warn("route target references unknown provider",
				zap.String("target", target))
			return nil
		}
		if modelID == "*" {
			return &Route{Provider: prov, Model: requested}
		}
		return &Route{Provider: prov, Model: modelID}
	}
	for i := range cfg.Providers {
		if cfg.Providers[i].HasModel(target) {
			return &Route{Provider: &cfg.Providers[i], Model: target}
		}
	}
	r.logger.Warn("route target matches no provider model",
		zap.String("target", target))
	return nil
}

// wildcardMatch reports whether a pattern with `*` wildcards (each matching
// any substring, including empty) matches s.
func wildcardMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
