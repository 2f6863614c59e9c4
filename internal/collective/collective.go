// Package collective groups views from multiple domains into one navigable
// section ("tabs"). Each section is described by a Config; a Registry owns the
// configs of one section family, guards access to their routes and produces
// the tab navigation data.
package collective

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/squire/backend/internal/middleware"
	"github.com/squire/backend/internal/models"
	"github.com/squire/backend/pkg/utils"
)

const (
	localsRegistryKey = "collectiveRegistry"
	localsScopeKey    = "collectiveScope"
	localsActiveKey   = "collectiveActive"
)

// Scope carries the record a scoped collective is resolved against. The
// committee pages resolve an association group plus the caller's membership
// of it; unscoped collectives (account pages) use a nil scope.
type Scope struct {
	Group      *models.AssociationGroup
	Membership *models.AssociationGroupMembership
}

// Config declares one navigable section: its tab metadata, its access rule
// and the routes it contributes under the registry's mount point.
type Config interface {
	Name() string
	Icon() string
	URLKeyword() string
	Order() int

	// Enabled decides startup-time inclusion; disabled configs are dropped
	// at registration and never mounted.
	Enabled() bool

	// Accessible decides per-request visibility of the section and its tab.
	Accessible(c *fiber.Ctx, scope *Scope) bool

	// Routes attaches the section's handlers to its namespaced sub-router.
	Routes(router fiber.Router)
}

// BaseConfig supplies the common metadata and default predicates. The zero
// value requires an authenticated user with a member record, mirroring what
// almost every section wants.
type BaseConfig struct {
	TabName    string
	TabIcon    string
	Keyword    string
	OrderValue int

	AllowAnonymous  bool
	AllowNonMembers bool
}

func (b *BaseConfig) Name() string       { return b.TabName }
func (b *BaseConfig) Icon() string       { return b.TabIcon }
func (b *BaseConfig) URLKeyword() string { return b.Keyword }

func (b *BaseConfig) Order() int {
	if b.OrderValue == 0 {
		return 10
	}
	return b.OrderValue
}

func (b *BaseConfig) Enabled() bool { return true }

func (b *BaseConfig) Accessible(c *fiber.Ctx, _ *Scope) bool {
	if !b.AllowAnonymous && middleware.GetCurrentUser(c) == nil {
		return false
	}
	if !b.AllowNonMembers && middleware.GetCurrentMember(c) == nil {
		return false
	}
	return true
}

// Tab is the display record for one accessible sibling section.
type Tab struct {
	Name     string `json:"name"`
	Icon     string `json:"icon"`
	URL      string `json:"url"`
	Selected bool   `json:"selected"`
}

// Registry collects the configs of one section family. Configs are registered
// explicitly at startup, ordered by their order value (ties keep registration
// order) and cached for the process lifetime: the config list is built once
// on first use and never invalidated.
type Registry struct {
	Namespace string

	// ResolveScope loads the scope for scoped collectives. Nil means the
	// collective is unscoped. Resolvers report lookup failures as
	// *fiber.Error so the guard can surface the right status code.
	ResolveScope func(c *fiber.Ctx) (*Scope, error)

	registered []Config
	configs    []Config
	built      bool
	basePath   string
}

func NewRegistry(namespace string) *Registry {
	return &Registry{Namespace: namespace}
}

// Register adds configs to the registry, dropping disabled ones. Keyword
// problems are developer mistakes and fail fast.
func (r *Registry) Register(cfgs ...Config) {
	if r.built {
		panic(fmt.Sprintf("collective %s: Register called after the config list was built", r.Namespace))
	}
	for _, cfg := range cfgs {
		if cfg.URLKeyword() == "" {
			panic(fmt.Sprintf("collective %s: config %q has no URL keyword", r.Namespace, cfg.Name()))
		}
		for _, existing := range r.registered {
			if existing.URLKeyword() == cfg.URLKeyword() {
				panic(fmt.Sprintf("collective %s: duplicate URL keyword %q", r.Namespace, cfg.URLKeyword()))
			}
		}
		if !cfg.Enabled() {
			continue
		}
		r.registered = append(r.registered, cfg)
	}
}

// Configs returns the enabled configs sorted by order value. The sorted list
// is built once and reused; restart to pick up newly registered configs.
func (r *Registry) Configs() []Config {
	if !r.built {
		sort.SliceStable(r.registered, func(i, j int) bool {
			return r.registered[i].Order() < r.registered[j].Order()
		})
		r.configs = r.registered
		r.built = true
	}
	return r.configs
}

// ApplicableConfigs returns the subset of configs whose access rule passes
// for this request, preserving config order.
func (r *Registry) ApplicableConfigs(c *fiber.Ctx, scope *Scope) []Config {
	applicable := []Config{}
	for _, cfg := range r.Configs() {
		if cfg.Accessible(c, scope) {
			applicable = append(applicable, cfg)
		}
	}
	return applicable
}

// Mount attaches every config's routes under router, each in its own
// URL-keyword sub-group behind an access guard, plus a /tabs endpoint with
// the section navigation data. basePath is the public path of router and is
// used to build tab URLs (`:groupId` is substituted from the scope).
func (r *Registry) Mount(router fiber.Router, basePath string) {
	r.basePath = basePath
	router.Get("/tabs", r.handleTabs)
	for _, cfg := range r.Configs() {
		group := router.Group("/"+cfg.URLKeyword(), r.guard(cfg))
		cfg.Routes(group)
	}
}

// guard re-evaluates the config's access rule on every request and stores the
// collective context in request locals for tab rendering.
func (r *Registry) guard(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, err := r.resolveScope(c)
		if err != nil {
			return r.scopeError(c, err)
		}
		if !cfg.Accessible(c, scope) {
			return utils.Error(c, fiber.StatusForbidden, "section access denied")
		}
		c.Locals(localsRegistryKey, r)
		c.Locals(localsScopeKey, scope)
		c.Locals(localsActiveKey, cfg)
		return c.Next()
	}
}

func (r *Registry) handleTabs(c *fiber.Ctx) error {
	scope, err := r.resolveScope(c)
	if err != nil {
		return r.scopeError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, r.Tabs(c, scope, nil))
}

func (r *Registry) resolveScope(c *fiber.Ctx) (*Scope, error) {
	if r.ResolveScope == nil {
		return nil, nil
	}
	return r.ResolveScope(c)
}

func (r *Registry) scopeError(c *fiber.Ctx, err error) error {
	if fe, ok := err.(*fiber.Error); ok {
		return utils.Error(c, fe.Code, fe.Message)
	}
	return utils.Error(c, fiber.StatusInternalServerError, "failed resolving section scope")
}

// Tabs builds the navigation records for every sibling section accessible to
// this request. active marks the selected tab and may be nil.
func (r *Registry) Tabs(c *fiber.Ctx, scope *Scope, active Config) []Tab {
	tabs := []Tab{}
	for _, cfg := range r.ApplicableConfigs(c, scope) {
		tabs = append(tabs, Tab{
			Name:     cfg.Name(),
			Icon:     cfg.Icon(),
			URL:      r.tabURL(cfg, scope),
			Selected: cfg == active,
		})
	}
	return tabs
}

func (r *Registry) tabURL(cfg Config, scope *Scope) string {
	base := r.basePath
	if scope != nil && scope.Group != nil {
		base = strings.Replace(base, ":groupId", scope.Group.ID.String(), 1)
	}
	return base + "/" + cfg.URLKeyword()
}

// TabsFromContext returns the tab data for the request's active section, or
// nil outside a mounted collective route.
func TabsFromContext(c *fiber.Ctx) []Tab {
	registry, _ := c.Locals(localsRegistryKey).(*Registry)
	if registry == nil {
		return nil
	}
	scope, _ := c.Locals(localsScopeKey).(*Scope)
	active, _ := c.Locals(localsActiveKey).(Config)
	return registry.Tabs(c, scope, active)
}

// ScopeFromContext returns the scope the guard resolved for this request.
func ScopeFromContext(c *fiber.Ctx) *Scope {
	scope, _ := c.Locals(localsScopeKey).(*Scope)
	return scope
}
