// Package permission decides whether an actor holds any role of a named policy.
package permission

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"staffdesk/internal/models"

	"gopkg.in/yaml.v3"
)

// Policy names shared across kinds.
const (
	PolicyStaff            = "staff"
	PolicyHistoryView      = "history_view"
	PolicyAdmin            = "admin"
	PolicyInfractionRevoke = "infraction_revoke"
	PolicyPromotion        = "promotion"
	PolicyRoleManage       = "role_manage"
)

// Single-role references used by role effects.
const (
	RoleLeave      = "leave"
	RoleSuspension = "suspension"
)

// SubmitPolicy names the policy gating submissions of kind.
func SubmitPolicy(kind models.Kind) string {
	return string(kind) + "_submit"
}

// ReviewPolicy names the policy gating decisions on kind.
func ReviewPolicy(kind models.Kind) string {
	return string(kind) + "_review"
}

// Table is the on-disk policy layout.
type Table struct {
	Policies     map[string][]string `yaml:"policies"`
	Roles        map[string]string   `yaml:"roles"`
	OpenPolicies []string            `yaml:"open_policies"`
}

type snapshot struct {
	policies map[string]map[string]struct{}
	roles    map[string]string
	open     map[string]bool
}

// Resolver is a read-mostly policy table. Reads never observe a partially
// reloaded table.
type Resolver struct {
	mu   sync.RWMutex
	path string
	snap *snapshot
}

// NewResolver builds a resolver from an in-memory table.
func NewResolver(t Table) (*Resolver, error) {
	snap, err := compile(t)
	if err != nil {
		return nil, err
	}
	return &Resolver{snap: snap}, nil
}

// LoadFile reads the policy table at path. The same path is re-read by Reload.
func LoadFile(path string) (*Resolver, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	snap, err := compile(t)
	if err != nil {
		return nil, err
	}
	return &Resolver{path: path, snap: snap}, nil
}

// Reload re-reads the backing file and swaps the table in one step. On error
// the previous table stays in effect.
func (r *Resolver) Reload() error {
	if r.path == "" {
		return models.NewConfigurationError("policy table was not loaded from a file")
	}
	t, err := readTable(r.path)
	if err != nil {
		return err
	}
	snap, err := compile(t)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
	return nil
}

// Authorized reports whether actorRoles intersects the role set of policy.
// An unknown policy is a ConfigurationError.
func (r *Resolver) Authorized(actorRoles []string, policy string) (bool, error) {
	snap := r.current()

	set, ok := snap.policies[normalizeName(policy)]
	if !ok {
		return false, unknownPolicy(policy)
	}
	if len(set) == 0 && snap.open[normalizeName(policy)] {
		return true, nil
	}
	for _, role := range actorRoles {
		if _, ok := set[strings.TrimSpace(role)]; ok {
			return true, nil
		}
	}
	return false, nil
}

// RoleSet returns a sorted copy of the role ids configured for policy.
func (r *Resolver) RoleSet(policy string) ([]string, error) {
	set, ok := r.current().policies[normalizeName(policy)]
	if !ok {
		return nil, unknownPolicy(policy)
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Role returns the single role id configured under name.
func (r *Resolver) Role(name string) (string, error) {
	id, ok := r.current().roles[normalizeName(name)]
	if !ok || id == "" {
		return "", models.NewConfigurationError(fmt.Sprintf("role %q is not configured", name))
	}
	return id, nil
}

// Require fails with a ConfigurationError naming every missing policy.
func (r *Resolver) Require(policies ...string) error {
	snap := r.current()
	var missing []string
	for _, p := range policies {
		if _, ok := snap.policies[normalizeName(p)]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return models.NewConfigurationError("missing policies: " + strings.Join(missing, ", "))
	}
	return nil
}

// Policies lists the configured policy names.
func (r *Resolver) Policies() []string {
	snap := r.current()
	out := make([]string, 0, len(snap.policies))
	for name := range snap.policies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Resolver) current() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

func readTable(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Table{}, &models.AppError{
			Code:    models.CodeConfiguration,
			Message: fmt.Sprintf("read policy file %s", path),
			Err:     err,
		}
	}
	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Table{}, &models.AppError{
			Code:    models.CodeConfiguration,
			Message: fmt.Sprintf("parse policy file %s", path),
			Err:     err,
		}
	}
	return t, nil
}

func compile(t Table) (*snapshot, error) {
	snap := &snapshot{
		policies: make(map[string]map[string]struct{}, len(t.Policies)),
		roles:    make(map[string]string, len(t.Roles)),
		open:     make(map[string]bool, len(t.OpenPolicies)),
	}
	for name, ids := range t.Policies {
		key := normalizeName(name)
		if key == "" {
			return nil, models.NewConfigurationError("policy with empty name")
		}
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id != "" {
				set[id] = struct{}{}
			}
		}
		snap.policies[key] = set
	}
	for name, id := range t.Roles {
		snap.roles[normalizeName(name)] = strings.TrimSpace(id)
	}
	for _, name := range t.OpenPolicies {
		key := normalizeName(name)
		if _, ok := snap.policies[key]; !ok {
			return nil, models.NewConfigurationError(fmt.Sprintf("open policy %q is not defined", name))
		}
		snap.open[key] = true
	}
	return snap, nil
}

func unknownPolicy(name string) error {
	return models.NewConfigurationError(fmt.Sprintf("policy %q is not configured", name))
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
