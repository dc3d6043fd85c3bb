// Package isolation implements the client isolation manager of spec §4.8:
// per-client profiles (isolation level, resource caps, database/schema
// allow-lists), per-request isolation contexts tracking resource usage
// against those caps, and pluggable access/resource validators.
//
// Grounded on the supplemented client_isolation.py (original_source):
// same ClientProfile/IsolationContext shape, same allow-list-then-custom-
// validator access check order, same resource-usage-against-limit check.
// crypto/sha256 replaces hashlib.sha256 for the namespace hash; Go's lack
// of an async lock does not change the shape since every mutating method
// here already holds a plain sync.Mutex.
package isolation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Level is the isolation strictness for a client (spec §4.8).
type Level string

const (
	LevelStrict   Level = "strict"
	LevelModerate Level = "moderate"
	LevelRelaxed  Level = "relaxed"
)

// Validator is a pluggable access or resource check. It returns false (or
// an error) to deny.
type Validator func(clientID, kind string, amount float64) (bool, error)

// Profile defines one client's isolation requirements and resource caps.
type Profile struct {
	ClientID              string
	IsolationLevel        Level
	MaxConcurrentRequests int
	MaxConnections        int
	MaxQueryDuration      time.Duration
	MaxResultRows         int
	AllowedDatabases      map[string]struct{} // nil/empty means "no restriction"
	AllowedSchemas        map[string]struct{} // keyed "database.schema"
	RateLimitPerMinute    int
	MemoryLimitMB         float64
	Priority              int // 1=low, 5=high
	CreatedAt             time.Time
}

// Context tracks one client request's isolation state.
type Context struct {
	ClientID  string
	RequestID string
	Profile   *Profile
	Namespace string

	mu             sync.Mutex
	activeRequests map[string]struct{}
	resourceUsage  map[string]float64
	lastActivity   time.Time
}

func (c *Context) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Context) addRequest(requestID string) {
	c.mu.Lock()
	c.activeRequests[requestID] = struct{}{}
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Context) removeRequest(requestID string) {
	c.mu.Lock()
	delete(c.activeRequests, requestID)
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Manager tracks client profiles and isolation contexts.
type Manager struct {
	defaultLevel Level

	mu         sync.Mutex
	profiles   map[string]*Profile
	contexts   map[string]*Context // keyed "clientID:requestID"
	namespaces map[string]string

	globalActiveConnections int64
	globalActiveRequests    int64
	globalMemoryMB          float64

	accessValidators   []Validator
	resourceValidators []Validator

	totalAccessDenials     int64
	totalResourceThrottles int64
}

// New builds a manager defaulting unregistered clients to defaultLevel.
func New(defaultLevel Level) *Manager {
	if defaultLevel == "" {
		defaultLevel = LevelModerate
	}
	return &Manager{
		defaultLevel: defaultLevel,
		profiles:     make(map[string]*Profile),
		contexts:     make(map[string]*Context),
		namespaces:   make(map[string]string),
	}
}

// RegisterClient creates (or replaces) a client's profile. Any field left
// zero-valued in profile is filled with the manager's sane defaults.
func (m *Manager) RegisterClient(profile Profile) *Profile {
	if profile.IsolationLevel == "" {
		profile.IsolationLevel = m.defaultLevel
	}
	if profile.MaxConcurrentRequests == 0 {
		profile.MaxConcurrentRequests = 10
	}
	if profile.MaxConnections == 0 {
		profile.MaxConnections = 5
	}
	if profile.MaxQueryDuration == 0 {
		profile.MaxQueryDuration = 5 * time.Minute
	}
	if profile.MaxResultRows == 0 {
		profile.MaxResultRows = 10000
	}
	if profile.RateLimitPerMinute == 0 {
		profile.RateLimitPerMinute = 60
	}
	if profile.MemoryLimitMB == 0 {
		profile.MemoryLimitMB = 100
	}
	if profile.Priority == 0 {
		profile.Priority = 1
	}
	profile.CreatedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	p := &profile
	m.profiles[profile.ClientID] = p
	m.namespaces[profile.ClientID] = generateNamespace(profile.ClientID)
	return p
}

// GetOrRegisterProfile returns clientID's profile, registering one with
// defaults if it does not yet exist.
func (m *Manager) GetOrRegisterProfile(clientID string) *Profile {
	m.mu.Lock()
	p, ok := m.profiles[clientID]
	m.mu.Unlock()
	if ok {
		return p
	}
	return m.RegisterClient(Profile{ClientID: clientID})
}

// CreateContext opens an isolation context for one client request.
func (m *Manager) CreateContext(clientID, requestID string) *Context {
	profile := m.GetOrRegisterProfile(clientID)

	m.mu.Lock()
	namespace := m.namespaces[clientID]
	m.mu.Unlock()

	ctx := &Context{
		ClientID:       clientID,
		RequestID:      requestID,
		Profile:        profile,
		Namespace:      namespace,
		activeRequests: make(map[string]struct{}),
		resourceUsage:  make(map[string]float64),
		lastActivity:   time.Now(),
	}

	m.mu.Lock()
	m.contexts[contextKey(clientID, requestID)] = ctx
	m.mu.Unlock()
	return ctx
}

// ValidateDatabaseAccess checks clientID's allow-list and custom access
// validators for database.
func (m *Manager) ValidateDatabaseAccess(clientID, database string) (bool, error) {
	profile := m.GetOrRegisterProfile(clientID)

	if len(profile.AllowedDatabases) > 0 {
		if _, ok := profile.AllowedDatabases[database]; !ok {
			m.bumpDenial()
			return false, nil
		}
	}

	return m.runValidators(m.accessValidators, clientID, "database", 0, database)
}

// ValidateSchemaAccess checks database access, then clientID's schema
// allow-list (keyed "database.schema").
func (m *Manager) ValidateSchemaAccess(clientID, database, schema string) (bool, error) {
	ok, err := m.ValidateDatabaseAccess(clientID, database)
	if err != nil || !ok {
		return false, err
	}

	profile := m.GetOrRegisterProfile(clientID)
	if len(profile.AllowedSchemas) > 0 {
		key := fmt.Sprintf("%s.%s", database, schema)
		if _, ok := profile.AllowedSchemas[key]; !ok {
			m.bumpDenial()
			return false, nil
		}
	}
	return true, nil
}

func (m *Manager) runValidators(validators []Validator, clientID, kind string, amount float64, label string) (bool, error) {
	for _, v := range validators {
		ok, err := v(clientID, kind, amount)
		if err != nil {
			return false, err
		}
		if !ok {
			m.bumpDenial()
			return false, nil
		}
	}
	return true, nil
}

func (m *Manager) bumpDenial() {
	m.mu.Lock()
	m.totalAccessDenials++
	m.mu.Unlock()
}

// CheckResourceLimits reports whether clientID can acquire amount more of
// resourceType without exceeding its profile's caps.
func (m *Manager) CheckResourceLimits(clientID, resourceType string, amount float64) (bool, error) {
	profile := m.GetOrRegisterProfile(clientID)

	m.mu.Lock()
	var currentRequests int
	var currentMemory float64
	prefix := clientID + ":"
	for key, ctx := range m.contexts {
		if !hasPrefix(key, prefix) {
			continue
		}
		ctx.mu.Lock()
		currentRequests += len(ctx.activeRequests)
		currentMemory += ctx.resourceUsage["memory_mb"]
		ctx.mu.Unlock()
	}
	m.mu.Unlock()

	if resourceType == "request" && currentRequests >= profile.MaxConcurrentRequests {
		m.bumpThrottle()
		return false, nil
	}

	if resourceType == "memory" && currentMemory+amount > profile.MemoryLimitMB {
		m.bumpThrottle()
		return false, nil
	}

	return m.runValidators(m.resourceValidators, clientID, resourceType, amount, "")
}

func (m *Manager) bumpThrottle() {
	m.mu.Lock()
	m.totalResourceThrottles++
	m.mu.Unlock()
}

// AcquireResources checks every requested resource against the client's
// limits and, if all pass, records the usage against the request's
// isolation context atomically.
func (m *Manager) AcquireResources(clientID, requestID string, resources map[string]float64) (bool, error) {
	m.mu.Lock()
	ctx, ok := m.contexts[contextKey(clientID, requestID)]
	m.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("isolation: no context for %s:%s", clientID, requestID)
	}

	for resourceType, amount := range resources {
		ok, err := m.CheckResourceLimits(clientID, resourceType, amount)
		if err != nil || !ok {
			return false, err
		}
	}

	ctx.mu.Lock()
	for resourceType, amount := range resources {
		ctx.resourceUsage[resourceType] += amount
	}
	ctx.lastActivity = time.Now()
	ctx.mu.Unlock()

	return true, nil
}

// ReleaseResources returns previously-acquired usage against requestID's
// context, floored at zero.
func (m *Manager) ReleaseResources(clientID, requestID string, resources map[string]float64) {
	m.mu.Lock()
	ctx, ok := m.contexts[contextKey(clientID, requestID)]
	m.mu.Unlock()
	if !ok {
		return
	}

	ctx.mu.Lock()
	for resourceType, amount := range resources {
		v := ctx.resourceUsage[resourceType] - amount
		if v < 0 {
			v = 0
		}
		ctx.resourceUsage[resourceType] = v
	}
	ctx.lastActivity = time.Now()
	ctx.mu.Unlock()
}

// CleanupExpired removes isolation contexts idle longer than maxAge.
func (m *Manager) CleanupExpired(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for key, ctx := range m.contexts {
		ctx.mu.Lock()
		stale := ctx.lastActivity.Before(cutoff)
		ctx.mu.Unlock()
		if stale {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(m.contexts, key)
	}
	return len(expired)
}

// AddAccessValidator registers a custom access validator, run after the
// allow-list check.
func (m *Manager) AddAccessValidator(v Validator) {
	m.mu.Lock()
	m.accessValidators = append(m.accessValidators, v)
	m.mu.Unlock()
}

// AddResourceValidator registers a custom resource validator, run after
// the built-in request/memory checks.
func (m *Manager) AddResourceValidator(v Validator) {
	m.mu.Lock()
	m.resourceValidators = append(m.resourceValidators, v)
	m.mu.Unlock()
}

// GlobalStats reports aggregate isolation/security counters for the
// monitoring surface.
func (m *Manager) GlobalStats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	byLevel := map[Level]int{LevelStrict: 0, LevelModerate: 0, LevelRelaxed: 0}
	for _, p := range m.profiles {
		byLevel[p.IsolationLevel]++
	}

	return map[string]any{
		"registered_clients": len(m.profiles),
		"active_contexts":    len(m.contexts),
		"security_stats": map[string]any{
			"total_access_denials":     m.totalAccessDenials,
			"total_resource_throttles": m.totalResourceThrottles,
		},
		"isolation_levels": byLevel,
	}
}

func contextKey(clientID, requestID string) string { return clientID + ":" + requestID }

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func generateNamespace(clientID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", clientID, time.Now().UnixNano())))
	return "ns_" + hex.EncodeToString(sum[:])[:16]
}
