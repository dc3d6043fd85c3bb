// Package allocator implements the resource allocator of spec §4.9: named
// resource pools (connections, memory, cpu shares) allocated across
// clients under a pluggable strategy (fair-share, priority-based,
// weighted-fair, round-robin), with a max-heap of pending requests that a
// background loop drains as capacity frees up.
//
// Grounded on the supplemented resource_allocator.py (original_source):
// same ResourcePool/ClientAllocation/ResourceRequest shape, the same four
// named strategies with the same tolerance constants (10% fair-share,
// 20% weighted-fair, high-priority-reserved-capacity, last-10-allocations
// round robin), and the same "drain the heap until the next request can't
// be allocated, then stop" pending-queue processing loop. `container/heap`
// replaces Python's heapq module directly — same data structure, same
// algorithm.
package allocator

import (
	"container/heap"
	"fmt"
	"sync"
	"time"
)

// Strategy selects how contested capacity is shared across clients.
type Strategy string

const (
	StrategyFairShare     Strategy = "fair_share"
	StrategyPriorityBased Strategy = "priority_based"
	StrategyWeightedFair  Strategy = "weighted_fair"
	StrategyRoundRobin    Strategy = "round_robin"
)

// Pool is one named resource's capacity and allocation tracking.
type Pool struct {
	ResourceType   string
	TotalCapacity  float64
	Allocated      float64
	Reserved       float64
	MinAllocation  float64
	AllocationUnit float64
}

// Available returns unallocated capacity.
func (p *Pool) Available() float64 {
	if v := p.TotalCapacity - p.Allocated; v > 0 {
		return v
	}
	return 0
}

// Utilization returns allocated capacity as a percentage of total.
func (p *Pool) Utilization() float64 {
	if p.TotalCapacity <= 0 {
		return 0
	}
	return (p.Allocated / p.TotalCapacity) * 100
}

func (p *Pool) canAllocate(amount float64) bool { return p.Available() >= amount }

func (p *Pool) allocate(amount float64) bool {
	if !p.canAllocate(amount) {
		return false
	}
	p.Allocated += amount
	return true
}

func (p *Pool) release(amount float64) {
	p.Allocated -= amount
	if p.Allocated < 0 {
		p.Allocated = 0
	}
}

// clientAllocation tracks one client's current allocations across resource
// types, plus the priority/weight strategies need.
type clientAllocation struct {
	clientID         string
	allocated        map[string]float64
	priority         int
	weight           float64
	totalAllocated   float64
	allocationCount  int64
	lastAllocation   time.Time
}

func newClientAllocation(clientID string) *clientAllocation {
	return &clientAllocation{clientID: clientID, allocated: make(map[string]float64), priority: 1, weight: 1.0}
}

func (c *clientAllocation) get(resourceType string) float64 { return c.allocated[resourceType] }

func (c *clientAllocation) add(resourceType string, amount float64) {
	c.allocated[resourceType] += amount
	c.totalAllocated += amount
	c.allocationCount++
	c.lastAllocation = time.Now()
}

func (c *clientAllocation) remove(resourceType string, amount float64) {
	v := c.allocated[resourceType] - amount
	if v < 0 {
		v = 0
	}
	c.allocated[resourceType] = v
	c.totalAllocated -= amount
	if c.totalAllocated < 0 {
		c.totalAllocated = 0
	}
}

func (c *clientAllocation) totalAllocatedAcrossTypes() float64 {
	var sum float64
	for _, v := range c.allocated {
		sum += v
	}
	return sum
}

// request is one queued allocation attempt. It implements heap.Interface
// item semantics via the requestHeap wrapper below.
type request struct {
	id           string
	clientID     string
	resourceType string
	amount       float64
	priority     int
	maxWait      time.Duration
	createdAt    time.Time
	done         chan allocationOutcome
}

type allocationOutcome struct {
	ok  bool
	err error
}

func (r *request) age() time.Duration    { return time.Since(r.createdAt) }
func (r *request) isExpired() bool       { return r.age() > r.maxWait }

// requestHeap is a max-heap on priority (highest priority served first),
// the Go equivalent of ResourceRequest.__lt__ feeding Python's min-heap
// heapq with an inverted comparison.
type requestHeap []*request

func (h requestHeap) Len() int            { return len(h) }
func (h requestHeap) Less(i, j int) bool  { return h[i].priority > h[j].priority }
func (h requestHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *requestHeap) Push(x any)         { *h = append(*h, x.(*request)) }
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// allocationRecord is one completed allocation, kept in a bounded ring for
// the round-robin strategy and stats reporting.
type allocationRecord struct {
	requestID    string
	clientID     string
	resourceType string
	amount       float64
	timestamp    time.Time
	waitTime     time.Duration
}

// Allocator is the fair resource allocation manager.
type Allocator struct {
	strategy Strategy

	mu          sync.Mutex
	pools       map[string]*Pool
	allocations map[string]*clientAllocation
	pending     requestHeap
	history     []allocationRecord // bounded ring, most recent last
	maxHistory  int

	totalRequests         int64
	successfulAllocations int64
	failedAllocations     int64
	expiredRequests       int64

	stop chan struct{}
	done chan struct{}
}

// New builds an allocator using strategy.
func New(strategy Strategy) *Allocator {
	if strategy == "" {
		strategy = StrategyWeightedFair
	}
	a := &Allocator{
		strategy:    strategy,
		pools:       make(map[string]*Pool),
		allocations: make(map[string]*clientAllocation),
		maxHistory:  1000,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	heap.Init(&a.pending)
	return a
}

// Start launches the background pending-request drain loop.
func (a *Allocator) Start() {
	go a.allocationLoop()
}

// Stop halts the drain loop.
func (a *Allocator) Stop() {
	close(a.stop)
	<-a.done
}

func (a *Allocator) allocationLoop() {
	defer close(a.done)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.processPending()
		}
	}
}

// AddResourcePool registers a resource type with the given capacity;
// reservedPercent of it is held back for high-priority requests (spec
// §4.9 "priority-based" strategy).
func (a *Allocator) AddResourcePool(resourceType string, totalCapacity, reservedPercent float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pools[resourceType] = &Pool{
		ResourceType:   resourceType,
		TotalCapacity:  totalCapacity,
		Reserved:       totalCapacity * reservedPercent,
		MinAllocation:  1.0,
		AllocationUnit: 1.0,
	}
}

// RequestResources requests amount of resourceType for clientID. It
// allocates immediately if possible; otherwise it queues the request and
// returns once either allocated or expired past maxWait.
func (a *Allocator) RequestResources(clientID, resourceType string, amount float64, priority int, maxWait time.Duration) (bool, error) {
	a.mu.Lock()
	pool, ok := a.pools[resourceType]
	if !ok {
		a.mu.Unlock()
		return false, fmt.Errorf("allocator: resource type %q not available", resourceType)
	}
	if amount <= 0 || amount > pool.TotalCapacity {
		a.mu.Unlock()
		return false, fmt.Errorf("allocator: invalid allocation amount %v", amount)
	}

	a.totalRequests++

	req := &request{
		id:           fmt.Sprintf("%s_%s_%d", clientID, resourceType, a.totalRequests),
		clientID:     clientID,
		resourceType: resourceType,
		amount:       amount,
		priority:     priority,
		maxWait:      maxWait,
		createdAt:    time.Now(),
		done:         make(chan allocationOutcome, 1),
	}

	if a.tryImmediateAllocationLocked(req) {
		a.mu.Unlock()
		return true, nil
	}

	heap.Push(&a.pending, req)
	a.mu.Unlock()

	if maxWait <= 0 {
		return false, nil
	}

	select {
	case outcome := <-req.done:
		return outcome.ok, outcome.err
	case <-time.After(maxWait):
		return false, nil
	}
}

// tryImmediateAllocationLocked must be called with a.mu held.
func (a *Allocator) tryImmediateAllocationLocked(req *request) bool {
	pool := a.pools[req.resourceType]
	if !pool.canAllocate(req.amount) {
		return false
	}
	if !a.canAllocateByStrategyLocked(req) {
		return false
	}
	return a.performAllocationLocked(req)
}

func (a *Allocator) canAllocateByStrategyLocked(req *request) bool {
	switch a.strategy {
	case StrategyFairShare:
		return a.checkFairShareLocked(req)
	case StrategyPriorityBased:
		return a.checkPriorityBasedLocked(req)
	case StrategyWeightedFair:
		return a.checkWeightedFairLocked(req)
	case StrategyRoundRobin:
		return a.checkRoundRobinLocked(req)
	default:
		return true
	}
}

func (a *Allocator) checkFairShareLocked(req *request) bool {
	pool := a.pools[req.resourceType]
	activeClients := len(a.allocations)
	fairShare := pool.TotalCapacity / float64(max(activeClients+1, 1))

	if alloc, ok := a.allocations[req.clientID]; ok {
		current := alloc.get(req.resourceType)
		if current+req.amount > fairShare*1.1 {
			return false
		}
	}
	return true
}

func (a *Allocator) checkPriorityBasedLocked(req *request) bool {
	pool := a.pools[req.resourceType]
	if req.priority >= 4 {
		return pool.Available()+pool.Reserved >= req.amount
	}
	return pool.Available()-pool.Reserved >= req.amount
}

func (a *Allocator) checkWeightedFairLocked(req *request) bool {
	clientWeight := a.clientWeightLocked(req.clientID)
	var totalWeights float64
	for _, alloc := range a.allocations {
		totalWeights += alloc.weight
	}
	totalWeights += clientWeight

	pool := a.pools[req.resourceType]
	weightedShare := (clientWeight / totalWeights) * pool.TotalCapacity

	if alloc, ok := a.allocations[req.clientID]; ok {
		current := alloc.get(req.resourceType)
		return current+req.amount <= weightedShare*1.2
	}
	return true
}

func (a *Allocator) checkRoundRobinLocked(req *request) bool {
	if len(a.history) == 0 {
		return true
	}
	start := 0
	if len(a.history) > 10 {
		start = len(a.history) - 10
	}
	recent := a.history[start:]

	var clientRecentCount int
	for _, rec := range recent {
		if rec.clientID == req.clientID {
			clientRecentCount++
		}
	}
	return clientRecentCount < 3
}

func (a *Allocator) clientWeightLocked(clientID string) float64 {
	if alloc, ok := a.allocations[clientID]; ok {
		return alloc.weight
	}
	return 1.0
}

func (a *Allocator) performAllocationLocked(req *request) bool {
	pool := a.pools[req.resourceType]
	if !pool.allocate(req.amount) {
		return false
	}

	alloc, ok := a.allocations[req.clientID]
	if !ok {
		alloc = newClientAllocation(req.clientID)
		a.allocations[req.clientID] = alloc
	}
	alloc.add(req.resourceType, req.amount)

	a.history = append(a.history, allocationRecord{
		requestID:    req.id,
		clientID:     req.clientID,
		resourceType: req.resourceType,
		amount:       req.amount,
		timestamp:    time.Now(),
		waitTime:     req.age(),
	})
	if len(a.history) > a.maxHistory {
		a.history = a.history[len(a.history)-a.maxHistory:]
	}

	a.successfulAllocations++
	return true
}

// ReleaseResources returns amount of resourceType from clientID back to
// its pool.
func (a *Allocator) ReleaseResources(clientID, resourceType string, amount float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	alloc, ok := a.allocations[clientID]
	if !ok {
		return false
	}

	current := alloc.get(resourceType)
	if current < amount {
		amount = current
	}

	if pool, ok := a.pools[resourceType]; ok {
		pool.release(amount)
	}
	alloc.remove(resourceType, amount)

	if alloc.totalAllocatedAcrossTypes() == 0 {
		delete(a.allocations, clientID)
	}
	return true
}

// processPending drains the heap, allocating whatever it can and stopping
// at the first request that still cannot be served (mirrors
// _process_pending_requests's early break to avoid an infinite loop).
func (a *Allocator) processPending() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for a.pending.Len() > 0 {
		req := heap.Pop(&a.pending).(*request)

		if req.isExpired() {
			a.expiredRequests++
			req.done <- allocationOutcome{ok: false, err: fmt.Errorf("allocator: request %s expired", req.id)}
			continue
		}

		if a.tryImmediateAllocationLocked(req) {
			req.done <- allocationOutcome{ok: true}
			continue
		}

		heap.Push(&a.pending, req)
		break
	}
}

// SetClientPriority sets clientID's priority for priority-based strategies.
func (a *Allocator) SetClientPriority(clientID string, priority int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	alloc, ok := a.allocations[clientID]
	if !ok {
		alloc = newClientAllocation(clientID)
		a.allocations[clientID] = alloc
	}
	alloc.priority = priority
}

// SetClientWeight sets clientID's weight for the weighted-fair strategy.
func (a *Allocator) SetClientWeight(clientID string, weight float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	alloc, ok := a.allocations[clientID]
	if !ok {
		alloc = newClientAllocation(clientID)
		a.allocations[clientID] = alloc
	}
	alloc.weight = weight
}

// Stats reports pool occupancy, per-client allocation, and allocation
// outcome counters for the monitoring surface.
func (a *Allocator) Stats() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	pools := make(map[string]any, len(a.pools))
	for rt, p := range a.pools {
		pools[rt] = map[string]any{
			"total_capacity":      p.TotalCapacity,
			"allocated":           p.Allocated,
			"available":           p.Available(),
			"utilization_percent": p.Utilization(),
			"reserved":            p.Reserved,
		}
	}

	clients := make(map[string]any, len(a.allocations))
	for id, alloc := range a.allocations {
		clients[id] = map[string]any{
			"allocated_resources": alloc.allocated,
			"total_allocated":     alloc.totalAllocated,
			"allocation_count":    alloc.allocationCount,
			"priority":            alloc.priority,
			"weight":              alloc.weight,
		}
	}

	var successRate float64
	if a.totalRequests > 0 {
		successRate = float64(a.successfulAllocations) / float64(a.totalRequests)
	}

	return map[string]any{
		"strategy":           a.strategy,
		"resource_pools":     pools,
		"client_allocations": clients,
		"pending_requests":   a.pending.Len(),
		"allocation_stats": map[string]any{
			"total_requests":         a.totalRequests,
			"successful_allocations": a.successfulAllocations,
			"failed_allocations":     a.failedAllocations,
			"expired_requests":       a.expiredRequests,
			"success_rate":           successRate,
		},
	}
}
