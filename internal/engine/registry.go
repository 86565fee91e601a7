package engine

import (
	"fmt"
	"net/url"
	"regexp"
	"sync"
)

type hostRule struct {
	pattern *regexp.Regexp
	driver  Driver
}

// Registry maps driver names and URLs to registered drivers. URL resolution
// is first-match-wins in registration order, per host.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
	hosts   map[string][]hostRule
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[string]Driver),
		hosts:   make(map[string][]hostRule),
	}
}

// Register validates d and adds it to the registry. Registering a second
// driver under an already taken name is an error.
func (r *Registry) Register(d Driver) error {
	rules, err := compileRules(d)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[d.Name()]; exists {
		return &StructureError{Name: d.Name(), Reason: "already registered"}
	}
	r.drivers[d.Name()] = d
	for host, hr := range rules {
		r.hosts[host] = append(r.hosts[host], hr...)
	}
	return nil
}

// RegisterAll clears the registry and registers the given drivers in order.
// It is the way to rebuild the registry deterministically.
func (r *Registry) RegisterAll(drivers ...Driver) error {
	r.Reset()
	for _, d := range drivers {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// ResolveByName returns the driver registered under name, or an error
// wrapping ErrNotFound.
func (r *Registry) ResolveByName(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("engine %q: %w", name, ErrNotFound)
	}
	return d, nil
}

// ResolveByURL returns the first registered driver claiming rawurl: the
// driver must list the URL's host and one of its patterns must match the
// full URL.
func (r *Registry) ResolveByURL(rawurl string) (Driver, error) {
	u, err := url.Parse(rawurl)
	if err != nil || u.Host == "" {
		return nil, &InvalidURLError{URL: rawurl}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.hosts[u.Host] {
		if rule.pattern.MatchString(rawurl) {
			return rule.driver, nil
		}
	}
	return nil, &UnsupportedURLError{URL: rawurl, Host: u.Host}
}

// Validate reports whether d could be registered, without registering it.
func (r *Registry) Validate(d Driver) error {
	_, err := compileRules(d)
	return err
}

// Hosts returns a snapshot of the host table: each handled host mapped to
// the names of the drivers claiming it, in registration order.
func (r *Registry) Hosts() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.hosts))
	for host, rules := range r.hosts {
		seen := make(map[string]bool)
		var names []string
		for _, rule := range rules {
			name := rule.driver.Name()
			if seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
		out[host] = names
	}
	return out
}

// Reset drops every registered driver.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers = make(map[string]Driver)
	r.hosts = make(map[string][]hostRule)
}

func compileRules(d Driver) (map[string][]hostRule, error) {
	if d == nil {
		return nil, &StructureError{Reason: "nil driver"}
	}
	if d.Name() == "" {
		return nil, &StructureError{Reason: "empty name"}
	}
	sites := d.Sites()
	if len(sites) == 0 {
		return nil, &StructureError{Name: d.Name(), Reason: "no sites"}
	}

	rules := make(map[string][]hostRule, len(sites))
	for host, patterns := range sites {
		if host == "" {
			return nil, &StructureError{Name: d.Name(), Reason: "empty host"}
		}
		if len(patterns) == 0 {
			return nil, &StructureError{Name: d.Name(), Reason: fmt.Sprintf("no url patterns for host %q", host)}
		}
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, &StructureError{Name: d.Name(), Reason: fmt.Sprintf("bad url pattern %q: %v", p, err)}
			}
			rules[host] = append(rules[host], hostRule{pattern: re, driver: d})
		}
	}
	return rules, nil
}
