// Package inventory reads a fixed host list from an Ansible-style YAML
// inventory, as an alternative to scanning the subnet.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Host is one inventory entry
type Host struct {
	Name    string   // inventory hostname
	Address string   // ansible_host when set, otherwise Name
	Groups  []string // group path from the root, outermost first
}

// Inventory is a parsed inventory file
type Inventory struct {
	hosts []Host
}

// ansibleData is the subset of the Ansible YAML inventory layout that matters here
type ansibleData struct {
	All    ansibleGroup             `yaml:"all"`
	Groups map[string]*ansibleGroup `yaml:",inline"`
}

type ansibleGroup struct {
	Hosts    map[string]*ansibleHost  `yaml:"hosts"`
	Children map[string]*ansibleGroup `yaml:"children"`
}

type ansibleHost struct {
	AnsibleHost string `yaml:"ansible_host"`
}

// Load parses path. YAML and JSON are both accepted since JSON is valid YAML.
func Load(path string) (*Inventory, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml", ".json":
	default:
		return nil, fmt.Errorf("unsupported inventory file format: %s", ext)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}
	return Parse(content)
}

// Parse decodes inventory content
func Parse(content []byte) (*Inventory, error) {
	var data ansibleData
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("failed to parse inventory file: %w", err)
	}

	inv := &Inventory{}
	seen := make(map[string]bool)

	inv.collect(&data.All, nil, seen)
	for _, name := range sortedKeys(data.Groups) {
		inv.collect(data.Groups[name], []string{name}, seen)
	}
	return inv, nil
}

// collect walks group depth-first; a host keeps the first group path it was found under
func (inv *Inventory) collect(group *ansibleGroup, path []string, seen map[string]bool) {
	if group == nil {
		return
	}
	for _, name := range sortedKeys(group.Hosts) {
		if seen[name] {
			continue
		}
		seen[name] = true

		h := Host{Name: name, Address: name, Groups: append([]string(nil), path...)}
		if entry := group.Hosts[name]; entry != nil && strings.TrimSpace(entry.AnsibleHost) != "" {
			h.Address = strings.TrimSpace(entry.AnsibleHost)
		}
		inv.hosts = append(inv.hosts, h)
	}
	for _, child := range sortedKeys(group.Children) {
		childPath := append(append([]string(nil), path...), child)
		inv.collect(group.Children[child], childPath, seen)
	}
}

// Hosts returns every host in inventory order
func (inv *Inventory) Hosts() []Host {
	return append([]Host(nil), inv.hosts...)
}

// Groups returns the names of every group that contains at least one host
func (inv *Inventory) Groups() []string {
	set := make(map[string]bool)
	for _, h := range inv.hosts {
		for _, g := range h.Groups {
			set[g] = true
		}
	}
	return sortedKeys(set)
}

// Addresses returns the deduplicated host addresses, limited to group when it
// is not empty.
func (inv *Inventory) Addresses(group string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	matched := group == ""

	for _, h := range inv.hosts {
		if group != "" && !h.inGroup(group) {
			continue
		}
		matched = true
		if seen[h.Address] {
			continue
		}
		seen[h.Address] = true
		out = append(out, h.Address)
	}

	if !matched {
		return nil, fmt.Errorf("group '%s' not found in inventory", group)
	}
	return out, nil
}

func (h Host) inGroup(group string) bool {
	for _, g := range h.Groups {
		if g == group {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
