// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"sort"
	"sync"
)

// Registry manages tool registration and lookup.
//
// Thread Safety:
//
//	Registry is fully thread-safe. All methods can be called concurrently.
type Registry struct {
	mu sync.RWMutex

	// byName maps tool names to tool instances.
	byName map[string]Tool

	// byCategory maps categories to lists of tools.
	byCategory map[ToolCategory][]Tool
}

// NewRegistry creates a new empty tool registry.
//
// Outputs:
//
//	*Registry - Empty registry ready for tool registration
func NewRegistry() *Registry {
	return &Registry{
		byName:     make(map[string]Tool),
		byCategory: make(map[ToolCategory][]Tool),
	}
}

// Register adds a tool to the registry.
//
// Description:
//
//	Registers a tool under its Name() and Category(). If a tool with
//	the same name is already registered, it will be replaced.
//
// Inputs:
//
//	tool - The tool to register. Must not be nil.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) Register(tool Tool) {
	if tool == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	category := tool.Category()

	if existing, ok := r.byName[name]; ok {
		oldCategory := existing.Category()
		if oldCategory != category {
			r.removeFromCategory(oldCategory, name)
		}
	}

	r.byName[name] = tool

	if _, ok := r.byCategory[category]; !ok {
		r.byCategory[category] = make([]Tool, 0)
	}

	found := false
	for i, t := range r.byCategory[category] {
		if t.Name() == name {
			r.byCategory[category][i] = tool
			found = true
			break
		}
	}
	if !found {
		r.byCategory[category] = append(r.byCategory[category], tool)
	}
}

// removeFromCategory removes a tool from a category list.
// Caller must hold the write lock.
func (r *Registry) removeFromCategory(category ToolCategory, name string) {
	list, ok := r.byCategory[category]
	if !ok {
		return
	}

	for i, t := range list {
		if t.Name() == name {
			r.byCategory[category] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Get retrieves a tool by name.
//
// Outputs:
//
//	Tool - The tool, or nil if not found
//	bool - True if the tool exists
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.byName[name]
	return tool, ok
}

// GetByCategory returns all tools in a category.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) GetByCategory(category ToolCategory) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byCategory[category]
	out := make([]Tool, len(list))
	copy(out, list)
	return out
}

// Names returns all registered tool names, sorted.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// GetDefinitions returns the definitions of all registered tools, sorted
// by name.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) GetDefinitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.byName))
	for _, tool := range r.byName {
		defs = append(defs, tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
