package flow

import (
	"fmt"
	"strings"
)

// TypeRegistry answers whether a step type has a registered handler.
// *step.Registry satisfies it.
type TypeRegistry interface {
	Has(stepType string) bool
}

// engineHandledTypes are dispatched by the engine itself and need no
// registered handler.
var engineHandledTypes = map[string]bool{
	TypeCondition:       true,
	TypeWaitForApproval: true,
	TypeWaitForEvent:    true,
}

// Validate checks a workflow definition before publication and returns every
// problem found, in check order. An empty result means the definition is
// runnable.
//
// Structural failures short-circuit: with no nodes, broken edge references,
// or a cycle there is no meaningful graph to run the remaining checks
// against.
func Validate(def *Definition, types TypeRegistry) []string {
	if len(def.Nodes) == 0 {
		return []string{"workflow must contain at least one node"}
	}

	ids := make(map[string]bool, len(def.Nodes))
	var errs []string
	for _, n := range def.Nodes {
		if ids[n.ID] {
			errs = append(errs, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		ids[n.ID] = true
	}
	for _, e := range def.Edges {
		if !ids[e.Source] {
			errs = append(errs, fmt.Sprintf("edge %q references unknown source node %q", e.ID, e.Source))
		}
		if !ids[e.Target] {
			errs = append(errs, fmt.Sprintf("edge %q references unknown target node %q", e.ID, e.Target))
		}
	}
	if len(errs) > 0 {
		return errs
	}

	g, err := NewGraph(def)
	if err != nil {
		return []string{err.Error()}
	}
	if g.HasCycle() {
		return []string{"workflow graph contains a cycle"}
	}

	errs = append(errs, checkStepTypes(def, types)...)
	errs = append(errs, checkConditions(def, g)...)
	errs = append(errs, checkOrphans(def, g)...)
	errs = append(errs, checkTemplateRefs(def, g)...)
	errs = append(errs, checkForEach(def)...)
	return errs
}

func checkStepTypes(def *Definition, types TypeRegistry) []string {
	var errs []string
	for _, n := range def.Nodes {
		if n.Type == "" {
			errs = append(errs, fmt.Sprintf("node %q has no type", n.ID))
			continue
		}
		if engineHandledTypes[n.Type] || n.Type == TypeForEach {
			continue
		}
		if types == nil || !types.Has(n.Type) {
			errs = append(errs, fmt.Sprintf("node %q has unknown step type %q", n.ID, n.Type))
		}
	}
	return errs
}

func checkConditions(def *Definition, g *Graph) []string {
	var errs []string
	for _, n := range def.Nodes {
		if n.Type != TypeCondition {
			continue
		}
		expr, _ := n.Data.Config["expression"].(string)
		if strings.TrimSpace(expr) == "" {
			errs = append(errs, fmt.Sprintf("condition node %q has no expression", n.ID))
		}
		labels := map[string]bool{}
		for _, e := range g.EdgesFrom(n.ID) {
			labels[e.ConditionLabel()] = true
		}
		for _, want := range []string{"true", "false"} {
			if !labels[want] {
				errs = append(errs, fmt.Sprintf("condition node %q has no outgoing %q edge", n.ID, want))
			}
		}
	}
	return errs
}

func checkOrphans(def *Definition, g *Graph) []string {
	if len(def.Nodes) <= 1 {
		return nil
	}
	var errs []string
	for _, n := range def.Nodes {
		if len(g.Parents(n.ID)) == 0 && len(g.EdgesFrom(n.ID)) == 0 {
			errs = append(errs, fmt.Sprintf("node %q is not connected to the workflow", n.ID))
		}
	}
	return errs
}

func checkTemplateRefs(def *Definition, g *Graph) []string {
	var errs []string
	for _, n := range def.Nodes {
		allowed := map[string]bool{"input": true}
		for name := range literalAliases {
			allowed[name] = true
		}
		for _, up := range g.UpstreamIDs(n.ID) {
			allowed[up] = true
		}
		if n.Type == TypeForEach {
			// Item templates resolve against the per-item scope.
			allowed["_item"] = true
			allowed["_index"] = true
		}
		for _, ref := range ExtractTemplateRefs(n.Data.Config) {
			if !allowed[ref] {
				errs = append(errs, fmt.Sprintf(
					"node %q references %q which is neither the run input nor an upstream step", n.ID, ref))
			}
		}
	}
	return errs
}

func checkForEach(def *Definition) []string {
	var errs []string
	for _, n := range def.Nodes {
		if n.Type != TypeForEach {
			continue
		}
		switch items := n.Data.Config["items"].(type) {
		case []any:
		case string:
			if !placeholderRe.MatchString(items) {
				errs = append(errs, fmt.Sprintf("for_each node %q items must be a list or a template", n.ID))
			}
		default:
			errs = append(errs, fmt.Sprintf("for_each node %q has no items", n.ID))
		}
	}
	return errs
}
