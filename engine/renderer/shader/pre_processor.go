// pre_processor.go implements the WGSL pre-processor. It scans shader source for //@conduit:
// annotations and replaces them with registered struct sources or generated declarations, so
// that pass shaders share the exact struct layouts generated from host record types.
//
// Supported annotations:
//   - //@conduit:include <Name> injects the struct source registered under Name.
//   - //@conduit:uniform <group> <binding> <var_name> <Name> emits
//     "@group(group) @binding(binding) var<uniform> var_name: Name;".
package shader

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

const annotationPrefix = "@conduit:"

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	mu       sync.RWMutex
	includes map[string]string
}

// PreProcessor expands //@conduit: annotations in WGSL source using a registry of named struct
// sources. Registrations are safe for concurrent use with Process.
type PreProcessor interface {
	// Register adds a named WGSL source fragment that //@conduit:include can inject.
	//
	// Parameters:
	//   - name: the include name, also used as the WGSL type name by //@conduit:uniform
	//   - source: the WGSL source to inject
	//
	// Returns:
	//   - error: an error if the name is empty or already registered with a different source
	Register(name, source string) error

	// RegisterSpec registers the WGSL struct generated from an InterfaceSpec under name.
	//
	// Parameters:
	//   - name: the include and struct name
	//   - spec: the spec whose struct is generated
	//   - firstLocation: the first @location used for attribute specs, ignored for uniform specs
	//
	// Returns:
	//   - error: an error if the name is already registered with a different source
	RegisterSpec(name string, spec *InterfaceSpec, firstLocation uint32) error

	// Process takes raw WGSL shader source and replaces each annotation with its WGSL output.
	//
	// Parameters:
	//   - source: the raw WGSL shader source code containing annotations
	//
	// Returns:
	//   - string: the processed WGSL source
	//   - error: an error naming the line if an annotation is malformed or references an unknown include
	Process(source string) (string, error)
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates an empty PreProcessor.
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor() PreProcessor {
	return &preProcessor{includes: make(map[string]string)}
}

func (p *preProcessor) Register(name, source string) error {
	if name == "" {
		return fmt.Errorf("shader: include name must not be empty")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.includes[name]; ok && existing != source {
		return fmt.Errorf("shader: include %q already registered", name)
	}
	p.includes[name] = source
	return nil
}

func (p *preProcessor) RegisterSpec(name string, spec *InterfaceSpec, firstLocation uint32) error {
	return p.Register(name, spec.WGSLStruct(name, firstLocation))
}

func (p *preProcessor) Process(source string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	included := make(map[string]bool)

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(trimmed, "//")
		if !ok {
			out = append(out, line)
			continue
		}
		directive, ok := strings.CutPrefix(strings.TrimSpace(rest), annotationPrefix)
		if !ok {
			out = append(out, line)
			continue
		}

		args := strings.Fields(directive)
		if len(args) == 0 {
			return "", fmt.Errorf("line %d: empty @conduit annotation", i+1)
		}

		switch args[0] {
		case "include":
			if len(args) != 2 {
				return "", fmt.Errorf("line %d: @conduit:include requires exactly one argument", i+1)
			}
			src, ok := p.includes[args[1]]
			if !ok {
				return "", fmt.Errorf("line %d: unknown @conduit:include argument %q", i+1, args[1])
			}
			// repeated includes of the same struct would redeclare it
			if !included[args[1]] {
				out = append(out, src)
				included[args[1]] = true
			}
		case "uniform":
			if len(args) != 5 {
				return "", fmt.Errorf("line %d: @conduit:uniform requires group, binding, variable name and type", i+1)
			}
			group, err := strconv.Atoi(args[1])
			if err != nil {
				return "", fmt.Errorf("line %d: invalid group number %q: %v", i+1, args[1], err)
			}
			binding, err := strconv.Atoi(args[2])
			if err != nil {
				return "", fmt.Errorf("line %d: invalid binding number %q: %v", i+1, args[2], err)
			}
			if _, ok := p.includes[args[4]]; !ok {
				return "", fmt.Errorf("line %d: unknown struct type %q in @conduit:uniform", i+1, args[4])
			}
			out = append(out, fmt.Sprintf("@group(%d) @binding(%d) var<uniform> %s: %s;", group, binding, args[3], args[4]))
		default:
			return "", fmt.Errorf("line %d: unknown @conduit annotation %q", i+1, args[0])
		}
	}
	return strings.Join(out, "\n"), nil
}
