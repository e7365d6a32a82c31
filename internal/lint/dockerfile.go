package lint

import (
	"fmt"
	"io"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/parser"
)

// Instruction is one logical Dockerfile line.
type Instruction struct {
	Command string
	Args    []string
	Flags   []string
	JSON    bool
	Raw     string
	Line    int
}

// Dockerfile is the instruction list of a parsed Dockerfile.
type Dockerfile struct {
	Instructions []Instruction
}

// Parse reads a Dockerfile with the BuildKit frontend parser.
func Parse(r io.Reader) (Dockerfile, error) {
	result, err := parser.Parse(r)
	if err != nil {
		return Dockerfile{}, fmt.Errorf("parse dockerfile: %w", err)
	}
	var df Dockerfile
	for _, node := range result.AST.Children {
		inst := Instruction{
			Command: strings.ToUpper(node.Value),
			Flags:   append([]string(nil), node.Flags...),
			JSON:    node.Attributes["json"],
			Raw:     node.Original,
			Line:    node.StartLine,
		}
		for next := node.Next; next != nil; next = next.Next {
			inst.Args = append(inst.Args, next.Value)
		}
		df.Instructions = append(df.Instructions, inst)
	}
	return df, nil
}

// FinalStage returns the instructions from the last FROM onwards.
func (d Dockerfile) FinalStage() []Instruction {
	start := 0
	for i, inst := range d.Instructions {
		if inst.Command == "FROM" {
			start = i
		}
	}
	return d.Instructions[start:]
}

// Body is the instruction text after the keyword, with line continuations
// folded.
func (i Instruction) Body() string {
	raw := strings.TrimSpace(i.Raw)
	if len(raw) >= len(i.Command) && strings.EqualFold(raw[:len(i.Command)], i.Command) {
		raw = raw[len(i.Command):]
	}
	raw = strings.ReplaceAll(raw, "\\\n", " ")
	return strings.TrimSpace(raw)
}

// Shell returns the command text of a RUN, CMD or ENTRYPOINT.
func (i Instruction) Shell() string {
	if i.JSON {
		return strings.Join(i.Args, " ")
	}
	if len(i.Args) == 1 {
		return i.Args[0]
	}
	return strings.Join(i.Args, " ")
}

// EnvKeys lists the variables an ENV instruction declares.
func (i Instruction) EnvKeys() []string {
	if i.Command != "ENV" {
		return nil
	}
	fields := strings.Fields(strings.ReplaceAll(i.Body(), "\\", " "))
	if len(fields) == 0 {
		return nil
	}
	// legacy form: ENV KEY value with spaces
	if !strings.Contains(fields[0], "=") {
		return []string{fields[0]}
	}
	var keys []string
	for _, field := range fields {
		if key, _, ok := strings.Cut(field, "="); ok && key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// Sources returns the source operands of a COPY or ADD.
func (i Instruction) Sources() []string {
	if len(i.Args) < 2 {
		return nil
	}
	return i.Args[:len(i.Args)-1]
}

// Flag returns the value of a --name=value flag.
func (i Instruction) Flag(name string) (string, bool) {
	prefix := "--" + name
	for _, flag := range i.Flags {
		if flag == prefix {
			return "", true
		}
		if value, ok := strings.CutPrefix(flag, prefix+"="); ok {
			return value, true
		}
	}
	return "", false
}
