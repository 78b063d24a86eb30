package engine

import "strings"

// CommandBuilder assembles one ffmpeg invocation: global args, input args,
// -i, any further inputs, -vf filter chain, output args, output.
type CommandBuilder struct {
	logLevel   string
	globalArgs []string
	inputArgs  []string
	input      string
	extra      []Input
	filters    []string
	outputArgs []string
	output     string
}

// NewCommandBuilder create a builder. Banner is hidden and outputs are
// always overwritten since every output path is job scoped.
func NewCommandBuilder(logLevel string) *CommandBuilder {
	if logLevel == "" {
		logLevel = "error"
	}
	return &CommandBuilder{
		logLevel:   logLevel,
		globalArgs: []string{"-hide_banner", "-nostdin", "-y"},
	}
}

// InputArgs args placed before -i
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input set the input path
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// AddInput appends a further input after the primary one
func (b *CommandBuilder) AddInput(in Input) *CommandBuilder {
	b.extra = append(b.extra, in)
	return b
}

// Filters appends to the -vf chain
func (b *CommandBuilder) Filters(filters ...string) *CommandBuilder {
	b.filters = append(b.filters, filters...)
	return b
}

// OutputArgs args placed after the filter chain
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output set the output path
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build returns the argument list, without the binary
func (b *CommandBuilder) Build() []string {
	args := []string{"-loglevel", b.logLevel}
	args = append(args, b.globalArgs...)
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	for _, in := range b.extra {
		args = append(args, in.Args...)
		args = append(args, "-i", in.Path)
	}
	if len(b.filters) > 0 {
		args = append(args, "-vf", strings.Join(b.filters, ","))
	}
	args = append(args, b.outputArgs...)
	return append(args, b.output)
}
