package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"yarals/internal/document"
	"yarals/internal/errors"
	"yarals/internal/resolve"
)

var definitionCmd = &cobra.Command{
	Use:   "definition <file> <line> <column>",
	Short: "Find where the symbol under a position is defined",
	Long: `Resolve the definition of the rule name or pattern variable at a position.
Line and column are 1-based, as printed by compilers and editors.

Examples:
  yarals definition rules/apt.yar 24 12
  yarals definition rules/apt.yar 24 12 --format=json`,
	Args: cobra.ExactArgs(3),
	RunE: runDefinition,
}

var referencesCmd = &cobra.Command{
	Use:   "references <file> <line> <column>",
	Short: "Find every line referencing the symbol under a position",
	Long: `List the references to the rule name or pattern variable at a position.
A position on a wildcard such as $hex_* lists every pattern in the set.

Examples:
  yarals references rules/apt.yar 3 8
  yarals references rules/apt.yar 26 18 --format=yaml`,
	Args: cobra.ExactArgs(3),
	RunE: runReferences,
}

func init() {
	rootCmd.AddCommand(definitionCmd)
	rootCmd.AddCommand(referencesCmd)
}

// LocationsResponseCLI is the result of a definition or references query.
// Positions are 0-based like the protocol; Display is 1-based.
type LocationsResponseCLI struct {
	Query     string        `json:"query" yaml:"query"`
	Symbol    string        `json:"symbol" yaml:"symbol"`
	Kind      string        `json:"kind" yaml:"kind"`
	Locations []LocationCLI `json:"locations" yaml:"locations"`
}

// LocationCLI is one resolved location.
type LocationCLI struct {
	Path      string `json:"path" yaml:"path"`
	Line      int    `json:"line" yaml:"line"`
	Character int    `json:"character" yaml:"character"`
	Display   string `json:"display" yaml:"display"`
	Text      string `json:"text" yaml:"text"`
}

func runDefinition(cmd *cobra.Command, args []string) error {
	return runNavigate(cmd, args, "definition")
}

func runReferences(cmd *cobra.Command, args []string) error {
	return runNavigate(cmd, args, "references")
}

func runNavigate(cmd *cobra.Command, args []string, query string) error {
	env, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	pos, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}

	doc, err := document.Load(args[0])
	if err != nil {
		return err
	}

	resp, err := navigate(resolve.New(env.cfg.Resolve.Sigils), doc, pos, query)
	if err != nil {
		env.logger.Debug("Resolution failed", "query", query, "position", pos.String(), "error", err.Error())
		return err
	}
	env.logger.Debug("Resolution completed", "query", query, "symbol", resp.Symbol, "locations", len(resp.Locations))
	return printResponse(cmd, resp)
}

// navigate runs a definition or references query against doc.
func navigate(r *resolve.Resolver, doc *document.Document, pos document.Position, query string) (*LocationsResponseCLI, error) {
	if pos.Line >= doc.LineCount() {
		return nil, errors.NewError(errors.InvalidPosition,
			fmt.Sprintf("line %d is past the end of the document (%d lines)", pos.Line+1, doc.LineCount()), nil)
	}

	sym, err := r.SymbolAt(doc, pos)
	if err != nil {
		return nil, err
	}

	var locs []document.Location
	switch query {
	case "definition":
		loc, err := r.ResolveDefinition(doc, pos)
		if err != nil {
			return nil, err
		}
		locs = []document.Location{loc}
	default:
		locs, err = r.ResolveReferences(doc, pos)
		if err != nil {
			return nil, err
		}
	}

	display := sym.Sigil + sym.Text
	if sym.Wildcard {
		display += string(resolve.WildcardMarker)
	}
	resp := &LocationsResponseCLI{
		Query:  query,
		Symbol: display,
		Kind:   sym.Kind.String(),
	}
	for _, loc := range locs {
		resp.Locations = append(resp.Locations, LocationCLI{
			Path:      document.PathFromURI(loc.URI),
			Line:      loc.Position.Line,
			Character: loc.Position.Character,
			Display:   document.PathFromURI(loc.URI) + ":" + loc.Position.String(),
			Text:      doc.LineAt(loc.Position.Line),
		})
	}
	return resp, nil
}

// parsePosition converts 1-based CLI arguments into a 0-based position.
func parsePosition(lineArg, colArg string) (document.Position, error) {
	line, err := strconv.Atoi(lineArg)
	if err != nil || line < 1 {
		return document.Position{}, errors.NewError(errors.InvalidPosition,
			fmt.Sprintf("invalid line %q: must be a positive integer", lineArg), nil)
	}
	col, err := strconv.Atoi(colArg)
	if err != nil || col < 1 {
		return document.Position{}, errors.NewError(errors.InvalidPosition,
			fmt.Sprintf("invalid column %q: must be a positive integer", colArg), nil)
	}
	return document.Position{Line: line - 1, Character: col - 1}, nil
}
