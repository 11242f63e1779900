package scipexport

import (
	"fmt"
	"os"
	"sort"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"

	"yarals/internal/errors"
)

// Summary describes a loaded index.
type Summary struct {
	Tool        string   `json:"tool" yaml:"tool"`
	ToolVersion string   `json:"toolVersion" yaml:"toolVersion"`
	Documents   int      `json:"documents" yaml:"documents"`
	Symbols     int      `json:"symbols" yaml:"symbols"`
	Definitions int      `json:"definitions" yaml:"definitions"`
	References  int      `json:"references" yaml:"references"`
	Paths       []string `json:"paths" yaml:"paths"`
}

// Load reads an index written by Write (or any SCIP producer).
func Load(path string) (*scippb.Index, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.NewError(
			errors.NotFound,
			fmt.Sprintf("SCIP index not found at %s", path),
			err,
		)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewError(
			errors.InternalError,
			fmt.Sprintf("Failed to read SCIP index from %s", path),
			err,
		)
	}

	var index scippb.Index
	if err := proto.Unmarshal(data, &index); err != nil {
		return nil, errors.NewError(
			errors.InternalError,
			fmt.Sprintf("Failed to parse SCIP index from %s", path),
			err,
		)
	}
	return &index, nil
}

// Summarize counts the contents of an index.
func Summarize(index *scippb.Index) Summary {
	var s Summary
	if meta := index.GetMetadata(); meta != nil && meta.GetToolInfo() != nil {
		s.Tool = meta.GetToolInfo().GetName()
		s.ToolVersion = meta.GetToolInfo().GetVersion()
	}

	s.Documents = len(index.GetDocuments())
	for _, doc := range index.GetDocuments() {
		s.Paths = append(s.Paths, doc.GetRelativePath())
		s.Symbols += len(doc.GetSymbols())
		for _, occ := range doc.GetOccurrences() {
			if occ.GetSymbolRoles()&int32(scippb.SymbolRole_Definition) != 0 {
				s.Definitions++
			} else {
				s.References++
			}
		}
	}
	sort.Strings(s.Paths)
	return s
}
