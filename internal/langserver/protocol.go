package langserver

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/sourcegraph/jsonrpc2"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"yarals/internal/document"
)

// codeServerNotInitialized is returned for requests sent before initialize.
const codeServerNotInitialized int64 = -32002

// positionEncodingUTF32: characters are counted in code points.
const positionEncodingUTF32 = "utf-32"

// serverCapabilities is the 3.16 capability set plus the 3.17
// positionEncoding field, which protocol_3_16 lacks.
type serverCapabilities struct {
	PositionEncoding       string                           `json:"positionEncoding"`
	TextDocumentSync       protocol.TextDocumentSyncOptions `json:"textDocumentSync"`
	DefinitionProvider     bool                             `json:"definitionProvider"`
	ReferencesProvider     bool                             `json:"referencesProvider"`
	DocumentSymbolProvider bool                             `json:"documentSymbolProvider"`
}

type initializeResult struct {
	Capabilities serverCapabilities                   `json:"capabilities"`
	ServerInfo   *protocol.InitializeResultServerInfo `json:"serverInfo,omitempty"`
}

func invalidParams(err error) *jsonrpc2.Error {
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
}

// hasParams reports whether the request carries non-null params.
func hasParams(req *jsonrpc2.Request) bool {
	return req.Params != nil && string(*req.Params) != "null"
}

// decodeParams unmarshals the request params into v.
func decodeParams(req *jsonrpc2.Request, v any) error {
	if !hasParams(req) {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params for " + req.Method}
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return invalidParams(err)
	}
	return nil
}

func toPosition(p protocol.Position) document.Position {
	return document.Position{Line: int(p.Line), Character: int(p.Character)}
}

func fromPosition(p document.Position) protocol.Position {
	return protocol.Position{Line: protocol.UInteger(p.Line), Character: protocol.UInteger(p.Character)}
}

// toLocation turns a resolved point into a zero-width location.
func toLocation(loc document.Location) protocol.Location {
	pos := fromPosition(loc.Position)
	return protocol.Location{
		URI:   protocol.DocumentUri(loc.URI),
		Range: protocol.Range{Start: pos, End: pos},
	}
}

func nameRange(start document.Position, name string) protocol.Range {
	end := start
	end.Character += utf8.RuneCountInString(name)
	return protocol.Range{Start: fromPosition(start), End: fromPosition(end)}
}

// changeText returns the full text carried by a content change event. Only
// whole-document changes are expected since sync is Full.
func changeText(change any) (string, bool) {
	switch c := change.(type) {
	case protocol.TextDocumentContentChangeEventWhole:
		return c.Text, true
	case *protocol.TextDocumentContentChangeEventWhole:
		return c.Text, true
	case protocol.TextDocumentContentChangeEvent:
		return c.Text, c.Range == nil
	case *protocol.TextDocumentContentChangeEvent:
		return c.Text, c.Range == nil
	case map[string]any:
		if _, ranged := c["range"]; ranged {
			return "", false
		}
		text, ok := c["text"].(string)
		return text, ok
	}
	return "", false
}
