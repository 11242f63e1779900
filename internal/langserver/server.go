// Package langserver serves the resolution engine over a TCP JSON-RPC
// connection using Language Server Protocol framing and method names.
package langserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"yarals/internal/document"
	"yarals/internal/resolve"
	"yarals/internal/slogutil"
	"yarals/internal/version"
)

// Server answers navigation requests for any number of connections. Open
// documents are shared by all connections.
type Server struct {
	resolver *resolve.Resolver
	logger   *slog.Logger

	mu   sync.RWMutex
	docs map[string]*document.Document
}

// NewServer creates a server using resolver for all lookups.
func NewServer(resolver *resolve.Resolver, logger *slog.Logger) *Server {
	if resolver == nil {
		resolver = resolve.New("")
	}
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return &Server{
		resolver: resolver,
		logger:   logger,
		docs:     make(map[string]*document.Document),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Open connections
// are closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("Language server listening",
		"addr", ln.Addr().String(),
		"sigils", s.resolver.Sigils(),
	)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ServeConn(ctx, conn); err != nil {
				s.logger.Warn("Connection ended with error", "remote", conn.RemoteAddr().String(), "error", err.Error())
			}
		}()
	}
}

// session is the per-connection protocol state. Requests on one connection
// are handled in order, so the flags need no lock.
type session struct {
	server      *Server
	logger      *slog.Logger
	initialized bool
	shutdown    bool
}

// ServeConn runs the protocol on a single stream until the client sends
// exit, the stream ends or breaks, or ctx is cancelled. rwc is closed on
// return.
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) error {
	sess := &session{
		server: s,
		logger: s.logger.With("session", uuid.NewString()),
	}

	conn := jsonrpc2.NewConn(ctx,
		jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(sess.handle),
		jsonrpc2.SetLogger(slog.NewLogLogger(sess.logger.Handler(), slog.LevelWarn)),
	)
	sess.logger.Debug("Session opened")

	select {
	case <-conn.DisconnectNotify():
	case <-ctx.Done():
		_ = conn.Close()
		<-conn.DisconnectNotify()
	}

	sess.logger.Debug("Session closed")
	return nil
}

// handle dispatches one request or notification. Results of notifications
// are discarded by jsonrpc2.
func (sess *session) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	sess.logger.Debug("Received", "method", req.Method, "notification", req.Notif)

	switch req.Method {
	case "initialize":
		return sess.initialize(req)
	case "initialized":
		return nil, nil
	case "exit":
		sess.logger.Debug("Exit received")
		return nil, conn.Close()
	}

	if req.Notif {
		sess.notify(req)
		return nil, nil
	}

	if !sess.initialized {
		return nil, &jsonrpc2.Error{Code: codeServerNotInitialized, Message: "server not initialized"}
	}
	if sess.shutdown {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "server is shutting down"}
	}

	s := sess.server
	switch req.Method {
	case "shutdown":
		sess.shutdown = true
		return nil, nil

	case "textDocument/definition":
		var params protocol.DefinitionParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		return s.definition(sess, params.TextDocumentPositionParams), nil

	case "textDocument/references":
		var params protocol.ReferenceParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		return s.references(sess, params.TextDocumentPositionParams), nil

	case "textDocument/documentSymbol":
		var params protocol.DocumentSymbolParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		return s.documentSymbols(string(params.TextDocument.URI)), nil
	}

	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found: " + req.Method}
}

func (sess *session) initialize(req *jsonrpc2.Request) (any, error) {
	var params protocol.InitializeParams
	if hasParams(req) {
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
	}

	rootURI := ""
	if params.RootURI != nil {
		rootURI = string(*params.RootURI)
	}
	sess.initialized = true
	sess.logger.Info("Client initialized", "rootUri", rootURI)

	openClose := true
	var change protocol.TextDocumentSyncKind = protocol.TextDocumentSyncKindFull
	serverVersion := version.Current().Label()
	return initializeResult{
		Capabilities: serverCapabilities{
			PositionEncoding: positionEncodingUTF32,
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				OpenClose: &openClose,
				Change:    &change,
			},
			DefinitionProvider:     true,
			ReferencesProvider:     true,
			DocumentSymbolProvider: true,
		},
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    version.Name,
			Version: &serverVersion,
		},
	}, nil
}

// notify handles document sync. Malformed notifications are dropped.
func (sess *session) notify(req *jsonrpc2.Request) {
	s := sess.server
	switch req.Method {
	case "textDocument/didOpen":
		var params protocol.DidOpenTextDocumentParams
		if err := decodeParams(req, &params); err != nil {
			sess.logger.Warn("Bad didOpen params", "error", err.Error())
			return
		}
		s.setDocument(string(params.TextDocument.URI), params.TextDocument.Text)

	case "textDocument/didChange":
		var params protocol.DidChangeTextDocumentParams
		if err := decodeParams(req, &params); err != nil {
			sess.logger.Warn("Bad didChange params", "error", err.Error())
			return
		}
		for i := len(params.ContentChanges) - 1; i >= 0; i-- {
			if text, ok := changeText(params.ContentChanges[i]); ok {
				s.setDocument(string(params.TextDocument.URI), text)
				return
			}
		}
		sess.logger.Warn("didChange without a full-text change", "uri", string(params.TextDocument.URI))

	case "textDocument/didClose":
		var params protocol.DidCloseTextDocumentParams
		if err := decodeParams(req, &params); err != nil {
			sess.logger.Warn("Bad didClose params", "error", err.Error())
			return
		}
		s.mu.Lock()
		delete(s.docs, string(params.TextDocument.URI))
		s.mu.Unlock()

	default:
		sess.logger.Debug("Ignoring notification", "method", req.Method)
	}
}

func (s *Server) setDocument(uri, text string) {
	s.mu.Lock()
	s.docs[uri] = document.New(uri, text)
	s.mu.Unlock()
}

// document returns the open buffer for uri, or reads it from disk.
func (s *Server) document(uri string) (*document.Document, bool) {
	s.mu.RLock()
	doc, ok := s.docs[uri]
	s.mu.RUnlock()
	if ok {
		return doc, true
	}

	data, err := os.ReadFile(document.PathFromURI(uri))
	if err != nil {
		return nil, false
	}
	return document.New(uri, string(data)), true
}

// definition returns a *protocol.Location, nil when nothing resolves.
func (s *Server) definition(sess *session, params protocol.TextDocumentPositionParams) *protocol.Location {
	doc, ok := s.document(string(params.TextDocument.URI))
	if !ok {
		return nil
	}
	pos := toPosition(params.Position)
	loc, err := s.resolver.ResolveDefinition(doc, pos)
	if err != nil {
		sess.logger.Debug("No definition", "position", pos.String(), "error", err.Error())
		return nil
	}
	result := toLocation(loc)
	return &result
}

// references never returns nil so the reply is [] rather than null.
func (s *Server) references(sess *session, params protocol.TextDocumentPositionParams) []protocol.Location {
	result := []protocol.Location{}
	doc, ok := s.document(string(params.TextDocument.URI))
	if !ok {
		return result
	}
	pos := toPosition(params.Position)
	locs, err := s.resolver.ResolveReferences(doc, pos)
	if err != nil {
		sess.logger.Debug("No references", "position", pos.String(), "error", err.Error())
		return result
	}
	for _, loc := range locs {
		result = append(result, toLocation(loc))
	}
	return result
}

func (s *Server) documentSymbols(uri string) []protocol.DocumentSymbol {
	symbols := []protocol.DocumentSymbol{}
	doc, ok := s.document(uri)
	if !ok {
		return symbols
	}
	lines := doc.Lines()

	for _, rule := range resolve.Outline(lines) {
		end := rule.Span.End
		if end >= len(lines) {
			end = len(lines) - 1
		}
		sym := protocol.DocumentSymbol{
			Name: rule.Name,
			Kind: protocol.SymbolKindClass,
			Range: protocol.Range{
				Start: fromPosition(document.Position{Line: rule.Span.Start}),
				End:   fromPosition(document.Position{Line: end, Character: utf8.RuneCountInString(lines[end])}),
			},
			SelectionRange: nameRange(rule.Position, rule.Name),
		}
		for _, str := range rule.Strings {
			r := nameRange(str.Position, "$"+str.Name)
			sym.Children = append(sym.Children, protocol.DocumentSymbol{
				Name:           "$" + str.Name,
				Kind:           protocol.SymbolKindVariable,
				Range:          r,
				SelectionRange: r,
			})
		}
		symbols = append(symbols, sym)
	}
	return symbols
}
