package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.lsp.dev/uri"

	"lsp-bridge/src/config"
	"lsp-bridge/src/internal/common"
	"lsp-bridge/src/internal/types"
	"lsp-bridge/src/server/bridge"
)

// bridger is the slice of the connection pool the console needs
type bridger interface {
	Bridge(ctx context.Context, req bridge.Request) (json.RawMessage, error)
	CloseHostDocument(ctx context.Context, hostURI string)
}

// positionCommands map console verbs to position-addressed LSP methods
var positionCommands = map[string]string{
	"hover":      types.MethodTextDocumentHover,
	"completion": types.MethodTextDocumentCompletion,
	"signature":  types.MethodTextDocumentSignatureHelp,
	"definition": types.MethodTextDocumentDefinition,
	"typedef":    types.MethodTextDocumentTypeDefinition,
	"impl":       types.MethodTextDocumentImplementation,
	"decl":       types.MethodTextDocumentDeclaration,
	"references": types.MethodTextDocumentReferences,
	"highlight":  types.MethodTextDocumentDocumentHighlight,
	"moniker":    types.MethodTextDocumentMoniker,
	"callhier":   types.MethodCallHierarchyPrepare,
	"typehier":   types.MethodTypeHierarchyPrepare,
}

// documentCommands map console verbs to whole-document LSP methods
var documentCommands = map[string]string{
	"symbols": types.MethodTextDocumentDocumentSymbol,
	"links":   types.MethodTextDocumentDocumentLink,
	"fold":    types.MethodTextDocumentFoldingRange,
	"colors":  types.MethodTextDocumentDocumentColor,
}

// console reads bridge commands line by line and prints responses in
// host coordinates. Region ordinals are assigned at first sight of a
// region and stay stable for the life of the console.
type console struct {
	pool     bridger
	in       io.Reader
	out      io.Writer
	ordinals map[string]uint32
	counters map[string]uint32
}

func newConsole(pool bridger, in io.Reader, out io.Writer) *console {
	return &console{
		pool:     pool,
		in:       in,
		out:      out,
		ordinals: make(map[string]uint32),
		counters: make(map[string]uint32),
	}
}

func runServeCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	pool := bridge.NewPool(cfg, nil)
	defer pool.ShutdownAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		common.CLILogger.Info("Received shutdown signal, stopping bridge...")
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- newConsole(pool, os.Stdin, os.Stdout).run(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (c *console) run(ctx context.Context) error {
	fmt.Fprintln(c.out, "lsp-bridge console ready; 'quit' to exit")

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if err := c.execute(ctx, line); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (c *console) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	verb := fields[0]

	if verb == "close" {
		if len(fields) != 2 {
			return fmt.Errorf("usage: close <file>")
		}
		hostURI, err := hostURIFor(fields[1])
		if err != nil {
			return err
		}
		c.pool.CloseHostDocument(ctx, hostURI)
		fmt.Fprintf(c.out, "closed %s\n", hostURI)
		return nil
	}

	if method, ok := documentCommands[verb]; ok {
		if len(fields) != 4 {
			return fmt.Errorf("usage: %s <file> <lang> <start>:<end>", verb)
		}
		req, err := c.buildRequest(method, fields[1], fields[2], fields[3])
		if err != nil {
			return err
		}
		return c.dispatch(ctx, req)
	}

	method, ok := positionCommands[verb]
	isRename := verb == "rename"
	if !ok && !isRename {
		return fmt.Errorf("unknown command %q", verb)
	}
	if isRename {
		method = types.MethodTextDocumentRename
	}

	want := 5
	if isRename {
		want = 6
	}
	if len(fields) != want {
		usage := fmt.Sprintf("usage: %s <file> <lang> <start>:<end> <line>:<char>", verb)
		if isRename {
			usage += " <new-name>"
		}
		return fmt.Errorf("%s", usage)
	}

	req, err := c.buildRequest(method, fields[1], fields[2], fields[3])
	if err != nil {
		return err
	}
	pos, err := parsePair(fields[4])
	if err != nil {
		return err
	}
	req.Position = &types.Position{Line: pos[0], Character: pos[1]}
	if isRename {
		req.NewName = fields[5]
	}
	if verb == "references" {
		req.IncludeDeclaration = true
	}
	return c.dispatch(ctx, req)
}

func (c *console) dispatch(ctx context.Context, req bridge.Request) error {
	raw, err := c.pool.Bridge(ctx, req)
	if err != nil {
		if rpcErr := bridge.ToRPCError(err); rpcErr != nil {
			return fmt.Errorf("%s (code %d)", rpcErr.Message, rpcErr.Code)
		}
		return err
	}
	fmt.Fprintln(c.out, string(raw))
	return nil
}

// buildRequest resolves the host file, slices the region content out of
// it, and fills the region with its stable ordinal.
func (c *console) buildRequest(method, path, language, bounds string) (bridge.Request, error) {
	hostURI, err := hostURIFor(path)
	if err != nil {
		return bridge.Request{}, err
	}
	lines, err := parsePair(bounds)
	if err != nil {
		return bridge.Request{}, err
	}
	if lines[1] < lines[0] {
		return bridge.Request{}, fmt.Errorf("region end line %d before start line %d", lines[1], lines[0])
	}

	content, err := regionContent(path, lines[0], lines[1])
	if err != nil {
		return bridge.Request{}, err
	}

	region := types.InjectionRegion{
		Language:  language,
		StartLine: lines[0],
		EndLine:   lines[1],
		Ordinal:   c.ordinalFor(hostURI, language, lines[0]),
	}
	return bridge.Request{
		Method:  method,
		HostURI: hostURI,
		Region:  region,
		Content: content,
	}, nil
}

func (c *console) ordinalFor(hostURI, language string, startLine uint32) uint32 {
	key := fmt.Sprintf("%s|%s|%d", hostURI, language, startLine)
	if ordinal, ok := c.ordinals[key]; ok {
		return ordinal
	}
	counterKey := hostURI + "|" + language
	ordinal := c.counters[counterKey]
	c.counters[counterKey]++
	c.ordinals[key] = ordinal
	return ordinal
}

func hostURIFor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return string(uri.File(abs)), nil
}

// regionContent returns lines [start, end] of the file, newline joined
func regionContent(path string, start, end uint32) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if int(start) >= len(lines) {
		return "", fmt.Errorf("region starts at line %d but %s has %d lines", start, path, len(lines))
	}
	if int(end) >= len(lines) {
		end = uint32(len(lines) - 1)
	}
	return strings.Join(lines[start:end+1], "\n") + "\n", nil
}

// parsePair parses "a:b" into two non-negative numbers
func parsePair(s string) ([2]uint32, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return [2]uint32{}, fmt.Errorf("expected <a>:<b>, got %q", s)
	}
	var out [2]uint32
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return [2]uint32{}, fmt.Errorf("expected <a>:<b>, got %q", s)
		}
		out[i] = uint32(n)
	}
	return out, nil
}
