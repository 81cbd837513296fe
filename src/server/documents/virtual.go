// Package documents tracks virtual documents: the synthetic files each
// downstream server sees in place of a host document's injection regions,
// and the didOpen/didChange/didClose traffic that keeps them in sync.
package documents

import (
	"fmt"
	"hash/fnv"
	"path"
	"strings"

	"go.lsp.dev/uri"

	"lsp-bridge/src/internal/registry"
	"lsp-bridge/src/internal/types"
)

// virtualMarker appears in every virtual document file name so translated
// results can be told apart from real files.
const virtualMarker = "lspbridge-virtual-"

// VirtualURI derives the synthetic URI a downstream server sees for one
// injection region. The file sits next to the host document so servers
// that resolve project roots from file paths behave sensibly. The name
// embeds a fingerprint of the host URI plus the region's language and
// stable ordinal: repeated requests into the same region reuse the same
// virtual document, and two host documents in the same directory never
// share one.
func VirtualURI(hostURI string, region types.InjectionRegion) string {
	ext := registry.ExtensionForLanguage(region.Language)
	name := fmt.Sprintf("%s%s-%s-%d.%s", virtualMarker, hostFingerprint(hostURI), region.Language, region.Ordinal, ext)

	parsed, err := parseFileURI(hostURI)
	if err != nil {
		return "file:///" + name
	}
	return string(uri.File(path.Join(path.Dir(parsed), name)))
}

func hostFingerprint(hostURI string) string {
	h := fnv.New32a()
	h.Write([]byte(hostURI))
	return fmt.Sprintf("%08x", h.Sum32())
}

// IsVirtualURI reports whether a URI names a virtual document
func IsVirtualURI(u string) bool {
	return strings.Contains(path.Base(u), virtualMarker)
}

func parseFileURI(hostURI string) (string, error) {
	if !strings.HasPrefix(hostURI, "file://") {
		return "", fmt.Errorf("not a file URI: %s", hostURI)
	}
	parsed, err := uri.Parse(hostURI)
	if err != nil {
		return "", err
	}
	return parsed.Filename(), nil
}
