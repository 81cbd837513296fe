package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"lsp-bridge/src/internal/types"
	"lsp-bridge/src/server/documents"
)

// TransformResponse rewrites a downstream result into host coordinates.
// Unknown fields pass through byte-for-byte; only positions, ranges and
// URIs are touched. Results pointing at a different virtual document are
// dropped: a cross-region reference has no single host position, which is
// a documented limitation of region bridging.
func TransformResponse(method string, result json.RawMessage, rc RegionContext) json.RawMessage {
	if len(result) == 0 {
		return result
	}
	parsed := gjson.ParseBytes(result)
	if parsed.Type == gjson.Null {
		return result
	}

	switch method {
	case types.MethodTextDocumentHover:
		// Hover ranges are optional in the protocol; the result is
		// relayed verbatim.
		return result

	case types.MethodTextDocumentCompletion:
		return []byte(transformCompletion(parsed, rc))

	case types.MethodTextDocumentDefinition,
		types.MethodTextDocumentTypeDefinition,
		types.MethodTextDocumentImplementation,
		types.MethodTextDocumentDeclaration:
		return []byte(transformDefinition(parsed, rc))

	case types.MethodTextDocumentReferences:
		return []byte(transformLocationArray(parsed, rc))

	case types.MethodTextDocumentRename:
		return []byte(transformWorkspaceEdit(parsed, rc))

	case types.MethodTextDocumentDocumentHighlight:
		return []byte(mapArray(parsed, func(item gjson.Result) (string, bool) {
			return shiftRangeField(item.Raw, "range", rc.StartLine), true
		}))

	case types.MethodTextDocumentDocumentSymbol:
		return []byte(transformDocumentSymbols(parsed, rc))

	case types.MethodTextDocumentInlayHint:
		return []byte(transformInlayHints(parsed, rc))

	case types.MethodTextDocumentDocumentLink:
		return []byte(mapArray(parsed, func(item gjson.Result) (string, bool) {
			return shiftRangeField(item.Raw, "range", rc.StartLine), true
		}))

	case types.MethodTextDocumentFoldingRange:
		return []byte(transformFoldingRanges(parsed, rc))

	case types.MethodTextDocumentDocumentColor:
		return []byte(mapArray(parsed, func(item gjson.Result) (string, bool) {
			return shiftRangeField(item.Raw, "range", rc.StartLine), true
		}))

	case types.MethodTextDocumentColorPresentation:
		return []byte(mapArray(parsed, func(item gjson.Result) (string, bool) {
			out := shiftRangeField(item.Raw, "textEdit.range", rc.StartLine)
			out = shiftEditArray(out, "additionalTextEdits", rc.StartLine)
			return out, true
		}))

	case types.MethodCallHierarchyPrepare, types.MethodTypeHierarchyPrepare:
		return []byte(transformHierarchyItems(parsed, rc))

	case types.MethodTextDocumentMoniker:
		return result

	default:
		return result
	}
}

// TransformSelectionRanges rewrites a selectionRange result. Clients
// correlate entries with the positions they sent, so the output always
// has exactly one entry per input position, in order; a position whose
// entry is missing or unusable gets a degenerate empty range at that
// position instead of being dropped.
func TransformSelectionRanges(result json.RawMessage, rc RegionContext, hostPositions []types.Position) json.RawMessage {
	parsed := gjson.ParseBytes(result)
	entries := make([]string, len(hostPositions))

	for i, hostPos := range hostPositions {
		entries[i] = emptySelectionRange(hostPos)
		if !parsed.IsArray() {
			continue
		}
		item := parsed.Get(fmt.Sprintf("%d", i))
		if !item.Exists() || item.Type == gjson.Null {
			continue
		}
		entries[i] = shiftSelectionRangeChain(item.Raw, rc.StartLine)
	}

	return []byte("[" + strings.Join(entries, ",") + "]")
}

func emptySelectionRange(pos types.Position) string {
	raw, _ := json.Marshal(map[string]interface{}{
		"range": rangeMap(types.Range{Start: pos, End: pos}),
	})
	return string(raw)
}

func shiftSelectionRangeChain(raw string, startLine uint32) string {
	out := shiftRangeField(raw, "range", startLine)
	parent := gjson.Get(out, "parent")
	if parent.Exists() && parent.Type != gjson.Null {
		shifted := shiftSelectionRangeChain(parent.Raw, startLine)
		out, _ = sjson.SetRaw(out, "parent", shifted)
	}
	return out
}

// transformCompletion handles both CompletionItem[] and
// CompletionList{isIncomplete, items}. Item edits apply to the request's
// own document, so only line numbers shift; no URIs are involved.
func transformCompletion(parsed gjson.Result, rc RegionContext) string {
	if parsed.IsArray() {
		return mapArray(parsed, func(item gjson.Result) (string, bool) {
			return transformCompletionItem(item.Raw, rc), true
		})
	}

	items := parsed.Get("items")
	if !items.Exists() {
		return parsed.Raw
	}
	transformed := mapArray(items, func(item gjson.Result) (string, bool) {
		return transformCompletionItem(item.Raw, rc), true
	})
	out, _ := sjson.SetRaw(parsed.Raw, "items", transformed)
	return out
}

func transformCompletionItem(raw string, rc RegionContext) string {
	out := raw
	textEdit := gjson.Get(out, "textEdit")
	if textEdit.Exists() {
		if textEdit.Get("range").Exists() {
			out = shiftRangeField(out, "textEdit.range", rc.StartLine)
		} else {
			// InsertReplaceEdit carries insert and replace ranges.
			out = shiftRangeField(out, "textEdit.insert", rc.StartLine)
			out = shiftRangeField(out, "textEdit.replace", rc.StartLine)
		}
	}
	return shiftEditArray(out, "additionalTextEdits", rc.StartLine)
}

// transformDefinition handles null | Location | Location[] | LocationLink[].
// A single object result that gets filtered becomes a null result.
func transformDefinition(parsed gjson.Result, rc RegionContext) string {
	if parsed.IsArray() {
		return mapArray(parsed, func(item gjson.Result) (string, bool) {
			if item.Get("targetUri").Exists() {
				return transformLocationLink(item.Raw, rc)
			}
			return transformLocation(item.Raw, rc)
		})
	}

	var out string
	var keep bool
	if parsed.Get("targetUri").Exists() {
		out, keep = transformLocationLink(parsed.Raw, rc)
	} else {
		out, keep = transformLocation(parsed.Raw, rc)
	}
	if !keep {
		return "null"
	}
	return out
}

func transformLocationArray(parsed gjson.Result, rc RegionContext) string {
	if !parsed.IsArray() {
		return parsed.Raw
	}
	return mapArray(parsed, func(item gjson.Result) (string, bool) {
		return transformLocation(item.Raw, rc)
	})
}

// transformLocation applies the three-case URI rule: the request's own
// virtual URI is rewritten to the host URI with ranges shifted, a foreign
// virtual URI drops the result, and a real file passes through untouched.
func transformLocation(raw string, rc RegionContext) (string, bool) {
	u := gjson.Get(raw, "uri").String()
	switch {
	case u == rc.VirtualURI:
		out, _ := sjson.Set(raw, "uri", rc.HostURI)
		return shiftRangeField(out, "range", rc.StartLine), true
	case documents.IsVirtualURI(u):
		return "", false
	default:
		return raw, true
	}
}

func transformLocationLink(raw string, rc RegionContext) (string, bool) {
	out := raw
	if gjson.Get(out, "originSelectionRange").Exists() {
		// The origin lives in the request's own document.
		out = shiftRangeField(out, "originSelectionRange", rc.StartLine)
	}

	u := gjson.Get(out, "targetUri").String()
	switch {
	case u == rc.VirtualURI:
		out, _ = sjson.Set(out, "targetUri", rc.HostURI)
		out = shiftRangeField(out, "targetRange", rc.StartLine)
		out = shiftRangeField(out, "targetSelectionRange", rc.StartLine)
		return out, true
	case documents.IsVirtualURI(u):
		return "", false
	default:
		return out, true
	}
}

// transformWorkspaceEdit rewrites both WorkspaceEdit.changes (URI-keyed
// edit arrays) and WorkspaceEdit.documentChanges (per-edit URI + range
// pairs) under the three-case URI rule.
func transformWorkspaceEdit(parsed gjson.Result, rc RegionContext) string {
	out := parsed.Raw

	changes := parsed.Get("changes")
	if changes.Exists() && changes.IsObject() {
		rebuilt := make([]string, 0)
		changes.ForEach(func(key, edits gjson.Result) bool {
			u := key.String()
			switch {
			case u == rc.VirtualURI:
				shifted := mapArray(edits, func(edit gjson.Result) (string, bool) {
					return shiftRangeField(edit.Raw, "range", rc.StartLine), true
				})
				rebuilt = append(rebuilt, encodeJSONString(rc.HostURI)+":"+shifted)
			case documents.IsVirtualURI(u):
				// Cross-region edit, dropped.
			default:
				rebuilt = append(rebuilt, encodeJSONString(u)+":"+edits.Raw)
			}
			return true
		})
		out, _ = sjson.SetRaw(out, "changes", "{"+strings.Join(rebuilt, ",")+"}")
	}

	documentChanges := parsed.Get("documentChanges")
	if documentChanges.Exists() && documentChanges.IsArray() {
		rebuilt := mapArray(documentChanges, func(entry gjson.Result) (string, bool) {
			textDoc := entry.Get("textDocument.uri")
			if !textDoc.Exists() {
				// CreateFile/RenameFile/DeleteFile operations pass through.
				return entry.Raw, true
			}
			u := textDoc.String()
			switch {
			case u == rc.VirtualURI:
				item, _ := sjson.Set(entry.Raw, "textDocument.uri", rc.HostURI)
				item = shiftEditArray(item, "edits", rc.StartLine)
				return item, true
			case documents.IsVirtualURI(u):
				return "", false
			default:
				return entry.Raw, true
			}
		})
		out, _ = sjson.SetRaw(out, "documentChanges", rebuilt)
	}

	return out
}

// transformDocumentSymbols handles DocumentSymbol[] (nested ranges) and
// SymbolInformation[] (flat locations).
func transformDocumentSymbols(parsed gjson.Result, rc RegionContext) string {
	if !parsed.IsArray() {
		return parsed.Raw
	}
	return mapArray(parsed, func(item gjson.Result) (string, bool) {
		if item.Get("location").Exists() {
			loc, keep := transformLocation(item.Get("location").Raw, rc)
			if !keep {
				return "", false
			}
			out, _ := sjson.SetRaw(item.Raw, "location", loc)
			return out, true
		}
		return shiftDocumentSymbol(item.Raw, rc.StartLine), true
	})
}

func shiftDocumentSymbol(raw string, startLine uint32) string {
	out := shiftRangeField(raw, "range", startLine)
	out = shiftRangeField(out, "selectionRange", startLine)
	children := gjson.Get(out, "children")
	if children.Exists() && children.IsArray() {
		rebuilt := mapArray(children, func(child gjson.Result) (string, bool) {
			return shiftDocumentSymbol(child.Raw, startLine), true
		})
		out, _ = sjson.SetRaw(out, "children", rebuilt)
	}
	return out
}

// transformInlayHints shifts hint positions and their text edits. Label
// parts may embed locations, which follow the same-region-keep /
// cross-region-drop rule: a part pointing at another virtual document
// keeps its text but loses the location.
func transformInlayHints(parsed gjson.Result, rc RegionContext) string {
	if !parsed.IsArray() {
		return parsed.Raw
	}
	return mapArray(parsed, func(item gjson.Result) (string, bool) {
		out := shiftPositionField(item.Raw, "position", rc.StartLine)
		out = shiftEditArray(out, "textEdits", rc.StartLine)

		label := gjson.Get(out, "label")
		if label.Exists() && label.IsArray() {
			rebuilt := mapArray(label, func(part gjson.Result) (string, bool) {
				loc := part.Get("location")
				if !loc.Exists() {
					return part.Raw, true
				}
				transformed, keep := transformLocation(loc.Raw, rc)
				if !keep {
					stripped, _ := sjson.Delete(part.Raw, "location")
					return stripped, true
				}
				withLoc, _ := sjson.SetRaw(part.Raw, "location", transformed)
				return withLoc, true
			})
			out, _ = sjson.SetRaw(out, "label", rebuilt)
		}
		return out, true
	})
}

func transformFoldingRanges(parsed gjson.Result, rc RegionContext) string {
	if !parsed.IsArray() {
		return parsed.Raw
	}
	return mapArray(parsed, func(item gjson.Result) (string, bool) {
		out := item.Raw
		if v := gjson.Get(out, "startLine"); v.Exists() {
			out, _ = sjson.Set(out, "startLine", v.Uint()+uint64(rc.StartLine))
		}
		if v := gjson.Get(out, "endLine"); v.Exists() {
			out, _ = sjson.Set(out, "endLine", v.Uint()+uint64(rc.StartLine))
		}
		return out, true
	})
}

func transformHierarchyItems(parsed gjson.Result, rc RegionContext) string {
	if !parsed.IsArray() {
		return parsed.Raw
	}
	return mapArray(parsed, func(item gjson.Result) (string, bool) {
		u := item.Get("uri").String()
		switch {
		case u == rc.VirtualURI:
			out, _ := sjson.Set(item.Raw, "uri", rc.HostURI)
			out = shiftRangeField(out, "range", rc.StartLine)
			out = shiftRangeField(out, "selectionRange", rc.StartLine)
			return out, true
		case documents.IsVirtualURI(u):
			return "", false
		default:
			return item.Raw, true
		}
	})
}

// mapArray rebuilds a JSON array, transforming each element and dropping
// the ones the transform rejects.
func mapArray(arr gjson.Result, transform func(gjson.Result) (string, bool)) string {
	out := make([]string, 0)
	arr.ForEach(func(_, item gjson.Result) bool {
		if transformed, keep := transform(item); keep {
			out = append(out, transformed)
		}
		return true
	})
	return "[" + strings.Join(out, ",") + "]"
}

// shiftRangeField adds the region start line to a range at path, if present
func shiftRangeField(raw, path string, startLine uint32) string {
	r := gjson.Get(raw, path)
	if !r.Exists() || r.Type == gjson.Null {
		return raw
	}
	out := raw
	for _, bound := range []string{"start", "end"} {
		linePath := path + "." + bound + ".line"
		if v := gjson.Get(out, linePath); v.Exists() {
			out, _ = sjson.Set(out, linePath, v.Uint()+uint64(startLine))
		}
	}
	return out
}

// shiftPositionField adds the region start line to a position at path
func shiftPositionField(raw, path string, startLine uint32) string {
	linePath := path + ".line"
	v := gjson.Get(raw, linePath)
	if !v.Exists() {
		return raw
	}
	out, _ := sjson.Set(raw, linePath, v.Uint()+uint64(startLine))
	return out
}

// shiftEditArray shifts the range of every TextEdit in an array at path
func shiftEditArray(raw, path string, startLine uint32) string {
	edits := gjson.Get(raw, path)
	if !edits.Exists() || !edits.IsArray() {
		return raw
	}
	rebuilt := mapArray(edits, func(edit gjson.Result) (string, bool) {
		return shiftRangeField(edit.Raw, "range", startLine), true
	})
	out, _ := sjson.SetRaw(raw, path, rebuilt)
	return out
}

func encodeJSONString(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}
