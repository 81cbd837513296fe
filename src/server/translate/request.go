// Package translate converts between host-document and virtual-document
// coordinates: it builds outgoing bridged requests against the virtual
// URI and rewrites downstream responses back into host positions.
package translate

import (
	"lsp-bridge/src/internal/types"
)

// RegionContext carries everything needed to translate one bridged
// request/response pair.
type RegionContext struct {
	HostURI    string
	VirtualURI string
	StartLine  uint32
}

// ToVirtualPosition shifts a host position into virtual-document
// coordinates. Lines above the region clamp to the region start.
func ToVirtualPosition(pos types.Position, startLine uint32) types.Position {
	line := uint32(0)
	if pos.Line > startLine {
		line = pos.Line - startLine
	}
	return types.Position{Line: line, Character: pos.Character}
}

// ToHostPosition shifts a virtual position back into host coordinates
func ToHostPosition(pos types.Position, startLine uint32) types.Position {
	return types.Position{Line: pos.Line + startLine, Character: pos.Character}
}

// ToVirtualRange shifts a host range into virtual coordinates
func ToVirtualRange(r types.Range, startLine uint32) types.Range {
	return types.Range{
		Start: ToVirtualPosition(r.Start, startLine),
		End:   ToVirtualPosition(r.End, startLine),
	}
}

// ToHostRange shifts a virtual range back into host coordinates
func ToHostRange(r types.Range, startLine uint32) types.Range {
	return types.Range{
		Start: ToHostPosition(r.Start, startLine),
		End:   ToHostPosition(r.End, startLine),
	}
}

func positionMap(pos types.Position) map[string]interface{} {
	return map[string]interface{}{
		"line":      pos.Line,
		"character": pos.Character,
	}
}

func rangeMap(r types.Range) map[string]interface{} {
	return map[string]interface{}{
		"start": positionMap(r.Start),
		"end":   positionMap(r.End),
	}
}

func textDocumentMap(virtualURI string) map[string]interface{} {
	return map[string]interface{}{"uri": virtualURI}
}

// PositionParams builds the params for position-addressed requests:
// hover, completion, definition and friends.
func PositionParams(rc RegionContext, hostPos types.Position) map[string]interface{} {
	return map[string]interface{}{
		"textDocument": textDocumentMap(rc.VirtualURI),
		"position":     positionMap(ToVirtualPosition(hostPos, rc.StartLine)),
	}
}

// ReferenceParams builds textDocument/references params
func ReferenceParams(rc RegionContext, hostPos types.Position, includeDeclaration bool) map[string]interface{} {
	params := PositionParams(rc, hostPos)
	params["context"] = map[string]interface{}{"includeDeclaration": includeDeclaration}
	return params
}

// RenameParams builds textDocument/rename params
func RenameParams(rc RegionContext, hostPos types.Position, newName string) map[string]interface{} {
	params := PositionParams(rc, hostPos)
	params["newName"] = newName
	return params
}

// DocumentParams builds params for whole-document requests:
// documentSymbol, documentLink, foldingRange, documentColor.
func DocumentParams(rc RegionContext) map[string]interface{} {
	return map[string]interface{}{
		"textDocument": textDocumentMap(rc.VirtualURI),
	}
}

// RangeParams builds params for range-addressed requests (inlayHint)
func RangeParams(rc RegionContext, hostRange types.Range) map[string]interface{} {
	return map[string]interface{}{
		"textDocument": textDocumentMap(rc.VirtualURI),
		"range":        rangeMap(ToVirtualRange(hostRange, rc.StartLine)),
	}
}

// SelectionRangeParams builds textDocument/selectionRange params over
// multiple host positions, preserving input order.
func SelectionRangeParams(rc RegionContext, hostPositions []types.Position) map[string]interface{} {
	positions := make([]interface{}, 0, len(hostPositions))
	for _, pos := range hostPositions {
		positions = append(positions, positionMap(ToVirtualPosition(pos, rc.StartLine)))
	}
	return map[string]interface{}{
		"textDocument": textDocumentMap(rc.VirtualURI),
		"positions":    positions,
	}
}

// ColorPresentationParams builds textDocument/colorPresentation params.
// The color value is relayed as-is.
func ColorPresentationParams(rc RegionContext, color interface{}, hostRange types.Range) map[string]interface{} {
	return map[string]interface{}{
		"textDocument": textDocumentMap(rc.VirtualURI),
		"color":        color,
		"range":        rangeMap(ToVirtualRange(hostRange, rc.StartLine)),
	}
}
