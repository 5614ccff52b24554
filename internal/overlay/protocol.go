// Package overlay implements the tree-based overlay network: the wire
// protocol nodes speak to each other (pivot/join handshakes, broadcast
// debugger commands) and the TCP client/server that carries it.
package overlay

import "go.skia.org/snapped/internal/snapshot"

// CommandKind discriminates the Command tagged union, mirroring the
// original's GdbMachineCommand enum.
type CommandKind string

const (
	CmdStart       CommandKind = "start"
	CmdStop        CommandKind = "stop"
	CmdContinue    CommandKind = "continue"
	CmdCount       CommandKind = "count"
	CmdGetState    CommandKind = "get-state"
	CmdGetSnapshot CommandKind = "get-snapshot"
	CmdGetSymbols  CommandKind = "get-symbols"
	CmdPivot       CommandKind = "pivot"
	CmdJoin        CommandKind = "join"
)

// Command is one request sent down (or across) a tree edge.
type Command struct {
	Kind  CommandKind   `json:"kind"`
	Pivot *PivotRequest `json:"pivot,omitempty"`
	Join  *JoinRequest  `json:"join,omitempty"`
}

// PivotRequest asks a node to attach a new process as a child, optionally
// redirecting it further down the tree toward a closer locality match.
type PivotRequest struct {
	Process snapshot.ProcessInfo `json:"process"`
	Address string               `json:"address"`
}

// JoinRequest is a previously-pivoted node announcing it's ready to accept
// commands at address Address.
type JoinRequest struct {
	Descriptor string `json:"descriptor"`
	Address    string `json:"address"`
}

// ResponseKind discriminates the Response tagged union, mirroring the
// original's GdbMachineResponse enum.
type ResponseKind string

const (
	RespError    ResponseKind = "error"
	RespOk       ResponseKind = "ok"
	RespState    ResponseKind = "state"
	RespSnapshot ResponseKind = "snapshot"
	RespSymbols  ResponseKind = "symbols"
	RespPivot    ResponseKind = "pivot"
	RespCount    ResponseKind = "count"
)

// Response is one reply to a Command.
type Response struct {
	Kind     ResponseKind                 `json:"kind"`
	Error    string                       `json:"error,omitempty"`
	State    map[uint32]snapshot.RunState `json:"state,omitempty"`
	Snapshot *snapshot.ProgramSnapshot    `json:"snapshot,omitempty"`
	Symbols  *snapshot.SymbolTable        `json:"symbols,omitempty"`
	TreeID   uint64                       `json:"treeId,omitempty"`
	Depth    uint32                       `json:"depth,omitempty"`
	Count    int                          `json:"count,omitempty"`
}

// Ok builds a bare success response.
func Ok() Response { return Response{Kind: RespOk} }

// Err builds an error response carrying msg.
func Err(msg string) Response { return Response{Kind: RespError, Error: msg} }

// IsError reports whether r is an error response.
func (r Response) IsError() bool { return r.Kind == RespError }

// StateResponse builds a GetState reply.
func StateResponse(state map[uint32]snapshot.RunState) Response {
	return Response{Kind: RespState, State: state}
}

// SnapshotResponse builds a GetSnapshot reply.
func SnapshotResponse(snap snapshot.ProgramSnapshot) Response {
	return Response{Kind: RespSnapshot, Snapshot: &snap}
}

// SymbolsResponse builds a GetSymbols reply.
func SymbolsResponse(table snapshot.SymbolTable) Response {
	return Response{Kind: RespSymbols, Symbols: &table}
}

// PivotResponse builds a Pivot reply carrying the tree ID and depth
// assigned to the newly attached node.
func PivotResponse(treeID uint64, depth uint32) Response {
	return Response{Kind: RespPivot, TreeID: treeID, Depth: depth}
}

// CountResponse builds a Count reply.
func CountResponse(n int) Response {
	return Response{Kind: RespCount, Count: n}
}
