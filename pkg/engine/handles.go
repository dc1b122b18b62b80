package engine

// HandleTable is the bidirectional mapping between node identity and runtime
// resource handle. Nodes reference resources only through this table, never
// by direct pointer, so resource lifetime is owned entirely by the table.
//
// The mapping state acts as a single-writer guard: state transitions are only
// legal along Unmapped -> CreatePending -> Mapped -> DestroyPending ->
// Unmapped, and each transition method rejects calls made from the wrong
// state. The table is mutated by Phase 2 only.
type HandleTable struct {
	byNode   map[NodeID]*ResourceMapping
	byHandle map[Handle]NodeID
}

// NewHandleTable creates an empty handle table.
func NewHandleTable() *HandleTable {
	return &HandleTable{
		byNode:   make(map[NodeID]*ResourceMapping),
		byHandle: make(map[Handle]NodeID),
	}
}

// StateOf returns the mapping state for a node. Nodes with no mapping entry
// are Unmapped.
func (t *HandleTable) StateOf(nodeID NodeID) MappingState {
	if m, ok := t.byNode[nodeID]; ok {
		return m.State
	}
	return MappingUnmapped
}

// Mapping returns a copy of a node's mapping entry.
func (t *HandleTable) Mapping(nodeID NodeID) (ResourceMapping, bool) {
	m, ok := t.byNode[nodeID]
	if !ok {
		return ResourceMapping{}, false
	}
	return *m, true
}

// NodeFor returns the node a handle is attached to.
func (t *HandleTable) NodeFor(handle Handle) (NodeID, bool) {
	nodeID, ok := t.byHandle[handle]
	return nodeID, ok
}

// HandleFor returns the handle attached to a node, if it is Mapped or
// DestroyPending.
func (t *HandleTable) HandleFor(nodeID NodeID) (Handle, bool) {
	m, ok := t.byNode[nodeID]
	if !ok || m.Handle == "" {
		return "", false
	}
	return m.Handle, true
}

// BeginCreate marks a node as awaiting a creation outcome. Only an Unmapped
// node may begin creation; this is the guard that prevents duplicate create
// effects for one node.
func (t *HandleTable) BeginCreate(nodeID NodeID) error {
	if state := t.StateOf(nodeID); state != MappingUnmapped {
		return NewInternalError("create issued for node not in unmapped state", nil).
			WithNode(nodeID).WithOperation("begin_create").WithCode(ErrCodeMappingConflict)
	}
	t.byNode[nodeID] = &ResourceMapping{
		NodeID: nodeID,
		State:  MappingCreatePending,
	}
	return nil
}

// CompleteCreate attaches the created handle and marks the node Mapped.
func (t *HandleTable) CompleteCreate(nodeID NodeID, handle Handle) error {
	m, ok := t.byNode[nodeID]
	if !ok || m.State != MappingCreatePending {
		return NewInternalError("creation outcome for node not in create_pending state", nil).
			WithNode(nodeID).WithOperation("complete_create").WithCode(ErrCodeMappingConflict)
	}
	if existing, taken := t.byHandle[handle]; taken {
		return NewInternalError("handle already attached to another node", nil).
			WithNode(existing).WithOperation("complete_create").WithCode(ErrCodeMappingConflict)
	}
	m.Handle = handle
	m.State = MappingMapped
	t.byHandle[handle] = nodeID
	return nil
}

// FailCreate returns a node to Unmapped after a failed creation attempt.
func (t *HandleTable) FailCreate(nodeID NodeID) error {
	m, ok := t.byNode[nodeID]
	if !ok || m.State != MappingCreatePending {
		return NewInternalError("creation failure for node not in create_pending state", nil).
			WithNode(nodeID).WithOperation("fail_create").WithCode(ErrCodeMappingConflict)
	}
	m.Handle = ""
	m.State = MappingUnmapped
	return nil
}

// BeginDestroy marks a Mapped node as awaiting a destroy confirmation. The
// handle stays attached until the confirmation arrives.
func (t *HandleTable) BeginDestroy(nodeID NodeID) (Handle, error) {
	m, ok := t.byNode[nodeID]
	if !ok || m.State != MappingMapped {
		return "", NewInternalError("destroy issued for node not in mapped state", nil).
			WithNode(nodeID).WithOperation("begin_destroy").WithCode(ErrCodeMappingConflict)
	}
	m.State = MappingDestroyPending
	return m.Handle, nil
}

// AbortDestroy reverts a DestroyPending node to Mapped. Used when the destroy
// effect could not be submitted, so a later pass can retry it.
func (t *HandleTable) AbortDestroy(nodeID NodeID) error {
	m, ok := t.byNode[nodeID]
	if !ok || m.State != MappingDestroyPending {
		return NewInternalError("destroy abort for node not in destroy_pending state", nil).
			WithNode(nodeID).WithOperation("abort_destroy").WithCode(ErrCodeMappingConflict)
	}
	m.State = MappingMapped
	return nil
}

// ConfirmDestroy releases the handle and returns the node to Unmapped. It
// returns the node the handle was attached to.
func (t *HandleTable) ConfirmDestroy(handle Handle) (NodeID, error) {
	nodeID, ok := t.byHandle[handle]
	if !ok {
		return "", NewInternalError("destroy confirmation for unknown handle", nil).
			WithOperation("confirm_destroy").WithCode(ErrCodeMappingConflict)
	}
	m := t.byNode[nodeID]
	if m == nil || m.State != MappingDestroyPending {
		return nodeID, NewInternalError("destroy confirmation for node not in destroy_pending state", nil).
			WithNode(nodeID).WithOperation("confirm_destroy").WithCode(ErrCodeMappingConflict)
	}
	delete(t.byHandle, handle)
	m.Handle = ""
	m.State = MappingUnmapped
	return nodeID, nil
}

// Forget drops a node's mapping entry entirely. Only legal once the node is
// Unmapped; in-flight effects must resolve first.
func (t *HandleTable) Forget(nodeID NodeID) error {
	m, ok := t.byNode[nodeID]
	if !ok {
		return nil
	}
	if m.State != MappingUnmapped {
		return NewInternalError("cannot forget mapping with in-flight or live resource", nil).
			WithNode(nodeID).WithOperation("forget").WithCode(ErrCodeMappingConflict)
	}
	delete(t.byNode, nodeID)
	return nil
}

// Nodes returns every node with a mapping entry, in unspecified order.
func (t *HandleTable) Nodes() []NodeID {
	nodes := make([]NodeID, 0, len(t.byNode))
	for id := range t.byNode {
		nodes = append(nodes, id)
	}
	return nodes
}

// MappedCount returns the number of nodes with a live resource attached.
func (t *HandleTable) MappedCount() int {
	n := 0
	for _, m := range t.byNode {
		if m.State == MappingMapped {
			n++
		}
	}
	return n
}

// InFlightCount returns the number of nodes awaiting an effect outcome.
func (t *HandleTable) InFlightCount() int {
	n := 0
	for _, m := range t.byNode {
		if m.State.IsInFlight() {
			n++
		}
	}
	return n
}
