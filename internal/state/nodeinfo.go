package state

// PendingInfo is name/hardware metadata learned before a node's first
// position. It lives in memory only; losing it on restart just means the
// next nodeinfo broadcast refills it.
type PendingInfo struct {
	Name     string
	Hardware string
}

// NodeInfoBuffer accumulates pending metadata per node for one source.
// It is touched only by the correlation goroutine.
type NodeInfoBuffer struct {
	byNode map[string]PendingInfo
}

func NewNodeInfoBuffer() *NodeInfoBuffer {
	return &NodeInfoBuffer{byNode: make(map[string]PendingInfo)}
}

// Merge records whichever of name/hardware are non-empty.
func (b *NodeInfoBuffer) Merge(nodeID, name, hardware string) {
	info := b.byNode[nodeID]
	if name != "" {
		info.Name = name
	}
	if hardware != "" {
		info.Hardware = hardware
	}
	b.byNode[nodeID] = info
}

// Take removes and returns any pending metadata for a node.
func (b *NodeInfoBuffer) Take(nodeID string) (PendingInfo, bool) {
	info, ok := b.byNode[nodeID]
	if ok {
		delete(b.byNode, nodeID)
	}
	return info, ok
}
